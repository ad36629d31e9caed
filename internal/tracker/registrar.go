package tracker

import (
	"context"
	"errors"
	"time"

	"locatr/internal/domain"
	"locatr/internal/repository"
	"locatr/pkg/log"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Registrar binds device codes to device records, creating them on first use.
type Registrar struct {
	repo   repository.DeviceRepository
	group  singleflight.Group
	logger log.Logger
	now    func() time.Time
}

func NewRegistrar(repo repository.DeviceRepository, logger log.Logger) *Registrar {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registrar{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Ensure returns the device registered under code, creating it from desc
// when absent. Concurrent calls for one code share a single store round trip;
// cross-process races are settled by the store's create-if-absent.
func (r *Registrar) Ensure(ctx context.Context, code string, desc domain.DeviceDescriptor) (*domain.Device, error) {
	v, err, _ := r.group.Do(code, func() (interface{}, error) {
		existing, err := r.repo.FindByCode(ctx, code)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		now := r.now().UTC()
		device := &domain.Device{
			ID:        uuid.New().String(),
			Code:      code,
			Name:      desc.DisplayName(),
			LastSeen:  now,
			CreatedAt: now,
		}

		stored, created, err := r.repo.CreateIfAbsent(ctx, device)
		if err != nil {
			return nil, err
		}

		if created {
			r.logger.Info("Device registered", "device_code", code, "device_id", stored.ID, "name", stored.Name)
		} else {
			r.logger.Info("Device registered concurrently, reusing record", "device_code", code, "device_id", stored.ID)
		}

		return stored, nil
	})
	if err != nil {
		return nil, err
	}

	device := *v.(*domain.Device)
	return &device, nil
}

// Touch records that code was seen at the given time.
func (r *Registrar) Touch(ctx context.Context, code string, at time.Time) error {
	return r.repo.Touch(ctx, code, at)
}
