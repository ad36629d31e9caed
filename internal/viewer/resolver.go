package viewer

import (
	"context"
	"errors"
	"fmt"

	"locatr/internal/domain"
	"locatr/internal/metrics"
	"locatr/internal/repository"
	"locatr/pkg/log"
)

const DefaultHistoryLimit = 100

// Resolution is a resolved device with its bootstrap trail.
type Resolution struct {
	Device  *domain.Device          `json:"device"`
	Samples []domain.LocationSample `json:"samples"`
}

// Resolver maps human codes to devices and loads their recent history.
type Resolver struct {
	devices   repository.DeviceRepository
	locations repository.LocationRepository
	limit     int
	logger    log.Logger
}

func NewResolver(devices repository.DeviceRepository, locations repository.LocationRepository, limit int, logger log.Logger) *Resolver {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Resolver{
		devices:   devices,
		locations: locations,
		limit:     limit,
		logger:    logger.WithName("resolver"),
	}
}

// Resolve looks up the device registered under code and its most recent
// samples in ascending capture order. When the device is found but its
// samples cannot be loaded, the device is still returned together with a
// *domain.LoadError.
func (r *Resolver) Resolve(ctx context.Context, code string) (*Resolution, error) {
	device, err := r.FindDevice(ctx, code)
	if err != nil {
		return nil, err
	}

	samples, err := r.History(ctx, device.ID)
	if err != nil {
		return &Resolution{Device: device, Samples: []domain.LocationSample{}}, err
	}

	metrics.Resolutions.WithLabelValues("ok").Inc()
	return &Resolution{Device: device, Samples: samples}, nil
}

// FindDevice resolves code to exactly one device.
func (r *Resolver) FindDevice(ctx context.Context, code string) (*domain.Device, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		metrics.Resolutions.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: device code is required", domain.ErrInvalidInput)
	}

	device, err := r.devices.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.Resolutions.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, code)
		}
		metrics.Resolutions.WithLabelValues("load_error").Inc()
		r.logger.Error(err, "Error looking up device", "device_code", code)
		return nil, &domain.LoadError{Stage: "device", Err: err}
	}

	return device, nil
}

// History loads the bounded recent trail for deviceID. Ordering and
// limiting are done by the store.
func (r *Resolver) History(ctx context.Context, deviceID string) ([]domain.LocationSample, error) {
	samples, err := r.locations.Recent(ctx, deviceID, r.limit)
	if err != nil {
		metrics.Resolutions.WithLabelValues("load_error").Inc()
		r.logger.Error(err, "Error loading location history", "device_id", deviceID)
		return nil, &domain.LoadError{Stage: "samples", Err: err}
	}
	if samples == nil {
		samples = []domain.LocationSample{}
	}
	return samples, nil
}
