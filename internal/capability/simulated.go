package capability

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/pkg/log"
)

// Simulated is a development provider that walks randomly around a start
// position and slowly drains a virtual battery.
type Simulated struct {
	mu sync.Mutex

	lat, lon       float64
	battery        float64
	denyPermission bool
	fixDelay       time.Duration
	descriptor     domain.DeviceDescriptor
	rng            *rand.Rand
	now            func() time.Time
}

var _ Provider = (*Simulated)(nil)

func NewSimulated(cfg config.SimulatorConfig) *Simulated {
	platform := cfg.Platform
	if platform == "" {
		platform = runtime.GOOS
	}
	return &Simulated{
		lat:            cfg.StartLat,
		lon:            cfg.StartLon,
		battery:        1.0,
		denyPermission: cfg.DenyPermission,
		fixDelay:       cfg.FixDelay,
		descriptor:     domain.DeviceDescriptor{Model: cfg.Model, Platform: platform},
		rng:            rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x10ca7)),
		now:            time.Now,
	}
}

func (s *Simulated) RequestLocationPermission(ctx context.Context) (bool, error) {
	if s.denyPermission {
		log.Warn("[Sim] Location permission refused")
		return false, nil
	}
	return true, nil
}

func (s *Simulated) CurrentFix(ctx context.Context, timeout time.Duration) (domain.Fix, error) {
	if s.fixDelay >= timeout {
		select {
		case <-ctx.Done():
			return domain.Fix{}, ctx.Err()
		case <-time.After(timeout):
			return domain.Fix{}, fmt.Errorf("%w after %s", domain.ErrFixTimeout, timeout)
		}
	}

	select {
	case <-ctx.Done():
		return domain.Fix{}, ctx.Err()
	case <-time.After(s.fixDelay):
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// roughly 0-50 m per step
	s.lat += (s.rng.Float64() - 0.5) * 0.0009
	s.lon += (s.rng.Float64() - 0.5) * 0.0009
	s.battery -= 0.002
	if s.battery < 0 {
		s.battery = 0
	}

	accuracy := 3 + s.rng.Float64()*12
	return domain.Fix{
		Latitude:   s.lat,
		Longitude:  s.lon,
		Accuracy:   &accuracy,
		CapturedAt: s.now(),
	}, nil
}

func (s *Simulated) BatteryLevel(ctx context.Context) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.BatteryPercent(s.battery), true, nil
}

func (s *Simulated) DeviceDescriptor(ctx context.Context) domain.DeviceDescriptor {
	return s.descriptor
}
