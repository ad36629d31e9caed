package capability

import (
	"context"
	"time"

	"locatr/internal/domain"
)

// Provider is the device-side port for platform capabilities the sampling
// loop consumes but does not implement.
type Provider interface {
	// RequestLocationPermission returns false when the user refuses.
	RequestLocationPermission(ctx context.Context) (bool, error)

	// CurrentFix returns one position fix or domain.ErrFixTimeout when no
	// fix arrives within timeout.
	CurrentFix(ctx context.Context, timeout time.Duration) (domain.Fix, error)

	// BatteryLevel returns the battery percentage; ok is false when the
	// platform cannot report it.
	BatteryLevel(ctx context.Context) (level int, ok bool, err error)

	// DeviceDescriptor is best-effort; fields may be empty.
	DeviceDescriptor(ctx context.Context) domain.DeviceDescriptor
}
