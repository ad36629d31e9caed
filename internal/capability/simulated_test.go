package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_FixWalksNearStart(t *testing.T) {
	sim := NewSimulated(config.SimulatorConfig{StartLat: 40.0, StartLon: -74.0, Model: "Sim", Platform: "test"})

	fix, err := sim.CurrentFix(context.Background(), time.Second)
	require.NoError(t, err)

	assert.InDelta(t, 40.0, fix.Latitude, 0.001)
	assert.InDelta(t, -74.0, fix.Longitude, 0.001)
	require.NotNil(t, fix.Accuracy)
	assert.GreaterOrEqual(t, *fix.Accuracy, 0.0)

	level, ok, err := sim.BatteryLevel(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 100, level)

	assert.Equal(t, "Sim - test", sim.DeviceDescriptor(context.Background()).DisplayName())
}

func TestSimulated_FixTimeout(t *testing.T) {
	sim := NewSimulated(config.SimulatorConfig{FixDelay: time.Second})

	_, err := sim.CurrentFix(context.Background(), 10*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrFixTimeout))
}

func TestSimulated_PermissionDenied(t *testing.T) {
	sim := NewSimulated(config.SimulatorConfig{DenyPermission: true})

	granted, err := sim.RequestLocationPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)
}
