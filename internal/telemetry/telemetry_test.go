package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabtedu/counterd/internal/telemetry"
)

func TestStartWithoutEndpointIsNoop(t *testing.T) {
	ctx := context.Background()
	exp := telemetry.New(telemetry.Config{ServiceName: "counterd"})

	require.NoError(t, exp.Start(ctx))
	assert.Error(t, exp.Start(ctx), "double start is rejected")
	require.NoError(t, exp.Shutdown(ctx))
}

func TestNewDefaultsInterval(t *testing.T) {
	exp := telemetry.New(telemetry.Config{ServiceName: "counterd"})
	assert.Equal(t, 15*time.Second, exp.Current().Interval)
}

func TestReconfigureCompareAndSet(t *testing.T) {
	ctx := context.Background()
	exp := telemetry.New(telemetry.Config{ServiceName: "counterd", Interval: time.Minute})
	require.NoError(t, exp.Start(ctx))
	defer exp.Shutdown(ctx)

	next := telemetry.Config{ServiceName: "counterd", Version: "2", Interval: time.Minute}

	// A stale view of the current configuration must be rejected.
	stale := telemetry.Config{ServiceName: "someone-else", Interval: time.Minute}
	err := exp.Reconfigure(ctx, stale, next)
	assert.ErrorIs(t, err, telemetry.ErrConfigConflict)
	assert.Equal(t, "", exp.Current().Version)

	require.NoError(t, exp.Reconfigure(ctx, exp.Current(), next))
	assert.Equal(t, "2", exp.Current().Version)

	// The first writer won; the second presenting the old config loses.
	err = exp.Reconfigure(ctx, telemetry.Config{ServiceName: "counterd", Interval: time.Minute},
		telemetry.Config{ServiceName: "counterd", Version: "3", Interval: time.Minute})
	assert.ErrorIs(t, err, telemetry.ErrConfigConflict)
	assert.Equal(t, "2", exp.Current().Version)
}

func TestReconfigureBeforeStartOnlySwapsConfig(t *testing.T) {
	ctx := context.Background()
	exp := telemetry.New(telemetry.Config{ServiceName: "counterd"})

	next := telemetry.Config{ServiceName: "counterd", Version: "1", Interval: 15 * time.Second}
	require.NoError(t, exp.Reconfigure(ctx, exp.Current(), next))
	assert.Equal(t, next, exp.Current())
}
