package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memophor/scedge/logger"
	"github.com/memophor/scedge/types"
)

func TestJanitorLifecycle(t *testing.T) {
	manager := newTestManager(0)
	janitor := NewJanitor(manager, logger.NewZapWrapper(zap.NewNop()), time.Minute)

	require.NoError(t, janitor.Start())
	assert.True(t, janitor.IsRunning())

	// Second start is a no-op, not an error.
	require.NoError(t, janitor.Start())

	require.NoError(t, janitor.Stop())
	assert.False(t, janitor.IsRunning())

	assert.ErrorIs(t, janitor.Stop(), types.ErrJanitorNotRunning)
}

func TestJanitorSweepEvictsExpired(t *testing.T) {
	manager := newTestManager(0)
	janitor := NewJanitor(manager, logger.NewZapWrapper(zap.NewNop()), time.Minute)

	_, err := manager.Store("dead", makeArtifact("demo", "v1", 1))
	require.NoError(t, err)
	_, err = manager.Store("live", makeArtifact("demo", "v2", 3600))
	require.NoError(t, err)

	// Entry TTLs are wall clock; wait out the one second TTL instead of
	// waiting for the schedule.
	time.Sleep(1100 * time.Millisecond)
	janitor.sweep()

	size, err := manager.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	_, err = manager.Lookup("live")
	assert.NoError(t, err)
}
