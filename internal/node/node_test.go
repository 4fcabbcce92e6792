package node

import (
	"strings"
	"testing"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentifier(t *testing.T) {
	a := NewIdentifier("ROME")
	b := NewIdentifier("ROME")
	assert.NotEqual(t, a.Key, b.Key)
	assert.True(t, strings.HasPrefix(a.String(), "(ROME)"))
}

func TestAcquireRelease(t *testing.T) {
	config.Set(config.POOL_MEMORY_MB, 256)
	var r Resources
	r.Init()

	require.NoError(t, r.Acquire(128))
	require.NoError(t, r.Acquire(128))
	assert.ErrorIs(t, r.Acquire(1), OutOfResourcesErr)
	assert.Equal(t, 2, r.Running())
	assert.Equal(t, int64(0), r.FreeMemory())

	r.Release(128)
	assert.Equal(t, int64(128), r.FreeMemory())
	assert.Equal(t, 1, r.Running())
}

func TestLoadAvg(t *testing.T) {
	assert.Len(t, LoadAvg(), 3)
}
