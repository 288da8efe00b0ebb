package transfercache_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/transfercache"
)

func TestCapacityPoolGrantRelease(t *testing.T) {
	_, err := transfercache.NewCapacityPool(-1)
	require.Error(t, err)

	pool := newTestPool(t, 10)
	require.True(t, pool.TryGrant(6))
	require.False(t, pool.TryGrant(5))
	require.False(t, pool.TryGrant(-1))
	require.Equal(t, 6, pool.Granted())
	require.Equal(t, 4, pool.Available())
	require.True(t, pool.TryGrant(4))
	require.Equal(t, 0, pool.Available())

	pool.Release(10)
	require.Equal(t, 0, pool.Granted())
	require.Equal(t, 10, pool.Budget())
	require.NoError(t, pool.Validate())

	require.Panics(t, func() {
		pool.Release(1)
	})
}

func TestCapacityPoolNeverOvergrants(t *testing.T) {
	pool := newTestPool(t, 1000)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for worker := 0; worker < 16; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if pool.TryGrant(1) {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1000), granted.Load())
	require.Equal(t, 1000, pool.Granted())
	require.NoError(t, pool.Validate())
}

func TestCapacityPoolConcurrentGrowShrink(t *testing.T) {
	pool := newTestPool(t, 64)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if pool.TryGrant(8) {
					assert.LessOrEqual(t, pool.Granted(), 64)
					pool.Release(8)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, pool.Granted())
}
