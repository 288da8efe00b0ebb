//go:build debug_mem_utils

package transfercache_test

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShrinkAndPlunderValidateInDebugBuilds(t *testing.T) {
	freeList := newFakeFreeList()
	pool := newTestPool(t, 64)
	cache := newTestCache(t, 4, 8, 16, pool, freeList)

	require.True(t, cache.Insert(objects(0x1000, 4)))
	require.True(t, cache.Insert(objects(0x2000, 4)))

	require.NotPanics(t, func() {
		require.True(t, cache.Shrink())
		require.Equal(t, 0, cache.Plunder())
		require.Equal(t, 4, cache.Plunder())
	})
	require.Equal(t, 0, cache.Length())
	require.Equal(t, 8, freeList.Free())
}
