//go:build debug_mem_utils

package centralfreelist_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/centralfreelist"
)

func TestInsertRangeValidatesInDebugBuilds(t *testing.T) {
	pages := newFakePageAllocator()
	list := newTestFreeList(t, mediumClass, pages, centralfreelist.Options{})

	objects := removeAll(t, list, 13)
	require.NotPanics(t, func() {
		list.InsertRange(objects[:5])
		list.InsertRange(objects[5:])
	})
	require.Equal(t, 0, pages.Outstanding())
}
