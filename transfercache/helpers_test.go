package transfercache_test

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/transfercache"
	"golang.org/x/exp/slog"
)

// fakeFreeList mints objects on demand and keeps whatever is inserted into it. It never
// runs out.
type fakeFreeList struct {
	lock    sync.Mutex
	next    transfercache.Object
	minted  int
	free    []transfercache.Object
	inserts int
}

func newFakeFreeList() *fakeFreeList {
	return &fakeFreeList{next: 0x100000}
}

func (f *fakeFreeList) InsertRange(objs []transfercache.Object) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.free = append(f.free, objs...)
	f.inserts++
}

func (f *fakeFreeList) RemoveRange(out []transfercache.Object) int {
	f.lock.Lock()
	defer f.lock.Unlock()

	for i := range out {
		if len(f.free) > 0 {
			out[i] = f.free[len(f.free)-1]
			f.free = f.free[:len(f.free)-1]
			continue
		}

		f.next += 16
		f.minted++
		out[i] = f.next
	}
	return len(out)
}

// Outstanding is the number of objects minted that have not come back
func (f *fakeFreeList) Outstanding() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.minted - len(f.free)
}

func (f *fakeFreeList) Free() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return len(f.free)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func newTestPool(t testing.TB, budget int) *transfercache.CapacityPool {
	pool, err := transfercache.NewCapacityPool(budget)
	require.NoError(t, err)
	return pool
}

func newTestCache(t testing.TB, batchSize, initialCapacity, maxCapacity int, pool *transfercache.CapacityPool, freeList transfercache.FreeList) *transfercache.TransferCache {
	cache, err := transfercache.New(testLogger(), 1, batchSize, initialCapacity, maxCapacity, pool, freeList, true)
	require.NoError(t, err)
	return cache
}

func objects(start transfercache.Object, count int) []transfercache.Object {
	objs := make([]transfercache.Object, count)
	for i := range objs {
		objs[i] = start + transfercache.Object(i)*16
	}
	return objs
}
