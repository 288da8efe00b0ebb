package transfercache_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"github.com/vkngwrapper/arsenal/spancache/transfercache"
)

func threeClassMap(t *testing.T) *sizeclass.Map {
	sizeMap, err := sizeclass.NewMap([]sizeclass.Params{
		{ObjectSize: 16, Pages: 1, BatchSize: 4},
		{ObjectSize: 32, Pages: 1, BatchSize: 4},
		{ObjectSize: 64, Pages: 1, BatchSize: 4},
	})
	require.NoError(t, err)
	return sizeMap
}

func fakeFreeLists(count int) ([]transfercache.FreeList, []*fakeFreeList) {
	lists := make([]transfercache.FreeList, count)
	fakes := make([]*fakeFreeList, count)
	for i := 1; i < count; i++ {
		fakes[i] = newFakeFreeList()
		lists[i] = fakes[i]
	}
	return lists, fakes
}

func tightParameters() *params.Parameters {
	parameters := params.Defaults()
	parameters.TransferCacheBudget = 24
	parameters.InitialCapacityBatches = 2
	parameters.PerClassMaxCapacityBatches = 4
	parameters.ResizeSizeClassMaxCapacity = false
	return &parameters
}

func TestNewManagerWithDefaultMap(t *testing.T) {
	sizeMap := sizeclass.DefaultMap()
	parameters := params.Defaults()
	lists, _ := fakeFreeLists(sizeMap.NumClasses())

	manager, err := transfercache.NewManager(testLogger(), &parameters, sizeMap, lists, true)
	require.NoError(t, err)
	require.Nil(t, manager.Cache(0))

	granted := 0
	for sizeClass := 1; sizeClass < manager.NumClasses(); sizeClass++ {
		cache := manager.Cache(sizeClass)
		class := sizeMap.Class(sizeClass)
		require.Equal(t, class.BatchSize, cache.BatchSize())

		stats := cache.GetStats()
		require.Equal(t, parameters.InitialCapacityBatches*class.BatchSize, stats.Capacity)
		require.Equal(t, parameters.MaxCapacityBatches(class.ObjectSize)*class.BatchSize, stats.MaxCapacity)
		granted += stats.Capacity
	}
	require.Equal(t, granted, manager.Pool().Granted())
	require.NoError(t, manager.Validate())

	manager.Destroy()
	require.Equal(t, 0, manager.Pool().Granted())
}

func TestNewManagerRejectsTinyBudget(t *testing.T) {
	sizeMap := threeClassMap(t)
	parameters := tightParameters()
	parameters.TransferCacheBudget = 8
	lists, _ := fakeFreeLists(sizeMap.NumClasses())

	_, err := transfercache.NewManager(testLogger(), parameters, sizeMap, lists, true)
	require.Error(t, err)

	_, err = transfercache.NewManager(testLogger(), parameters, sizeMap, lists[:2], true)
	require.Error(t, err)
}

func TestNewManagerFallsBackToOneBatch(t *testing.T) {
	sizeMap := threeClassMap(t)
	parameters := tightParameters()
	parameters.TransferCacheBudget = 20
	lists, _ := fakeFreeLists(sizeMap.NumClasses())

	manager, err := transfercache.NewManager(testLogger(), parameters, sizeMap, lists, true)
	require.NoError(t, err)
	require.Equal(t, 8, manager.Cache(1).GetStats().Capacity)
	require.Equal(t, 8, manager.Cache(2).GetStats().Capacity)
	require.Equal(t, 4, manager.Cache(3).GetStats().Capacity)
	require.NoError(t, manager.Validate())
}

func TestResizeCachesStealsFromIdleClasses(t *testing.T) {
	sizeMap := threeClassMap(t)
	lists, _ := fakeFreeLists(sizeMap.NumClasses())
	manager, err := transfercache.NewManager(testLogger(), tightParameters(), sizeMap, lists, true)
	require.NoError(t, err)
	require.Equal(t, 0, manager.Pool().Available())

	// Class 1 misses, classes 2 and 3 are idle
	out := make([]transfercache.Object, 4)
	require.False(t, manager.Cache(1).Remove(out))
	require.False(t, manager.Cache(1).Remove(out))

	require.Equal(t, 1, manager.ResizeCaches())
	require.Equal(t, 12, manager.Cache(1).GetStats().Capacity)
	require.Equal(t, 4, manager.Cache(2).GetStats().Capacity)
	require.Equal(t, 8, manager.Cache(3).GetStats().Capacity)
	require.NoError(t, manager.Validate())

	// No new misses, nothing to do
	require.Equal(t, 0, manager.ResizeCaches())
}

func TestManagerPlunder(t *testing.T) {
	sizeMap := threeClassMap(t)
	lists, fakes := fakeFreeLists(sizeMap.NumClasses())
	parameters := tightParameters()
	manager, err := transfercache.NewManager(testLogger(), parameters, sizeMap, lists, true)
	require.NoError(t, err)

	require.True(t, manager.Cache(2).Insert(objects(0x1000, 4)))
	require.Equal(t, 0, manager.Plunder())
	require.Equal(t, 4, manager.Plunder())
	require.Equal(t, 4, fakes[2].Free())

	parameters.PlunderEnabled = false
	require.True(t, manager.Cache(2).Insert(objects(0x1000, 4)))
	require.Equal(t, 0, manager.Plunder())
	require.Equal(t, 0, manager.Plunder())

	var stats memutils.Statistics
	manager.AddStatistics(&stats, sizeMap)
	require.Equal(t, 4, stats.CachedObjects)
	require.Equal(t, 4*32, stats.CachedBytes)
}

func TestManagerRunStopsWithContext(t *testing.T) {
	sizeMap := threeClassMap(t)
	lists, _ := fakeFreeLists(sizeMap.NumClasses())
	manager, err := transfercache.NewManager(testLogger(), tightParameters(), sizeMap, lists, true)
	require.NoError(t, err)

	require.Error(t, manager.Run(context.Background(), 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	result := make(chan error, 1)
	go func() {
		result <- manager.Run(ctx, time.Millisecond, func(now time.Time) {
			ticks.Add(1)
		})
	}()

	require.Eventually(t, func() bool {
		return ticks.Load() >= 2
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-result:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after its context was cancelled")
	}
}

func TestManagerPrint(t *testing.T) {
	sizeMap := threeClassMap(t)
	lists, _ := fakeFreeLists(sizeMap.NumClasses())
	manager, err := transfercache.NewManager(testLogger(), tightParameters(), sizeMap, lists, true)
	require.NoError(t, err)
	require.True(t, manager.Cache(3).Insert(objects(0x1000, 4)))

	var out bytes.Buffer
	manager.Print(&out)
	require.Contains(t, out.String(), "Transfer caches: 24 of 24 slots granted, 4 objects cached")
	require.Contains(t, out.String(), "class   3 [ batch   4 ] :      4 used")

	writer := jwriter.NewWriter()
	obj := writer.Object()
	manager.PrintJSON(&obj)
	obj.End()
	require.NoError(t, writer.Error())

	var parsed struct {
		CapacityPool struct {
			Budget  int
			Granted int
		}
		TransferCaches []transfercache.Stats
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &parsed))
	require.Equal(t, 24, parsed.CapacityPool.Budget)
	require.Len(t, parsed.TransferCaches, 3)
	require.Equal(t, 4, parsed.TransferCaches[2].Used)
	require.Equal(t, 8, parsed.TransferCaches[2].Capacity)
}
