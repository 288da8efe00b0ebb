package spancache_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/mocks"
	"github.com/vkngwrapper/arsenal/spancache/pageheap"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"github.com/vkngwrapper/arsenal/spancache/residency"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

const (
	smallClass  = 1
	mediumClass = 2
	largeClass  = 3
)

type fakeResidency struct{}

func (fakeResidency) Get(addr uintptr, size int) (residency.Info, bool) {
	return residency.Info{BytesResident: size}, true
}

func (fakeResidency) NativePagesInHugePage() int { return 512 }

func (fakeResidency) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func testSizeMap(t *testing.T) *sizeclass.Map {
	sizeMap, err := sizeclass.NewMap([]sizeclass.Params{
		{ObjectSize: 64, Pages: 1, BatchSize: 32},
		{ObjectSize: 1024, Pages: 1, BatchSize: 8},
		{ObjectSize: 8192, Pages: 1, BatchSize: 2},
	})
	require.NoError(t, err)
	return sizeMap
}

func testParameters() *params.Parameters {
	parameters := params.Defaults()
	parameters.ArenaReservedPages = 1024
	return &parameters
}

func newTestCache(t *testing.T, options spancache.CreateOptions) *spancache.Cache {
	if options.SizeMap == nil {
		options.SizeMap = testSizeMap(t)
	}
	if options.Parameters == nil {
		options.Parameters = testParameters()
	}
	if options.Residency == nil {
		options.Flags |= spancache.CreateDisableResidency
	}

	cache, err := spancache.New(testLogger(), options)
	require.NoError(t, err)
	return cache
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", spancache.CreateFlags(0).String())
	require.Equal(t, "CreateExternallySynchronized", spancache.CreateExternallySynchronized.String())
	require.Equal(t, "CreateExternallySynchronized|CreateDisableResidency",
		(spancache.CreateExternallySynchronized | spancache.CreateDisableResidency).String())
}

func TestNewRejectsBadParameters(t *testing.T) {
	parameters := testParameters()
	parameters.RetainedEmptySpans = -1

	_, err := spancache.New(testLogger(), spancache.CreateOptions{Parameters: parameters})
	require.Error(t, err)

	parameters = testParameters()
	parameters.TransferCacheBudget = 4

	_, err = spancache.New(testLogger(), spancache.CreateOptions{
		Parameters: parameters,
		SizeMap:    testSizeMap(t),
		Flags:      spancache.CreateDisableResidency,
	})
	require.Error(t, err)
}

func TestDefaultCache(t *testing.T) {
	cache, err := spancache.New(testLogger(), spancache.CreateOptions{
		Parameters: &params.Parameters{ArenaReservedPages: 4096, InitialCapacityBatches: 1},
	})
	require.NoError(t, err)

	sizeClass, ok := cache.SizeClassFor(100)
	require.True(t, ok)
	require.GreaterOrEqual(t, cache.SizeMap().Class(sizeClass).ObjectSize, 100)

	out := make([]spancache.Object, 10)
	require.Equal(t, 10, cache.Allocate(sizeClass, out))
	cache.Free(sizeClass, out)

	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{})
	objectSize := uintptr(cache.SizeMap().Class(smallClass).ObjectSize)

	out := make([]spancache.Object, 300)
	require.Equal(t, len(out), cache.Allocate(smallClass, out))

	seen := make(map[spancache.Object]struct{}, len(out))
	for _, obj := range out {
		require.NotZero(t, obj)
		require.Zero(t, obj%objectSize)
		_, duplicate := seen[obj]
		require.False(t, duplicate)
		seen[obj] = struct{}{}
	}

	stats := cache.Statistics()
	require.Equal(t, len(out)*int(objectSize), stats.InUseBytes())
	require.NoError(t, cache.Validate())

	cache.Free(smallClass, out)

	stats = cache.Statistics()
	require.Zero(t, stats.InUseBytes())
	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}

func TestFreedObjectsAreReused(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{})
	batchSize := cache.TransferCache(mediumClass).BatchSize()

	first := make([]spancache.Object, batchSize)
	require.Equal(t, batchSize, cache.Allocate(mediumClass, first))
	cache.Free(mediumClass, first)
	require.Equal(t, batchSize, cache.TransferCache(mediumClass).Length())

	second := make([]spancache.Object, batchSize)
	require.Equal(t, batchSize, cache.Allocate(mediumClass, second))
	require.ElementsMatch(t, first, second)
	require.Zero(t, cache.TransferCache(mediumClass).Length())

	cache.Free(mediumClass, second)
	require.NoError(t, cache.Destroy())
}

func TestInvalidSizeClassPanics(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{})
	defer func() {
		require.NoError(t, cache.Destroy())
	}()

	out := make([]spancache.Object, 1)
	require.Panics(t, func() {
		cache.Allocate(0, out)
	})
	require.Panics(t, func() {
		cache.Free(cache.SizeMap().NumClasses(), out)
	})
	require.Panics(t, func() {
		cache.CentralFreeList(-1)
	})
}

func TestDestroyWithOutstandingObjects(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{})

	out := make([]spancache.Object, 4)
	require.Equal(t, 4, cache.Allocate(mediumClass, out))
	require.Error(t, cache.Destroy())
}

func TestHeapHardLimit(t *testing.T) {
	parameters := testParameters()
	parameters.HeapSizeHardLimitPages = 3
	cache := newTestCache(t, spancache.CreateOptions{Parameters: parameters})

	out := make([]spancache.Object, 8)
	provided := cache.Allocate(largeClass, out)
	require.Equal(t, 3, provided)

	cache.Free(largeClass, out[:provided])
	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}

func TestSuppliedPageAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockPageAllocator(ctrl)

	span := pageheap.Pages{Start: 1 << 20, Count: 1}
	allocator.EXPECT().AllocateSpan(1).Return(span, true)
	allocator.EXPECT().ReleaseSpan(span)

	cache := newTestCache(t, spancache.CreateOptions{PageAllocator: allocator})

	out := make([]spancache.Object, 8)
	require.Equal(t, 8, cache.Allocate(mediumClass, out))
	for _, obj := range out {
		require.True(t, span.Contains(obj))
	}

	cache.Free(mediumClass, out)
	require.NoError(t, cache.Destroy())
}

func TestMemoryCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	callbacks := mocks.NewMockMemoryCallbacks(ctrl)
	callbacks.EXPECT().Allocate(gomock.Any()).Times(1)
	callbacks.EXPECT().Free(gomock.Any()).Times(1)

	cache := newTestCache(t, spancache.CreateOptions{MemoryCallbacks: callbacks})

	out := make([]spancache.Object, 2)
	require.Equal(t, 2, cache.Allocate(mediumClass, out))
	cache.Free(mediumClass, out)
	require.NoError(t, cache.Destroy())
}

func TestRetainedSpansAgeOut(t *testing.T) {
	clock := memutils.NewManualClock(time.Unix(1000, 0))
	parameters := testParameters()
	parameters.RetainedEmptySpans = 1
	parameters.SpanReleaseInterval = time.Minute

	cache := newTestCache(t, spancache.CreateOptions{Parameters: parameters, Clock: clock})
	freeList := cache.CentralFreeList(mediumClass)

	out := make([]spancache.Object, freeList.ObjectsPerSpan())
	require.Equal(t, len(out), cache.Allocate(mediumClass, out))
	cache.Free(mediumClass, out)

	// The first pass marks everything idle, the second evicts it
	cache.Plunder()
	require.Equal(t, len(out), cache.Plunder())

	stats := cache.Statistics()
	require.Equal(t, 1, stats.RetainedSpans)
	require.Zero(t, stats.SpanCount)

	require.Zero(t, cache.ReleaseRetainedSpans(clock.Now()))
	clock.Advance(time.Minute)
	require.Equal(t, 1, cache.ReleaseRetainedSpans(clock.Now()))
	require.Zero(t, cache.Statistics().RetainedSpans)

	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}

func TestRunBackground(t *testing.T) {
	parameters := testParameters()
	parameters.BackgroundProcessSleepInterval = time.Millisecond
	cache := newTestCache(t, spancache.CreateOptions{Parameters: parameters})

	out := make([]spancache.Object, 8)
	require.Equal(t, 8, cache.Allocate(mediumClass, out))
	cache.Free(mediumClass, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- cache.RunBackground(ctx)
	}()

	require.Eventually(t, func() bool {
		return cache.TransferCache(mediumClass).Length() == 0
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}

func TestDumpStats(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{Residency: fakeResidency{}})

	out := make([]spancache.Object, 40)
	require.Equal(t, 40, cache.Allocate(smallClass, out))

	var text bytes.Buffer
	cache.DumpStats(&text)
	require.Contains(t, text.String(), "Bytes in use by application")
	require.Contains(t, text.String(), "Span bytes resident")
	require.Contains(t, text.String(), "Non-cumulative number of spans with allocated objects < N:")
	require.Contains(t, text.String(), "Transfer caches:")

	var encoded bytes.Buffer
	require.NoError(t, cache.DumpStatsJSON(&encoded))

	var report struct {
		Totals struct {
			InUseBytes int
			SpanCount  int
		}
		Arena struct {
			PagesInUse int
		}
		Residency struct {
			BytesResident int
		}
		CentralFreeLists []struct {
			SizeClass       int
			SpanUtilization []struct {
				AllocatedLessThan int
				Spans             int
			}
		}
		TransferCaches []struct {
			SizeClass int
		}
	}
	require.NoError(t, json.Unmarshal(encoded.Bytes(), &report))

	require.Equal(t, 40*64, report.Totals.InUseBytes)
	require.Equal(t, 1, report.Totals.SpanCount)
	require.Equal(t, 1, report.Arena.PagesInUse)
	require.Equal(t, sizeclass.PageSize, report.Residency.BytesResident)
	require.Len(t, report.CentralFreeLists, 3)
	require.Len(t, report.TransferCaches, 3)
	require.Equal(t, smallClass, report.CentralFreeLists[0].SizeClass)
	require.NotEmpty(t, report.CentralFreeLists[0].SpanUtilization)

	cache.Free(smallClass, out)
	require.NoError(t, cache.Destroy())
}

func TestConcurrentAllocateFree(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{})

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			sizeClass := 1 + worker%3
			out := make([]spancache.Object, 1+worker*3)
			for i := 0; i < 200; i++ {
				provided := cache.Allocate(sizeClass, out)
				if !assert.Equal(t, len(out), provided) {
					cache.Free(sizeClass, out[:provided])
					return
				}
				cache.Free(sizeClass, out)

				if i%50 == 0 {
					cache.Plunder()
					cache.ResizeCaches()
				}
			}
		}(worker)
	}
	wg.Wait()

	require.Zero(t, cache.Statistics().InUseBytes())
	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}

func TestExternallySynchronized(t *testing.T) {
	cache := newTestCache(t, spancache.CreateOptions{Flags: spancache.CreateExternallySynchronized})

	out := make([]spancache.Object, 64)
	require.Equal(t, 64, cache.Allocate(smallClass, out))
	cache.Free(smallClass, out)

	require.Zero(t, cache.TransferCache(smallClass).Contention())
	require.NoError(t, cache.Validate())
	require.NoError(t, cache.Destroy())
}
