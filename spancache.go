// Package spancache is a size-class object cache in the manner of a thread-caching allocator's
// middle tiers. Each size class has a centralfreelist.CentralFreeList that carves spans of
// pages into objects and a transfercache.TransferCache in front of it that holds whole
// batches of freed objects. The transfer caches share a single elastic capacity pool.
//
// Objects are addresses within the spans; the cache never reads or writes object memory.
package spancache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/centralfreelist"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/pageheap"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"github.com/vkngwrapper/arsenal/spancache/residency"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"github.com/vkngwrapper/arsenal/spancache/transfercache"
	"golang.org/x/exp/slog"
)

// Object is the address of an object handed out by the cache
type Object = uintptr

// Cache is the full per-size-class cache hierarchy
type Cache struct {
	logger     *slog.Logger
	flags      CreateFlags
	parameters *params.Parameters
	sizeMap    *sizeclass.Map
	clock      memutils.Clock

	pageAllocator pageheap.PageAllocator
	// Set when the cache created the arena and must close it
	arena *pageheap.Arena

	residency     residency.Residency
	ownsResidency bool

	freeLists []*centralfreelist.CentralFreeList
	manager   *transfercache.Manager
}

// New creates a Cache. options may be left at its zero value to use the default size map,
// parameters, and a private page arena.
func New(logger *slog.Logger, options CreateOptions) (*Cache, error) {
	parameters := options.Parameters
	if parameters == nil {
		defaults := params.Defaults()
		parameters = &defaults
	}
	parameters.FillDefaults()
	err := parameters.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid cache parameters")
	}

	sizeMap := options.SizeMap
	if sizeMap == nil {
		sizeMap = sizeclass.DefaultMap()
	}
	err = sizeMap.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid size map")
	}

	clock := options.Clock
	if clock == nil {
		clock = memutils.SystemClock{}
	}

	externallySynchronized := options.Flags&CreateExternallySynchronized != 0
	cache := &Cache{
		logger:        logger,
		flags:         options.Flags,
		parameters:    parameters,
		sizeMap:       sizeMap,
		clock:         clock,
		pageAllocator: options.PageAllocator,
		residency:     options.Residency,
	}

	if cache.pageAllocator == nil {
		cache.arena, err = pageheap.NewArena(logger, pageheap.ArenaOptions{
			ReservedPages:          parameters.ArenaReservedPages,
			HardLimitPages:         parameters.HeapSizeHardLimitPages,
			Callbacks:              options.MemoryCallbacks,
			ExternallySynchronized: externallySynchronized,
		})
		if err != nil {
			return nil, errors.Wrap(err, "could not create the page arena")
		}
		cache.pageAllocator = cache.arena
	}

	if cache.residency == nil && options.Flags&CreateDisableResidency == 0 {
		cache.residency = residency.New()
		cache.ownsResidency = true
	}

	cache.freeLists = make([]*centralfreelist.CentralFreeList, sizeMap.NumClasses())
	transferFreeLists := make([]transfercache.FreeList, sizeMap.NumClasses())
	for sizeClass := 1; sizeClass < sizeMap.NumClasses(); sizeClass++ {
		freeList, err := centralfreelist.New(logger, sizeClass, sizeMap.Class(sizeClass), cache.pageAllocator, centralfreelist.Options{
			Parameters:             parameters,
			Clock:                  clock,
			ExternallySynchronized: externallySynchronized,
		})
		if err != nil {
			return nil, cache.abandon(err)
		}

		cache.freeLists[sizeClass] = freeList
		transferFreeLists[sizeClass] = freeList
	}

	cache.manager, err = transfercache.NewManager(logger, parameters, sizeMap, transferFreeLists, !externallySynchronized)
	if err != nil {
		return nil, cache.abandon(err)
	}

	logger.Debug("Cache::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("SizeClasses", sizeMap.NumClasses()-1))

	return cache, nil
}

// abandon tears down whatever New managed to build before failing
func (c *Cache) abandon(cause error) error {
	err := c.Destroy()
	if err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "failed to clean up a partially created cache",
			slog.Any("error", err))
	}
	return cause
}

// SizeMap is the table of size classes the cache serves
func (c *Cache) SizeMap() *sizeclass.Map {
	return c.sizeMap
}

// SizeClassFor returns the smallest size class that can hold size bytes
func (c *Cache) SizeClassFor(size int) (int, bool) {
	return c.sizeMap.ClassFor(size)
}

func (c *Cache) checkSizeClass(sizeClass int) {
	if sizeClass < 1 || sizeClass >= c.sizeMap.NumClasses() {
		panic(errors.AssertionFailedf("size class %d is outside of [1, %d)", sizeClass, c.sizeMap.NumClasses()))
	}
}

// Allocate fills out with objects of sizeClass, one batch at a time. It returns the number of
// objects provided, which is less than len(out) only when the page allocator is exhausted.
func (c *Cache) Allocate(sizeClass int, out []Object) int {
	c.checkSizeClass(sizeClass)
	cache := c.manager.Cache(sizeClass)
	batchSize := cache.BatchSize()

	provided := 0
	for provided < len(out) {
		count := memutils.Min(len(out)-provided, batchSize)
		received := cache.RemoveRange(out[provided : provided+count])
		provided += received

		if received < count {
			break
		}
	}

	return provided
}

// Free returns objects of sizeClass to the cache. Every object must have been handed out by
// Allocate for the same size class and not freed since.
func (c *Cache) Free(sizeClass int, objs []Object) {
	c.checkSizeClass(sizeClass)
	cache := c.manager.Cache(sizeClass)
	batchSize := cache.BatchSize()

	for len(objs) > 0 {
		count := memutils.Min(len(objs), batchSize)
		cache.InsertRange(objs[:count])
		objs = objs[count:]
	}
}

// Plunder evicts idle objects from the transfer caches to the central free lists
func (c *Cache) Plunder() int {
	return c.manager.Plunder()
}

// ResizeCaches moves transfer cache capacity toward the classes that have been missing
func (c *Cache) ResizeCaches() int {
	return c.manager.ResizeCaches()
}

// ReleaseRetainedSpans returns every parked span older than the span release interval to the
// page allocator, and returns the number of spans released
func (c *Cache) ReleaseRetainedSpans(now time.Time) int {
	released := 0
	for _, freeList := range c.freeLists {
		if freeList != nil {
			released += freeList.ReleaseRetainedSpans(now)
		}
	}
	return released
}

// RunBackground performs maintenance passes every BackgroundProcessSleepInterval until ctx is
// done. It blocks, so it is typically started on its own goroutine.
func (c *Cache) RunBackground(ctx context.Context) error {
	return c.manager.Run(ctx, c.parameters.BackgroundProcessSleepInterval, func(time.Time) {
		c.ReleaseRetainedSpans(c.clock.Now())
	})
}

// CentralFreeList returns the central free list for a size class
func (c *Cache) CentralFreeList(sizeClass int) *centralfreelist.CentralFreeList {
	c.checkSizeClass(sizeClass)
	return c.freeLists[sizeClass]
}

// TransferCache returns the transfer cache for a size class
func (c *Cache) TransferCache(sizeClass int) *transfercache.TransferCache {
	c.checkSizeClass(sizeClass)
	return c.manager.Cache(sizeClass)
}

// Statistics sums the footprint of every size class
func (c *Cache) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	for _, freeList := range c.freeLists {
		if freeList != nil {
			freeList.AddStatistics(&stats)
		}
	}
	c.manager.AddStatistics(&stats, c.sizeMap)
	return stats
}

// Validate performs internal consistency checks on every component. The cache must not be in
// use while it runs.
func (c *Cache) Validate() error {
	for _, freeList := range c.freeLists {
		if freeList == nil {
			continue
		}

		err := freeList.Validate()
		if err != nil {
			return err
		}
	}

	err := c.manager.Validate()
	if err != nil {
		return err
	}

	if c.arena != nil {
		return c.arena.Validate()
	}

	return nil
}

// Destroy flushes the transfer caches and returns every span to the page allocator. It fails
// if any objects are still allocated, in which case the spans holding them are leaked.
func (c *Cache) Destroy() error {
	if c.manager != nil {
		c.manager.Destroy()
		c.manager = nil
	}

	var err error
	for i, freeList := range c.freeLists {
		if freeList == nil {
			continue
		}

		err = errors.CombineErrors(err, freeList.Destroy())
		c.freeLists[i] = nil
	}

	if c.arena != nil && err == nil {
		err = c.arena.Close()
		c.arena = nil
	}

	if c.ownsResidency && c.residency != nil {
		err = errors.CombineErrors(err, c.residency.Close())
		c.residency = nil
	}

	return err
}
