// Package transfercache caches batches of freed objects for each size class so that most
// allocations and frees never reach the central free list. Each TransferCache's capacity
// is negotiated with a CapacityPool shared by every size class.
package transfercache

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/internal/utils"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"golang.org/x/exp/slog"
)

// TransferCache is a bounded stack of objects for a single size class. Capacity is always a
// multiple of the batch size, never less than one batch, and never more than the max
// capacity. Every slot of capacity is granted by the CapacityPool.
type TransferCache struct {
	logger    *slog.Logger
	sizeClass int
	batchSize int
	pool      *CapacityPool
	freeList  FreeList

	mutex       utils.OptionalMutex
	slots       []Object
	used        int
	capacity    int
	maxCapacity int
	// The smallest value of used since the last plunder. Objects below it have not been
	// touched since then.
	lowWaterMark int

	insertHits           int
	insertMisses         int
	insertNonBatchMisses int
	removeHits           int
	removeMisses         int
	removeNonBatchMisses int
}

// New creates a TransferCache with initialCapacity slots granted from pool. Capacities are
// in objects and must be multiples of batchSize.
func New(logger *slog.Logger, sizeClass, batchSize, initialCapacity, maxCapacity int, pool *CapacityPool, freeList FreeList, useMutex bool) (*TransferCache, error) {
	if batchSize < sizeclass.MinObjectsToMove || batchSize > sizeclass.MaxObjectsToMove {
		return nil, errors.Wrapf(sizeclass.ErrInvalidSizeClass, "batch size %d for size class %d is outside of [%d, %d]",
			batchSize, sizeClass, sizeclass.MinObjectsToMove, sizeclass.MaxObjectsToMove)
	}

	if initialCapacity%batchSize != 0 || maxCapacity%batchSize != 0 {
		return nil, errors.Newf("transfer cache capacities for size class %d must be multiples of the batch size %d, but were %d and %d",
			sizeClass, batchSize, initialCapacity, maxCapacity)
	}

	if initialCapacity < batchSize || initialCapacity > maxCapacity {
		return nil, errors.Newf("initial capacity %d for size class %d must be between one batch (%d) and the max capacity (%d)",
			initialCapacity, sizeClass, batchSize, maxCapacity)
	}

	if pool == nil || freeList == nil {
		return nil, errors.Newf("a transfer cache for size class %d requires a capacity pool and a free list", sizeClass)
	}

	if !pool.TryGrant(initialCapacity) {
		return nil, errors.Newf("the capacity pool cannot grant the initial %d slots for size class %d: %d of %d are available",
			initialCapacity, sizeClass, pool.Available(), pool.Budget())
	}

	cache := &TransferCache{
		logger:      logger,
		sizeClass:   sizeClass,
		batchSize:   batchSize,
		pool:        pool,
		freeList:    freeList,
		slots:       make([]Object, maxCapacity),
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
	}
	cache.mutex.Init(useMutex)

	return cache, nil
}

func (c *TransferCache) SizeClass() int { return c.sizeClass }

func (c *TransferCache) BatchSize() int { return c.batchSize }

// Length is the number of objects currently cached
func (c *TransferCache) Length() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.used
}

// Contention is the number of times a caller found the cache's lock already held
func (c *TransferCache) Contention() uint64 {
	return c.mutex.Contended()
}

// Insert stores every object in batch if there is room for all of them. When it returns
// false the batch is untouched and still belongs to the caller.
func (c *TransferCache) Insert(batch []Object) bool {
	if len(batch) == 0 {
		return true
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.used+len(batch) > c.capacity {
		c.insertMisses++
		if len(batch) != c.batchSize {
			c.insertNonBatchMisses++
		}
		return false
	}

	copy(c.slots[c.used:], batch)
	c.used += len(batch)
	c.insertHits++
	return true
}

// Remove fills out with cached objects if enough are cached. When it returns false, out is
// untouched.
func (c *TransferCache) Remove(out []Object) bool {
	if len(out) == 0 {
		return true
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.used < len(out) {
		c.removeMisses++
		if len(out) != c.batchSize {
			c.removeNonBatchMisses++
		}
		return false
	}

	c.used -= len(out)
	copy(out, c.slots[c.used:c.used+len(out)])
	if c.used < c.lowWaterMark {
		c.lowWaterMark = c.used
	}
	c.removeHits++
	return true
}

// InsertRange stores batch in the cache, or passes it down to the free list if the cache is
// full
func (c *TransferCache) InsertRange(batch []Object) {
	if !c.Insert(batch) {
		c.freeList.InsertRange(batch)
	}
}

// RemoveRange fills out from the cache, or from the free list if the cache does not hold
// enough objects. It returns the number of objects provided.
func (c *TransferCache) RemoveRange(out []Object) int {
	if c.Remove(out) {
		return len(out)
	}

	return c.freeList.RemoveRange(out)
}

// Grow adds one batch of capacity if that stays within the max capacity and the pool grants
// the slots
func (c *TransferCache) Grow() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.capacity+c.batchSize > c.maxCapacity {
		return false
	}

	if !c.pool.TryGrant(c.batchSize) {
		return false
	}

	c.capacity += c.batchSize
	return true
}

// Shrink removes one batch of capacity, as long as at least one batch remains. Objects that
// no longer fit are evicted to the free list and the slots are returned to the pool.
func (c *TransferCache) Shrink() bool {
	var evictBuffer [sizeclass.MaxObjectsToMove]Object

	c.mutex.Lock()
	if c.capacity <= c.batchSize {
		c.mutex.Unlock()
		return false
	}

	c.capacity -= c.batchSize
	evicted := c.popLocked(evictBuffer[:memutils.Max(c.used-c.capacity, 0)])
	c.pool.Release(c.batchSize)
	c.mutex.Unlock()

	if len(evicted) > 0 {
		c.freeList.InsertRange(evicted)
	}

	memutils.DebugValidate(c)
	return true
}

// popLocked moves the most recently cached objects into out
func (c *TransferCache) popLocked(out []Object) []Object {
	c.used -= len(out)
	copy(out, c.slots[c.used:c.used+len(out)])
	if c.used < c.lowWaterMark {
		c.lowWaterMark = c.used
	}
	return out
}

// Plunder evicts the objects that have sat in the cache untouched since the previous
// Plunder, one batch at a time, and returns the number evicted. If the pool is out of
// slots afterward, idle capacity above one batch is handed back to it.
func (c *TransferCache) Plunder() int {
	var evictBuffer [sizeclass.MaxObjectsToMove]Object
	evictedTotal := 0

	c.mutex.Lock()
	lowWaterMark := c.lowWaterMark
	c.lowWaterMark = c.used
	c.mutex.Unlock()

	for lowWaterMark > 0 {
		if !c.mutex.TryLock() {
			// Someone is using the cache, so it is not idle
			return evictedTotal
		}

		count := memutils.Min(memutils.Min(lowWaterMark, c.batchSize), c.used)
		if count == 0 {
			c.mutex.Unlock()
			break
		}

		evicted := c.popLocked(evictBuffer[:count])
		c.mutex.Unlock()

		c.freeList.InsertRange(evicted)
		evictedTotal += count
		lowWaterMark -= count
	}

	if c.pool.Available() < c.batchSize {
		c.releaseIdleCapacity()
	}

	memutils.DebugValidate(c)
	return evictedTotal
}

func (c *TransferCache) releaseIdleCapacity() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	released := 0
	for c.capacity > c.batchSize && c.capacity-c.used >= c.batchSize {
		c.capacity -= c.batchSize
		released += c.batchSize
	}

	if released > 0 {
		c.pool.Release(released)
	}
}

// Destroy flushes every cached object to the free list and returns all of the cache's
// capacity to the pool. The cache must not be used afterward.
func (c *TransferCache) Destroy() {
	c.mutex.Lock()
	flushed := make([]Object, c.used)
	c.popLocked(flushed)
	released := c.capacity
	c.capacity = 0
	c.lowWaterMark = 0
	c.mutex.Unlock()

	for len(flushed) > 0 {
		count := memutils.Min(len(flushed), c.batchSize)
		c.freeList.InsertRange(flushed[:count])
		flushed = flushed[count:]
	}

	c.pool.Release(released)
	memutils.DebugValidate(c.pool)
}

// Validate performs internal consistency checks on the cache
func (c *TransferCache) Validate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.used < 0 || c.used > c.capacity {
		return errors.Newf("size class %d caches %d objects, outside of its capacity %d", c.sizeClass, c.used, c.capacity)
	}

	if c.capacity%c.batchSize != 0 {
		return errors.Newf("size class %d has capacity %d, which is not a multiple of its batch size %d", c.sizeClass, c.capacity, c.batchSize)
	}

	if c.capacity > c.maxCapacity {
		return errors.Newf("size class %d has capacity %d, more than its max capacity %d", c.sizeClass, c.capacity, c.maxCapacity)
	}

	if c.lowWaterMark > c.used {
		return errors.Newf("size class %d has a low water mark of %d but only caches %d objects", c.sizeClass, c.lowWaterMark, c.used)
	}

	return nil
}
