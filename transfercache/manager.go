package transfercache

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/spancache/internal/utils"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// resizeCandidates is the number of classes with the most misses that ResizeCaches tries to
// grow on each pass
const resizeCandidates = 5

// Manager owns a TransferCache for every size class along with the CapacityPool they share
type Manager struct {
	logger     *slog.Logger
	parameters *params.Parameters
	pool       *CapacityPool

	// Indexed by size class. Class 0 has no cache.
	caches []*TransferCache

	resizeLock utils.OptionalMutex
	lastMisses []int
	nextVictim int
}

// NewManager creates one TransferCache per class of sizeMap, backed by the free list with the
// same index in freeLists. The pool is sized by parameters.TransferCacheBudget.
func NewManager(logger *slog.Logger, parameters *params.Parameters, sizeMap *sizeclass.Map, freeLists []FreeList, useMutex bool) (*Manager, error) {
	if len(freeLists) != sizeMap.NumClasses() {
		return nil, errors.Newf("expected %d free lists, one per size class, but received %d", sizeMap.NumClasses(), len(freeLists))
	}

	pool, err := NewCapacityPool(parameters.TransferCacheBudget)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		logger:     logger,
		parameters: parameters,
		pool:       pool,
		caches:     make([]*TransferCache, sizeMap.NumClasses()),
		lastMisses: make([]int, sizeMap.NumClasses()),
	}
	manager.resizeLock.Init(useMutex)

	for sizeClass := 1; sizeClass < sizeMap.NumClasses(); sizeClass++ {
		class := sizeMap.Class(sizeClass)
		maxBatches := parameters.MaxCapacityBatches(class.ObjectSize)
		initialBatches := memutils.Min(parameters.InitialCapacityBatches, maxBatches)

		initialCapacity := initialBatches * class.BatchSize
		if pool.Available() < initialCapacity {
			initialCapacity = class.BatchSize
		}

		cache, err := New(logger, sizeClass, class.BatchSize, initialCapacity, maxBatches*class.BatchSize, pool, freeLists[sizeClass], useMutex)
		if err != nil {
			manager.Destroy()
			return nil, errors.Wrapf(err, "TransferCacheBudget of %d is too small for %d size classes", parameters.TransferCacheBudget, sizeMap.NumClasses()-1)
		}
		manager.caches[sizeClass] = cache
	}

	logger.Debug("Manager::New",
		slog.Int("SizeClasses", sizeMap.NumClasses()-1),
		slog.Int("Budget", pool.Budget()),
		slog.Int("Granted", pool.Granted()))

	return manager, nil
}

func (m *Manager) Pool() *CapacityPool {
	return m.pool
}

// NumClasses returns the number of size classes, including the reserved class 0
func (m *Manager) NumClasses() int {
	return len(m.caches)
}

// Cache returns the TransferCache for a size class, or nil for class 0
func (m *Manager) Cache(sizeClass int) *TransferCache {
	return m.caches[sizeClass]
}

// Plunder evicts idle objects from every cache and returns the total evicted. It does nothing
// unless parameters.PlunderEnabled is set.
func (m *Manager) Plunder() int {
	if !m.parameters.PlunderEnabled {
		return 0
	}

	m.logger.Debug("Manager::Plunder")

	evicted := 0
	for _, cache := range m.caches {
		if cache != nil {
			evicted += cache.Plunder()
		}
	}
	return evicted
}

type resizeCandidate struct {
	sizeClass int
	misses    int
}

// ResizeCaches grows the caches that missed the most since the previous call. When the pool
// has no slots to grant, a batch of capacity is taken from a cache that had no misses. It
// returns the number of caches grown.
func (m *Manager) ResizeCaches() int {
	m.resizeLock.Lock()
	defer m.resizeLock.Unlock()

	var candidates []resizeCandidate
	for sizeClass, cache := range m.caches {
		if cache == nil {
			continue
		}

		misses := cache.GetStats().Misses()
		delta := misses - m.lastMisses[sizeClass]
		m.lastMisses[sizeClass] = misses
		if delta > 0 {
			candidates = append(candidates, resizeCandidate{sizeClass: sizeClass, misses: delta})
		}
	}

	slices.SortFunc(candidates, func(a, b resizeCandidate) bool {
		if a.misses != b.misses {
			return a.misses > b.misses
		}
		return a.sizeClass < b.sizeClass
	})

	grown := 0
	for i := 0; i < len(candidates) && i < resizeCandidates; i++ {
		cache := m.caches[candidates[i].sizeClass]
		if cache.Grow() {
			grown++
			continue
		}

		if !m.shrinkVictim(candidates[i].sizeClass, cache.BatchSize()) {
			continue
		}

		if cache.Grow() {
			grown++
		}
	}

	memutils.DebugValidate(m.pool)
	return grown
}

// shrinkVictim shrinks caches round-robin, skipping the class being grown and classes that
// missed recently, until at least neededSlots are available in the pool
func (m *Manager) shrinkVictim(growing int, neededSlots int) bool {
	for tries := 0; tries < len(m.caches) && m.pool.Available() < neededSlots; tries++ {
		m.nextVictim = (m.nextVictim + 1) % len(m.caches)
		victim := m.caches[m.nextVictim]
		if victim == nil || m.nextVictim == growing {
			continue
		}

		if victim.GetStats().Misses() != m.lastMisses[m.nextVictim] {
			continue
		}

		victim.Shrink()
	}

	return m.pool.Available() >= neededSlots
}

// Run performs a maintenance pass every interval until ctx is done. Each pass plunders and
// resizes the caches when parameters.BackgroundProcessActionsEnabled is set, then calls
// onTick, if provided.
func (m *Manager) Run(ctx context.Context, interval time.Duration, onTick func(now time.Time)) error {
	if interval <= 0 {
		return errors.Newf("the maintenance interval must be positive, but was %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if m.parameters.BackgroundProcessActionsEnabled {
				m.Plunder()
				m.ResizeCaches()
			}

			if onTick != nil {
				onTick(now)
			}
		}
	}
}

// GetStats sums the stats of every cache
func (m *Manager) GetStats() Stats {
	var total Stats
	for _, cache := range m.caches {
		if cache != nil {
			stats := cache.GetStats()
			total.Add(&stats)
		}
	}
	return total
}

// AddStatistics sums the objects held by every cache into stats
func (m *Manager) AddStatistics(stats *memutils.Statistics, sizeMap *sizeclass.Map) {
	for sizeClass, cache := range m.caches {
		if cache == nil {
			continue
		}

		used := cache.Length()
		stats.CachedObjects += used
		stats.CachedBytes += used * sizeMap.Class(sizeClass).ObjectSize
	}
}

func (m *Manager) Print(w io.Writer) {
	stats := m.GetStats()
	fmt.Fprintf(w, "Transfer caches: %d of %d slots granted, %d objects cached, %d insert misses, %d remove misses\n",
		m.pool.Granted(), m.pool.Budget(), stats.Used, stats.InsertMisses, stats.RemoveMisses)

	for _, cache := range m.caches {
		if cache != nil {
			cache.Print(w)
		}
	}
}

// PrintJSON writes the pool and every cache as fields of obj
func (m *Manager) PrintJSON(obj *jwriter.ObjectState) {
	pool := obj.Name("CapacityPool").Object()
	pool.Name("Budget").Int(m.pool.Budget())
	pool.Name("Granted").Int(m.pool.Granted())
	pool.End()

	arr := obj.Name("TransferCaches").Array()
	for _, cache := range m.caches {
		if cache == nil {
			continue
		}

		cacheObj := arr.Object()
		cache.PrintJSON(&cacheObj)
		cacheObj.End()
	}
	arr.End()
}

// Validate checks every cache and confirms the pool's grants match the caches' capacities.
// The caches must not be in use while it runs.
func (m *Manager) Validate() error {
	capacity := 0
	for _, cache := range m.caches {
		if cache == nil {
			continue
		}

		err := cache.Validate()
		if err != nil {
			return err
		}
		capacity += cache.GetStats().Capacity
	}

	err := m.pool.Validate()
	if err != nil {
		return err
	}

	if capacity != m.pool.Granted() {
		return errors.Newf("the transfer caches hold %d slots of capacity, but the pool has granted %d", capacity, m.pool.Granted())
	}

	return nil
}

// Destroy flushes every cache to its free list and returns all capacity to the pool
func (m *Manager) Destroy() {
	for i, cache := range m.caches {
		if cache != nil {
			cache.Destroy()
			m.caches[i] = nil
		}
	}
}
