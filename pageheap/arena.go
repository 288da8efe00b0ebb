package pageheap

import (
	"context"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/internal/utils"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"golang.org/x/exp/slog"
)

const (
	// defaultReservedPages is the size of the arena when ArenaOptions.ReservedPages is 0. It is
	// equal to 256Mb.
	defaultReservedPages int = (256 * 1024 * 1024) / sizeclass.PageSize
)

// ArenaOptions contains optional settings when creating an Arena
type ArenaOptions struct {
	// ReservedPages is the number of pages of address space the arena maps up front. Spans
	// can never be allocated beyond this.
	ReservedPages int
	// HardLimitPages is the maximum number of pages that may be in use at once, or 0 for
	// no limit beyond ReservedPages. The limit is enforced at runtime: AllocateSpan fails
	// when it would be exceeded.
	HardLimitPages int
	// Callbacks is an optional set of callbacks that will be executed whenever spans are
	// allocated or released
	Callbacks MemoryCallbacks
	// ExternallySynchronized disables the arena's internal mutex. The consumer must guarantee
	// the arena is used from one goroutine at a time.
	ExternallySynchronized bool
}

// ArenaStats is a snapshot of an Arena's page accounting
type ArenaStats struct {
	ReservedPages  int
	HardLimitPages int
	PagesInUse     int
	SpansAllocated int
	SpansReleased  int
	LimitHits      int
}

// Arena is a PageAllocator that hands out page runs from a single region mapped when it
// is created. Released pages are decommitted so the OS can reclaim their memory.
type Arena struct {
	logger    *slog.Logger
	callbacks MemoryCallbacks

	region     []byte
	regionBase uintptr
	base       PageID
	totalPages int
	hardLimit  int64

	// Number of pages that have actually been handed out
	pagesInUse     int64
	spansAllocated int64
	spansReleased  int64
	limitHits      int64

	mutex      utils.OptionalMutex
	used       memutils.Bitmap
	searchHint int
}

var _ PageAllocator = &Arena{}

// NewArena maps a new region of pages and returns an Arena that serves spans from it
func NewArena(logger *slog.Logger, options ArenaOptions) (*Arena, error) {
	reserved := options.ReservedPages
	if reserved == 0 {
		reserved = defaultReservedPages
	}
	if reserved < 0 {
		return nil, errors.Newf("ArenaOptions.ReservedPages must not be negative, but was %d", reserved)
	}

	hardLimit := options.HardLimitPages
	if hardLimit < 0 {
		return nil, errors.Newf("ArenaOptions.HardLimitPages must not be negative, but was %d", hardLimit)
	}
	if hardLimit == 0 || hardLimit > reserved {
		hardLimit = reserved
	}

	memutils.DebugCheckPow2(sizeclass.PageSize, "sizeclass.PageSize")

	// Map one extra page so the first page can be aligned to sizeclass.PageSize
	region, err := reserveRegion((reserved + 1) * sizeclass.PageSize)
	if err != nil {
		return nil, err
	}

	regionBase := uintptr(unsafe.Pointer(&region[0]))
	alignedBase := memutils.AlignUp(regionBase, uintptr(sizeclass.PageSize))

	arena := &Arena{
		logger:     logger,
		callbacks:  options.Callbacks,
		region:     region,
		regionBase: regionBase,
		base:       PageIDFor(alignedBase),
		totalPages: reserved,
		hardLimit:  int64(hardLimit),
		used:       memutils.NewBitmap(reserved),
	}
	arena.mutex.Init(!options.ExternallySynchronized)

	logger.Debug("Arena::New", slog.Int("ReservedPages", reserved), slog.Int("HardLimitPages", hardLimit))

	return arena, nil
}

func (a *Arena) reservePages(count int) bool {
	for {
		currentVal := atomic.LoadInt64(&a.pagesInUse)
		targetVal := currentVal + int64(count)

		if targetVal > a.hardLimit {
			atomic.AddInt64(&a.limitHits, 1)
			return false
		}

		if atomic.CompareAndSwapInt64(&a.pagesInUse, currentVal, targetVal) {
			return true
		}
	}
}

func (a *Arena) unreservePages(count int) {
	newVal := atomic.AddInt64(&a.pagesInUse, int64(-count))

	if newVal < 0 {
		panic(fmt.Sprintf("pages in use for the arena went negative after releasing %d pages", count))
	}
}

// AllocateSpan finds the first run of free pages that can hold the requested number of pages
func (a *Arena) AllocateSpan(pages int) (Pages, bool) {
	if pages < 1 || pages > a.totalPages {
		return Pages{}, false
	}

	if !a.reservePages(pages) {
		return Pages{}, false
	}

	a.mutex.Lock()
	start, found := a.findRun(pages)
	if found {
		for i := start; i < start+pages; i++ {
			a.used.Set(i)
		}
		a.searchHint = start + pages
	}
	a.mutex.Unlock()

	if !found {
		// The arena is too fragmented to satisfy the request
		a.unreservePages(pages)
		return Pages{}, false
	}

	span := Pages{
		Start: a.base + PageID(start),
		Count: pages,
	}
	atomic.AddInt64(&a.spansAllocated, 1)

	if a.callbacks != nil {
		a.callbacks.Allocate(span)
	}

	return span, true
}

func (a *Arena) findRun(pages int) (int, bool) {
	start, found := a.findRunBetween(a.searchHint, a.totalPages, pages)
	if found {
		return start, true
	}

	return a.findRunBetween(0, memutils.Min(a.searchHint+pages-1, a.totalPages), pages)
}

func (a *Arena) findRunBetween(from, to, pages int) (int, bool) {
	runStart := from
	runLength := 0
	for i := from; i < to; i++ {
		if a.used.Get(i) {
			runStart = i + 1
			runLength = 0
			continue
		}

		runLength++
		if runLength == pages {
			return runStart, true
		}
	}

	return 0, false
}

// ReleaseSpan returns a run of pages to the arena. Releasing pages that were not handed out
// by this arena is a fatal error.
func (a *Arena) ReleaseSpan(span Pages) {
	first := int(span.Start - a.base)
	if span.Start < a.base || first+span.Count > a.totalPages || span.Count < 1 {
		panic(errors.AssertionFailedf("attempted to release span %s, which does not belong to this arena", span.String()))
	}

	a.mutex.Lock()
	for i := first; i < first+span.Count; i++ {
		if !a.used.Get(i) {
			a.mutex.Unlock()
			panic(errors.AssertionFailedf("attempted to release page %d of span %s, but it was not in use", i, span.String()))
		}
	}

	// Pages stay marked in use until they are decommitted so they can't be handed out underneath us
	offset := int(span.Addr() - a.regionBase)
	err := decommitRegion(a.region[offset : offset+span.Bytes()])
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "failed to decommit released pages",
			slog.String("span", span.String()),
			slog.Any("error", err))
	}

	for i := first; i < first+span.Count; i++ {
		a.used.Clear(i)
	}
	if first < a.searchHint {
		a.searchHint = first
	}
	a.mutex.Unlock()

	if a.callbacks != nil {
		a.callbacks.Free(span)
	}

	atomic.AddInt64(&a.spansReleased, 1)
	a.unreservePages(span.Count)
}

// Stats returns a snapshot of the arena's page accounting
func (a *Arena) Stats() ArenaStats {
	return ArenaStats{
		ReservedPages:  a.totalPages,
		HardLimitPages: int(a.hardLimit),
		PagesInUse:     int(atomic.LoadInt64(&a.pagesInUse)),
		SpansAllocated: int(atomic.LoadInt64(&a.spansAllocated)),
		SpansReleased:  int(atomic.LoadInt64(&a.spansReleased)),
		LimitHits:      int(atomic.LoadInt64(&a.limitHits)),
	}
}

func (a *Arena) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	usedPages := a.used.Count()
	inUse := int(atomic.LoadInt64(&a.pagesInUse))
	if usedPages != inUse {
		return errors.Newf("the arena has %d pages marked in use, but its budget counts %d", usedPages, inUse)
	}

	if int64(inUse) > a.hardLimit {
		return errors.Newf("the arena has %d pages in use, more than its limit of %d", inUse, a.hardLimit)
	}

	return nil
}

// Close unmaps the arena's region. It fails if any spans are still allocated.
func (a *Arena) Close() error {
	inUse := atomic.LoadInt64(&a.pagesInUse)
	if inUse > 0 {
		return errors.Newf("the arena still has %d pages in use", inUse)
	}

	if a.region == nil {
		return nil
	}

	err := releaseRegion(a.region)
	a.region = nil
	return err
}
