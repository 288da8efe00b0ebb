// Package centralfreelist carves spans of pages into objects of a single size class and hands
// them out in batches. Each CentralFreeList owns its spans: they are allocated from a
// pageheap.PageAllocator when no span has free objects, and returned once every object in
// them has been freed.
package centralfreelist

import (
	"context"
	"math/bits"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/spancache/internal/utils"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/pageheap"
	"github.com/vkngwrapper/arsenal/spancache/params"
	"github.com/vkngwrapper/arsenal/spancache/residency"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"golang.org/x/exp/slog"
)

// retainedList is the list index used for parked spans
const retainedList = NumLists

const initialPageMapSize = 64

// Options contains optional settings when creating a CentralFreeList
type Options struct {
	// Parameters are the shared runtime tunables. If nil, params.Defaults is used.
	Parameters *params.Parameters
	// Clock is used to age spans. If nil, the wall clock is used.
	Clock memutils.Clock
	// ExternallySynchronized disables the free list's internal mutex. The consumer must
	// guarantee that the free list is used from one goroutine at a time.
	ExternallySynchronized bool
}

// CentralFreeList is the per-size-class pool of objects carved from spans.
//
// Spans with free objects are kept on NumLists lists, prioritized by how many objects each
// span has allocated: RemoveRange always draws from the fullest spans first so that nearly
// empty spans have a chance to drain completely and be returned.
type CentralFreeList struct {
	logger        *slog.Logger
	pageAllocator pageheap.PageAllocator
	parameters    *params.Parameters
	clock         memutils.Clock

	sizeClass        int
	objectSize       int
	objectsPerSpan   int
	pagesPerSpan     int
	maxAllocatedBits int
	// When objectsPerSpan is 1, spans do not track individual objects and are allocated and
	// released one per object
	trackObjects bool

	mutex    utils.OptionalMutex
	arena    spanArena
	pageMap  *swiss.Map[pageheap.PageID, spanHandle]
	nonEmpty [NumLists]spanList
	retained spanList

	// Number of free objects across live spans
	length            int
	liveSpans         int
	numSpansRequested int
	numSpansReturned  int
	utilCounts        [MaxUtilBuckets]int
	lifetimes         LifetimeStats
}

// New creates a CentralFreeList for one size class. It returns an error wrapping
// sizeclass.ErrInvalidSizeClass if classParams does not describe a usable size class.
func New(logger *slog.Logger, sizeClass int, classParams sizeclass.Params, pageAllocator pageheap.PageAllocator, options Options) (*CentralFreeList, error) {
	err := classParams.Validate()
	if err != nil {
		return nil, errors.Wrapf(err, "could not create a central free list for size class %d", sizeClass)
	}

	if pageAllocator == nil {
		return nil, errors.Newf("could not create a central free list for size class %d: a page allocator is required", sizeClass)
	}

	parameters := options.Parameters
	if parameters == nil {
		defaults := params.Defaults()
		parameters = &defaults
	}

	clock := options.Clock
	if clock == nil {
		clock = memutils.SystemClock{}
	}

	objectsPerSpan := classParams.ObjectsPerSpan()
	list := &CentralFreeList{
		logger:        logger,
		pageAllocator: pageAllocator,
		parameters:    parameters,
		clock:         clock,

		sizeClass:        sizeClass,
		objectSize:       classParams.ObjectSize,
		objectsPerSpan:   objectsPerSpan,
		pagesPerSpan:     classParams.Pages,
		maxAllocatedBits: bits.Len(uint(objectsPerSpan - 1)),
		trackObjects:     objectsPerSpan > 1,

		pageMap:  swiss.NewMap[pageheap.PageID, spanHandle](initialPageMapSize),
		retained: newSpanList(),
	}
	list.mutex.Init(!options.ExternallySynchronized)
	for i := range list.nonEmpty {
		list.nonEmpty[i] = newSpanList()
	}

	logger.Debug("CentralFreeList::New",
		slog.Int("SizeClass", sizeClass),
		slog.Int("ObjectSize", classParams.ObjectSize),
		slog.Int("ObjectsPerSpan", objectsPerSpan))

	return list, nil
}

// SizeClass is the size class this free list serves
func (c *CentralFreeList) SizeClass() int { return c.sizeClass }

// ObjectSize is the size in bytes of the objects this free list hands out
func (c *CentralFreeList) ObjectSize() int { return c.objectSize }

// ObjectsPerSpan is the number of objects each span is carved into
func (c *CentralFreeList) ObjectsPerSpan() int { return c.objectsPerSpan }

// Length is the number of free objects held across all live spans
func (c *CentralFreeList) Length() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.length
}

// listIndexFor maps a span's allocated count to the list it belongs on. Spans with more
// objects allocated land on lower indices.
func (c *CentralFreeList) listIndexFor(allocated int) int {
	index := c.maxAllocatedBits - bits.Len(uint(allocated))
	if index < 0 {
		return 0
	}
	if index >= NumLists {
		return NumLists - 1
	}
	return index
}

func (c *CentralFreeList) firstNonEmpty() (spanHandle, bool) {
	for i := 0; i < NumLists; i++ {
		if !c.nonEmpty[i].Empty() {
			return c.nonEmpty[i].head, true
		}
	}

	return noSpan, false
}

func (c *CentralFreeList) lookup(obj Object) spanHandle {
	handle, ok := c.pageMap.Get(pageheap.PageIDFor(obj))
	if !ok {
		panic(errors.AssertionFailedf("object %#x does not belong to any span of size class %d", obj, c.sizeClass))
	}
	return handle
}

func (c *CentralFreeList) registerSpan(handle spanHandle, pages pageheap.Pages) {
	for i := 0; i < pages.Count; i++ {
		c.pageMap.Put(pages.Start+pageheap.PageID(i), handle)
	}
}

func (c *CentralFreeList) unregisterSpan(pages pageheap.Pages) {
	for i := 0; i < pages.Count; i++ {
		c.pageMap.Delete(pages.Start + pageheap.PageID(i))
	}
}

// RemoveRange moves up to len(out) objects into out and returns the number moved. Fewer
// objects are returned only when the page allocator cannot supply a new span.
func (c *CentralFreeList) RemoveRange(out []Object) int {
	if len(out) == 0 {
		return 0
	}

	if !c.trackObjects {
		return c.removeUntracked(out)
	}

	c.mutex.Lock()
	result := 0
	for result < len(out) {
		handle, ok := c.firstNonEmpty()
		if !ok {
			if !c.populate() {
				break
			}
			continue
		}

		result += c.drawFrom(handle, out[result:])
	}
	c.mutex.Unlock()

	return result
}

func (c *CentralFreeList) drawFrom(handle spanHandle, out []Object) int {
	s := c.arena.Get(handle)
	c.arena.Remove(&c.nonEmpty[s.list], handle)
	c.utilCounts[utilBucket(s.allocated)]--

	count := s.popObjects(out, c.objectSize)
	c.length -= count

	c.utilCounts[utilBucket(s.allocated)]++
	if s.freeCount() > 0 {
		index := c.listIndexFor(s.allocated)
		c.arena.PushFront(&c.nonEmpty[index], index, handle)
	}

	return count
}

// populate makes a fully free span live, preferring a parked span over a new one from the
// page allocator. The mutex is released while the page allocator is called.
func (c *CentralFreeList) populate() bool {
	now := c.clock.Now()

	handle, ok := c.arena.PopFront(&c.retained)
	if !ok {
		c.mutex.Unlock()
		pages, allocated := c.pageAllocator.AllocateSpan(c.pagesPerSpan)
		c.mutex.Lock()

		if !allocated {
			return false
		}

		if pages.Count != c.pagesPerSpan {
			panic(errors.AssertionFailedf("requested a span of %d pages for size class %d but received %s", c.pagesPerSpan, c.sizeClass, pages.String()))
		}

		handle = c.arena.Alloc()
		c.arena.Get(handle).init(pages, c.objectsPerSpan, true, now)
		c.registerSpan(handle, pages)
		c.numSpansRequested++
	} else {
		s := c.arena.Get(handle)
		s.state = spanStateActive
		s.createdAt = now
		s.parkedAt = time.Time{}
	}

	c.liveSpans++
	c.length += c.objectsPerSpan
	c.utilCounts[utilBucket(0)]++

	index := c.listIndexFor(0)
	c.arena.PushFront(&c.nonEmpty[index], index, handle)
	return true
}

// InsertRange returns objects to the spans they were carved from. Spans that become fully
// free are parked or returned to the page allocator. Inserting an object this free list did
// not hand out, or one that is already free, is a fatal error.
func (c *CentralFreeList) InsertRange(objs []Object) {
	if len(objs) == 0 {
		return
	}

	var releaseBuffer [16]pageheap.Pages
	var toRelease []pageheap.Pages
	if c.trackObjects {
		toRelease = c.insertTracked(objs, releaseBuffer[:0])
	} else {
		toRelease = c.insertUntracked(objs, releaseBuffer[:0])
	}

	for _, pages := range toRelease {
		c.pageAllocator.ReleaseSpan(pages)
	}

	memutils.DebugValidate(c)
}

func (c *CentralFreeList) insertTracked(objs []Object, toRelease []pageheap.Pages) []pageheap.Pages {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, obj := range objs {
		handle := c.lookup(obj)
		s := c.arena.Get(handle)
		if s.state != spanStateActive {
			panic(errors.AssertionFailedf("object %#x was freed into span %d, which is %s", obj, handle, s.state.String()))
		}

		oldBucket := utilBucket(s.allocated)
		s.pushObject(handle, obj, c.objectSize, c.objectsPerSpan)
		c.utilCounts[oldBucket]--
		c.length++

		if s.allocated == 0 {
			if s.list != noList {
				c.arena.Remove(&c.nonEmpty[s.list], handle)
			}

			pages, release := c.retireSpan(handle)
			if release {
				toRelease = append(toRelease, pages)
			}
			continue
		}

		c.utilCounts[utilBucket(s.allocated)]++
		index := c.listIndexFor(s.allocated)
		if s.list != index {
			if s.list != noList {
				c.arena.Remove(&c.nonEmpty[s.list], handle)
			}
			c.arena.PushFront(&c.nonEmpty[index], index, handle)
		}
	}

	return toRelease
}

// retireSpan takes a fully free span out of the live set. It returns the span's pages and
// true if they should be released to the page allocator, or false if the span was parked.
func (c *CentralFreeList) retireSpan(handle spanHandle) (pageheap.Pages, bool) {
	now := c.clock.Now()
	s := c.arena.Get(handle)

	c.liveSpans--
	c.length -= c.objectsPerSpan
	c.lifetimes.Buckets[lifetimeBucket(now.Sub(s.createdAt))]++

	if c.retained.Len() < c.parameters.RetainedEmptySpans {
		s.state = spanStateRetained
		s.parkedAt = now
		c.arena.PushFront(&c.retained, retainedList, handle)
		return pageheap.Pages{}, false
	}

	return c.forgetSpan(handle), true
}

// forgetSpan removes a span from the free list's bookkeeping and returns its pages
func (c *CentralFreeList) forgetSpan(handle spanHandle) pageheap.Pages {
	pages := c.arena.Get(handle).pages
	c.unregisterSpan(pages)
	c.arena.Free(handle)
	c.numSpansReturned++
	return pages
}

func (c *CentralFreeList) removeUntracked(out []Object) int {
	for i := range out {
		pages, ok := c.pageAllocator.AllocateSpan(c.pagesPerSpan)
		if !ok {
			return i
		}

		c.mutex.Lock()
		handle := c.arena.Alloc()
		s := c.arena.Get(handle)
		s.init(pages, 1, false, c.clock.Now())
		s.allocated = 1
		c.registerSpan(handle, pages)
		c.numSpansRequested++
		c.liveSpans++
		c.utilCounts[utilBucket(1)]++
		c.mutex.Unlock()

		out[i] = pages.Addr()
	}

	return len(out)
}

func (c *CentralFreeList) insertUntracked(objs []Object, toRelease []pageheap.Pages) []pageheap.Pages {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.clock.Now()
	for _, obj := range objs {
		handle := c.lookup(obj)
		s := c.arena.Get(handle)
		if s.pages.Addr() != obj {
			panic(errors.AssertionFailedf("object %#x is not the start of span %d (%s)", obj, handle, s.pages.String()))
		}

		s.allocated = 0
		c.liveSpans--
		c.utilCounts[utilBucket(1)]--
		c.lifetimes.Buckets[lifetimeBucket(now.Sub(s.createdAt))]++
		toRelease = append(toRelease, c.forgetSpan(handle))
	}

	return toRelease
}

// ReleaseRetainedSpans returns parked spans that have been parked for at least
// SpanReleaseInterval as of now to the page allocator. It returns the number released.
func (c *CentralFreeList) ReleaseRetainedSpans(now time.Time) int {
	var releaseBuffer [16]pageheap.Pages
	toRelease := releaseBuffer[:0]

	c.mutex.Lock()
	for !c.retained.Empty() {
		oldest := c.arena.Get(c.retained.tail)
		if now.Sub(oldest.parkedAt) < c.parameters.SpanReleaseInterval {
			break
		}

		handle, _ := c.arena.PopBack(&c.retained)
		toRelease = append(toRelease, c.forgetSpan(handle))
	}
	c.mutex.Unlock()

	for _, pages := range toRelease {
		c.pageAllocator.ReleaseSpan(pages)
	}

	return len(toRelease)
}

// GetSpanStats returns a snapshot of the free list's span accounting
func (c *CentralFreeList) GetSpanStats() SpanStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := SpanStats{
		NumSpansRequested: c.numSpansRequested,
		NumSpansReturned:  c.numSpansReturned,
		NumRetained:       c.retained.Len(),
		ObjCapacity:       c.liveSpans * c.objectsPerSpan,
		UtilBuckets:       c.utilCounts,
		NumUtilBuckets:    numUtilBuckets(c.objectsPerSpan),
	}

	return stats
}

// GetLifetimeStats returns the histogram of span ages at the moment they became fully free
func (c *CentralFreeList) GetLifetimeStats() LifetimeStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.lifetimes
}

// AddStatistics sums this free list's footprint into stats
func (c *CentralFreeList) AddStatistics(stats *memutils.Statistics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	spanBytes := c.pagesPerSpan * sizeclass.PageSize
	stats.SpanCount += c.liveSpans
	stats.SpanBytes += c.liveSpans * spanBytes
	stats.ObjectCount += c.liveSpans * c.objectsPerSpan
	stats.ObjectBytes += c.liveSpans * c.objectsPerSpan * c.objectSize
	stats.CachedObjects += c.length
	stats.CachedBytes += c.length * c.objectSize
	stats.RetainedSpans += c.retained.Len()
	stats.RetainedBytes += c.retained.Len() * spanBytes
	stats.OverheadBytes += c.overheadBytesLocked()
}

// OverheadBytes is the number of bytes of bookkeeping the free list holds for its spans
func (c *CentralFreeList) OverheadBytes() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.overheadBytesLocked()
}

func (c *CentralFreeList) overheadBytesLocked() int {
	overhead := c.arena.Slots() * int(unsafe.Sizeof(span{}))
	for i := 0; i < c.arena.Slots(); i++ {
		s := c.arena.Get(spanHandle(i))
		overhead += cap(s.freeStack)*int(unsafe.Sizeof(uint16(0))) + memutils.DivCeil(s.freeBits.Len(), 64)*8
	}
	overhead += c.pageMap.Count() * int(unsafe.Sizeof(pageheap.PageID(0))+unsafe.Sizeof(spanHandle(0)))

	return overhead
}

// Residency sums the residency of every span the free list holds, live or parked
func (c *CentralFreeList) Residency(r residency.Residency) residency.Info {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var info residency.Info
	for i := 0; i < c.arena.Slots(); i++ {
		s := c.arena.Get(spanHandle(i))
		if s.state == spanStateDead {
			continue
		}

		spanInfo, ok := r.Get(s.pages.Addr(), s.pages.Bytes())
		if ok {
			info.Add(spanInfo)
		}
	}

	return info
}

// Validate performs internal consistency checks on the free list. When the free list is
// functioning correctly it should not be possible for this method to return an error.
func (c *CentralFreeList) Validate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i := range c.nonEmpty {
		err := c.arena.ValidateList(&c.nonEmpty[i], i)
		if err != nil {
			return err
		}
	}
	err := c.arena.ValidateList(&c.retained, retainedList)
	if err != nil {
		return err
	}

	var utilCounts [MaxUtilBuckets]int
	active := 0
	retained := 0
	free := 0
	for i := 0; i < c.arena.Slots(); i++ {
		handle := spanHandle(i)
		s := c.arena.Get(handle)
		if s.state == spanStateDead {
			continue
		}

		err = s.Validate(c.objectsPerSpan, c.trackObjects)
		if err != nil {
			return errors.Wrapf(err, "span %d of size class %d", handle, c.sizeClass)
		}

		for page := 0; page < s.pages.Count; page++ {
			mapped, ok := c.pageMap.Get(s.pages.Start + pageheap.PageID(page))
			if !ok || mapped != handle {
				return errors.Newf("page %d of span %d (%s) is not mapped to the span", page, handle, s.pages.String())
			}
		}

		if s.state == spanStateRetained {
			retained++
			if s.list != retainedList {
				return errors.Newf("span %d is retained but is on list %d", handle, s.list)
			}
			continue
		}

		active++
		free += c.objectsPerSpan - s.allocated
		utilCounts[utilBucket(s.allocated)]++

		expectedList := noList
		if c.trackObjects && s.allocated < c.objectsPerSpan {
			expectedList = c.listIndexFor(s.allocated)
		}
		if s.list != expectedList {
			return errors.Newf("span %d has %d allocated objects and should be on list %d, but is on list %d", handle, s.allocated, expectedList, s.list)
		}
	}

	if active != c.liveSpans {
		return errors.Newf("size class %d has %d active spans, but counts %d live spans", c.sizeClass, active, c.liveSpans)
	}

	if retained != c.retained.Len() {
		return errors.Newf("size class %d has %d retained spans, but its retained list holds %d", c.sizeClass, retained, c.retained.Len())
	}

	if retained > c.parameters.RetainedEmptySpans {
		return errors.Newf("size class %d has %d retained spans, more than the limit of %d", c.sizeClass, retained, c.parameters.RetainedEmptySpans)
	}

	if c.numSpansRequested-c.numSpansReturned != active+retained {
		return errors.Newf("size class %d has requested %d spans and returned %d, but holds %d", c.sizeClass, c.numSpansRequested, c.numSpansReturned, active+retained)
	}

	if free != c.length {
		return errors.Newf("size class %d has %d free objects in its spans, but its length is %d", c.sizeClass, free, c.length)
	}

	if utilCounts != c.utilCounts {
		return errors.Newf("size class %d has utilization counts %v, but tracks %v", c.sizeClass, utilCounts, c.utilCounts)
	}

	mappedPages := c.pageMap.Count()
	if mappedPages != (active+retained)*c.pagesPerSpan {
		return errors.Newf("size class %d maps %d pages, but holds %d spans of %d pages", c.sizeClass, mappedPages, active+retained, c.pagesPerSpan)
	}

	return nil
}

// Destroy returns every span to the page allocator. It fails, and releases nothing, if any
// object is still outstanding.
func (c *CentralFreeList) Destroy() error {
	var toRelease []pageheap.Pages

	c.mutex.Lock()
	outstanding := 0
	for i := 0; i < c.arena.Slots(); i++ {
		handle := spanHandle(i)
		s := c.arena.Get(handle)
		if s.state != spanStateActive || s.allocated == 0 {
			continue
		}

		outstanding += s.allocated
		c.logger.LogAttrs(context.Background(), slog.LevelError, "unreleased objects in span at destroy time",
			slog.Int("SizeClass", c.sizeClass),
			slog.Int("Span", int(handle)),
			slog.String("Pages", s.pages.String()),
			slog.Int("Allocated", s.allocated))
	}

	if outstanding > 0 {
		c.mutex.Unlock()
		return errors.Newf("size class %d still has %d objects outstanding", c.sizeClass, outstanding)
	}

	for i := range c.nonEmpty {
		for {
			handle, ok := c.arena.PopFront(&c.nonEmpty[i])
			if !ok {
				break
			}
			toRelease = append(toRelease, c.forgetSpan(handle))
		}
	}
	for {
		handle, ok := c.arena.PopFront(&c.retained)
		if !ok {
			break
		}
		toRelease = append(toRelease, c.forgetSpan(handle))
	}

	c.liveSpans = 0
	c.length = 0
	c.utilCounts = [MaxUtilBuckets]int{}
	c.mutex.Unlock()

	for _, pages := range toRelease {
		c.pageAllocator.ReleaseSpan(pages)
	}

	return nil
}
