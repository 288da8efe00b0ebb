package centralfreelist

import (
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
	"github.com/vkngwrapper/arsenal/spancache/pageheap"
)

// Object is the address of a single object carved from a span
type Object = uintptr

type spanHandle uint32

const noSpan spanHandle = math.MaxUint32

type spanState uint32

const (
	// spanStateDead marks an arena slot that does not currently describe a span
	spanStateDead spanState = iota
	// spanStateActive spans are live: they count toward the free list's capacity
	spanStateActive
	// spanStateRetained spans are fully free and parked for reuse
	spanStateRetained
)

var spanStateMapping = map[spanState]string{
	spanStateDead:     "Dead",
	spanStateActive:   "Active",
	spanStateRetained: "Retained",
}

func (s spanState) String() string {
	return spanStateMapping[s]
}

// span tracks the free objects of a single run of pages. Free objects are an index stack
// plus a bitmap of the same indices, so nothing is ever written into the span's memory.
type span struct {
	pages pageheap.Pages
	state spanState

	allocated int
	freeStack []uint16
	freeBits  memutils.Bitmap

	createdAt time.Time
	parkedAt  time.Time

	// Intrusive list links, by handle
	list       int
	prev, next spanHandle
}

// init prepares a freshly carved span with every object free. Object 0 is at the top of the
// stack so objects are handed out in address order.
func (s *span) init(pages pageheap.Pages, objectsPerSpan int, trackObjects bool, now time.Time) {
	s.pages = pages
	s.state = spanStateActive
	s.allocated = 0
	s.createdAt = now
	s.parkedAt = time.Time{}
	s.list = noList
	s.prev = noSpan
	s.next = noSpan

	if !trackObjects {
		s.freeStack = s.freeStack[:0]
		return
	}

	if cap(s.freeStack) < objectsPerSpan {
		s.freeStack = make([]uint16, 0, objectsPerSpan)
		s.freeBits = memutils.NewBitmap(objectsPerSpan)
	}
	s.freeStack = s.freeStack[:objectsPerSpan]
	for i := 0; i < objectsPerSpan; i++ {
		s.freeStack[i] = uint16(objectsPerSpan - 1 - i)
	}
	s.freeBits.SetAll()
}

func (s *span) freeCount() int {
	return len(s.freeStack)
}

// popObjects moves up to len(out) free objects out of the span and returns how many were
// moved
func (s *span) popObjects(out []Object, objectSize int) int {
	count := memutils.Min(len(out), len(s.freeStack))
	base := s.pages.Addr()

	top := len(s.freeStack)
	for i := 0; i < count; i++ {
		index := s.freeStack[top-1-i]
		s.freeBits.Clear(int(index))
		out[i] = base + uintptr(index)*uintptr(objectSize)
	}
	s.freeStack = s.freeStack[:top-count]
	s.allocated += count

	return count
}

// pushObject returns a single object to the span. The object must already be known to lie
// within the span's pages.
func (s *span) pushObject(handle spanHandle, obj Object, objectSize, objectsPerSpan int) {
	offset := obj - s.pages.Addr()
	if offset%uintptr(objectSize) != 0 {
		panic(errors.AssertionFailedf("object %#x is not aligned to an object boundary in span %d (%s, object size %d)", obj, handle, s.pages.String(), objectSize))
	}

	index := int(offset / uintptr(objectSize))
	if index >= objectsPerSpan {
		panic(errors.AssertionFailedf("object %#x lies in the tail of span %d (%s) past its %d objects", obj, handle, s.pages.String(), objectsPerSpan))
	}

	if s.freeBits.Get(index) {
		panic(errors.AssertionFailedf("object %#x was freed twice: it is already free in span %d (%s)", obj, handle, s.pages.String()))
	}

	s.freeBits.Set(index)
	s.freeStack = append(s.freeStack, uint16(index))
	s.allocated--
}

func (s *span) Validate(objectsPerSpan int, trackObjects bool) error {
	if s.state == spanStateDead {
		return nil
	}

	if s.allocated < 0 || s.allocated > objectsPerSpan {
		return errors.Newf("span %s has %d allocated objects, outside of [0, %d]", s.pages.String(), s.allocated, objectsPerSpan)
	}

	if s.state == spanStateRetained && s.allocated != 0 {
		return errors.Newf("span %s is retained but has %d allocated objects", s.pages.String(), s.allocated)
	}

	if !trackObjects {
		return nil
	}

	if len(s.freeStack)+s.allocated != objectsPerSpan {
		return errors.Newf("span %s has %d free objects on its stack and %d allocated, but holds %d objects", s.pages.String(), len(s.freeStack), s.allocated, objectsPerSpan)
	}

	bitCount := s.freeBits.Count()
	if bitCount != len(s.freeStack) {
		return errors.Newf("span %s has %d free objects in its bitmap but %d on its stack", s.pages.String(), bitCount, len(s.freeStack))
	}

	for _, index := range s.freeStack {
		if !s.freeBits.Get(int(index)) {
			return errors.Newf("span %s has object %d on its free stack, but it is not marked free", s.pages.String(), index)
		}
	}

	return nil
}

func (s *span) String() string {
	return fmt.Sprintf("{pages = %s, state = %s, allocated = %d}", s.pages.String(), s.state.String(), s.allocated)
}
