package centralfreelist

import (
	"github.com/cockroachdb/errors"
)

const noList = -1

// spanList is a doubly-linked list of spans threaded through the arena by handle
type spanList struct {
	head, tail spanHandle
	length     int
}

func newSpanList() spanList {
	return spanList{head: noSpan, tail: noSpan}
}

func (l *spanList) Empty() bool {
	return l.length == 0
}

func (l *spanList) Len() int {
	return l.length
}

// spanArena stores every span a free list has ever carved. Handles stay stable for the
// lifetime of a span and dead slots are recycled, keeping the span's free stack allocation.
type spanArena struct {
	spans     []span
	freeSlots []spanHandle
}

func (a *spanArena) Get(handle spanHandle) *span {
	return &a.spans[handle]
}

// Alloc returns the handle of a dead slot. Pointers previously returned by Get are
// invalidated when the arena grows.
func (a *spanArena) Alloc() spanHandle {
	if len(a.freeSlots) > 0 {
		handle := a.freeSlots[len(a.freeSlots)-1]
		a.freeSlots = a.freeSlots[:len(a.freeSlots)-1]
		return handle
	}

	a.spans = append(a.spans, span{list: noList, prev: noSpan, next: noSpan})
	return spanHandle(len(a.spans) - 1)
}

func (a *spanArena) Free(handle spanHandle) {
	s := a.Get(handle)
	if s.list != noList {
		panic(errors.AssertionFailedf("span %d was freed while still on list %d", handle, s.list))
	}
	s.state = spanStateDead
	a.freeSlots = append(a.freeSlots, handle)
}

// Slots is the number of arena slots, live or dead
func (a *spanArena) Slots() int {
	return len(a.spans)
}

func (a *spanArena) PushFront(list *spanList, listIndex int, handle spanHandle) {
	s := a.Get(handle)
	if s.list != noList {
		panic(errors.AssertionFailedf("span %d was pushed to list %d while still on list %d", handle, listIndex, s.list))
	}

	s.list = listIndex
	s.prev = noSpan
	s.next = list.head
	if list.head != noSpan {
		a.Get(list.head).prev = handle
	} else {
		list.tail = handle
	}
	list.head = handle
	list.length++
}

func (a *spanArena) Remove(list *spanList, handle spanHandle) {
	s := a.Get(handle)
	if s.prev != noSpan {
		a.Get(s.prev).next = s.next
	} else {
		list.head = s.next
	}

	if s.next != noSpan {
		a.Get(s.next).prev = s.prev
	} else {
		list.tail = s.prev
	}

	s.prev = noSpan
	s.next = noSpan
	s.list = noList
	list.length--
}

// PopFront removes and returns the most recently pushed span
func (a *spanArena) PopFront(list *spanList) (spanHandle, bool) {
	if list.head == noSpan {
		return noSpan, false
	}

	handle := list.head
	a.Remove(list, handle)
	return handle, true
}

// PopBack removes and returns the least recently pushed span
func (a *spanArena) PopBack(list *spanList) (spanHandle, bool) {
	if list.tail == noSpan {
		return noSpan, false
	}

	handle := list.tail
	a.Remove(list, handle)
	return handle, true
}

func (a *spanArena) ValidateList(list *spanList, listIndex int) error {
	count := 0
	prev := noSpan
	for handle := list.head; handle != noSpan; handle = a.Get(handle).next {
		s := a.Get(handle)
		if s.list != listIndex {
			return errors.Newf("span %d is linked into list %d but believes it is on list %d", handle, listIndex, s.list)
		}
		if s.prev != prev {
			return errors.Newf("span %d on list %d has a broken back link", handle, listIndex)
		}

		prev = handle
		count++
		if count > list.length {
			return errors.Newf("list %d has more spans linked than its length of %d", listIndex, list.length)
		}
	}

	if prev != list.tail {
		return errors.Newf("list %d does not end at its tail", listIndex)
	}

	if count != list.length {
		return errors.Newf("list %d has %d spans linked, but its length is %d", listIndex, count, list.length)
	}

	return nil
}
