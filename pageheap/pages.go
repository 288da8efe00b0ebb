package pageheap

import (
	"fmt"

	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
)

// PageID is the index of a page in the address space: its address shifted right by sizeclass.PageShift
type PageID uintptr

// PageIDFor returns the page containing the provided address
func PageIDFor(addr uintptr) PageID {
	return PageID(addr >> sizeclass.PageShift)
}

// Addr returns the address of the first byte of the page
func (p PageID) Addr() uintptr {
	return uintptr(p) << sizeclass.PageShift
}

// Pages is a contiguous run of pages handed out by a PageAllocator
type Pages struct {
	Start PageID
	Count int
}

func (p Pages) Empty() bool {
	return p.Count == 0
}

// Addr is the address of the first byte of the run
func (p Pages) Addr() uintptr {
	return p.Start.Addr()
}

// Bytes is the length of the run in bytes
func (p Pages) Bytes() int {
	return p.Count * sizeclass.PageSize
}

// Limit is the address one past the last byte of the run
func (p Pages) Limit() uintptr {
	return p.Addr() + uintptr(p.Bytes())
}

func (p Pages) Contains(addr uintptr) bool {
	return addr >= p.Addr() && addr < p.Limit()
}

func (p Pages) String() string {
	return fmt.Sprintf("[%#x, %#x) (%d pages)", p.Addr(), p.Limit(), p.Count)
}
