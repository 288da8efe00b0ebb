package pageheap

//go:generate mockgen -source allocator.go -destination ../mocks/pageheap.go -package mocks

// PageAllocator supplies and reclaims spans of pages. Implementations must be safe for
// concurrent use.
type PageAllocator interface {
	// AllocateSpan returns a run of exactly the requested number of pages, or false if the
	// allocator cannot supply them
	AllocateSpan(pages int) (Pages, bool)
	// ReleaseSpan returns a run previously received from AllocateSpan
	ReleaseSpan(span Pages)
}

// MemoryCallbacks is informed whenever the arena hands out or takes back pages. It can be
// helpful when the consumer requires allocator-level info about page usage.
type MemoryCallbacks interface {
	Allocate(span Pages)
	Free(span Pages)
}
