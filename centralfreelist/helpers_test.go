package centralfreelist_test

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/centralfreelist"
	"github.com/vkngwrapper/arsenal/spancache/pageheap"
	"github.com/vkngwrapper/arsenal/spancache/residency"
	"github.com/vkngwrapper/arsenal/spancache/sizeclass"
	"golang.org/x/exp/slog"
)

// fakePageAllocator hands out page runs from an imaginary address space. Nothing is ever
// mapped, so it can serve spans of any size, but it tracks every outstanding run so that
// tests can catch leaks and bad releases.
type fakePageAllocator struct {
	lock        sync.Mutex
	nextPage    pageheap.PageID
	outstanding map[pageheap.PageID]int
	limit       int
	allocated   int
	released    int
}

func newFakePageAllocator() *fakePageAllocator {
	return &fakePageAllocator{
		nextPage:    1 << 20,
		outstanding: make(map[pageheap.PageID]int),
	}
}

func (a *fakePageAllocator) AllocateSpan(pages int) (pageheap.Pages, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.limit > 0 && len(a.outstanding) >= a.limit {
		return pageheap.Pages{}, false
	}

	span := pageheap.Pages{Start: a.nextPage, Count: pages}
	// Leave a gap page so neighbouring spans are never contiguous
	a.nextPage += pageheap.PageID(pages + 1)
	a.outstanding[span.Start] = pages
	a.allocated++
	return span, true
}

func (a *fakePageAllocator) ReleaseSpan(span pageheap.Pages) {
	a.lock.Lock()
	defer a.lock.Unlock()

	count, ok := a.outstanding[span.Start]
	if !ok || count != span.Count {
		panic("released a span that was not allocated")
	}
	delete(a.outstanding, span.Start)
	a.released++
}

func (a *fakePageAllocator) Outstanding() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return len(a.outstanding)
}

type fakeResidency struct{}

func (fakeResidency) Get(addr uintptr, size int) (residency.Info, bool) {
	return residency.Info{BytesResident: size / 2, BytesSwapped: size / 4}, true
}

func (fakeResidency) NativePagesInHugePage() int { return 512 }

func (fakeResidency) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func newTestFreeList(t testing.TB, classParams sizeclass.Params, pages pageheap.PageAllocator, options centralfreelist.Options) *centralfreelist.CentralFreeList {
	list, err := centralfreelist.New(testLogger(), 1, classParams, pages, options)
	require.NoError(t, err)
	return list
}

func removeAll(t testing.TB, list *centralfreelist.CentralFreeList, count int) []centralfreelist.Object {
	objects := make([]centralfreelist.Object, count)
	require.Equal(t, count, list.RemoveRange(objects))
	return objects
}

func requireCapacityInvariant(t testing.TB, list *centralfreelist.CentralFreeList, held int) {
	stats := list.GetSpanStats()
	require.Equal(t, stats.ObjCapacity, list.Length()+held)
	if held == 0 {
		require.Equal(t, 0, stats.NumLiveSpans())
	} else {
		require.Greater(t, stats.NumLiveSpans(), 0)
	}
	require.NoError(t, list.Validate())
}

func newBufferLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w))
}
