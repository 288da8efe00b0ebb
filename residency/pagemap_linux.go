//go:build linux

package residency

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	pagemapPath      = "/proc/self/pagemap"
	pagemapEntrySize = 8
	entriesInBuffer  = 512

	pagemapPresentBit = uint64(1) << 63
	pagemapSwappedBit = uint64(1) << 62
)

// New returns the best Residency available on this platform
func New() Residency {
	pageMap, err := NewPageMap()
	if err != nil {
		return Unsupported{}
	}
	return pageMap
}

// PageMap answers residency queries by reading /proc/self/pagemap, which carries one
// 64-bit entry for each page of the process's address space
type PageMap struct {
	lock     sync.Mutex
	fd       int
	pageSize int
	buf      [entriesInBuffer * pagemapEntrySize]byte
}

var _ Residency = &PageMap{}

// NewPageMap opens the pagemap file. The PageMap holds it open until Close is called.
func NewPageMap() (*PageMap, error) {
	return openPageMap(pagemapPath)
}

func openPageMap(path string) (*PageMap, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	return &PageMap{
		fd:       fd,
		pageSize: unix.Getpagesize(),
	}, nil
}

func (p *PageMap) NativePagesInHugePage() int {
	return HugePageSize / p.pageSize
}

func (p *PageMap) Get(addr uintptr, size int) (Info, bool) {
	var info Info
	if size <= 0 {
		return info, true
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.fd < 0 {
		return info, false
	}

	pageSize := uintptr(p.pageSize)
	end := addr + uintptr(size)
	firstPage := addr / pageSize
	lastPage := (end - 1) / pageSize

	for page := firstPage; page <= lastPage; {
		count := lastPage - page + 1
		if count > entriesInBuffer {
			count = entriesInBuffer
		}

		readBytes := int(count) * pagemapEntrySize
		n, err := unix.Pread(p.fd, p.buf[:readBytes], int64(page)*pagemapEntrySize)
		if err != nil || n != readBytes {
			return Info{}, false
		}

		for i := uintptr(0); i < count; i++ {
			entry := binary.NativeEndian.Uint64(p.buf[i*pagemapEntrySize:])

			pageStart := (page + i) * pageSize
			pageEnd := pageStart + pageSize
			if pageStart < addr {
				pageStart = addr
			}
			if pageEnd > end {
				pageEnd = end
			}
			overlap := int(pageEnd - pageStart)

			if entry&pagemapPresentBit != 0 {
				info.BytesResident += overlap
			} else if entry&pagemapSwappedBit != 0 {
				info.BytesSwapped += overlap
			}
		}

		page += count
	}

	return info, true
}

func (p *PageMap) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.fd < 0 {
		return nil
	}

	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
