//go:build linux || darwin || freebsd

package pageheap

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func reserveRegion(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes for the page arena", size)
	}
	return data, nil
}

func releaseRegion(data []byte) error {
	return unix.Munmap(data)
}

// decommitRegion tells the OS it may reclaim the backing memory for the provided pages
func decommitRegion(data []byte) error {
	return unix.Madvise(data, unix.MADV_DONTNEED)
}
