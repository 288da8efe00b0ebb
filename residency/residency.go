// Package residency reports whether ranges of memory are resident in core, swapped out, or
// not backed at all. It is a diagnostic facility: nothing on an allocation or free path
// consults it.
package residency

import "fmt"

// Info describes the residency of a range of memory
type Info struct {
	BytesResident int
	BytesSwapped  int
}

func (i Info) String() string {
	return fmt.Sprintf("{resident = %d, swapped = %d}", i.BytesResident, i.BytesSwapped)
}

// Add sums the provided Info into this one
func (i *Info) Add(other Info) {
	i.BytesResident += other.BytesResident
	i.BytesSwapped += other.BytesSwapped
}

// Residency is a platform-specific strategy for querying memory residency. A Residency is
// chosen once, by New, and shared by reference with diagnostic code.
type Residency interface {
	// Get queries the residency of size bytes starting at addr. It returns false if the
	// query could not be answered.
	Get(addr uintptr, size int) (Info, bool)
	// NativePagesInHugePage returns the number of OS pages that make up a huge page
	NativePagesInHugePage() int
	// Close releases any OS resources held by the strategy
	Close() error
}

// HugePageSize is the size of the huge pages residency is reported against
const HugePageSize = 2 * 1024 * 1024

// Unsupported is the Residency used on platforms where residency cannot be queried. Every
// query fails.
type Unsupported struct{}

var _ Residency = Unsupported{}

func (Unsupported) Get(addr uintptr, size int) (Info, bool) {
	return Info{}, false
}

func (Unsupported) NativePagesInHugePage() int {
	return 0
}

func (Unsupported) Close() error {
	return nil
}
