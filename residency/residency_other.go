//go:build !linux

package residency

// New returns the best Residency available on this platform
func New() Residency {
	return Unsupported{}
}
