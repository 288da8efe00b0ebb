//go:build !(linux || darwin || freebsd)

package pageheap

func reserveRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func releaseRegion(data []byte) error {
	return nil
}

func decommitRegion(data []byte) error {
	for i := range data {
		data[i] = 0
	}
	return nil
}
