//go:build !linux

package physmem

func allocBacking(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), func([]byte) error { return nil }, nil
}
