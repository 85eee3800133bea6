package physmem

import (
	"golang.org/x/sys/unix"
)

// allocBacking maps anonymous memory so that the simulated RAM is page
// aligned in the real address space too.
func allocBacking(size int) ([]byte, func([]byte) error, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nil, err
	}
	return b, unix.Munmap, nil
}
