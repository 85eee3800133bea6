package physmem

import (
	"errors"
	"fmt"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 4096

// ErrPageSizeInvalid is returned when a page size is unusable.
var ErrPageSizeInvalid = errors.New("page size is invalid")

// CheckPageSize checks if the given value would be a valid page size and
// returns an [ErrPageSizeInvalid], if not.
func CheckPageSize(pageSize int) error {
	if pageSize <= 0 {
		return fmt.Errorf("%w: %d is too small", ErrPageSizeInvalid, pageSize)
	}

	// Offsets are computed with a mask, so the size must be a power of 2.
	if pageSize&(pageSize-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrPageSizeInvalid, pageSize)
	}

	if pageSize > 1<<30 {
		return fmt.Errorf("%w: %d is larger than 1 GiB", ErrPageSizeInvalid, pageSize)
	}

	return nil
}

// PageOffset returns the offset of a inside its page.
func PageOffset(a PhysAddr, pageSize int) int {
	return int(uint64(a) & uint64(pageSize-1))
}

// IsAligned reports whether a starts a page.
func IsAligned(a PhysAddr, pageSize int) bool {
	return PageOffset(a, pageSize) == 0
}

// BytesToBoundary returns the number of bytes from a up to the next page
// boundary. An aligned address has a whole page in front of it.
func BytesToBoundary(a PhysAddr, pageSize int) int {
	return pageSize - PageOffset(a, pageSize)
}

// AlignUp rounds n up to a multiple of pageSize.
func AlignUp(n, pageSize int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}
