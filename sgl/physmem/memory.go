package physmem

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnmapped      = errors.New("physmem: address range is not mapped")
	ErrOutOfMemory   = errors.New("physmem: no free region large enough")
	ErrNotAllocated  = errors.New("physmem: pointer was not returned by Alloc")
	ErrMemoryClosed  = errors.New("physmem: memory closed")
	ErrInvalidLayout = errors.New("physmem: invalid memory layout")
)

// Region is a block handed out by Memory.Alloc.
type Region struct {
	Ptr Ptr
	Len int
}

// End returns the first pointer past the region.
func (r Region) End() Ptr { return r.Ptr + Ptr(r.Len) }

type span struct {
	start Ptr
	size  int
}

// Memory simulates a flat block of RAM that starts at a fixed pointer.
// Allocations are page-aligned and page-granular. Slice hands out views on
// the backing bytes, so writes through a slice are visible to every other
// view on the same range.
type Memory struct {
	mu       sync.Mutex
	base     Ptr
	pageSize int
	backing  []byte
	release  func([]byte) error
	free     []span // sorted by start, never adjacent
	used     map[Ptr]int
}

// NewMemory maps size bytes of memory starting at base. Both base and size
// must be multiples of pageSize, and base must be non-zero so that the zero
// pointer is never valid.
func NewMemory(base Ptr, size, pageSize int) (*Memory, error) {
	if err := CheckPageSize(pageSize); err != nil {
		return nil, err
	}
	if base == 0 || uint64(base)%uint64(pageSize) != 0 {
		return nil, fmt.Errorf("%w: base %v must be a non-zero multiple of %d", ErrInvalidLayout, base, pageSize)
	}
	if size <= 0 || size%pageSize != 0 {
		return nil, fmt.Errorf("%w: size %d must be a positive multiple of %d", ErrInvalidLayout, size, pageSize)
	}

	backing, release, err := allocBacking(size)
	if err != nil {
		return nil, fmt.Errorf("allocate backing memory: %w", err)
	}

	return &Memory{
		base:     base,
		pageSize: pageSize,
		backing:  backing,
		release:  release,
		free:     []span{{start: base, size: size}},
		used:     make(map[Ptr]int),
	}, nil
}

// Base returns the first mapped pointer.
func (m *Memory) Base() Ptr { return m.base }

// Size returns the number of mapped bytes.
func (m *Memory) Size() int { return len(m.backing) }

// PageSize returns the allocation granularity.
func (m *Memory) PageSize() int { return m.pageSize }

// Alloc reserves at least n bytes. The returned region is page-aligned and
// reports exactly n bytes, the rounding slack stays with the allocation.
func (m *Memory) Alloc(n int) (Region, error) {
	if n <= 0 {
		return Region{}, fmt.Errorf("%w: cannot allocate %d bytes", ErrInvalidLayout, n)
	}
	want := AlignUp(n, m.pageSize)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backing == nil {
		return Region{}, ErrMemoryClosed
	}

	for i, s := range m.free {
		if s.size < want {
			continue
		}
		p := s.start
		if s.size == want {
			m.free = append(m.free[:i], m.free[i+1:]...)
		} else {
			m.free[i] = span{start: s.start + Ptr(want), size: s.size - want}
		}
		m.used[p] = want
		clear(m.slice(p, want))
		return Region{Ptr: p, Len: n}, nil
	}

	return Region{}, fmt.Errorf("%w: %d bytes requested", ErrOutOfMemory, n)
}

// Free returns a region obtained from Alloc.
func (m *Memory) Free(p Ptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, ok := m.used[p]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotAllocated, p)
	}
	delete(m.used, p)

	i := sort.Search(len(m.free), func(i int) bool { return m.free[i].start > p })
	m.free = append(m.free, span{})
	copy(m.free[i+1:], m.free[i:])
	m.free[i] = span{start: p, size: size}

	// Merge with the right neighbour first so i stays valid.
	if i+1 < len(m.free) && m.free[i].start+Ptr(m.free[i].size) == m.free[i+1].start {
		m.free[i].size += m.free[i+1].size
		m.free = append(m.free[:i+1], m.free[i+2:]...)
	}
	if i > 0 && m.free[i-1].start+Ptr(m.free[i-1].size) == m.free[i].start {
		m.free[i-1].size += m.free[i].size
		m.free = append(m.free[:i], m.free[i+1:]...)
	}

	return nil
}

// Allocated returns the number of live allocations.
func (m *Memory) Allocated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// Slice returns the n bytes starting at p. The range must be fully mapped.
func (m *Memory) Slice(p Ptr, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backing == nil {
		return nil, ErrMemoryClosed
	}
	if n < 0 || p < m.base || uint64(p-m.base)+uint64(n) > uint64(len(m.backing)) {
		return nil, fmt.Errorf("%w: [%v, +%d)", ErrUnmapped, p, n)
	}
	return m.slice(p, n), nil
}

func (m *Memory) slice(p Ptr, n int) []byte {
	off := int(p - m.base)
	return m.backing[off : off+n : off+n]
}

// Close unmaps the backing memory. Slices handed out earlier must not be
// used afterwards.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backing == nil {
		return nil
	}
	b := m.backing
	m.backing = nil
	m.free = nil
	m.used = nil
	return m.release(b)
}
