package chain

import (
	"fmt"

	"github.com/TheusHen/sgl/sgl/physmem"
)

// Build maps length bytes of memory starting at buf into a new chain.
//
// The first descriptor runs from buf up to the next page boundary (a whole
// page if buf is already aligned), capped at length. The rest is split into
// whole pages, with the last descriptor holding the remainder. Every
// descriptor is translated on its own, since pages that follow each other
// in pointer space need not do so in physical space. Either the whole chain
// is allocated or, when the table is short on descriptors, nothing is.
func (t *Table) Build(buf physmem.Ptr, length int) (*Chain, error) {
	if buf == 0 {
		return nil, fmt.Errorf("%w: nil buffer", ErrInvalidArgument)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidArgument, length)
	}

	first := min(length, physmem.BytesToBoundary(t.tr.ToPhysical(buf), t.pageSize))
	n := descriptorCount(first, length, t.pageSize)

	t.mu.Lock()
	defer t.mu.Unlock()

	// Check the free list before sizing anything after length.
	if n > t.freeNum {
		return nil, fmt.Errorf("%w: need %d, %d free", ErrNoFreeDescriptors, n, t.freeNum)
	}

	addrs, counts := t.split(buf, first, length, n)

	c := t.newChainLocked()
	idx, err := t.allocLocked(n, c.id)
	if err != nil {
		return nil, err
	}
	t.linkLocked(idx, addrs, counts)

	c.head = idx[0]
	c.tail = idx[len(idx)-1]
	c.n = len(idx)
	c.total = length
	return c, nil
}

// descriptorCount returns how many descriptors cover length bytes whose
// first descriptor holds first bytes. It cannot overflow for any length.
func descriptorCount(first, length, pageSize int) int {
	rest := length - first
	n := 1 + rest/pageSize
	if rest%pageSize != 0 {
		n++
	}
	return n
}

// split computes the n page-bounded ranges covering length bytes at buf,
// translating each one separately.
func (t *Table) split(buf physmem.Ptr, first, length, n int) ([]physmem.PhysAddr, []int) {
	addrs := make([]physmem.PhysAddr, 0, n)
	counts := make([]int, 0, n)
	p := buf
	for remaining, count := length, first; remaining > 0; count = min(remaining, t.pageSize) {
		addrs = append(addrs, t.tr.ToPhysical(p))
		counts = append(counts, count)
		p += physmem.Ptr(count)
		remaining -= count
	}
	return addrs, counts
}
