package chain

import (
	"fmt"

	"github.com/TheusHen/sgl/sgl/physmem"
)

// Alias builds a new chain from t that describes count bytes of src's
// memory starting srcOffset bytes in. No bytes are moved: the new chain
// points at the very memory src points at.
//
// The alias only owns its descriptors. Destroying it never touches the
// memory, and whoever owns the memory behind src must keep it alive for as
// long as the alias is in use. Fewer than count bytes are aliased when src
// is shorter; the returned chain's Total tells how many.
func (t *Table) Alias(src *Chain, srcOffset, count int) (*Chain, error) {
	if src.IsEmpty() {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidArgument)
	}
	if srcOffset < 0 || count <= 0 {
		return nil, fmt.Errorf("%w: offset %d, count %d", ErrInvalidArgument, srcOffset, count)
	}
	if src.t.pageSize != t.pageSize {
		return nil, fmt.Errorf("%w: page size %d, source uses %d", ErrForeignTable, t.pageSize, src.t.pageSize)
	}

	sc, ok := seek(src.walk(), srcOffset)
	if !ok {
		return nil, fmt.Errorf("%w: offset %d, source holds %d bytes", ErrOutOfRange, srcOffset, src.Total())
	}

	var addrs []physmem.PhysAddr
	var counts []int
	total := 0
	for count > 0 && !sc.done() {
		n := min(count, sc.remaining())
		addrs = append(addrs, sc.addr())
		counts = append(counts, n)
		sc.advance(n)
		total += n
		count -= n
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.newChainLocked()
	idx, err := t.allocLocked(len(addrs), c.id)
	if err != nil {
		return nil, err
	}
	t.linkLocked(idx, addrs, counts)

	c.head = idx[0]
	c.tail = idx[len(idx)-1]
	c.n = len(idx)
	c.total = total
	t.metrics.aliased.Inc(int64(total))
	return c, nil
}
