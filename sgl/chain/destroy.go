package chain

import (
	"fmt"

	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/sirupsen/logrus"
)

// Destroy releases every descriptor of the chain back to its table and
// leaves the chain empty. It returns the number of descriptors released.
//
// Destroy is safe on a nil chain and on a chain that was already destroyed
// or emptied by a Splice. If the walk reaches a descriptor that is unused,
// owned by another chain or outside the table, it stops there and releases
// nothing further.
func (c *Chain) Destroy() int {
	if c.IsEmpty() {
		return 0
	}
	t := c.t

	t.mu.Lock()
	defer t.mu.Unlock()

	released := t.releaseFromLocked(c, c.head)
	c.reset()
	return released
}

// releaseFromLocked releases the descriptors of c starting at index start.
func (t *Table) releaseFromLocked(c *Chain, start int32) int {
	if !t.inRange(start) || t.descriptors[start].owner != c.id {
		t.reportCorruption(c, start, "head is not owned by the chain")
		return 0
	}

	released := 0
	cur := start
	for range len(t.descriptors) {
		d := &t.descriptors[cur]
		next := d.next

		// Do not follow next into memory that is not ours: either this entry
		// was never initialized, or the tail was already released or handed
		// to another chain.
		if next != noNext {
			switch {
			case d.count <= 0:
				t.reportCorruption(c, cur, "descriptor has no bytes")
				next = noNext
			case !t.inRange(next):
				t.reportCorruption(c, next, "next index outside the table")
				next = noNext
			case t.descriptors[next].count <= 0:
				t.reportCorruption(c, next, "next descriptor has no bytes")
				next = noNext
			case t.descriptors[next].owner != c.id:
				t.reportCorruption(c, next, "next descriptor belongs to another chain")
				next = noNext
			}
		}

		t.releaseLocked(cur)
		released++

		if next == noNext {
			break
		}
		cur = next
	}
	return released
}

func (t *Table) reportCorruption(c *Chain, at int32, reason string) {
	t.metrics.truncated.Inc(1)
	t.l.WithFields(logrus.Fields{
		"chain":      c.id,
		"descriptor": at,
		"reason":     reason,
	}).Warn("Truncated release of corrupted descriptor chain")
}

// Truncate keeps the first n descriptors and releases the rest. It returns
// the number of descriptors released.
func (c *Chain) Truncate(n int) int {
	if c.IsEmpty() || n >= c.n {
		return 0
	}
	if n <= 0 {
		return c.Destroy()
	}
	t := c.t

	t.mu.Lock()
	defer t.mu.Unlock()

	// Find the new tail, counting the bytes we keep.
	cur := c.head
	kept := 0
	for k := range n {
		if !t.inRange(cur) || t.descriptors[cur].owner != c.id {
			t.reportCorruption(c, cur, "chain ends before its recorded length")
			return 0
		}
		kept += t.descriptors[cur].count
		if k < n-1 {
			cur = t.descriptors[cur].next
		}
	}

	rest := t.descriptors[cur].next
	t.descriptors[cur].next = noNext
	c.tail = cur
	c.n = n
	c.total = kept

	return t.releaseFromLocked(c, rest)
}

// Splice appends every descriptor of donor to dst. Ownership moves with the
// descriptors: donor is left empty and releasing it afterwards is a no-op.
//
// A non-empty dst only accepts a donor whose first descriptor starts a page,
// since only the head of a chain may be unaligned.
func Splice(dst, donor *Chain) error {
	if dst == nil || dst.t == nil {
		return fmt.Errorf("%w: nil destination", ErrInvalidArgument)
	}
	if dst == donor {
		return fmt.Errorf("%w: cannot splice a chain into itself", ErrInvalidArgument)
	}
	if donor.IsEmpty() {
		return nil
	}
	if donor.t != dst.t {
		return ErrForeignTable
	}
	t := dst.t

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := donor.head
	for range donor.n {
		if !t.inRange(cur) || t.descriptors[cur].owner != donor.id {
			return fmt.Errorf("%w: donor ends before its recorded length", ErrCorrupt)
		}
		cur = t.descriptors[cur].next
	}

	head := t.descriptors[donor.head]
	if dst.n > 0 && !physmem.IsAligned(head.addr, t.pageSize) {
		return fmt.Errorf("%w: donor head at %v", ErrMisaligned, head.addr)
	}

	// Hand every donor descriptor to dst.
	cur = donor.head
	for range donor.n {
		t.descriptors[cur].owner = dst.id
		cur = t.descriptors[cur].next
	}

	if dst.n == 0 {
		dst.head = donor.head
	} else {
		t.descriptors[dst.tail].next = donor.head
	}
	dst.tail = donor.tail
	dst.n += donor.n
	dst.total += donor.total

	donor.reset()
	return nil
}
