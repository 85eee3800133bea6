package chain

import (
	"fmt"
	"io"
	"iter"

	"github.com/TheusHen/sgl/sgl/physmem"
)

// Chain is an ordered list of descriptors that together describe one
// logically contiguous buffer. The chain exclusively owns its descriptors.
//
// The zero value and a nil *Chain behave like an empty chain that belongs
// to no table.
type Chain struct {
	t  *Table
	id uint32

	head  int32
	tail  int32
	n     int
	total int
}

// Table returns the table the chain draws its descriptors from.
func (c *Chain) Table() *Table {
	if c == nil {
		return nil
	}
	return c.t
}

// Len returns the number of descriptors.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return c.n
}

// Total returns the number of bytes described.
func (c *Chain) Total() int {
	if c == nil {
		return 0
	}
	return c.total
}

// IsEmpty reports whether the chain holds no descriptors.
func (c *Chain) IsEmpty() bool {
	return c == nil || c.t == nil || c.n == 0
}

// Descriptors returns a copy of the descriptors in chain order.
func (c *Chain) Descriptors() []Descriptor {
	return c.walk()
}

// All iterates over the descriptors in chain order. The chain must not be
// modified during iteration.
func (c *Chain) All() iter.Seq2[int, Descriptor] {
	return func(yield func(int, Descriptor) bool) {
		for i, d := range c.walk() {
			if !yield(i, d) {
				return
			}
		}
	}
}

// Counts returns the byte count of every descriptor in chain order.
func (c *Chain) Counts() []int {
	ds := c.walk()
	counts := make([]int, len(ds))
	for i, d := range ds {
		counts[i] = d.count
	}
	return counts
}

// walk returns a snapshot of the descriptors reachable from the head. It
// stops early at anything that does not belong to this chain, so a
// corrupted chain yields its intact prefix.
func (c *Chain) walk() []Descriptor {
	if c.IsEmpty() {
		return nil
	}
	t := c.t

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Descriptor, 0, c.n)
	next := c.head
	// The iteration is limited to the table size to avoid ending up in an
	// endless loop when things go very wrong.
	for range len(t.descriptors) {
		if !t.inRange(next) {
			break
		}
		d := t.descriptors[next]
		if d.owner != c.id || d.count <= 0 {
			break
		}
		out = append(out, d)
		next = d.next
	}
	return out
}

func (c *Chain) reset() {
	c.head = noNext
	c.tail = noNext
	c.n = 0
	c.total = 0
}

// Validate checks every invariant of a chain: positive counts, no
// descriptor straddling a page, every descriptor but the first starting a
// page, and descriptor count and byte total matching what the chain
// recorded.
func (c *Chain) Validate() error {
	if c.IsEmpty() {
		return nil
	}
	ps := c.t.pageSize
	ds := c.walk()

	total := 0
	for i, d := range ds {
		if i > 0 && !physmem.IsAligned(d.addr, ps) {
			return fmt.Errorf("%w: descriptor %d at %v does not start a page", ErrCorrupt, i, d.addr)
		}
		if physmem.PageOffset(d.addr, ps)+d.count > ps {
			return fmt.Errorf("%w: descriptor %d at %v crosses a page boundary", ErrCorrupt, i, d.addr)
		}
		total += d.count
	}
	if len(ds) != c.n {
		return fmt.Errorf("%w: reached %d of %d descriptors", ErrCorrupt, len(ds), c.n)
	}
	if total != c.total {
		return fmt.Errorf("%w: describes %d bytes, expected %d", ErrCorrupt, total, c.total)
	}
	return nil
}

// ReadAt reads len(p) bytes of the described buffer starting at off. It
// implements io.ReaderAt.
func (c *Chain) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	n, err := c.transfer(p, off, func(mem, buf []byte) { copy(buf, mem) })
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// WriteAt writes p into the described buffer starting at off. It implements
// io.WriterAt. Bytes past the end of the chain are not written and
// io.ErrShortWrite is returned.
func (c *Chain) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	n, err := c.transfer(p, off, func(mem, buf []byte) { copy(mem, buf) })
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Bytes gathers the whole described buffer into a new slice.
func (c *Chain) Bytes() ([]byte, error) {
	buf := make([]byte, c.Total())
	n, err := c.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// transfer runs fn on the matching pieces of chain memory and p.
func (c *Chain) transfer(p []byte, off int64, fn func(mem, buf []byte)) (int, error) {
	done := 0
	pos := int64(0)
	for _, d := range c.walk() {
		if done == len(p) {
			break
		}
		end := pos + int64(d.count)
		if end <= off {
			pos = end
			continue
		}
		inEntry := 0
		if off > pos {
			inEntry = int(off - pos)
		}
		n := min(d.count-inEntry, len(p)-done)
		mem, err := c.t.bytes(d.addr+physmem.PhysAddr(inEntry), n)
		if err != nil {
			return done, err
		}
		fn(mem, p[done:done+n])
		done += n
		pos = end
	}
	return done, nil
}
