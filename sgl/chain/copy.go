package chain

import (
	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/sirupsen/logrus"
)

// cursor is a position inside a snapshot of a chain.
type cursor struct {
	descs []Descriptor
	i     int
	off   int
}

func (c *cursor) done() bool { return c.i >= len(c.descs) }

func (c *cursor) cur() Descriptor { return c.descs[c.i] }

func (c *cursor) addr() physmem.PhysAddr { return c.descs[c.i].addr + physmem.PhysAddr(c.off) }

func (c *cursor) remaining() int { return c.descs[c.i].count - c.off }

// advance moves n bytes forward, stepping to the next descriptor when the
// current one is used up.
func (c *cursor) advance(n int) {
	c.off += n
	if c.off >= c.descs[c.i].count {
		c.i++
		c.off = 0
	}
}

// seek returns a cursor on the byte at offset, or false if the chain holds
// no more than offset bytes.
func seek(descs []Descriptor, offset int) (cursor, bool) {
	skipped := 0
	for i, d := range descs {
		if skipped+d.count > offset {
			return cursor{descs: descs, i: i, off: offset - skipped}, true
		}
		skipped += d.count
	}
	return cursor{}, false
}

// Copy copies count bytes from src, starting srcOffset bytes in, into the
// memory described by dst, starting at its first byte. Source and
// destination may be split at entirely different boundaries.
//
// The number of bytes actually copied is returned. It is less than count
// when either chain runs out first, and 0 when dst is empty, srcOffset is
// negative or beyond the end of src, or count is not positive. Copy never
// allocates descriptors and never modifies either chain.
func Copy(src, dst *Chain, srcOffset, count int) int {
	if dst.IsEmpty() || src.IsEmpty() || srcOffset < 0 || count <= 0 {
		return 0
	}

	sc, ok := seek(src.walk(), srcOffset)
	if !ok {
		return 0
	}
	dc := cursor{descs: dst.walk()}

	copied := 0
	for count > 0 && !sc.done() && !dc.done() {
		if sc.cur().count <= 0 || dc.cur().count <= 0 {
			break
		}

		n := min(count, sc.remaining(), dc.remaining())

		from, err := src.t.bytes(sc.addr(), n)
		if err != nil {
			src.t.l.WithError(err).WithFields(logrus.Fields{"addr": sc.addr(), "copied": copied}).
				Warn("Stopped copy at unmapped source memory")
			break
		}
		to, err := dst.t.bytes(dc.addr(), n)
		if err != nil {
			dst.t.l.WithError(err).WithFields(logrus.Fields{"addr": dc.addr(), "copied": copied}).
				Warn("Stopped copy at unmapped destination memory")
			break
		}
		copy(to, from)

		sc.advance(n)
		dc.advance(n)
		copied += n
		count -= n
	}

	dst.t.metrics.copied.Inc(int64(copied))
	return copied
}
