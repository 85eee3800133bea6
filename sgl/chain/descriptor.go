package chain

import "github.com/TheusHen/sgl/sgl/physmem"

// noNext marks the tail of a chain and the end of the free list.
const noNext = int32(-1)

// Descriptor describes count bytes of physical memory starting at addr. The
// range never crosses a page boundary.
type Descriptor struct {
	addr  physmem.PhysAddr
	count int

	// next is the index of the following descriptor in the table, or
	// noNext.
	next int32
	// owner is the id of the chain holding this descriptor. Free
	// descriptors have owner 0 and count 0.
	owner uint32
}

// Addr returns the physical address of the first byte.
func (d Descriptor) Addr() physmem.PhysAddr { return d.addr }

// Count returns the number of bytes described.
func (d Descriptor) Count() int { return d.count }

// End returns the physical address just past the last byte.
func (d Descriptor) End() physmem.PhysAddr { return d.addr + physmem.PhysAddr(d.count) }
