package physmem

import "fmt"

// Ptr is a process-visible address inside a Memory.
type Ptr uintptr

// PhysAddr is an opaque physical address. It is only ever produced and
// consumed through a Translator.
type PhysAddr uint64

func (p Ptr) String() string      { return fmt.Sprintf("0x%x", uintptr(p)) }
func (a PhysAddr) String() string { return fmt.Sprintf("phys:0x%x", uint64(a)) }

// Translator maps pointers to physical addresses and back. Both directions
// must be pure and total, and must preserve the offset within a page.
type Translator interface {
	ToPhysical(p Ptr) PhysAddr
	ToPointer(a PhysAddr) Ptr
}

// XORTranslator flips every bit above the page offset. It is its own
// inverse and keeps the page offset intact, which makes it a convenient
// stand-in for a real MMU in tests.
type XORTranslator struct {
	PageSize int
}

func (t XORTranslator) mask() uint64 { return ^uint64(t.PageSize - 1) }

func (t XORTranslator) ToPhysical(p Ptr) PhysAddr { return PhysAddr(uint64(p) ^ t.mask()) }

func (t XORTranslator) ToPointer(a PhysAddr) Ptr { return Ptr(uint64(a) ^ t.mask()) }

// OffsetTranslator places physical memory at a fixed distance from the
// pointer space. Delta must be a multiple of the page size.
type OffsetTranslator struct {
	Delta uint64
}

func (t OffsetTranslator) ToPhysical(p Ptr) PhysAddr { return PhysAddr(uint64(p) + t.Delta) }

func (t OffsetTranslator) ToPointer(a PhysAddr) Ptr { return Ptr(uint64(a) - t.Delta) }

// IdentityTranslator treats pointers as physical addresses.
type IdentityTranslator struct{}

func (IdentityTranslator) ToPhysical(p Ptr) PhysAddr { return PhysAddr(p) }

func (IdentityTranslator) ToPointer(a PhysAddr) Ptr { return Ptr(a) }

// NewTranslator returns the translator registered under name: "xor",
// "identity" or "offset".
func NewTranslator(name string, pageSize int, delta uint64) (Translator, error) {
	switch name {
	case "", "xor":
		if err := CheckPageSize(pageSize); err != nil {
			return nil, err
		}
		return XORTranslator{PageSize: pageSize}, nil
	case "identity":
		return IdentityTranslator{}, nil
	case "offset":
		if pageSize > 0 && delta%uint64(pageSize) != 0 {
			return nil, fmt.Errorf("physmem: offset 0x%x is not a multiple of the page size %d", delta, pageSize)
		}
		return OffsetTranslator{Delta: delta}, nil
	default:
		return nil, fmt.Errorf("physmem: unknown translator %q", name)
	}
}
