package chain

import (
	"fmt"
	"sync"

	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of descriptors a table holds unless
// configured otherwise.
const DefaultCapacity = 4096

// Memory gives access to the bytes behind a pointer. *physmem.Memory
// implements it.
type Memory interface {
	Slice(p physmem.Ptr, n int) ([]byte, error)
}

// Table is a fixed-size arena of [Descriptor]s, addressed via their index in
// the slice. Unused descriptors form a free list. Every chain built from a
// table draws its descriptors from there and gives them back on release.
//
// A table is safe for concurrent use by multiple goroutines. A single Chain
// is not: construction, copy and destruction of one chain must be
// serialized by its owner.
type Table struct {
	mu sync.Mutex

	mem      Memory
	tr       physmem.Translator
	pageSize int

	descriptors []Descriptor
	// freeHead is the index of the first unused descriptor, or noNext when
	// every descriptor is in use.
	freeHead int32
	// freeNum tracks the number of descriptors which are currently unused.
	freeNum int
	lastID  uint32

	l       *logrus.Logger
	metrics tableMetrics
}

type tableMetrics struct {
	registry  metrics.Registry
	allocated metrics.Counter
	released  metrics.Counter
	truncated metrics.Counter
	copied    metrics.Counter
	aliased   metrics.Counter
}

func newTableMetrics(r metrics.Registry) tableMetrics {
	return tableMetrics{
		registry:  r,
		allocated: metrics.GetOrRegisterCounter("sgl.descriptors.allocated", r),
		released:  metrics.GetOrRegisterCounter("sgl.descriptors.released", r),
		truncated: metrics.GetOrRegisterCounter("sgl.destroy.truncated", r),
		copied:    metrics.GetOrRegisterCounter("sgl.copy.bytes", r),
		aliased:   metrics.GetOrRegisterCounter("sgl.alias.bytes", r),
	}
}

type tableOptions struct {
	capacity int
	pageSize int
	l        *logrus.Logger
	registry metrics.Registry
}

// TableOption configures a Table.
type TableOption func(*tableOptions)

// WithCapacity sets the number of descriptors in the table.
func WithCapacity(n int) TableOption {
	return func(o *tableOptions) { o.capacity = n }
}

// WithPageSize sets the page size chains are split on.
func WithPageSize(n int) TableOption {
	return func(o *tableOptions) { o.pageSize = n }
}

// WithLogger sets the logger used to report corrupted chains.
func WithLogger(l *logrus.Logger) TableOption {
	return func(o *tableOptions) { o.l = l }
}

// WithMetrics registers the table counters in r instead of a private
// registry.
func WithMetrics(r metrics.Registry) TableOption {
	return func(o *tableOptions) { o.registry = r }
}

// NewTable creates a descriptor table whose chains describe memory reached
// through mem, with physical addresses produced by tr.
func NewTable(mem Memory, tr physmem.Translator, opts ...TableOption) (*Table, error) {
	o := tableOptions{
		capacity: DefaultCapacity,
		pageSize: physmem.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if mem == nil || tr == nil {
		return nil, fmt.Errorf("%w: memory and translator are required", ErrInvalidArgument)
	}
	if err := physmem.CheckPageSize(o.pageSize); err != nil {
		return nil, err
	}
	if o.capacity <= 0 || o.capacity > 1<<30 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidArgument, o.capacity)
	}
	if o.l == nil {
		o.l = logrus.StandardLogger()
	}
	if o.registry == nil {
		o.registry = metrics.NewRegistry()
	}

	t := &Table{
		mem:         mem,
		tr:          tr,
		pageSize:    o.pageSize,
		descriptors: make([]Descriptor, o.capacity),
		l:           o.l,
		metrics:     newTableMetrics(o.registry),
	}

	// All descriptors start out on the free list, in index order.
	for i := range t.descriptors {
		next := int32(i + 1)
		if i == len(t.descriptors)-1 {
			next = noNext
		}
		t.descriptors[i] = Descriptor{next: next}
	}
	t.freeHead = 0
	t.freeNum = len(t.descriptors)

	return t, nil
}

// PageSize returns the page size chains are split on.
func (t *Table) PageSize() int { return t.pageSize }

// Translator returns the address translator of the table.
func (t *Table) Translator() physmem.Translator { return t.tr }

// Capacity returns the total number of descriptors.
func (t *Table) Capacity() int { return len(t.descriptors) }

// Free returns the number of unused descriptors.
func (t *Table) Free() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freeNum
}

// Metrics returns the registry holding the table counters.
func (t *Table) Metrics() metrics.Registry { return t.metrics.registry }

// Empty returns a chain without descriptors. It is mostly useful as the
// destination of a Splice.
func (t *Table) Empty() *Chain {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newChainLocked()
}

func (t *Table) newChainLocked() *Chain {
	t.lastID++
	if t.lastID == 0 {
		// 0 marks free descriptors.
		t.lastID++
	}
	return &Chain{t: t, id: t.lastID, head: noNext, tail: noNext}
}

// allocLocked takes n descriptors off the free list and hands them to
// owner. Either all n are taken or none.
func (t *Table) allocLocked(n int, owner uint32) ([]int32, error) {
	if n > t.freeNum {
		return nil, fmt.Errorf("%w: need %d, %d free", ErrNoFreeDescriptors, n, t.freeNum)
	}

	idx := make([]int32, n)
	for k := range idx {
		i := t.freeHead
		d := &t.descriptors[i]
		checkUnused(i, d)
		t.freeHead = d.next
		*d = Descriptor{next: noNext, owner: owner}
		idx[k] = i
	}
	t.freeNum -= n
	t.metrics.allocated.Inc(int64(n))

	return idx, nil
}

// releaseLocked zeroes descriptor i and puts it back on the free list.
func (t *Table) releaseLocked(i int32) {
	t.descriptors[i] = Descriptor{next: t.freeHead}
	t.freeHead = i
	t.freeNum++
	t.metrics.released.Inc(1)
}

// linkLocked fills the descriptors idx with the given ranges and links them
// in order.
func (t *Table) linkLocked(idx []int32, addrs []physmem.PhysAddr, counts []int) {
	for k, i := range idx {
		d := &t.descriptors[i]
		d.addr = addrs[k]
		d.count = counts[k]
		if k > 0 {
			t.descriptors[idx[k-1]].next = i
		}
	}
}

func (t *Table) inRange(i int32) bool {
	return i >= 0 && int(i) < len(t.descriptors)
}

// bytes returns the memory behind count bytes at the physical address a.
func (t *Table) bytes(a physmem.PhysAddr, count int) ([]byte, error) {
	return t.mem.Slice(t.tr.ToPointer(a), count)
}

// checkUnused asserts that a descriptor taken from the free list really is
// unused. This catches a corrupted free list before it spreads.
func checkUnused(i int32, d *Descriptor) {
	if d.count != 0 || d.owner != 0 {
		panic(fmt.Sprintf("descriptor %d should be unused but is owned by chain %d with %d bytes", i, d.owner, d.count))
	}
}
