package physmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPageSize(t *testing.T) {
	tests := []struct {
		name        string
		pageSize    int
		containsErr string
	}{
		{name: "zero", pageSize: 0, containsErr: "too small"},
		{name: "negative", pageSize: -4096, containsErr: "too small"},
		{name: "not a power of 2", pageSize: 48, containsErr: "not a power of 2"},
		{name: "too large", pageSize: 1 << 31, containsErr: "larger than"},
		{name: "valid 32", pageSize: 32},
		{name: "valid 4096", pageSize: 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPageSize(tt.pageSize)
			if tt.containsErr != "" {
				assert.ErrorIs(t, err, ErrPageSizeInvalid)
				assert.ErrorContains(t, err, tt.containsErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPageArithmetic(t *testing.T) {
	assert.Equal(t, 10, PageOffset(PhysAddr(0x4a), 32))
	assert.Equal(t, 22, BytesToBoundary(PhysAddr(0x4a), 32))
	assert.Equal(t, 32, BytesToBoundary(PhysAddr(0x40), 32))
	assert.True(t, IsAligned(PhysAddr(0x40), 32))
	assert.False(t, IsAligned(PhysAddr(0x41), 32))
	assert.Equal(t, 64, AlignUp(33, 32))
	assert.Equal(t, 32, AlignUp(32, 32))
}

func TestTranslatorsRoundTrip(t *testing.T) {
	translators := map[string]Translator{
		"xor":      XORTranslator{PageSize: 32},
		"offset":   OffsetTranslator{Delta: 0x100000},
		"identity": IdentityTranslator{},
	}
	for name, tr := range translators {
		t.Run(name, func(t *testing.T) {
			for _, p := range []Ptr{0x1000, 0x100a, 0x10000037, 0xdeadbeef} {
				a := tr.ToPhysical(p)
				assert.Equal(t, p, tr.ToPointer(a))
				assert.Equal(t, int(uint64(p)%32), PageOffset(a, 32), "page offset must survive translation")
			}
		})
	}
}

func TestNewTranslator(t *testing.T) {
	tr, err := NewTranslator("xor", 32, 0)
	require.NoError(t, err)
	assert.Equal(t, XORTranslator{PageSize: 32}, tr)

	_, err = NewTranslator("offset", 32, 33)
	assert.ErrorContains(t, err, "not a multiple")

	_, err = NewTranslator("mmu", 32, 0)
	assert.ErrorContains(t, err, "unknown translator")
}

func TestMemoryAllocFree(t *testing.T) {
	m, err := NewMemory(0x10000, 32*8, 32)
	require.NoError(t, err)
	defer m.Close()

	a, err := m.Alloc(40)
	require.NoError(t, err)
	assert.Equal(t, Ptr(0x10000), a.Ptr)
	assert.Equal(t, 40, a.Len)

	b, err := m.Alloc(32)
	require.NoError(t, err)
	assert.Equal(t, Ptr(0x10040), b.Ptr)

	_, err = m.Alloc(32 * 6)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, m.Free(a.Ptr))
	require.NoError(t, m.Free(b.Ptr))
	assert.ErrorIs(t, m.Free(b.Ptr), ErrNotAllocated)
	assert.Equal(t, 0, m.Allocated())

	// Everything coalesced back into one span.
	all, err := m.Alloc(32 * 8)
	require.NoError(t, err)
	assert.Equal(t, Ptr(0x10000), all.Ptr)
}

func TestMemorySlice(t *testing.T) {
	m, err := NewMemory(0x10000, 4096, 32)
	require.NoError(t, err)
	defer m.Close()

	r, err := m.Alloc(64)
	require.NoError(t, err)

	w, err := m.Slice(r.Ptr+3, 5)
	require.NoError(t, err)
	copy(w, "hello")

	got, err := m.Slice(r.Ptr, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x00\x00hello\x00\x00"), got)

	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrUnmapped)
	_, err = m.Slice(m.Base()+Ptr(m.Size())-1, 2)
	assert.ErrorIs(t, err, ErrUnmapped)
}

func TestNewMemoryLayout(t *testing.T) {
	_, err := NewMemory(0, 4096, 32)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	_, err = NewMemory(0x10001, 4096, 32)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	_, err = NewMemory(0x10000, 100, 32)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	m, err := NewMemory(0x10000, 4096, 32)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	_, err = m.Alloc(1)
	assert.ErrorIs(t, err, ErrMemoryClosed)
	assert.NoError(t, m.Close())
}
