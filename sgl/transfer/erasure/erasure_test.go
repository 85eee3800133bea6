package erasure

import (
	"bytes"
	"io"
	"testing"

	"github.com/TheusHen/sgl/sgl/chain"
	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageSize = 32

func newTestChain(t testing.TB, pageOffset int, data []byte) *chain.Chain {
	mem, err := physmem.NewMemory(0x40000, testPageSize*256, testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	l := logrus.New()
	l.Out = io.Discard
	tbl, err := chain.NewTable(mem, physmem.XORTranslator{PageSize: testPageSize},
		chain.WithPageSize(testPageSize), chain.WithLogger(l))
	require.NoError(t, err)

	r, err := mem.Alloc(pageOffset + len(data))
	require.NoError(t, err)
	p := r.Ptr + physmem.Ptr(pageOffset)
	b, err := mem.Slice(p, len(data))
	require.NoError(t, err)
	copy(b, data)

	c, err := tbl.Build(p, len(data))
	require.NoError(t, err)
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(10, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	data := []byte("Scatter-gather erasure coding test data that spans multiple shards!")
	s, err := codec.EncodeData(bytes.Clone(data))
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}
	if len(s.Shards) != 14 {
		t.Fatalf("expected 14 shards, got %d", len(s.Shards))
	}

	ok, err := codec.Verify(s)
	if err != nil || !ok {
		t.Fatalf("Verify: %t, %v", ok, err)
	}

	// Lose 4 shards, the most parity allows.
	s.Shards[0] = nil
	s.Shards[5] = nil
	s.Shards[10] = nil
	s.Shards[13] = nil
	if s.Lost() != 4 {
		t.Fatalf("expected 4 lost, got %d", s.Lost())
	}

	if err := codec.Reconstruct(s); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if s.Lost() != 0 {
		t.Fatalf("shards still missing after Reconstruct")
	}

	recovered, err := codec.Join(s)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !bytes.Equal(recovered, data) {
		t.Fatalf("recovered data does not match original")
	}
}

func TestCodecTooManyLost(t *testing.T) {
	codec, err := NewCodec(10, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	s, _ := codec.EncodeData(make([]byte, 1024))
	for i := range 5 {
		s.Shards[i] = nil
	}

	if err := codec.Reconstruct(s); err != ErrTooManyLost {
		t.Fatalf("expected ErrTooManyLost, got %v", err)
	}
}

func TestCodecShape(t *testing.T) {
	codec, _ := NewCodec(4, 2)
	s, err := codec.EncodeData(make([]byte, 100))
	require.NoError(t, err)

	_, err = codec.Join(&Shards{Size: 100, Shards: s.Shards[:5]})
	assert.ErrorIs(t, err, ErrShardSizeMismatch)

	s.Shards[1] = s.Shards[1][:3]
	assert.ErrorIs(t, codec.Reconstruct(s), ErrShardSizeMismatch)

	_, err = NewCodec(0, 2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewCodec(4, -1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProtectChain_RecoverInto(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 13)
	}
	src := newTestChain(t, 7, data)

	codec, err := NewCodec(6, 3)
	require.NoError(t, err)
	s, err := codec.ProtectChain(src)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.Size)
	assert.Len(t, s.Shards, 9)

	// The source goes away; the shards are independent of it.
	src.Destroy()
	s.Shards[1] = nil
	s.Shards[4] = nil
	s.Shards[8] = nil

	dst := newTestChain(t, 19, make([]byte, 1000))
	n, err := codec.RecoverInto(dst, s)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	got, err := dst.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	small := newTestChain(t, 0, make([]byte, 300))
	n, err = codec.RecoverInto(small, s)
	require.NoError(t, err)
	assert.Equal(t, 300, n)

	_, err = codec.ProtectChain(nil)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestCodecOverhead(t *testing.T) {
	codec, _ := NewCodec(10, 4)
	overhead := codec.Overhead()
	if overhead < 1.39 || overhead > 1.41 {
		t.Fatalf("unexpected overhead: %f", overhead)
	}
	if codec.EncodedSize(1000) != 1400 {
		t.Fatalf("unexpected encoded size %d", codec.EncodedSize(1000))
	}
}

func BenchmarkEncode(b *testing.B) {
	codec, _ := NewCodec(10, 4)
	data := make([]byte, 1024*1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = codec.EncodeData(data)
	}
}

func BenchmarkReconstruct(b *testing.B) {
	codec, _ := NewCodec(10, 4)
	s, _ := codec.EncodeData(make([]byte, 1024*1024))

	b.SetBytes(int64(s.Size))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		work := &Shards{Size: s.Size, Shards: make([][]byte, len(s.Shards))}
		copy(work.Shards[4:], s.Shards[4:])
		_ = codec.Reconstruct(work)
	}
}
