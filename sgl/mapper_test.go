package sgl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheusHen/sgl/sgl/chain"
	"github.com/TheusHen/sgl/sgl/config"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	c := config.Default()
	c.PageSize = 256
	c.Table.Capacity = 1024
	c.Memory.Size = 1 << 20
	c.Logging.Level = "error"
	c.Transfer.ChunkSize = 4096
	c.Transfer.ErasureData = 4
	c.Transfer.ErasureParity = 2
	return c
}

func newTestMapper(t *testing.T) *Mapper {
	m, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func fillBuffer(t *testing.T, b *Buffer, seed byte) []byte {
	data := make([]byte, b.Chain.Total())
	for i := range data {
		data[i] = seed + byte(i*3)
	}
	n, err := b.Chain.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	return data
}

func TestMapper_MapUnmap(t *testing.T) {
	m := newTestMapper(t)

	b, err := m.Map(1000, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{156, 256, 256, 256, 76}, b.Chain.Counts())
	assert.NoError(t, b.Chain.Validate())
	assert.Equal(t, m.Table.Capacity()-5, m.Table.Free())

	data := fillBuffer(t, b, 1)
	mem, err := m.Memory.Slice(b.Region.Ptr+100, 1000)
	require.NoError(t, err)
	assert.Equal(t, data, mem)

	require.NoError(t, m.Unmap(b))
	assert.Equal(t, m.Table.Capacity(), m.Table.Free())
	assert.Zero(t, m.Memory.Allocated())
	assert.ErrorIs(t, m.Unmap(b), ErrBufferNotMapped)

	_, err = m.Map(10, 256)
	assert.ErrorIs(t, err, chain.ErrInvalidArgument)
}

func TestMapper_CopyBetweenBuffers(t *testing.T) {
	m := newTestMapper(t)

	src, err := m.Map(2000, 17)
	require.NoError(t, err)
	dst, err := m.Map(2000, 200)
	require.NoError(t, err)
	data := fillBuffer(t, src, 9)

	assert.Equal(t, 1500, chain.Copy(src.Chain, dst.Chain, 300, 1500))
	got := make([]byte, 1500)
	_, err = dst.Chain.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data[300:1800], got)
}

func TestMapper_ProtectRecover(t *testing.T) {
	m := newTestMapper(t)

	src, err := m.Map(3000, 5)
	require.NoError(t, err)
	data := fillBuffer(t, src, 7)

	shards, err := m.Protect(src.Chain)
	require.NoError(t, err)
	require.Len(t, shards.Shards, 6)
	shards.Shards[0] = nil
	shards.Shards[3] = nil

	dst, err := m.Map(3000, 0)
	require.NoError(t, err)
	n, err := m.Recover(dst.Chain, shards)
	require.NoError(t, err)
	assert.Equal(t, 3000, n)
	got, err := dst.Chain.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	c := testConfig()
	c.Transfer.ErasureData, c.Transfer.ErasureParity = 0, 0
	plain, err := New(c)
	require.NoError(t, err)
	defer plain.Close()
	_, err = plain.Protect(src.Chain)
	assert.ErrorIs(t, err, ErrErasureDisabled)
}

func TestMapper_ListenTwice(t *testing.T) {
	m := newTestMapper(t)

	require.NoError(t, m.Listen("127.0.0.1:0"))
	addr := m.ListenAddr()

	assert.ErrorIs(t, m.Listen("127.0.0.1:0"), ErrAlreadyListening)
	assert.Equal(t, addr, m.ListenAddr(), "the first listener stays in place")

	require.NoError(t, m.Close())
	assert.Empty(t, m.ListenAddr())
}

func TestMapper_SendReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender := newTestMapper(t)
	receiver := newTestMapper(t)
	sender.Secret = []byte("shared")
	receiver.Secret = []byte("shared")

	_, err := receiver.Receive(ctx, nil)
	assert.ErrorIs(t, err, ErrNotListening)
	require.NoError(t, receiver.Listen("127.0.0.1:0"))
	require.NotEmpty(t, receiver.ListenAddr())

	src, err := sender.Map(50000, 33)
	require.NoError(t, err)
	data := fillBuffer(t, src, 42)
	dst, err := receiver.Map(50000, 201)
	require.NoError(t, err)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := receiver.Receive(ctx, dst.Chain)
		done <- result{n, err}
	}()

	root, err := sender.Send(ctx, receiver.ListenAddr(), src.Chain)
	require.NoError(t, err)
	assert.NotEmpty(t, root)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, 50000, r.n)
	got, err := dst.Chain.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Equal(t, int64(13), receiver.Table.Metrics().Get("transfer.chunks.received").(metrics.Counter).Count())
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sgl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: 512\nmemory:\n  size: 65536\nlogging:\n  level: warn\n"), 0o600))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 512, m.Table.PageSize())
	assert.Equal(t, 65536, m.Memory.Size())

	_, err = Open(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
