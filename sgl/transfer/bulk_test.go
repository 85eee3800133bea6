package transfer

import (
	"context"
	"testing"

	"github.com/TheusHen/sgl/sgl/chain"
	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/TheusHen/sgl/sgl/protocol"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransferConfig(secret []byte) TransferConfig {
	tc := DefaultTransferConfig()
	tc.ChunkSize = 512
	tc.ParallelStreams = 3
	tc.Secret = secret
	tc.Logger = quietLogger()
	tc.Metrics = metrics.NewRegistry()
	return tc
}

// send runs a sender over mock streams and returns what it wrote.
func send(t *testing.T, src *chain.Chain, tc TransferConfig) ([]byte, []*mockStream) {
	opener := &mockOpener{}
	sender := NewChainSender(opener, tc)
	root, err := sender.Send(context.Background(), src)
	require.NoError(t, err)
	require.NoError(t, sender.Close())
	return root, opener.opened()
}

func receive(t *testing.T, streams []*mockStream, tc TransferConfig) *ChainReceiver {
	tc.Metrics = metrics.NewRegistry()
	r := NewChainReceiver(tc)
	for _, s := range streams {
		require.NoError(t, r.ReceiveStream(context.Background(), s))
	}
	return r
}

func TestChainSendReceive(t *testing.T) {
	for name, secret := range map[string][]byte{
		"plain":  nil,
		"sealed": []byte("pre-shared transfer secret"),
	} {
		t.Run(name, func(t *testing.T) {
			srcTbl, srcMem := newTestTable(t, physmem.XORTranslator{PageSize: testPageSize})
			data := testData(5000)
			src := buildChain(t, srcTbl, srcMem, 21, data)

			tc := testTransferConfig(secret)
			root, streams := send(t, src, tc)
			require.NotEmpty(t, streams)
			assert.LessOrEqual(t, len(streams), tc.ParallelStreams)

			r := receive(t, streams, tc)
			assert.True(t, r.IsComplete())
			assert.Equal(t, 1.0, r.Progress())
			m, ok := r.Manifest()
			require.True(t, ok)
			assert.Equal(t, root, m.Root)
			assert.Equal(t, int64(5000), m.Total)
			assert.Equal(t, 10, m.Chunks)
			assert.Equal(t, testPageSize, m.PageSize)
			assert.Equal(t, secret != nil, m.Sealed)

			// The destination lives in other memory, behind another
			// translator and with another page layout.
			dstTbl, dstMem := newTestTable(t, physmem.OffsetTranslator{Delta: 0x4000000})
			dst := buildChain(t, dstTbl, dstMem, 9, make([]byte, 5000))

			n, err := r.Assemble(dst)
			require.NoError(t, err)
			assert.Equal(t, 5000, n)
			got, err := dst.Bytes()
			require.NoError(t, err)
			assert.Equal(t, data, got)

			assert.Equal(t, int64(10), r.Stats().ChunksReceived.Count())
			assert.Equal(t, int64(5000), r.Stats().TotalBytes.Count())
		})
	}
}

func TestChainReceiver_SmallDestination(t *testing.T) {
	tbl, mem := newTestTable(t, physmem.XORTranslator{PageSize: testPageSize})
	data := testData(3000)
	src := buildChain(t, tbl, mem, 0, data)

	tc := testTransferConfig(nil)
	_, streams := send(t, src, tc)
	r := receive(t, streams, tc)

	dst := buildChain(t, tbl, mem, 50, make([]byte, 1234))
	n, err := r.Assemble(dst)
	require.NoError(t, err)
	assert.Equal(t, 1234, n)
	got, err := dst.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data[:1234], got)
}

func TestChainReceiver_Errors(t *testing.T) {
	tbl, mem := newTestTable(t, physmem.XORTranslator{PageSize: testPageSize})
	data := testData(2000)
	src := buildChain(t, tbl, mem, 0, data)
	dst := buildChain(t, tbl, mem, 0, make([]byte, 2000))

	chunks, err := NewChunker(512).SplitChain(src)
	require.NoError(t, err)
	root, err := RootOf(chunks)
	require.NoError(t, err)
	manifest := protocol.NewManifest(2000, 512, len(chunks), testPageSize, root)

	t.Run("no manifest", func(t *testing.T) {
		r := NewChainReceiver(testTransferConfig(nil))
		_, err := r.Assemble(dst)
		assert.ErrorIs(t, err, ErrNoManifest)
		assert.Equal(t, 0.0, r.Progress())
	})

	t.Run("missing chunk", func(t *testing.T) {
		r := NewChainReceiver(testTransferConfig(nil))
		require.NoError(t, r.SetManifest(manifest))
		for _, c := range chunks[1:] {
			require.NoError(t, r.ReceiveChunk(CompressChunk(c, CompressionFast)))
		}
		assert.False(t, r.IsComplete())
		assert.Equal(t, 0.75, r.Progress())
		_, err := r.Assemble(dst)
		assert.ErrorIs(t, err, ErrIncomplete)
	})

	t.Run("wrong root", func(t *testing.T) {
		bad := manifest
		bad.Root = HashChunk([]byte("another transfer"))
		r := NewChainReceiver(testTransferConfig(nil))
		require.NoError(t, r.SetManifest(bad))
		for _, c := range chunks {
			require.NoError(t, r.ReceiveChunk(CompressChunk(c, CompressionFast)))
		}
		_, err := r.Assemble(dst)
		assert.ErrorIs(t, err, ErrIntegrityCheckFailed)
	})

	t.Run("tampered chunk", func(t *testing.T) {
		r := NewChainReceiver(testTransferConfig(nil))
		cc := CompressChunk(chunks[0], CompressionFast)
		cc.Data = append([]byte(nil), cc.Data...)
		cc.Data[0] ^= 0xff
		cc.Compressed = false
		assert.ErrorIs(t, r.ReceiveChunk(cc), ErrChunkHashMismatch)
		assert.Equal(t, int64(1), r.Stats().Errors.Count())
	})

	t.Run("second manifest", func(t *testing.T) {
		r := NewChainReceiver(testTransferConfig(nil))
		require.NoError(t, r.SetManifest(manifest))
		assert.ErrorIs(t, r.SetManifest(manifest), ErrUnexpectedFrame)
	})

	t.Run("sealing mismatch", func(t *testing.T) {
		r := NewChainReceiver(testTransferConfig([]byte("secret")))
		assert.ErrorIs(t, r.SetManifest(manifest), ErrUnexpectedFrame)
	})

	t.Run("unexpected frame", func(t *testing.T) {
		r := NewChainReceiver(testTransferConfig(nil))
		assert.ErrorIs(t, r.ReceiveFrame(protocol.Frame{Type: protocol.MessageTypeAck}), ErrUnexpectedFrame)
	})
}

func TestChainSender_EmptyChain(t *testing.T) {
	tbl, _ := newTestTable(t, physmem.XORTranslator{PageSize: testPageSize})
	sender := NewChainSender(&mockOpener{}, testTransferConfig(nil))
	defer sender.Close()

	_, err := sender.Send(context.Background(), tbl.Empty())
	assert.ErrorIs(t, err, ErrEmptyChain)
}
