package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/TheusHen/sgl/sgl/chain"
	"github.com/TheusHen/sgl/sgl/config"
	"github.com/TheusHen/sgl/sgl/crypto"
	"github.com/TheusHen/sgl/sgl/protocol"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrIntegrityCheckFailed = errors.New("transfer: integrity check failed")
	ErrNoManifest           = errors.New("transfer: no manifest received")
	ErrIncomplete           = errors.New("transfer: chunks missing")
	ErrUnexpectedFrame      = errors.New("transfer: unexpected frame")
)

// TransferConfig configures both ends of a chain transfer.
type TransferConfig struct {
	ChunkSize       int              // bytes per chunk (default: 256KB)
	Compression     CompressionLevel // compression level
	ParallelStreams int              // number of parallel streams to use
	ParallelWorkers int              // number of worker goroutines

	// Secret enables sealed batches when set. Both ends need the same value.
	Secret []byte

	Logger  *logrus.Logger
	Metrics metrics.Registry
}

// DefaultTransferConfig returns the defaults for high-throughput transfers.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		ChunkSize:       DefaultChunkSize,
		Compression:     CompressionFast,
		ParallelStreams: 8,
		ParallelWorkers: 4,
	}
}

// ConfigFrom builds a TransferConfig from the transfer section of a
// configuration file.
func ConfigFrom(c config.Transfer, l *logrus.Logger) (TransferConfig, error) {
	level, err := ParseCompression(c.Compression)
	if err != nil {
		return TransferConfig{}, err
	}
	tc := DefaultTransferConfig()
	tc.Compression = level
	tc.Logger = l
	if c.ChunkSize > 0 {
		tc.ChunkSize = c.ChunkSize
	}
	if c.ParallelStreams > 0 {
		tc.ParallelStreams = c.ParallelStreams
	}
	if c.ParallelWorkers > 0 {
		tc.ParallelWorkers = c.ParallelWorkers
	}
	return tc, nil
}

func (c TransferConfig) withDefaults() TransferConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ParallelWorkers <= 0 {
		c.ParallelWorkers = 4
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// ChainSender sends the buffer described by a chain.
type ChainSender struct {
	config  TransferConfig
	pool    *StreamPool
	chunker *Chunker
	stats   *Stats
	l       *logrus.Logger
}

// NewChainSender creates a sender writing over streams opened by opener.
func NewChainSender(opener StreamOpener, config TransferConfig) *ChainSender {
	config = config.withDefaults()
	return &ChainSender{
		config:  config,
		pool:    NewStreamPool(opener, config.ParallelStreams),
		chunker: NewChunker(config.ChunkSize),
		stats:   newStats(config.Metrics),
		l:       config.Logger,
	}
}

// Send gathers src into chunks, announces them in a manifest and writes the
// compressed batches over the stream pool. It returns the Merkle root of the
// chunks. src is only read while Send gathers it.
func (cs *ChainSender) Send(ctx context.Context, src *chain.Chain) (merkleRoot []byte, err error) {
	chunks, err := cs.chunker.SplitChain(src)
	if err != nil {
		return nil, err
	}
	root, err := RootOf(chunks)
	if err != nil {
		return nil, err
	}

	manifest := protocol.NewManifest(int64(src.Total()), cs.chunker.ChunkSize(), len(chunks), src.Table().PageSize(), root)
	var aead *crypto.AEAD
	if len(cs.config.Secret) > 0 {
		if aead, err = crypto.NewTransferAEAD(cs.config.Secret, root); err != nil {
			return nil, err
		}
		manifest.Sealed = true
	}

	compressed, err := cs.compress(ctx, chunks)
	if err != nil {
		return nil, err
	}
	batches, err := PackBatches(compressed)
	if err != nil {
		return nil, err
	}

	mf, err := manifest.Frame()
	if err != nil {
		return nil, err
	}

	pw := NewParallelWriter(ctx, cs.pool, cs.config.ParallelWorkers)
	pw.Send(mf)
	for _, b := range batches {
		f, err := b.Frame(aead)
		if err != nil {
			_ = pw.Wait()
			return nil, err
		}
		pw.Send(f)
	}
	if err := pw.Wait(); err != nil {
		cs.stats.Errors.Inc(1)
		return nil, err
	}
	cs.stats.ChunksSent.Inc(int64(len(chunks)))

	cs.l.WithFields(logrus.Fields{
		"bytes":   src.Total(),
		"chunks":  len(chunks),
		"batches": len(batches),
		"sealed":  manifest.Sealed,
		"ratio":   cs.stats.CompressionRatio(),
	}).Debug("Sent chain")

	return root, nil
}

// compress runs CompressChunk over chunks on ParallelWorkers goroutines.
func (cs *ChainSender) compress(ctx context.Context, chunks []Chunk) ([]CompressedChunk, error) {
	out := make([]CompressedChunk, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cs.config.ParallelWorkers)
	for i, c := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = CompressChunk(c, cs.config.Compression)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, cc := range out {
		cs.stats.CompressedBytes.Inc(int64(len(cc.Data)))
	}
	for _, c := range chunks {
		cs.stats.TotalBytes.Inc(int64(len(c.Data)))
	}
	return out, nil
}

// Stats returns sender statistics.
func (cs *ChainSender) Stats() *Stats { return cs.stats }

// Close closes the sender and its streams.
func (cs *ChainSender) Close() error {
	return cs.pool.Close()
}

// ChainReceiver collects the frames of one transfer and scatters the result
// into a destination chain. Frames may arrive on several streams in any
// order; ReceiveStream can run on all of them concurrently.
type ChainReceiver struct {
	config TransferConfig
	stats  *Stats
	l      *logrus.Logger

	mu       sync.Mutex
	manifest *protocol.Manifest
	aead     *crypto.AEAD
	// pending holds sealed batch frames that arrived before the manifest.
	pending []protocol.Frame
	chunks  map[int]Chunk
}

// NewChainReceiver creates a receiver for one transfer.
func NewChainReceiver(config TransferConfig) *ChainReceiver {
	config = config.withDefaults()
	return &ChainReceiver{
		config: config,
		stats:  newStats(config.Metrics),
		l:      config.Logger,
		chunks: make(map[int]Chunk),
	}
}

// ReceiveStream reads frames from r until EOF or a close frame.
func (cr *ChainReceiver) ReceiveStream(ctx context.Context, r io.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := protocol.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			cr.stats.Errors.Inc(1)
			return err
		}
		if err := cr.ReceiveFrame(f); err != nil {
			cr.stats.Errors.Inc(1)
			return err
		}
		if f.Type == protocol.MessageTypeClose {
			return nil
		}
	}
}

// ReceiveFrame handles one manifest, batch or close frame.
func (cr *ChainReceiver) ReceiveFrame(f protocol.Frame) error {
	switch f.Type {
	case protocol.MessageTypeManifest:
		m, err := protocol.DecodeManifest(f)
		if err != nil {
			return err
		}
		return cr.SetManifest(m)
	case protocol.MessageTypeBatch:
		cr.mu.Lock()
		sealed := len(cr.config.Secret) > 0
		if sealed && cr.aead == nil {
			cr.pending = append(cr.pending, f)
			cr.mu.Unlock()
			return nil
		}
		aead := cr.aead
		cr.mu.Unlock()

		b, err := DecodeBatchFrame(f, aead)
		if err != nil {
			return err
		}
		return cr.ReceiveBatch(b)
	case protocol.MessageTypeClose:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Type)
}

// SetManifest records the announcement of the transfer and opens batches
// that were waiting for it.
func (cr *ChainReceiver) SetManifest(m protocol.Manifest) error {
	cr.mu.Lock()
	if cr.manifest != nil {
		cr.mu.Unlock()
		return fmt.Errorf("%w: second manifest", ErrUnexpectedFrame)
	}
	sealed := len(cr.config.Secret) > 0
	if m.Sealed != sealed {
		cr.mu.Unlock()
		return fmt.Errorf("%w: sender sealed=%t, receiver sealed=%t", ErrUnexpectedFrame, m.Sealed, sealed)
	}
	if sealed {
		aead, err := crypto.NewTransferAEAD(cr.config.Secret, m.Root)
		if err != nil {
			cr.mu.Unlock()
			return err
		}
		cr.aead = aead
	}
	cr.manifest = &m
	pending := cr.pending
	cr.pending = nil
	aead := cr.aead
	cr.mu.Unlock()

	cr.l.WithFields(logrus.Fields{
		"bytes":   m.Total,
		"chunks":  m.Chunks,
		"version": m.Version,
		"sealed":  m.Sealed,
	}).Debug("Received manifest")

	for _, f := range pending {
		b, err := DecodeBatchFrame(f, aead)
		if err != nil {
			return err
		}
		if err := cr.ReceiveBatch(b); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveChunk decompresses and verifies one chunk.
func (cr *ChainReceiver) ReceiveChunk(cc CompressedChunk) error {
	chunk, err := DecompressChunk(cc)
	if err != nil {
		cr.stats.Errors.Inc(1)
		return err
	}

	cr.mu.Lock()
	cr.chunks[chunk.Index] = chunk
	cr.mu.Unlock()

	cr.stats.ChunksReceived.Inc(1)
	cr.stats.TotalBytes.Inc(int64(len(chunk.Data)))
	cr.stats.CompressedBytes.Inc(int64(len(cc.Data)))
	return nil
}

// ReceiveBatch processes an incoming batch of chunks.
func (cr *ChainReceiver) ReceiveBatch(batch *Batch) error {
	for _, cc := range batch.Chunks {
		if err := cr.ReceiveChunk(cc); err != nil {
			return err
		}
	}
	return nil
}

// Manifest returns the manifest, if one was received.
func (cr *ChainReceiver) Manifest() (protocol.Manifest, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.manifest == nil {
		return protocol.Manifest{}, false
	}
	return *cr.manifest, true
}

// Progress returns the reception progress (0.0 to 1.0).
func (cr *ChainReceiver) Progress() float64 {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.manifest == nil || cr.manifest.Chunks == 0 {
		return 0
	}
	return float64(len(cr.chunks)) / float64(cr.manifest.Chunks)
}

// IsComplete reports whether every announced chunk has been received.
func (cr *ChainReceiver) IsComplete() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.manifest != nil && len(cr.pending) == 0 && len(cr.chunks) == cr.manifest.Chunks
}

// Assemble checks the received chunks against the manifest and writes them
// into dst. Nothing is written unless the Merkle root matches. If dst
// describes fewer bytes than were sent, the tail is dropped; the number of
// bytes written is returned.
func (cr *ChainReceiver) Assemble(dst *chain.Chain) (int, error) {
	cr.mu.Lock()
	if cr.manifest == nil {
		cr.mu.Unlock()
		return 0, ErrNoManifest
	}
	m := *cr.manifest
	chunks := make([]Chunk, 0, len(cr.chunks))
	for _, c := range cr.chunks {
		chunks = append(chunks, c)
	}
	cr.mu.Unlock()

	if len(chunks) != m.Chunks {
		return 0, fmt.Errorf("%w: have %d of %d", ErrIncomplete, len(chunks), m.Chunks)
	}
	chunks = sortChunks(chunks)

	var total int64
	for i, c := range chunks {
		if c.Index != i || c.Offset != int64(i)*int64(m.ChunkSize) {
			return 0, fmt.Errorf("%w: chunk %d at offset %d out of place", ErrIntegrityCheckFailed, c.Index, c.Offset)
		}
		total += int64(len(c.Data))
	}
	if total != m.Total {
		return 0, fmt.Errorf("%w: received %d bytes, announced %d", ErrIntegrityCheckFailed, total, m.Total)
	}
	root, err := RootOf(chunks)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(root, m.Root) {
		return 0, ErrIntegrityCheckFailed
	}

	n, err := Scatter(dst, chunks)
	if err != nil {
		return n, err
	}
	if int64(n) < m.Total {
		cr.l.WithFields(logrus.Fields{
			"written":   n,
			"announced": m.Total,
		}).Warn("Destination chain too small, transfer truncated")
	}
	return n, nil
}

// Stats returns receiver statistics.
func (cr *ChainReceiver) Stats() *Stats { return cr.stats }
