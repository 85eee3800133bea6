package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("transfer: compression failed")
	ErrDecompressionFailed = errors.New("transfer: decompression failed")
	ErrChunkHashMismatch   = errors.New("transfer: chunk hash mismatch")
)

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast    CompressionLevel = iota // Fastest, lower ratio
	CompressionDefault                         // Balanced
	CompressionBest                            // Best ratio, slower
)

// ParseCompression maps a configuration value to a level. The empty string
// selects CompressionFast.
func ParseCompression(s string) (CompressionLevel, error) {
	switch strings.ToLower(s) {
	case "", "fast":
		return CompressionFast, nil
	case "default":
		return CompressionDefault, nil
	case "best":
		return CompressionBest, nil
	}
	return 0, fmt.Errorf("transfer: unknown compression level %q", s)
}

func (l CompressionLevel) lz4Level() lz4.CompressionLevel {
	switch l {
	case CompressionFast:
		return lz4.Fast
	case CompressionBest:
		return lz4.Level9
	default:
		return lz4.Level4
	}
}

var compressorPool = sync.Pool{
	New: func() any { return lz4.NewWriter(nil) },
}

var decompressorPool = sync.Pool{
	New: func() any { return lz4.NewReader(nil) },
}

// Compress compresses data using LZ4.
func Compress(data []byte, level CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level.lz4Level())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses LZ4-compressed data.
func Decompress(data []byte) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	return buf.Bytes(), nil
}

// CompressedChunk is a chunk as it travels in a batch.
type CompressedChunk struct {
	Index      int
	Offset     int64
	Compressed bool
	Data       []byte
	OrigHash   []byte // hash of the uncompressed data
}

// CompressChunk compresses a chunk if beneficial and returns it unchanged
// otherwise.
func CompressChunk(chunk Chunk, level CompressionLevel) CompressedChunk {
	cc := CompressedChunk{
		Index:    chunk.Index,
		Offset:   chunk.Offset,
		Data:     chunk.Data,
		OrigHash: chunk.Hash,
	}
	compressed, err := Compress(chunk.Data, level)
	if err == nil && len(compressed) < len(chunk.Data) {
		cc.Compressed = true
		cc.Data = compressed
	}
	return cc
}

// DecompressChunk decompresses a chunk and verifies its hash.
func DecompressChunk(cc CompressedChunk) (Chunk, error) {
	data := cc.Data
	if cc.Compressed {
		var err error
		if data, err = Decompress(cc.Data); err != nil {
			return Chunk{}, err
		}
	}

	hash := HashChunk(data)
	if !bytes.Equal(hash, cc.OrigHash) {
		return Chunk{}, fmt.Errorf("%w: chunk %d", ErrChunkHashMismatch, cc.Index)
	}

	return Chunk{
		Index:  cc.Index,
		Offset: cc.Offset,
		Data:   data,
		Hash:   hash,
	}, nil
}
