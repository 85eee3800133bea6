package transfer

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/TheusHen/sgl/sgl/chain"
)

// DefaultChunkSize is the default chunk size (256 KB).
const DefaultChunkSize = 256 * 1024

var ErrEmptyChain = errors.New("transfer: chain describes no bytes")

// Chunker splits the buffer described by a chain into fixed-size chunks.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a new chunker with the specified chunk size.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Chunk is one piece of a gathered buffer. Offset is the position of Data in
// the logical buffer.
type Chunk struct {
	Index  int
	Offset int64
	Data   []byte
	Hash   []byte
}

// Split splits data into chunks and computes hashes. The chunks share
// memory with data.
func (c *Chunker) Split(data []byte) []Chunk {
	var chunks []Chunk
	for i := 0; i < len(data); i += c.chunkSize {
		end := min(i+c.chunkSize, len(data))
		chunk := data[i:end]
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: int64(i),
			Data:   chunk,
			Hash:   HashChunk(chunk),
		})
	}
	return chunks
}

// SplitChain gathers the buffer described by src into chunks. The chunk
// data is copied out of chain memory, so src may be destroyed afterwards.
func (c *Chunker) SplitChain(src *chain.Chain) ([]Chunk, error) {
	total := src.Total()
	if total == 0 {
		return nil, ErrEmptyChain
	}

	chunks := make([]Chunk, 0, (total+c.chunkSize-1)/c.chunkSize)
	for off := 0; off < total; off += c.chunkSize {
		buf := make([]byte, min(c.chunkSize, total-off))
		if _, err := src.ReadAt(buf, int64(off)); err != nil {
			return nil, fmt.Errorf("gather chunk %d: %w", len(chunks), err)
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: int64(off),
			Data:   buf,
			Hash:   HashChunk(buf),
		})
	}
	return chunks, nil
}

// Scatter writes chunks into dst at their offsets. Bytes that fall past the
// end of dst are dropped; the number of bytes written is returned.
func Scatter(dst *chain.Chain, chunks []Chunk) (int, error) {
	written := 0
	for _, ch := range sortChunks(chunks) {
		n, err := dst.WriteAt(ch.Data, ch.Offset)
		written += n
		if errors.Is(err, io.ErrShortWrite) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("scatter chunk %d: %w", ch.Index, err)
		}
	}
	return written, nil
}

// Reassemble combines chunks back into the original data.
func Reassemble(chunks []Chunk) []byte {
	var size int
	for _, ch := range chunks {
		size += len(ch.Data)
	}
	out := make([]byte, 0, size)
	for _, ch := range sortChunks(chunks) {
		out = append(out, ch.Data...)
	}
	return out
}

func sortChunks(chunks []Chunk) []Chunk {
	sorted := slices.Clone(chunks)
	slices.SortFunc(sorted, func(a, b Chunk) int { return a.Index - b.Index })
	return sorted
}
