package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TheusHen/sgl/sgl/crypto"
	"github.com/TheusHen/sgl/sgl/protocol"
)

var (
	ErrBatchTooLarge  = errors.New("transfer: batch exceeds maximum size")
	ErrBatchMalformed = errors.New("transfer: malformed batch")
)

const (
	// MaxBatchSize is the largest encoded batch. It leaves room for the
	// sealing overhead inside a protocol frame.
	MaxBatchSize = protocol.MaxFramePayload - 64
	// BatchMagic identifies a batch payload.
	BatchMagic = uint32(0x53474c42) // "SGLB"

	batchHeaderSize = 4 + 4
	// index(4) + offset(8) + compressed(1) + hashLen(2) + dataLen(4)
	chunkHeaderSize = 4 + 8 + 1 + 2 + 4
)

// batchAD is the additional data sealed batches are bound to.
var batchAD = []byte{byte(protocol.MessageTypeBatch)}

// Batch groups multiple chunks into one frame.
type Batch struct {
	Chunks []CompressedChunk
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{Chunks: make([]CompressedChunk, 0)}
}

// Add adds a chunk to the batch.
func (b *Batch) Add(cc CompressedChunk) {
	b.Chunks = append(b.Chunks, cc)
}

func encodedSize(cc CompressedChunk) int {
	return chunkHeaderSize + len(cc.OrigHash) + len(cc.Data)
}

// Size returns the total serialized size of the batch.
func (b *Batch) Size() int {
	size := batchHeaderSize
	for _, cc := range b.Chunks {
		size += encodedSize(cc)
	}
	return size
}

// Encode serializes the batch for wire transmission.
// Format:
//
//	4 bytes: magic
//	4 bytes: chunk count
//	For each chunk:
//		4 bytes: index
//		8 bytes: offset in the gathered buffer
//		1 byte: compressed flag
//		2 bytes: hash length
//		N bytes: hash
//		4 bytes: data length
//		N bytes: data
func (b *Batch) Encode() ([]byte, error) {
	size := b.Size()
	if size > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBatchTooLarge, size)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:], BatchMagic)
	binary.BigEndian.PutUint32(buf[4:], uint32(len(b.Chunks)))
	offset := batchHeaderSize

	for _, cc := range b.Chunks {
		binary.BigEndian.PutUint32(buf[offset:], uint32(cc.Index))
		offset += 4
		binary.BigEndian.PutUint64(buf[offset:], uint64(cc.Offset))
		offset += 8

		if cc.Compressed {
			buf[offset] = 1
		}
		offset++

		binary.BigEndian.PutUint16(buf[offset:], uint16(len(cc.OrigHash)))
		offset += 2
		offset += copy(buf[offset:], cc.OrigHash)

		binary.BigEndian.PutUint32(buf[offset:], uint32(len(cc.Data)))
		offset += 4
		offset += copy(buf[offset:], cc.Data)
	}

	return buf, nil
}

// DecodeBatch deserializes a batch from wire format.
func DecodeBatch(data []byte) (*Batch, error) {
	if len(data) < batchHeaderSize {
		return nil, fmt.Errorf("%w: too short", ErrBatchMalformed)
	}
	if magic := binary.BigEndian.Uint32(data); magic != BatchMagic {
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrBatchMalformed, magic)
	}

	count := int(binary.BigEndian.Uint32(data[4:]))
	if count > (len(data)-batchHeaderSize)/chunkHeaderSize {
		return nil, fmt.Errorf("%w: %d chunks cannot fit in %d bytes", ErrBatchMalformed, count, len(data))
	}
	offset := batchHeaderSize

	b := &Batch{Chunks: make([]CompressedChunk, 0, count)}
	for i := range count {
		if offset+chunkHeaderSize > len(data) {
			return nil, fmt.Errorf("%w: chunk %d truncated", ErrBatchMalformed, i)
		}
		var cc CompressedChunk
		cc.Index = int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		cc.Offset = int64(binary.BigEndian.Uint64(data[offset:]))
		offset += 8
		if cc.Offset < 0 {
			return nil, fmt.Errorf("%w: chunk %d has offset %d", ErrBatchMalformed, i, cc.Offset)
		}
		cc.Compressed = data[offset] == 1
		offset++

		hashLen := int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
		if offset+hashLen+4 > len(data) {
			return nil, fmt.Errorf("%w: chunk %d truncated", ErrBatchMalformed, i)
		}
		cc.OrigHash = append([]byte(nil), data[offset:offset+hashLen]...)
		offset += hashLen

		dataLen := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if offset+dataLen > len(data) {
			return nil, fmt.Errorf("%w: chunk %d truncated", ErrBatchMalformed, i)
		}
		cc.Data = append([]byte(nil), data[offset:offset+dataLen]...)
		offset += dataLen

		b.Chunks = append(b.Chunks, cc)
	}

	return b, nil
}

// Frame encodes the batch into a protocol frame, sealed with aead unless it
// is nil.
func (b *Batch) Frame(aead *crypto.AEAD) (protocol.Frame, error) {
	payload, err := b.Encode()
	if err != nil {
		return protocol.Frame{}, err
	}
	if aead != nil {
		payload = aead.Seal(payload, batchAD)
	}
	return protocol.Frame{Type: protocol.MessageTypeBatch, Payload: payload}, nil
}

// DecodeBatchFrame decodes a batch frame, opening it with aead unless it is
// nil.
func DecodeBatchFrame(f protocol.Frame, aead *crypto.AEAD) (*Batch, error) {
	if f.Type != protocol.MessageTypeBatch {
		return nil, fmt.Errorf("%w: got %s frame", ErrBatchMalformed, f.Type)
	}
	payload := f.Payload
	if aead != nil {
		var err error
		if payload, err = aead.Open(payload, batchAD); err != nil {
			return nil, err
		}
	}
	return DecodeBatch(payload)
}

// PackBatches groups chunks, in order, into as few batches as fit
// MaxBatchSize.
func PackBatches(ccs []CompressedChunk) ([]*Batch, error) {
	var batches []*Batch
	cur, size := NewBatch(), batchHeaderSize
	for _, cc := range ccs {
		n := encodedSize(cc)
		if batchHeaderSize+n > MaxBatchSize {
			return nil, fmt.Errorf("%w: chunk %d alone needs %d bytes", ErrBatchTooLarge, cc.Index, batchHeaderSize+n)
		}
		if size+n > MaxBatchSize {
			batches = append(batches, cur)
			cur, size = NewBatch(), batchHeaderSize
		}
		cur.Add(cc)
		size += n
	}
	if len(cur.Chunks) > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}
