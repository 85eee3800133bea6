package erasure

import (
	"errors"
	"fmt"
	"io"

	"github.com/TheusHen/sgl/sgl/chain"
	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost       = errors.New("erasure: too many shards lost, cannot recover")
	ErrInvalidConfig     = errors.New("erasure: invalid data/parity configuration")
	ErrShardSizeMismatch = errors.New("erasure: shard sizes do not match")
	ErrEmptyChain        = errors.New("erasure: chain describes no bytes")
)

// Codec provides Reed-Solomon encoding/decoding.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec creates a codec with dataShards data shards and parityShards
// parity shards. Up to parityShards shards may be lost.
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, fmt.Errorf("%w: %d+%d", ErrInvalidConfig, dataShards, parityShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Codec{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

func (c *Codec) DataShards() int   { return c.dataShards }
func (c *Codec) ParityShards() int { return c.parityShards }
func (c *Codec) TotalShards() int  { return c.dataShards + c.parityShards }

// Shards is a protected buffer. Size is the length of the buffer before
// padding. A lost shard is represented by nil.
type Shards struct {
	Size   int
	Shards [][]byte
}

// Lost returns the number of missing shards.
func (s *Shards) Lost() int {
	n := 0
	for _, sh := range s.Shards {
		if sh == nil {
			n++
		}
	}
	return n
}

// EncodeData splits data into data shards and computes the parity shards.
// The data shards may share memory with data.
func (c *Codec) EncodeData(data []byte) (*Shards, error) {
	if len(data) == 0 {
		return nil, reedsolomon.ErrShortData
	}
	shards, err := c.enc.Split(data)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return &Shards{Size: len(data), Shards: shards}, nil
}

// ProtectChain gathers the buffer described by src and encodes it. The
// shards do not reference chain memory.
func (c *Codec) ProtectChain(src *chain.Chain) (*Shards, error) {
	if src.Total() == 0 {
		return nil, ErrEmptyChain
	}
	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}
	return c.EncodeData(data)
}

// Verify checks that the parity shards match the data shards. All shards
// must be present.
func (c *Codec) Verify(s *Shards) (bool, error) {
	if err := c.checkShape(s); err != nil {
		return false, err
	}
	return c.enc.Verify(s.Shards)
}

// Reconstruct rebuilds every missing shard in place.
func (c *Codec) Reconstruct(s *Shards) error {
	if err := c.checkShape(s); err != nil {
		return err
	}
	return mapErr(c.enc.Reconstruct(s.Shards))
}

// Join reconstructs missing data shards and returns the original buffer.
func (c *Codec) Join(s *Shards) ([]byte, error) {
	if err := c.checkShape(s); err != nil {
		return nil, err
	}
	if err := mapErr(c.enc.ReconstructData(s.Shards)); err != nil {
		return nil, err
	}

	data := make([]byte, 0, s.Size)
	for _, sh := range s.Shards[:c.dataShards] {
		if len(data) == s.Size {
			break
		}
		data = append(data, sh[:min(len(sh), s.Size-len(data))]...)
	}
	if len(data) != s.Size {
		return nil, fmt.Errorf("%w: shards hold %d of %d bytes", ErrShardSizeMismatch, len(data), s.Size)
	}
	return data, nil
}

// RecoverInto reconstructs the protected buffer and writes it into dst.
// Bytes past the end of dst are dropped; the number of bytes written is
// returned.
func (c *Codec) RecoverInto(dst *chain.Chain, s *Shards) (int, error) {
	data, err := c.Join(s)
	if err != nil {
		return 0, err
	}
	n, err := dst.WriteAt(data, 0)
	if errors.Is(err, io.ErrShortWrite) {
		err = nil
	}
	return n, err
}

func (c *Codec) checkShape(s *Shards) error {
	if s == nil || len(s.Shards) != c.TotalShards() {
		return fmt.Errorf("%w: want %d shards", ErrShardSizeMismatch, c.TotalShards())
	}
	size := -1
	for _, sh := range s.Shards {
		if sh == nil {
			continue
		}
		if size >= 0 && len(sh) != size {
			return ErrShardSizeMismatch
		}
		size = len(sh)
	}
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, reedsolomon.ErrTooFewShards) {
		return ErrTooManyLost
	}
	return err
}

// ShardSize calculates the shard size for a given data size.
func (c *Codec) ShardSize(dataSize int) int {
	return (dataSize + c.dataShards - 1) / c.dataShards
}

// EncodedSize returns the total size of all shards for a given data size.
func (c *Codec) EncodedSize(dataSize int) int {
	return c.ShardSize(dataSize) * c.TotalShards()
}

// Overhead returns the storage overhead ratio (e.g., 1.4 for 10+4 config).
func (c *Codec) Overhead() float64 {
	return float64(c.TotalShards()) / float64(c.dataShards)
}
