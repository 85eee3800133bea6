package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the wire version spoken by this package.
const Version = "1.1.0"

// compatible lists the peer versions a receiver accepts.
const compatible = "^1.0.0"

var (
	ErrIncompatibleVersion = errors.New("protocol: incompatible peer version")
	ErrBadManifest         = errors.New("protocol: malformed manifest")
)

// Manifest announces a chain transfer before any data is sent.
type Manifest struct {
	Version   string `json:"version"`
	Total     int64  `json:"total"`
	ChunkSize int    `json:"chunk_size"`
	Chunks    int    `json:"chunks"`
	// PageSize is the page size the sender's chain was split on. It is
	// informational: the receiver scatters into its own chain layout.
	PageSize int    `json:"page_size"`
	Root     []byte `json:"root"`
	Sealed   bool   `json:"sealed,omitempty"`
}

// NewManifest returns a manifest carrying the local Version.
func NewManifest(total int64, chunkSize, chunks, pageSize int, root []byte) Manifest {
	return Manifest{
		Version:   Version,
		Total:     total,
		ChunkSize: chunkSize,
		Chunks:    chunks,
		PageSize:  pageSize,
		Root:      append([]byte(nil), root...),
	}
}

// Check verifies that the manifest is well formed and spoken by a
// compatible peer.
func (m Manifest) Check() error {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrBadManifest, m.Version, err)
	}
	c, err := semver.NewConstraint(compatible)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleVersion, v, compatible)
	}
	if m.Total < 0 || m.Chunks < 0 || m.ChunkSize <= 0 {
		return fmt.Errorf("%w: total %d, chunks %d, chunk size %d", ErrBadManifest, m.Total, m.Chunks, m.ChunkSize)
	}
	if int64(m.Chunks) != (m.Total+int64(m.ChunkSize)-1)/int64(m.ChunkSize) {
		return fmt.Errorf("%w: %d chunks cannot hold %d bytes of %d", ErrBadManifest, m.Chunks, m.Total, m.ChunkSize)
	}
	return nil
}

func (m Manifest) Frame() (Frame, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: MessageTypeManifest, Payload: payload}, nil
}

// DecodeManifest parses and checks a manifest frame.
func DecodeManifest(f Frame) (Manifest, error) {
	if f.Type != MessageTypeManifest {
		return Manifest{}, fmt.Errorf("%w: got %s frame", ErrBadManifest, f.Type)
	}
	var m Manifest
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if err := m.Check(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
