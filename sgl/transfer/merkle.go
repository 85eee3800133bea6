package transfer

import (
	"bytes"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrMerkleEmpty      = errors.New("merkle: no chunks provided")
	ErrMerkleProofFail  = errors.New("merkle: proof verification failed")
	ErrMerkleIndexRange = errors.New("merkle: chunk index out of range")
)

// HashSize is the length of chunk hashes and tree nodes.
const HashSize = blake2b.Size256

// HashChunk computes the BLAKE2b-256 hash of a data chunk.
func HashChunk(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

func hashPair(left, right []byte) []byte {
	combined := make([]byte, 0, len(left)+len(right))
	combined = append(combined, left...)
	combined = append(combined, right...)
	return HashChunk(combined)
}

// MerkleTree provides integrity verification for chunked data.
// The root hash travels in the manifest; recipients verify each chunk.
type MerkleTree struct {
	leaves [][]byte
	nodes  [][]byte // full binary tree stored as array
	root   []byte
}

// BuildMerkleTree constructs a Merkle tree from chunk hashes.
func BuildMerkleTree(chunkHashes [][]byte) (*MerkleTree, error) {
	if len(chunkHashes) == 0 {
		return nil, ErrMerkleEmpty
	}

	// Pad to power of 2
	n := 1
	for n < len(chunkHashes) {
		n *= 2
	}
	empty := HashChunk(nil)
	leaves := make([][]byte, n)
	for i := range leaves {
		if i < len(chunkHashes) {
			leaves[i] = chunkHashes[i]
		} else {
			leaves[i] = empty
		}
	}

	// Leaves are at positions [n-1, 2n-2]
	nodes := make([][]byte, 2*n-1)
	copy(nodes[n-1:], leaves)
	for i := n - 2; i >= 0; i-- {
		nodes[i] = hashPair(nodes[2*i+1], nodes[2*i+2])
	}

	return &MerkleTree{
		leaves: leaves,
		nodes:  nodes,
		root:   nodes[0],
	}, nil
}

// RootOf builds the tree over the hashes of chunks, which must be sorted by
// index, and returns its root.
func RootOf(chunks []Chunk) ([]byte, error) {
	hashes := make([][]byte, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	tree, err := BuildMerkleTree(hashes)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}

// Root returns the Merkle root hash.
func (m *MerkleTree) Root() []byte { return m.root }

// RootHex returns the Merkle root as a hex string.
func (m *MerkleTree) RootHex() string { return hex.EncodeToString(m.root) }

// Proof holds the sibling hashes needed to verify one chunk.
type Proof struct {
	ChunkIndex int
	ChunkHash  []byte
	Siblings   [][]byte // from leaf to root
	IsLeft     []bool   // true if sibling is on the left
}

// GenerateProof generates a Merkle proof for the chunk at the given index.
func (m *MerkleTree) GenerateProof(chunkIndex int) (Proof, error) {
	n := len(m.leaves)
	if chunkIndex < 0 || chunkIndex >= n {
		return Proof{}, ErrMerkleIndexRange
	}

	var siblings [][]byte
	var isLeft []bool
	idx := n - 1 + chunkIndex

	for idx > 0 {
		sibling := idx - 1
		if idx%2 == 1 {
			sibling = idx + 1
		}
		siblings = append(siblings, m.nodes[sibling])
		isLeft = append(isLeft, idx%2 == 0)
		idx = (idx - 1) / 2
	}

	return Proof{
		ChunkIndex: chunkIndex,
		ChunkHash:  bytes.Clone(m.leaves[chunkIndex]),
		Siblings:   siblings,
		IsLeft:     isLeft,
	}, nil
}

// VerifyProof verifies a Merkle proof against the expected root.
func VerifyProof(proof Proof, expectedRoot []byte) error {
	current := proof.ChunkHash
	for i, sibling := range proof.Siblings {
		if proof.IsLeft[i] {
			current = hashPair(sibling, current)
		} else {
			current = hashPair(current, sibling)
		}
	}
	if !bytes.Equal(current, expectedRoot) {
		return ErrMerkleProofFail
	}
	return nil
}
