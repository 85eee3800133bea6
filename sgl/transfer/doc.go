// Package transfer moves the bytes described by a chain to a peer and
// scatters them into a chain on the other side.
//
// The sender gathers its chain into fixed-size chunks, hashes every chunk
// with BLAKE2b-256 and announces the Merkle root in a manifest frame. Chunks
// are LZ4 compressed when that helps, packed into batches and written over a
// pool of parallel streams. Batches can be sealed with a key bound to the
// Merkle root. The receiver verifies every chunk and the root before it
// writes anything into the destination chain, whose page layout does not
// need to match the sender's.
package transfer
