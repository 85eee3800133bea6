// Package erasure protects the bytes described by a chain with Reed-Solomon
// parity.
//
// With 10 data shards and 4 parity shards any 4 shards can be lost and the
// buffer can still be scattered back into a chain, without retransmission.
package erasure
