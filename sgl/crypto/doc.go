// Package crypto seals transfer batches of a chain in transit.
//
// Keys are derived with HKDF-SHA256 from a secret both ends already share
// and are bound to the Merkle root of the chain being sent, so a batch
// sealed for one transfer does not open in another. Batches are sealed with
// ChaCha20-Poly1305 (RFC 8439).
package crypto
