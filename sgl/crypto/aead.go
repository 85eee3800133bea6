package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// AEAD wraps ChaCha20-Poly1305 with automatic nonce management.
// The 96-bit nonce is a 32-bit random prefix followed by a 64-bit counter,
// so one key never repeats a nonce.
type AEAD struct {
	aead   cipher.AEAD
	prefix [4]byte
	seq    atomic.Uint64
}

// NewAEAD creates a new AEAD cipher from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("crypto: invalid key size for ChaCha20-Poly1305")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	a := &AEAD{aead: aead}
	if _, err := io.ReadFull(rand.Reader, a.prefix[:]); err != nil {
		return nil, err
	}
	return a, nil
}

// NewTransferAEAD derives the transfer key for root from secret and wraps
// it in an AEAD.
func NewTransferAEAD(secret, root []byte) (*AEAD, error) {
	key, err := DeriveTransferKey(secret, root)
	if err != nil {
		return nil, err
	}
	return NewAEAD(key)
}

func (a *AEAD) nextNonce() []byte {
	seq := a.seq.Add(1)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[:4], a.prefix[:])
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

// Seal encrypts and authenticates plaintext.
// Returns: nonce (12 bytes) || ciphertext || tag (16 bytes)
func (a *AEAD) Seal(plaintext, additionalData []byte) []byte {
	nonce := a.nextNonce()
	out := make([]byte, len(nonce), len(nonce)+len(plaintext)+a.aead.Overhead())
	copy(out, nonce)
	return a.aead.Seal(out, nonce, plaintext, additionalData)
}

// Open decrypts and verifies ciphertext produced by Seal.
func (a *AEAD) Open(ciphertext, additionalData []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSize
	if len(ciphertext) < nonceSize+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead returns the number of bytes Seal adds to a plaintext.
func (a *AEAD) Overhead() int { return chacha20poly1305.NonceSize + a.aead.Overhead() }
