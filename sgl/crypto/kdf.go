package crypto

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const transferLabel = "sgl-transfer-key"

var ErrEmptySecret = errors.New("crypto: empty shared secret")

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveTransferKey derives the 32-byte batch key for the transfer of the
// chain whose Merkle root is root.
func DeriveTransferKey(secret, root []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	info := make([]byte, 0, len(transferLabel)+len(root))
	info = append(info, transferLabel...)
	info = append(info, root...)
	return DeriveKey(secret, nil, info, 32)
}
