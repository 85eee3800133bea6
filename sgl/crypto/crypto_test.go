package crypto

import (
	"bytes"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}

	plaintext := []byte("batch of scattered chunks")
	ad := []byte("batch 7")

	ciphertext := aead.Seal(plaintext, ad)
	if len(ciphertext) != len(plaintext)+aead.Overhead() {
		t.Fatalf("unexpected ciphertext length %d", len(ciphertext))
	}

	decrypted, err := aead.Open(ciphertext, ad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("decrypted != plaintext")
	}

	if _, err := aead.Open(ciphertext, []byte("batch 8")); err != ErrDecryptionFailed {
		t.Fatalf("expected failure with wrong additional data, got %v", err)
	}

	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := aead.Open(ciphertext, ad); err != ErrDecryptionFailed {
		t.Fatalf("expected decryption failure on tampered ciphertext")
	}

	if _, err := aead.Open(ciphertext[:10], ad); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestTransferAEADIsBoundToRoot(t *testing.T) {
	secret := []byte("shared between both ends")
	sender, err := NewTransferAEAD(secret, []byte("root-a"))
	if err != nil {
		t.Fatalf("NewTransferAEAD: %v", err)
	}
	sameRoot, _ := NewTransferAEAD(secret, []byte("root-a"))
	otherRoot, _ := NewTransferAEAD(secret, []byte("root-b"))

	ct := sender.Seal([]byte("payload"), nil)
	if _, err := sameRoot.Open(ct, nil); err != nil {
		t.Fatalf("same root should open: %v", err)
	}
	if _, err := otherRoot.Open(ct, nil); err != ErrDecryptionFailed {
		t.Fatalf("other root should not open, got %v", err)
	}

	if _, err := NewTransferAEAD(nil, []byte("root")); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey([]byte("secret"), nil, []byte("a"), 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, _ := DeriveKey([]byte("secret"), nil, []byte("b"), 32)
	if len(k1) != 32 || bytes.Equal(k1, k2) {
		t.Fatalf("keys for different info must differ")
	}
}

func BenchmarkAEADSeal(b *testing.B) {
	key := make([]byte, 32)
	aead, _ := NewAEAD(key)
	plaintext := make([]byte, 64*1024)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = aead.Seal(plaintext, nil)
	}
}
