package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrCiphertextTooShort is returned when a sealed blob has no room for a nonce.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// EncryptAESGCM seals plaintext with key. The output is nonce || ciphertext.
func EncryptAESGCM(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := MustRandom(gcm.NonceSize())
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAESGCM opens a blob produced by EncryptAESGCM.
func DecryptAESGCM(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return gcm, nil
}
