// Package crypto holds the master key handling and the AES-GCM sealing used
// for stored images.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of the master key and of derived keys.
const KeySize = 32

// MasterKeyEnv overrides the key file when set.
const MasterKeyEnv = "CONTACTBOOK_MASTER_KEY_HEX"

// ErrInvalidKeyLength is returned when a key is not KeySize bytes.
var ErrInvalidKeyLength = errors.New("crypto: invalid key length")

// ReadMasterKey reads the hex master key from MasterKeyEnv, falling back
// to the file at path.
func ReadMasterKey(path string) ([]byte, error) {
	h := os.Getenv(MasterKeyEnv)
	if h == "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("crypto: %s not set and %s unreadable: %w", MasterKeyEnv, path, err)
		}
		h = string(data)
	}
	return DecodeKey(h)
}

// DecodeKey parses a hex encoded key.
func DecodeKey(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("crypto: master key hex decode: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(b), KeySize)
	}
	return b, nil
}

// GenerateKey returns a new random key, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generating key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DeriveObjectKey derives the key for one storage scope (an owner
// namespace) from the master key with HKDF-SHA256.
func DeriveObjectKey(master []byte, scope string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, nil, []byte("contactbook-object:"+scope))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("crypto: deriving key: %w", err)
	}
	return out, nil
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
