// Package cryptox holds the symmetric primitives used by backups: AES-256-GCM
// sealing of blobs and files, random per-item keys and passphrase-derived
// master keys.
//
// Sealed blobs are laid out as nonce || ciphertext, where the nonce is the
// GCM standard size (12 bytes). The GCM tag authenticates the payload, so a
// wrong key or tampered blob fails in Open with ErrDecrypt.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophbackup/internal/common"
	"golang.org/x/crypto/argon2"
)

// KeySize is the length of every item and manifest key (AES-256).
const KeySize = 32

// ErrDecrypt is returned when a blob cannot be authenticated with the given key.
var ErrDecrypt = errors.New("decryption failed")

// GenerateKey returns a fresh random KeySize key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// ValidateKey reports whether key can be used with Seal and Open.
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", common.ErrorInvalidKeyLength, len(key), KeySize)
	}
	return nil
}

// DeriveMasterKey stretches a passphrase into a KeySize key with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// Fingerprint returns a short, non-reversible identifier of key, suitable for
// logs and history records.
func Fingerprint(key []byte) string {
	hash := sha256.Sum256(key)
	return hex.EncodeToString(hash[:8])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with key and prepends the random nonce.
func Seal(plaintext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(blob, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ns := aesgcm.NonceSize()
	if len(blob) < ns+aesgcm.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", ErrDecrypt)
	}

	plaintext, err := aesgcm.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// EncryptFile seals the contents of src with key and writes the result to dst.
func EncryptFile(src, dst string, key []byte) error {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	defer common.WipeByteArray(plaintext)

	blob, err := Seal(plaintext, key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dst, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// DecryptFile opens the sealed contents of src with key and writes the
// plaintext to dst.
func DecryptFile(src, dst string, key []byte) error {
	blob, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	plaintext, err := Open(blob, key)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	if err := os.WriteFile(dst, plaintext, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
