package rollback

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionSaltSize    = 16
	encryptionKeySize     = 32 // AES-256
	pbkdf2Iterations      = 100000
	encryptionOverheadMin = encryptionSaltSize + 12 // salt + GCM nonce
)

// EncryptionManager applies optional AES-256-GCM encryption to stored
// snapshots. The per-snapshot salt and nonce are prepended to the ciphertext
// so decryption needs only the passphrase.
type EncryptionManager struct {
	config EncryptionConfig
}

// NewEncryptionManager creates a new encryption manager
func NewEncryptionManager(config EncryptionConfig) *EncryptionManager {
	return &EncryptionManager{config: config}
}

// Enabled reports whether encryption is active
func (em *EncryptionManager) Enabled() bool {
	return em.config.Enabled
}

// Encrypt encrypts data using AES-256-GCM with a pbkdf2-derived key.
// Returns data unchanged when encryption is disabled.
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, error) {
	if !em.config.Enabled {
		return data, nil
	}

	salt := make([]byte, encryptionSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, NewEncryptionError("failed to generate salt", err)
	}

	gcm, err := em.newGCM(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)

	return out, nil
}

// Decrypt reverses Encrypt. Returns data unchanged when encryption is disabled.
func (em *EncryptionManager) Decrypt(data []byte) ([]byte, error) {
	if !em.config.Enabled {
		return data, nil
	}

	if len(data) < encryptionOverheadMin {
		return nil, NewEncryptionError("encrypted snapshot is truncated", nil)
	}

	salt := data[:encryptionSaltSize]

	gcm, err := em.newGCM(salt)
	if err != nil {
		return nil, err
	}

	rest := data[encryptionSaltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, NewEncryptionError("encrypted snapshot is truncated", nil)
	}

	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt snapshot (wrong passphrase or corrupted data)", err)
	}

	return plaintext, nil
}

func (em *EncryptionManager) newGCM(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(em.config.Passphrase), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM", err)
	}

	return gcm, nil
}
