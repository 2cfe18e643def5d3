// Package credential encrypts secrets at rest. The memory store's config
// table and the CLI use it for provider and catalog API keys, so a copied
// database file does not leak them.
//
// Keys are derived from machine identity rather than a passphrase: the same
// machine always derives the same key, and another machine cannot decrypt
// what this one stored. That is deliberate scope: the store is per-device.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks stored values as encrypted. Values without it are
// treated as plaintext on read.
const EncryptedPrefix = "enc:v1:"

// keySalt binds derived keys to this application, so other tools deriving
// from the same machine identity produce a different key.
const keySalt = "recall-credential-vault-v1"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens secrets with a machine-derived AES-256-GCM key.
type Manager struct {
	key []byte
}

// NewManager derives this machine's key and returns a ready manager.
func NewManager() (*Manager, error) {
	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return &Manager{key: key}, nil
}

// Encrypt seals a plaintext value into a storable string. Empty input stays
// empty.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := m.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored value. Values without the encrypted prefix pass
// through unchanged, which keeps plaintext rows from older databases
// readable.
func (m *Manager) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if !strings.HasPrefix(stored, EncryptedPrefix) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	gcm, err := m.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrInvalidFormat
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (m *Manager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// IsEncrypted reports whether a stored value carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// deriveKey hashes stable machine identity into a 32-byte AES key. Every
// input is best-effort; a missing one narrows the identity but still yields
// a deterministic key for this machine and user.
func deriveKey() ([]byte, error) {
	var identity strings.Builder

	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	identity.WriteString(hostname)
	identity.WriteString(home)
	identity.WriteString(runtime.GOOS)
	identity.WriteString(runtime.GOARCH)
	identity.WriteString(keySalt)

	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&identity, "uid:%d", uid)
	}
	if user := os.Getenv("USER"); user != "" {
		identity.WriteString(user)
	}

	sum := sha256.Sum256([]byte(identity.String()))
	return sum[:], nil
}

// MaskSecret renders a secret for display: first and last four characters
// with the middle elided, or stars when it is too short to show anything.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
