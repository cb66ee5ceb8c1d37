// Package hsm keeps card secrets (PAN and CVV) encrypted at rest.
package hsm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Sealer encrypts and decrypts short card secrets.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type Config struct {
	Secret string
	Salt   []byte
}

// CardVault is an AES-GCM sealer keyed by an argon2-derived master key.
type CardVault struct {
	gcm cipher.AEAD
}

// NewCardVault derives the master key from cfg and prepares the cipher.
func NewCardVault(cfg Config) (*CardVault, error) {
	if cfg.Secret == "" {
		return nil, errors.New("vault secret required")
	}
	if len(cfg.Salt) == 0 {
		return nil, errors.New("vault salt required")
	}

	block, err := aes.NewCipher(deriveKey(cfg.Secret, cfg.Salt, 32))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CardVault{gcm: gcm}, nil
}

// Seal returns base64(nonce || ciphertext).
func (v *CardVault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *CardVault) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid sealed value: %w", err)
	}
	nonceSize := v.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := v.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(secret string, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(secret), salt, 3, 32*1024, 4, keyLen)
}
