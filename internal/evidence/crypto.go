// Package evidence captures redacted, encrypted decision records and
// serves the idempotency cache.
package evidence

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/telcoguard/fraud-decision/internal/models"
)

// Hasher produces keyed, deterministic hashes of PII identifiers so
// evidence rows can be joined without storing plaintext.
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher from the server-managed hash key.
func NewHasher(key string) (*Hasher, error) {
	if key == "" {
		return nil, fmt.Errorf("hash key is empty")
	}
	return &Hasher{key: []byte(key)}, nil
}

// Hash returns the hex HMAC-SHA256 of value, or "" for an empty input.
func (h *Hasher) Hash(value string) string {
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// VaultCipher encrypts vault payloads with XChaCha20-Poly1305. The random
// nonce is prepended to the ciphertext.
type VaultCipher struct {
	key []byte
}

// NewVaultCipher derives a cipher key from the configured vault secret.
func NewVaultCipher(secret string) (*VaultCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault key is empty")
	}
	sum := sha256.Sum256([]byte(secret))
	return &VaultCipher{key: sum[:]}, nil
}

// Seal encrypts a vault payload.
func (c *VaultCipher) Seal(payload models.VaultPayload) ([]byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a vault row produced by Seal.
func (c *VaultCipher) Open(ciphertext []byte) (models.VaultPayload, error) {
	var payload models.VaultPayload
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return payload, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return payload, fmt.Errorf("vault ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return payload, fmt.Errorf("vault decrypt: %w", err)
	}
	err = json.Unmarshal(plaintext, &payload)
	return payload, err
}
