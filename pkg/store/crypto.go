package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Cipher encrypts token material at rest. A nil *Cipher is valid and
// stores values as-is, for deployments that leave ADS_ENCRYPTION_KEY
// unset.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives an AES-256 key from the passphrase with SHA-256 and
// returns a GCM cipher. An empty passphrase returns a nil cipher.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns a base64 string with the nonce
// prepended. Empty input passes through so absent tokens stay absent.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil || encoded == "" {
		return encoded, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// MaskToken renders a token safe for display, keeping a short prefix and
// suffix. Tokens too short to mask meaningfully come back fully masked.
func MaskToken(token string) string {
	const (
		prefixLen = 8
		suffixLen = 4
	)
	if token == "" {
		return ""
	}
	if len(token) <= prefixLen+suffixLen {
		return "***"
	}
	return token[:prefixLen] + strings.Repeat("*", len(token)-prefixLen-suffixLen) + token[len(token)-suffixLen:]
}
