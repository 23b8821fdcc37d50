// Package auth provides API key generation and validation for the mapperctl
// backend. Keys are never stored in clear text: the server configuration
// holds bcrypt hashes only.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// API key generation and validation constants
const (
	// APIKeyLength is the length of the random part of an API key
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys
	APIKeyPrefix = "mk"

	// BcryptCost is the bcrypt cost for hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes)
	BcryptMaxInputLength = 72
)

// GenerateAPIKey creates a new random API key such as "mk_abcd...".
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes))
	return APIKeyPrefix + "_" + randomPart[:APIKeyLength], nil
}

// HashAPIKey creates a bcrypt hash of an API key for the server configuration.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(prepareKey(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey checks if a provided API key matches the stored hash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), prepareKey(apiKey)) == nil
}

// prepareKey pre-hashes keys longer than bcrypt accepts.
func prepareKey(apiKey string) []byte {
	keyBytes := []byte(apiKey)
	if len(keyBytes) > BcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}

// DisplayPrefix returns a log-safe prefix of a key, e.g. "mk_abcdefgh...".
func DisplayPrefix(apiKey string) string {
	prefix, rest, ok := strings.Cut(apiKey, "_")
	if !ok || prefix != APIKeyPrefix || rest == "" {
		return "invalid_key"
	}
	if len(rest) > 8 {
		rest = rest[:8]
	}
	return prefix + "_" + rest + "..."
}

// KeyRing validates keys against a fixed set of bcrypt hashes. Keys that
// matched once are remembered by their SHA-256 digest so later requests skip
// bcrypt.
type KeyRing struct {
	hashes   []string
	accepted sync.Map
}

// NewKeyRing creates a key ring. An empty ring accepts nothing.
func NewKeyRing(hashes []string) *KeyRing {
	clean := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			clean = append(clean, h)
		}
	}
	return &KeyRing{hashes: clean}
}

// Enabled reports whether any key is configured.
func (k *KeyRing) Enabled() bool {
	return k != nil && len(k.hashes) > 0
}

// Validate reports whether apiKey matches one of the configured hashes.
func (k *KeyRing) Validate(apiKey string) bool {
	if !k.Enabled() || apiKey == "" {
		return false
	}

	digest := sha256.Sum256([]byte(apiKey))
	if _, ok := k.accepted.Load(digest); ok {
		return true
	}

	for _, hash := range k.hashes {
		if ValidateAPIKey(apiKey, hash) {
			k.accepted.Store(digest, struct{}{})
			return true
		}
	}
	return false
}
