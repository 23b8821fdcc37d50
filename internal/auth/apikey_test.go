package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	keys := make(map[string]bool)
	for i := 0; i < 20; i++ {
		key, err := GenerateAPIKey()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(key, APIKeyPrefix+"_"))
		assert.Len(t, key, len(APIKeyPrefix)+1+APIKeyLength)
		assert.Equal(t, strings.ToLower(key), key)
		assert.False(t, keys[key], "generated duplicate key %s", key)
		keys[key] = true
	}
}

func TestHashAPIKey(t *testing.T) {
	tests := []struct {
		name        string
		apiKey      string
		expectError bool
	}{
		{name: "valid_key", apiKey: "mk_abc123def456ghi789"},
		{name: "empty_key", apiKey: "", expectError: true},
		{name: "long_key", apiKey: strings.Repeat("a", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashAPIKey(tt.apiKey)
			if tt.expectError {
				assert.Error(t, err)
				assert.Empty(t, hash)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(hash, "$2a$12$"))
			assert.True(t, ValidateAPIKey(tt.apiKey, hash))
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	validKey := "mk_test_key_123"
	validHash, err := bcrypt.GenerateFromPassword([]byte(validKey), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		apiKey   string
		hash     string
		expected bool
	}{
		{"valid_key_and_hash", validKey, string(validHash), true},
		{"invalid_key_valid_hash", "mk_wrong_key_123", string(validHash), false},
		{"valid_key_invalid_hash", validKey, "invalid_hash", false},
		{"empty_key", "", string(validHash), false},
		{"empty_hash", validKey, "", false},
		{"both_empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateAPIKey(tt.apiKey, tt.hash))
		})
	}
}

func TestDisplayPrefix(t *testing.T) {
	assert.Equal(t, "mk_abcdefgh...", DisplayPrefix("mk_abcdefghijklmnop"))
	assert.Equal(t, "mk_abc...", DisplayPrefix("mk_abc"))
	assert.Equal(t, "invalid_key", DisplayPrefix("sk_abcdefghijk"))
	assert.Equal(t, "invalid_key", DisplayPrefix("mk_"))
	assert.Equal(t, "invalid_key", DisplayPrefix("nounderscore"))
}

func TestKeyRing(t *testing.T) {
	first, err := bcrypt.GenerateFromPassword([]byte("mk_first"), bcrypt.MinCost)
	require.NoError(t, err)
	second, err := bcrypt.GenerateFromPassword([]byte("mk_second"), bcrypt.MinCost)
	require.NoError(t, err)

	ring := NewKeyRing([]string{string(first), "  ", string(second)})
	assert.True(t, ring.Enabled())

	assert.True(t, ring.Validate("mk_first"))
	assert.True(t, ring.Validate("mk_second"))
	assert.True(t, ring.Validate("mk_first"), "cached key must still validate")
	assert.False(t, ring.Validate("mk_third"))
	assert.False(t, ring.Validate(""))
}

func TestKeyRing_Disabled(t *testing.T) {
	var nilRing *KeyRing
	assert.False(t, nilRing.Enabled())
	assert.False(t, nilRing.Validate("mk_any"))

	empty := NewKeyRing([]string{"", " "})
	assert.False(t, empty.Enabled())
	assert.False(t, empty.Validate("mk_any"))
}

func BenchmarkKeyRing_CachedValidate(b *testing.B) {
	hash, err := bcrypt.GenerateFromPassword([]byte("mk_bench"), bcrypt.MinCost)
	require.NoError(b, err)
	ring := NewKeyRing([]string{string(hash)})
	ring.Validate("mk_bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ring.Validate("mk_bench")
	}
}
