package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _ := GenerateToken()
		token2, _ := GenerateToken()
		assert.NotEqual(t, token1, token2)
	})
}

func TestHashToken(t *testing.T) {
	t.Run("returns 64 character hex string", func(t *testing.T) {
		hash := HashToken("test-token")
		assert.Len(t, hash, 64)
	})

	t.Run("same input produces same hash", func(t *testing.T) {
		assert.Equal(t, HashToken("test-token"), HashToken("test-token"))
	})

	t.Run("different input produces different hash", func(t *testing.T) {
		assert.NotEqual(t, HashToken("token-1"), HashToken("token-2"))
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("is a short prefix of the hash", func(t *testing.T) {
		fp := Fingerprint("secret-token")
		assert.Len(t, fp, 12)
		assert.True(t, strings.HasPrefix(HashToken("secret-token"), fp))
		assert.NotContains(t, fp, "secret")
	})

	t.Run("marks empty token", func(t *testing.T) {
		assert.Equal(t, "none", Fingerprint(""))
	})
}

func TestConstantTimeEqual(t *testing.T) {
	t.Run("returns true for equal strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("abc", "abc"))
	})

	t.Run("returns false for different strings", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "def"))
	})

	t.Run("returns false for different lengths", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "abcd"))
	})
}

func TestSealer(t *testing.T) {
	key := strings.Repeat("ab", 32)

	t.Run("round trips plaintext", func(t *testing.T) {
		sealer, err := NewSealer(key)
		require.NoError(t, err)

		sealed, err := sealer.Seal(`{"state":{"token":"t"}}`)
		require.NoError(t, err)
		assert.NotContains(t, sealed, "token")

		opened, err := sealer.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, `{"state":{"token":"t"}}`, opened)
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		sealer, err := NewSealer(key)
		require.NoError(t, err)
		sealed, err := sealer.Seal("payload")
		require.NoError(t, err)

		other, err := NewSealer(strings.Repeat("cd", 32))
		require.NoError(t, err)
		_, err = other.Open(sealed)
		assert.Error(t, err)
	})

	t.Run("rejects short key", func(t *testing.T) {
		_, err := NewSealer("abcd")
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		sealer, err := NewSealer(key)
		require.NoError(t, err)
		_, err = sealer.Open("not-base64!")
		assert.Error(t, err)
	})
}
