package security

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, tok, 64, "token should be 32 bytes hex-encoded")

	_, err = hex.DecodeString(tok)
	assert.NoError(t, err, "token should be valid hex")

	tok2, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)
}

func TestTokenEqual(t *testing.T) {
	assert.True(t, TokenEqual("abc123", "abc123"))
	assert.False(t, TokenEqual("abc123", "abc124"))
	assert.False(t, TokenEqual("abc123", "abc1234"))
	assert.False(t, TokenEqual("", "abc"))
	assert.True(t, TokenEqual("", ""))
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", WrapperKeyFile)

	key1, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, key1, 32)

	// Second load returns the same key.
	key2, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	key3, err := LoadKey(path)
	require.NoError(t, err)
	assert.Equal(t, key1, key3)
}

func TestLoadKeyMissing(t *testing.T) {
	_, err := LoadKey(filepath.Join(t.TempDir(), "absent.key"))
	assert.ErrorIs(t, err, ErrKeyMissing)
}
