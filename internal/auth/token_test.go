package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateToken_WhenNoFile_CreatesNewToken(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")

	token, created, err := LoadOrCreateToken(dir)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, token, 64, "token should be 64 hex chars (32 bytes)")
	assertHexString(t, token)

	info, err := os.Stat(filepath.Join(dir, tokenFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadOrCreateToken_WhenFileExists_ReturnsExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	existing := strings.Repeat("ab", 32)
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenFileName), []byte(existing+"\n"), 0600))

	token, created, err := LoadOrCreateToken(dir)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, token)
}

func TestLoadOrCreateToken_WhenEmptyFile_GeneratesNew(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenFileName), nil, 0600))

	token, created, err := LoadOrCreateToken(dir)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, token, 64)
}

func TestLoadOrCreateToken_CalledTwice_ReturnsSameToken(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, _, err := LoadOrCreateToken(dir)
	require.NoError(t, err)
	second, _, err := LoadOrCreateToken(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHashToken_KnownValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		HashToken("test"))
}

func TestTokenSet_Verify(t *testing.T) {
	t.Parallel()

	ts, err := NewTokenSet(map[string]string{
		"ci":     HashToken("ci-secret"),
		"deploy": HashToken("deploy-secret"),
	})
	require.NoError(t, err)
	ts.Add("local", "local-secret")
	assert.Equal(t, 3, ts.Len())

	tests := []struct {
		token string
		name  string
		ok    bool
	}{
		{"ci-secret", "ci", true},
		{"deploy-secret", "deploy", true},
		{"local-secret", "local", true},
		{"wrong", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		name, ok := ts.Verify(tt.token)
		assert.Equal(t, tt.ok, ok, tt.token)
		assert.Equal(t, tt.name, name, tt.token)
	}
}

func TestNewTokenSet_RejectsMalformedHash(t *testing.T) {
	t.Parallel()

	_, err := NewTokenSet(map[string]string{"bad": "not-hex"})
	assert.Error(t, err)

	_, err = NewTokenSet(map[string]string{"short": "abcd"})
	assert.Error(t, err)
}

func assertHexString(t *testing.T, s string) {
	t.Helper()
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("non-hex character %q in string %q", c, s)
			return
		}
	}
}
