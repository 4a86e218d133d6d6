package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFileName = "token"

// LoadOrCreateToken reads the API token from dataDir/token, or generates and
// persists a new 256-bit hex-encoded token if the file is missing or empty.
// created reports whether a new token was written.
func LoadOrCreateToken(dataDir string) (token string, created bool, err error) {
	path := filepath.Join(dataDir, tokenFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		if t := strings.TrimSpace(string(data)); t != "" {
			return t, false, nil
		}
	}

	token, err = GenerateToken()
	if err != nil {
		return "", false, err
	}
	if err := writeToken(dataDir, path, token); err != nil {
		return "", false, err
	}
	return token, true, nil
}

// GenerateToken returns a random 256-bit hex-encoded token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of token, as stored in the config file.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func writeToken(dataDir, path, token string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// TokenSet verifies bearer tokens against named SHA-256 hashes.
type TokenSet struct {
	names  []string
	hashes [][]byte
}

// NewTokenSet builds a TokenSet. Each entry maps a token name to its hex hash.
func NewTokenSet(hashes map[string]string) (*TokenSet, error) {
	ts := &TokenSet{}
	for name, h := range hashes {
		raw, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("token %q: hash must be 64 hex characters", name)
		}
		ts.names = append(ts.names, name)
		ts.hashes = append(ts.hashes, raw)
	}
	return ts, nil
}

// Add registers a plaintext token under name.
func (ts *TokenSet) Add(name, token string) {
	sum := sha256.Sum256([]byte(token))
	ts.names = append(ts.names, name)
	ts.hashes = append(ts.hashes, sum[:])
}

// Len returns the number of accepted tokens.
func (ts *TokenSet) Len() int { return len(ts.hashes) }

// Verify returns the name of the token matching token.
// Every hash is compared so timing does not depend on which one matches.
func (ts *TokenSet) Verify(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	match := -1
	for i, h := range ts.hashes {
		if subtle.ConstantTimeCompare(sum[:], h) == 1 {
			match = i
		}
	}
	if match < 0 {
		return "", false
	}
	return ts.names[match], true
}
