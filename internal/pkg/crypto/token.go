package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenEntropyBytes is the number of random bytes behind a bearer token.
const TokenEntropyBytes = 32

// GenerateToken generates an opaque bearer token: 32 random bytes encoded
// as 64 hex characters. Tokens carry no structure; all session state lives
// server side.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
