package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomToken returns byteLength bytes from crypto/rand, hex encoded.
// The result is 2*byteLength characters long.
func RandomToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("invalid token length %d", byteLength)
	}
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
