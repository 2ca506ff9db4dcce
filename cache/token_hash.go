package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token so raw tokens never become cache keys.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
