package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashKey generates a cache key by hashing the canonical request string.
// The key format is: prefix:hash(canonical)
func hashKey(prefix, canonical string) string {
	return fmt.Sprintf("%s:%s", prefix, Hash([]byte(canonical)))
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
