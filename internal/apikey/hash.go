package apikey

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 = ~60ms per hash, a balance between brute-force resistance
	// and ingest-path latency; raise to 12 if that balance shifts.
	bcryptCost  = 10
	bcryptLimit = 72
)

// HashAPIKey generates a bcrypt hash of a plaintext key for storage. The key
// is never persisted in plaintext — only this hash is.
//
// Bcrypt truncates input past 72 bytes, so keys longer than that are
// pre-hashed with SHA-256 to keep the full key material significant.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", ErrKeyNil
	}

	input := bcryptInput(key)

	hash, err := bcrypt.GenerateFromPassword(input, bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash reports whether key matches the stored bcrypt hash, using
// bcrypt's own constant-time comparison. Any error (malformed hash, empty
// input) is treated as a mismatch rather than propagated.
func CompareAPIKeyHash(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(key))

	return err == nil
}

func bcryptInput(key string) []byte {
	if len(key) <= bcryptLimit {
		return []byte(key)
	}

	sum := sha256.Sum256([]byte(key))

	return sum[:]
}
