// Package apikey provides the ingest authentication boundary: API key
// issuance, storage, and constant-time verification. It is a collaborator
// of the core engine, not part of it — ingest consumes an authenticated
// tenant tuple and does not otherwise depend on this package's internals.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	randomBytesSize = 32
	keyPrefix       = "tracelake_ak_" // pragma: allowlist secret
	apiKeyLength    = len(keyPrefix) + 2*randomBytesSize
	prefixLen       = 18
	suffixLen       = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrOrgIDEmpty is returned when organization ID is empty during key generation.
	ErrOrgIDEmpty = errors.New("organization ID cannot be empty")
	// ErrKeyStringEmpty is returned when key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// Key represents an API key scoped to one organization/project pair.
// This is a storage domain model — never serialized to JSON directly.
type Key struct {
	ID             string
	Hash           string // bcrypt hash — never exposed in API responses
	Plaintext      string `json:"-"` // set only at issuance time; never persisted
	OrganizationID string
	ProjectID      string
	Name           string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	Active         bool
}

// Store defines the interface for API key storage and retrieval.
type Store interface {
	// FindByKey retrieves an API key by its plaintext value.
	FindByKey(ctx context.Context, key string) (*Key, bool)
	// Add stores a new API key.
	Add(ctx context.Context, key *Key) error
	// Update modifies an existing API key.
	Update(ctx context.Context, key *Key) error
	// Delete soft-deletes an API key.
	Delete(ctx context.Context, keyID string) error
	// ListByOrganization returns all API keys for an organization.
	ListByOrganization(ctx context.Context, organizationID string) ([]*Key, error)
	// HealthCheck verifies the storage backend is healthy and ready to serve requests.
	HealthCheck(ctx context.Context) error
}

// ValidateKey performs constant-time comparison of the provided key's hash
// against this key's stored hash, rejecting inactive or expired keys first.
func (k *Key) ValidateKey(providedHash string) bool {
	if providedHash == "" || k.Hash == "" {
		return false
	}

	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}

	return SecureCompare(k.Hash, providedHash)
}

// SecureCompare performs constant-time comparison of two strings to prevent timing attacks.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for secure logging, showing only prefix and suffix.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)
	if keyLen == apiKeyLength {
		maskedLen := keyLen - prefixLen - suffixLen

		return key[:prefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-suffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// ComputeKeyLookupHash computes the SHA256 hash of an API key for O(1) lookup.
// This is distinct from the bcrypt hash used for security validation.
func ComputeKeyLookupHash(key string) string {
	hash := sha256.Sum256([]byte(key))

	return hex.EncodeToString(hash[:])
}

// GenerateAPIKey creates a new secure API key for an organization.
func GenerateAPIKey(organizationID string) (string, error) {
	if organizationID == "" {
		return "", ErrOrgIDEmpty
	}

	randomBytes := make([]byte, randomBytesSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return keyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts and validates the API key from a header value.
func ParseAPIKey(headerValue string) (string, error) {
	if headerValue == "" {
		return "", ErrKeyStringEmpty
	}

	key := strings.TrimPrefix(headerValue, "Bearer ")

	if !strings.HasPrefix(key, keyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(key) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return key, nil
}
