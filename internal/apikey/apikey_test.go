package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey_RoundTripsThroughParse(t *testing.T) {
	raw, err := GenerateAPIKey("org-1")
	require.NoError(t, err)

	parsed, err := ParseAPIKey("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed)
}

func TestGenerateAPIKey_EmptyOrganization(t *testing.T) {
	_, err := GenerateAPIKey("")
	assert.ErrorIs(t, err, ErrOrgIDEmpty)
}

func TestParseAPIKey_RejectsWrongPrefix(t *testing.T) {
	_, err := ParseAPIKey("wrong_prefix_abc")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestMaskKey_PreservesPrefixAndSuffix(t *testing.T) {
	raw, err := GenerateAPIKey("org-1")
	require.NoError(t, err)

	masked := MaskKey(raw)
	assert.True(t, len(masked) == len(raw))
	assert.NotEqual(t, raw, masked)
	assert.Equal(t, raw[:18], masked[:18])
	assert.Equal(t, raw[len(raw)-4:], masked[len(masked)-4:])
}

func TestHashAPIKey_VerifiesWithCompareAPIKeyHash(t *testing.T) {
	raw, err := GenerateAPIKey("org-1")
	require.NoError(t, err)

	hash, err := HashAPIKey(raw)
	require.NoError(t, err)

	assert.True(t, CompareAPIKeyHash(hash, raw))
	assert.False(t, CompareAPIKeyHash(hash, raw+"x"))
}

func TestKey_ValidateKey_RejectsInactiveOrExpired(t *testing.T) {
	hash, err := HashAPIKey("secret")
	require.NoError(t, err)

	active := &Key{Hash: hash, Active: true}
	assert.True(t, active.ValidateKey(hash))

	inactive := &Key{Hash: hash, Active: false}
	assert.False(t, inactive.ValidateKey(hash))

	past := time.Now().Add(-time.Hour)
	expired := &Key{Hash: hash, Active: true, ExpiresAt: &past}
	assert.False(t, expired.ValidateKey(hash))
}

func TestMemoryStore_AddFindDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	raw, err := GenerateAPIKey("org-1")
	require.NoError(t, err)

	hash, err := HashAPIKey(raw)
	require.NoError(t, err)

	k := &Key{ID: "k1", Plaintext: raw, Hash: hash, OrganizationID: "org-1", Active: true}
	require.NoError(t, store.Add(ctx, k))

	found, ok := store.FindByKey(ctx, raw)
	require.True(t, ok)
	assert.Equal(t, "k1", found.ID)

	require.ErrorIs(t, store.Add(ctx, k), ErrKeyAlreadyExists)

	require.NoError(t, store.Delete(ctx, "k1"))
	found, ok = store.FindByKey(ctx, raw)
	require.True(t, ok)
	assert.False(t, found.Active)
}

func TestMemoryStore_ListByOrganization(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i, id := range []string{"k1", "k2"} {
		raw, err := GenerateAPIKey("org-1")
		require.NoError(t, err)
		_ = i

		require.NoError(t, store.Add(ctx, &Key{ID: id, Plaintext: raw, OrganizationID: "org-1"}))
	}

	keys, err := store.ListByOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
