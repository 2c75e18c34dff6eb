// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"

	"github.com/tracelake/tracelake/internal/apikey"
)

// MockAPIKeyStore is a mock implementation of apikey.Store for testing.
type MockAPIKeyStore struct {
	FindByKeyFunc          func(ctx context.Context, key string) (*apikey.Key, bool)
	AddFunc                func(ctx context.Context, key *apikey.Key) error
	UpdateFunc             func(ctx context.Context, key *apikey.Key) error
	DeleteFunc             func(ctx context.Context, keyID string) error
	ListByOrganizationFunc func(ctx context.Context, organizationID string) ([]*apikey.Key, error)
	HealthCheckFunc        func(ctx context.Context) error
}

// FindByKey implements apikey.Store.FindByKey.
func (m *MockAPIKeyStore) FindByKey(ctx context.Context, key string) (*apikey.Key, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements apikey.Store.Add.
func (m *MockAPIKeyStore) Add(ctx context.Context, key *apikey.Key) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, key)
	}

	return nil
}

// Update implements apikey.Store.Update.
func (m *MockAPIKeyStore) Update(ctx context.Context, key *apikey.Key) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key)
	}

	return nil
}

// Delete implements apikey.Store.Delete.
func (m *MockAPIKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListByOrganization implements apikey.Store.ListByOrganization.
func (m *MockAPIKeyStore) ListByOrganization(ctx context.Context, organizationID string) ([]*apikey.Key, error) {
	if m.ListByOrganizationFunc != nil {
		return m.ListByOrganizationFunc(ctx, organizationID)
	}

	return []*apikey.Key{}, nil
}

// HealthCheck implements apikey.Store.HealthCheck.
func (m *MockAPIKeyStore) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}

	return nil
}
