// Package middleware provides HTTP middleware components for the Rootline API.
package middleware

import (
	"context"

	"github.com/rootline-io/rootline/internal/storage"
)

// MockKeyStore is a function-field mock of storage.KeyStore for tests.
type MockKeyStore struct {
	FindByKeyFunc    func(ctx context.Context, key string) (*storage.Key, bool)
	AddFunc          func(ctx context.Context, apiKey *storage.Key) error
	UpdateFunc       func(ctx context.Context, apiKey *storage.Key) error
	DeleteFunc       func(ctx context.Context, keyID string) error
	ListBySourceFunc func(ctx context.Context, sourceID string) ([]*storage.Key, error)
}

// FindByKey implements storage.KeyStore.
func (m *MockKeyStore) FindByKey(ctx context.Context, key string) (*storage.Key, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements storage.KeyStore.
func (m *MockKeyStore) Add(ctx context.Context, apiKey *storage.Key) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

// Update implements storage.KeyStore.
func (m *MockKeyStore) Update(ctx context.Context, apiKey *storage.Key) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, apiKey)
	}

	return nil
}

// Delete implements storage.KeyStore.
func (m *MockKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListBySource implements storage.KeyStore.
func (m *MockKeyStore) ListBySource(ctx context.Context, sourceID string) ([]*storage.Key, error) {
	if m.ListBySourceFunc != nil {
		return m.ListBySourceFunc(ctx, sourceID)
	}

	return []*storage.Key{}, nil
}
