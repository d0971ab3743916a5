package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryKeyStore(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := t.Context()

	// Test data
	testKey := &Key{
		ID:          "key-1",
		Key:         "rootline_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
		SourceID:    "prometheus-prod",
		Name:        "Prometheus Production Source",
		Permissions: []string{"alerts:write", "health:read"},
		CreatedAt:   time.Now(),
		Active:      true,
	}

	t.Run("add and find key", func(t *testing.T) {
		store := NewInMemoryKeyStore()

		err := store.Add(ctx, testKey)
		if err != nil {
			t.Errorf("Add() unexpected error: %v", err)
		}

		found, exists := store.FindByKey(ctx, testKey.Key)
		if !exists {
			t.Errorf("FindByKey() key not found")
		}

		if found.ID != testKey.ID {
			t.Errorf("FindByKey() ID = %v, want %v", found.ID, testKey.ID)
		}

		if found.SourceID != testKey.SourceID {
			t.Errorf("FindByKey() SourceID = %v, want %v", found.SourceID, testKey.SourceID)
		}
	})

	t.Run("find non-existent key", func(t *testing.T) {
		store := NewInMemoryKeyStore()

		found, exists := store.FindByKey(ctx, "non-existent-key")
		if exists {
			t.Errorf("FindByKey() found non-existent key")
		}

		if found != nil {
			t.Errorf("FindByKey() returned non-nil for non-existent key")
		}
	})

	t.Run("update existing key", func(t *testing.T) {
		store := NewInMemoryKeyStore()
		// Add initial key
		err := store.Add(ctx, testKey)
		if err != nil {
			t.Errorf("Add() unexpected error: %v", err)
		}

		// Update key
		updatedKey := &Key{
			ID:          testKey.ID,
			Key:         testKey.Key,
			SourceID:    testKey.SourceID,
			Name:        "Updated Prometheus Source",
			Permissions: []string{"alerts:write", "health:read", "topology:write"},
			CreatedAt:   testKey.CreatedAt,
			Active:      false, // Deactivate
		}

		err = store.Update(ctx, updatedKey)
		if err != nil {
			t.Errorf("Update() unexpected error: %v", err)
		}

		// Verify update
		found, exists := store.FindByKey(ctx, testKey.Key)
		if !exists {
			t.Errorf("FindByKey() updated key not found")
		}

		if found.Name != updatedKey.Name {
			t.Errorf("FindByKey() Name = %v, want %v", found.Name, updatedKey.Name)
		}

		if found.Active != false {
			t.Errorf("FindByKey() Active = %v, want false", found.Active)
		}

		if len(found.Permissions) != 3 {
			t.Errorf("FindByKey() Permissions length = %v, want 3", len(found.Permissions))
		}
	})

	t.Run("delete key", func(t *testing.T) {
		store := NewInMemoryKeyStore()
		// Add key first
		err := store.Add(ctx, testKey)
		if err != nil {
			t.Errorf("Add() unexpected error: %v", err)
		}

		err = store.Delete(ctx, testKey.ID)
		if err != nil {
			t.Errorf("Delete() unexpected error: %v", err)
		}

		// Verify deletion
		found, exists := store.FindByKey(ctx, testKey.Key)
		if exists {
			t.Errorf("FindByKey() found deleted key")
		}

		if found != nil {
			t.Errorf("FindByKey() returned non-nil for deleted key")
		}
	})

	t.Run("list by source", func(t *testing.T) {
		store := NewInMemoryKeyStore()
		// Add multiple keys for different alert sources
		key1 := &Key{
			ID:       "key-1",
			Key:      "rootline_ak_1111111111111111111111111111111111111111111111111111111111111111",
			SourceID: "prometheus-prod",
			Name:     "Prometheus Key 1",
			Active:   true,
		}
		key2 := &Key{
			ID:       "key-2",
			Key:      "rootline_ak_2222222222222222222222222222222222222222222222222222222222222222",
			SourceID: "prometheus-prod",
			Name:     "Prometheus Key 2",
			Active:   true,
		}
		key3 := &Key{
			ID:       "key-3",
			Key:      "rootline_ak_3333333333333333333333333333333333333333333333333333333333333333",
			SourceID: "grafana-staging",
			Name:     "Grafana Key 1",
			Active:   true,
		}

		err := store.Add(ctx, key1)
		if err != nil {
			t.Errorf("Add() unexpected error: %v", err)
		}

		err = store.Add(ctx, key2)
		if err != nil {
			t.Errorf("Add() unexpected error: %v", err)
		}

		err = store.Add(ctx, key3)
		if err != nil {
			t.Errorf("Add() unexpected error: %v", err)
		}

		promKeys, err := store.ListBySource(ctx, "prometheus-prod")
		if err != nil {
			t.Errorf("ListBySource() unexpected error: %v", err)
		}

		if len(promKeys) != 2 {
			t.Errorf("ListBySource() returned %d keys, want 2", len(promKeys))
		}

		grafanaKeys, err := store.ListBySource(ctx, "grafana-staging")
		if err != nil {
			t.Errorf("ListBySource() unexpected error: %v", err)
		}

		if len(grafanaKeys) != 1 {
			t.Errorf("ListBySource() returned %d keys, want 1", len(grafanaKeys))
		}

		// Test non-existent source
		nonKeys, err := store.ListBySource(ctx, "non-existent-source")
		if err != nil {
			t.Errorf("ListBySource() unexpected error: %v", err)
		}

		if len(nonKeys) != 0 {
			t.Errorf("ListBySource() returned %d keys for non-existent source, want 0", len(nonKeys))
		}
	})
}

func TestInMemoryKeyStoreConcurrency(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := t.Context()
	store := NewInMemoryKeyStore()

	// Test concurrent reads and writes
	t.Run("concurrent access", func(t *testing.T) {
		// This will test thread safety - multiple goroutines accessing store
		done := make(chan bool, 100)

		// Start multiple goroutines that add keys
		for i := 0; i < 50; i++ {
			go func(id int) {
				key := &Key{
					ID:       fmt.Sprintf("key-%d", id),
					Key:      fmt.Sprintf("rootline_ak_%064d", id), // 64 digit number padded with zeros
					SourceID: "test-source",
					Name:     fmt.Sprintf("Test Key %d", id),
					Active:   true,
				}

				err := store.Add(ctx, key)
				if err != nil {
					t.Errorf("Concurrent Add() unexpected error: %v", err)
				}

				done <- true
			}(i)
		}

		// Start multiple goroutines that read keys
		for i := 0; i < 50; i++ {
			go func(id int) {
				keyStr := fmt.Sprintf("rootline_ak_%064d", id)
				_, _ = store.FindByKey(ctx, keyStr) // Don't care about result, just testing concurrency

				done <- true
			}(i)
		}

		// Wait for all goroutines to complete
		for i := 0; i < 100; i++ {
			<-done
		}
	})
}

func TestInMemoryKeyStoreErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := t.Context()
	store := NewInMemoryKeyStore()

	t.Run("add duplicate key", func(t *testing.T) {
		key := &Key{
			ID:       "key-1",
			Key:      "rootline_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			SourceID: "test-source",
			Name:     "Test Key",
			Active:   true,
		}

		// Add key first time - should succeed
		err := store.Add(ctx, key)
		if err != nil {
			t.Errorf("Add() first time unexpected error: %v", err)
		}

		// Add same key again - should fail
		err = store.Add(ctx, key)
		if err == nil {
			t.Errorf("Add() duplicate key should return error")
		}
	})

	t.Run("update non-existent key", func(t *testing.T) {
		key := &Key{
			ID:       "non-existent-key",
			Key:      "rootline_ak_9999999999999999999999999999999999999999999999999999999999999999",
			SourceID: "test-source",
			Name:     "Non-existent Key",
			Active:   true,
		}

		err := store.Update(ctx, key)
		if err == nil {
			t.Errorf("Update() non-existent key should return error")
		}
	})

	t.Run("delete non-existent key", func(t *testing.T) {
		err := store.Delete(ctx, "non-existent-key")
		if err == nil {
			t.Errorf("Delete() non-existent key should return error")
		}
	})

	t.Run("add nil key", func(t *testing.T) {
		err := store.Add(ctx, nil)
		if !errors.Is(err, ErrKeyNil) {
			t.Errorf("Add() nil key should return ErrKeyNil, got %v", err)
		}
	})

	t.Run("update nil key", func(t *testing.T) {
		err := store.Update(ctx, nil)
		if !errors.Is(err, ErrKeyNil) {
			t.Errorf("Update() nil key should return ErrKeyNil, got %v", err)
		}
	})
}
