package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test database
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := New(setupTestRedis(t), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		client     redis.UniversalClient
		config     Config
		wantErr    bool
		wantPrefix string
	}{
		{
			name:    "nil client",
			client:  nil,
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:       "valid client with default config",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     DefaultConfig(),
			wantPrefix: "slideai:",
		},
		{
			name:       "empty config gets defaults",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     Config{},
			wantPrefix: "slideai:",
		},
		{
			name:       "custom prefix",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     Config{KeyPrefix: "test:"},
			wantPrefix: "test:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := New(tt.client, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if storage.config.KeyPrefix != tt.wantPrefix {
				t.Errorf("KeyPrefix = %q, want %q", storage.config.KeyPrefix, tt.wantPrefix)
			}
			if storage.config.MaxRetries != 3 {
				t.Errorf("MaxRetries = %d, want 3", storage.config.MaxRetries)
			}
			if got := storage.recordKey("u1"); got != tt.wantPrefix+"sub:u1" {
				t.Errorf("recordKey = %q", got)
			}
		})
	}
}

func TestStorage_InsertAndList(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	records, err := storage.ListByUser(ctx, "user1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected no records, got %d", len(records))
	}

	inserted, err := storage.Insert(ctx, entitlement.DefaultRecord("user1"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	records, err = storage.ListByUser(ctx, "user1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != inserted.ID {
		t.Fatalf("Expected inserted record, got %+v", records)
	}
	if records[0].Status != entitlement.StatusFree || !records[0].IsActive {
		t.Errorf("Unexpected defaults: %+v", records[0])
	}
}

func TestStorage_ConcurrentInsertSingleWinner(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.Insert(ctx, entitlement.DefaultRecord("racer"))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, entitlement.ErrConflict) {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected one winner, got %d", wins)
	}
}

func TestStorage_UpdateByUser(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.Insert(ctx, entitlement.DefaultRecord("user1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	count := 1
	used := true
	rec, err := storage.UpdateByUser(ctx, "user1", entitlement.Update{
		PresentationsGenerated: &count, FreeTrialUsed: &used,
	})
	if err != nil {
		t.Fatalf("UpdateByUser failed: %v", err)
	}
	if rec.PresentationsGenerated != 1 || !rec.FreeTrialUsed {
		t.Errorf("Unexpected record: %+v", rec)
	}

	paid := entitlement.StatusPaid
	rec, err = storage.UpdateByUser(ctx, "user1", entitlement.Update{Status: &paid})
	if err != nil {
		t.Fatalf("UpdateByUser failed: %v", err)
	}

	records, _ := storage.ListByUser(ctx, "user1")
	if records[0].Status != entitlement.StatusPaid || records[0].PresentationsGenerated != 1 {
		t.Errorf("Update not persisted: %+v", records[0])
	}
	if rec.ID != records[0].ID {
		t.Errorf("Expected same id, got %s and %s", rec.ID, records[0].ID)
	}
}

func TestStorage_UpdateByUser_NotFound(t *testing.T) {
	storage := setupTestStorage(t)

	paid := entitlement.StatusPaid
	_, err := storage.UpdateByUser(context.Background(), "ghost", entitlement.Update{Status: &paid})
	if !errors.Is(err, entitlement.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStorage_UpdateByUser_CountNeverDecreases(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.Insert(ctx, entitlement.DefaultRecord("user1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	two, one := 2, 1
	if _, err := storage.UpdateByUser(ctx, "user1", entitlement.Update{PresentationsGenerated: &two}); err != nil {
		t.Fatalf("UpdateByUser failed: %v", err)
	}
	if _, err := storage.UpdateByUser(ctx, "user1", entitlement.Update{PresentationsGenerated: &one}); err != nil {
		t.Fatalf("UpdateByUser failed: %v", err)
	}

	records, _ := storage.ListByUser(ctx, "user1")
	if records[0].PresentationsGenerated != 2 {
		t.Errorf("Expected count to stay at 2, got %d", records[0].PresentationsGenerated)
	}
}

func TestStorage_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	storage := setupTestStorage(t)
	storage.config.MaxRetries = 50
	ctx := context.Background()

	if _, err := storage.Insert(ctx, entitlement.DefaultRecord("user1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	var wg sync.WaitGroup
	ref := "order-1"
	wg.Add(2)
	go func() {
		defer wg.Done()
		paid := entitlement.StatusPaid
		if _, err := storage.UpdateByUser(ctx, "user1", entitlement.Update{Status: &paid}); err != nil {
			t.Errorf("status update failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := storage.UpdateByUser(ctx, "user1", entitlement.Update{PaymentReference: &ref}); err != nil {
			t.Errorf("reference update failed: %v", err)
		}
	}()
	wg.Wait()

	records, _ := storage.ListByUser(ctx, "user1")
	if records[0].Status != entitlement.StatusPaid {
		t.Errorf("Lost status update: %+v", records[0])
	}
	if records[0].PaymentReference == nil || *records[0].PaymentReference != ref {
		t.Errorf("Lost reference update: %+v", records[0])
	}
}

func TestStorage_PutEvict(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	rec := entitlement.DefaultRecord("user1")
	rec.ID = "cached"
	if err := storage.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	records, _ := storage.ListByUser(ctx, "user1")
	if len(records) != 1 || records[0].ID != "cached" {
		t.Fatalf("Expected cached record, got %+v", records)
	}

	if err := storage.Evict(ctx, "user1"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	records, _ = storage.ListByUser(ctx, "user1")
	if len(records) != 0 {
		t.Errorf("Expected eviction, got %+v", records)
	}
}
