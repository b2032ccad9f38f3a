package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/storage/memory"
)

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncCacheFill: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})

	t.Run("close twice", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncCacheFill: true})
		require.NoError(t, err)
		assert.NoError(t, storage.Close())
		assert.NoError(t, storage.Close())
	})
}

func TestStorage_ReadThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	ctx := context.Background()

	cold.Seed(&entitlement.Record{ID: "cold-id", UserID: "user1", Status: entitlement.StatusPaid})

	records, err := storage.ListByUser(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cold-id", records[0].ID)

	// Hot was populated
	assert.Equal(t, 1, hot.Count("user1"))

	// Subsequent reads are served by Hot
	cold.Clear()
	records, err = storage.ListByUser(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entitlement.StatusPaid, records[0].Status)
}

func TestStorage_ReadThroughCachesLatestOnly(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	now := time.Now().UTC()
	cold.Seed(
		&entitlement.Record{ID: "old", UserID: "user1", CreatedAt: now.Add(-time.Hour)},
		&entitlement.Record{ID: "new", UserID: "user1", CreatedAt: now},
	)

	records, err := storage.ListByUser(context.Background(), "user1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	cached, err := hot.ListByUser(context.Background(), "user1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "new", cached[0].ID)
}

func TestStorage_EmptyColdIsNotCached(t *testing.T) {
	hot := memory.New()
	storage, err := New(Config{Hot: hot, Cold: memory.New()})
	require.NoError(t, err)

	records, err := storage.ListByUser(context.Background(), "user1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, hot.Count("user1"))
}

func TestStorage_WriteThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	ctx := context.Background()

	inserted, err := storage.Insert(ctx, entitlement.DefaultRecord("user1"))
	require.NoError(t, err)
	assert.Equal(t, 1, cold.Count("user1"))
	assert.Equal(t, 1, hot.Count("user1"))

	_, err = storage.Insert(ctx, entitlement.DefaultRecord("user1"))
	assert.ErrorIs(t, err, entitlement.ErrConflict)

	paid := entitlement.StatusPaid
	updated, err := storage.UpdateByUser(ctx, "user1", entitlement.Update{Status: &paid})
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, updated.ID)

	cached, err := hot.ListByUser(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusPaid, cached[0].Status)
}

func TestStorage_UpdateNotFoundEvictsHot(t *testing.T) {
	hot := memory.New()
	storage, err := New(Config{Hot: hot, Cold: memory.New()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, hot.Put(ctx, &entitlement.Record{ID: "stale", UserID: "user1"}))

	paid := entitlement.StatusPaid
	_, err = storage.UpdateByUser(ctx, "user1", entitlement.Update{Status: &paid})
	assert.ErrorIs(t, err, entitlement.ErrNotFound)
	assert.Equal(t, 0, hot.Count("user1"))
}

type brokenCache struct{}

func (brokenCache) ListByUser(context.Context, string) ([]*entitlement.Record, error) {
	return nil, errors.New("hot down")
}
func (brokenCache) Put(context.Context, *entitlement.Record) error { return errors.New("hot down") }
func (brokenCache) Evict(context.Context, string) error           { return nil }

func TestStorage_HotFailuresAreReported(t *testing.T) {
	cold := memory.New()
	var mu sync.Mutex
	var reported []error
	storage, err := New(Config{
		Hot:  brokenCache{},
		Cold: cold,
		AsyncErrorHandler: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.Insert(ctx, entitlement.DefaultRecord("user1"))
	require.NoError(t, err)

	records, err := storage.ListByUser(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reported, 2)
}

func TestStorage_AsyncCacheFill(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncCacheFill: true})
	require.NoError(t, err)

	cold.Seed(&entitlement.Record{UserID: "user1"})
	_, err = storage.ListByUser(context.Background(), "user1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return hot.Count("user1") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, storage.Close())
}
