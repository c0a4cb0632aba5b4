package cache_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/illmade-knight/go-querycache/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) cache.Store {
		store, err := cache.NewLRUStore(100)
		require.NoError(t, err)
		return store
	})
}

func TestLRUStore_Eviction(t *testing.T) {
	ctx := context.Background()
	entry := cache.Entry{Value: json.RawMessage(`1`)}

	t.Run("Least recently used key is evicted", func(t *testing.T) {
		// Arrange: a store with room for two entries.
		store, err := cache.NewLRUStore(2)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, "key1", entry))
		require.NoError(t, store.Set(ctx, "key2", entry))

		// Act: touch key1 so key2 becomes the least recently used, then overflow.
		_, ok, _ := store.Get(ctx, "key1")
		require.True(t, ok)
		require.NoError(t, store.Set(ctx, "key3", entry))

		// Assert
		assert.Equal(t, 2, store.Len())
		_, ok, _ = store.Get(ctx, "key2")
		assert.False(t, ok, "key2 should have been evicted")
		_, ok, _ = store.Get(ctx, "key1")
		assert.True(t, ok)
		_, ok, _ = store.Get(ctx, "key3")
		assert.True(t, ok)
	})

	t.Run("Overwriting does not grow the store", func(t *testing.T) {
		store, err := cache.NewLRUStore(2)
		require.NoError(t, err)

		require.NoError(t, store.Set(ctx, "key1", entry))
		require.NoError(t, store.Set(ctx, "key1", cache.Entry{Value: json.RawMessage(`2`)}))

		assert.Equal(t, 1, store.Len())
		got, _, _ := store.Get(ctx, "key1")
		assert.JSONEq(t, `2`, string(got.Value))
	})

	t.Run("Invalid size", func(t *testing.T) {
		_, err := cache.NewLRUStore(0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maxEntries must be greater than 0")
	})
}
