package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) cache.Store) {
	t.Helper()
	ctx := context.Background()
	storedAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := func(v string) cache.Entry {
		return cache.Entry{Value: json.RawMessage(v), StoredAt: storedAt}
	}

	t.Run("Miss is not an error", func(t *testing.T) {
		store := newStore(t)

		_, ok, err := store.Get(ctx, "missing")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Set then Get returns the latest entry", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "patients::{}", entry(`[1,2]`)))
		require.NoError(t, store.Set(ctx, "patients::{}", entry(`[1,2,3]`)))
		got, ok, err := store.Get(ctx, "patients::{}")

		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `[1,2,3]`, string(got.Value))
		assert.True(t, storedAt.Equal(got.StoredAt))
	})

	t.Run("Delete removes only the key", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "a", entry(`1`)))
		require.NoError(t, store.Set(ctx, "b", entry(`2`)))

		require.NoError(t, store.Delete(ctx, "a"))
		require.NoError(t, store.Delete(ctx, "never-set"))

		_, okA, _ := store.Get(ctx, "a")
		_, okB, _ := store.Get(ctx, "b")
		assert.False(t, okA)
		assert.True(t, okB)
	})

	t.Run("DeleteMatching removes keys containing the pattern", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, `getWidgets::{"category":"a"}`, entry(`[1]`)))
		require.NoError(t, store.Set(ctx, `listwidgets::{}`, entry(`[2]`)))
		require.NoError(t, store.Set(ctx, `getDoctors::{}`, entry(`[3]`)))

		removed, err := store.DeleteMatching(ctx, "Widgets")

		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		_, ok, _ := store.Get(ctx, `getWidgets::{"category":"a"}`)
		assert.False(t, ok)
		_, ok, _ = store.Get(ctx, `listwidgets::{}`)
		assert.True(t, ok, "matching is case sensitive")
		_, ok, _ = store.Get(ctx, `getDoctors::{}`)
		assert.True(t, ok)
	})

	t.Run("Clear removes everything", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "a", entry(`1`)))
		require.NoError(t, store.Set(ctx, "b", entry(`2`)))

		require.NoError(t, store.Clear(ctx))

		_, okA, _ := store.Get(ctx, "a")
		_, okB, _ := store.Get(ctx, "b")
		assert.False(t, okA)
		assert.False(t, okB)
	})
}
