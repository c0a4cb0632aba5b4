package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-querycache/pkg/cache"
	"github.com/illmade-knight/go-querycache/pkg/config"
	"github.com/rs/zerolog"
)

// newStore builds the cache backend named by cfg.Store.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return cache.NewInMemoryStore(), nil
	case config.StoreLRU:
		store, err := cache.NewLRUStore(cfg.LRUMaxEntries)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		store, err := cache.NewRedisStore(ctx, cfg.RedisConfig(), logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := cache.NewFirestoreStore(cfg.FirestoreConfig(), fsClient, logger)
		if err != nil {
			_ = fsClient.Close()
			return nil, err
		}
		return &ownedFirestoreStore{FirestoreStore: store, client: fsClient}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// ownedFirestoreStore closes the Firestore client the process created for it.
type ownedFirestoreStore struct {
	*cache.FirestoreStore
	client *firestore.Client
}

func (s *ownedFirestoreStore) Close() error {
	_ = s.FirestoreStore.Close()
	return s.client.Close()
}
