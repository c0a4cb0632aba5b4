package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreEntry is the document layout. Fingerprints contain characters that
// are illegal in document IDs, so the clear-text key lives in a field.
type firestoreEntry struct {
	Key      string    `firestore:"key"`
	Value    string    `firestore:"value"`
	StoredAt time.Time `firestore:"storedAt"`
}

// FirestoreStore is a Store that keeps one document per cache key.
// Suitable for low volume deployments; Redis is the better fit under load.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore on an injected client.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Get retrieves the document for key. NotFound is a miss.
func (s *FirestoreStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	snap, err := s.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Entry{}, false, nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return Entry{}, false, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var doc firestoreEntry
	if err := snap.DataTo(&doc); err != nil {
		return Entry{}, false, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	return Entry{Value: []byte(doc.Value), StoredAt: doc.StoredAt}, true, nil
}

// Set writes the document for key.
func (s *FirestoreStore) Set(ctx context.Context, key string, entry Entry) error {
	doc := firestoreEntry{Key: key, Value: string(entry.Value), StoredAt: entry.StoredAt}
	if _, err := s.doc(key).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	return nil
}

// Delete removes the document for key.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", key, err)
	}
	return nil
}

// DeleteMatching walks the collection and removes documents whose key contains pattern.
func (s *FirestoreStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	return s.deleteWhere(ctx, func(key string) bool { return strings.Contains(key, pattern) })
}

// Clear removes every document in the collection.
func (s *FirestoreStore) Clear(ctx context.Context) error {
	_, err := s.deleteWhere(ctx, func(string) bool { return true })
	return err
}

func (s *FirestoreStore) deleteWhere(ctx context.Context, match func(key string) bool) (int, error) {
	iter := s.client.Collection(s.collectionName).Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("firestore iterate %s: %w", s.collectionName, err)
		}
		key, _ := snap.Data()["key"].(string)
		if !match(key) {
			continue
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return removed, fmt.Errorf("firestore delete for %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(key))
	return s.client.Collection(s.collectionName).Doc(hex.EncodeToString(sum[:]))
}
