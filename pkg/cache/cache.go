// Package cache provides the response cache shared by every query consumer,
// together with the storage backends it can sit on.
package cache

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Entry is a cached result: the JSON encoding of the most recent successful
// response for a key and the time it was stored.
type Entry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
}

// Store is the backend contract for the response cache. A missing key is not
// an error: Get reports it through the boolean.
type Store interface {
	// Get retrieves the entry stored under key.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores entry under key, replacing any previous entry.
	Set(ctx context.Context, key string, entry Entry) error
	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes every key containing pattern and reports how many were removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	io.Closer
}
