package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces every key this store writes. Defaults to "querycache:".
	KeyPrefix string
	// EntryTTL is a hard expiry applied by Redis. Zero keeps entries until deleted;
	// freshness is still decided by the response cache.
	EntryTTL time.Duration
	// ScanCount is the COUNT hint used when scanning for pattern deletes.
	ScanCount int64
}

// RedisStore is a Store backed by Redis, letting several processes share one response cache.
type RedisStore struct {
	client    redis.UniversalClient
	logger    zerolog.Logger
	prefix    string
	ttl       time.Duration
	scanCount int64
}

// NewRedisStore creates and connects a RedisStore. It pings the Redis server
// to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewRedisStoreWithClient(rdb, cfg, logger), nil
}

// NewRedisStoreWithClient wraps an existing client. The store takes ownership
// of the client and closes it on Close.
func NewRedisStoreWithClient(client redis.UniversalClient, cfg *RedisConfig, logger zerolog.Logger) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "querycache:"
	}
	scanCount := cfg.ScanCount
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisStore{
		client:    client,
		logger:    logger.With().Str("component", "RedisStore").Logger(),
		prefix:    prefix,
		ttl:       cfg.EntryTTL,
		scanCount: scanCount,
	}
}

// Get retrieves an entry. A redis.Nil reply is a normal miss.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		return Entry{}, false, fmt.Errorf("redis get for %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached entry.")
		return Entry{}, false, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	s.logger.Debug().Str("key", key).Msg("Redis cache hit.")
	return entry, true, nil
}

// Set stores an entry with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set entry in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del for %s: %w", key, err)
	}
	return nil
}

// DeleteMatching scans for keys containing pattern and deletes them.
func (s *RedisStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	return s.deleteByGlob(ctx, escapeGlob(s.prefix)+"*"+escapeGlob(pattern)+"*")
}

// Clear removes every key under the store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.deleteByGlob(ctx, escapeGlob(s.prefix)+"*")
	return err
}

func (s *RedisStore) deleteByGlob(ctx context.Context, glob string) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, glob, s.scanCount).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del for %s: %w", iter.Val(), err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan for %s: %w", glob, err)
	}
	return removed, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.client.Close()
	}
	return nil
}

// escapeGlob quotes the characters Redis MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
