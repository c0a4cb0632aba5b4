// Package config loads the querycache process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/go-querycache/pkg/api"
	"github.com/illmade-knight/go-querycache/pkg/cache"
	"github.com/illmade-knight/go-querycache/pkg/query"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreLRU       = "lru"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string `env:"QUERYCACHE_LOG_LEVEL" envDefault:"info"`
	HTTPPort string `env:"QUERYCACHE_HTTP_PORT" envDefault:":8080"`

	CacheTime    time.Duration `env:"QUERYCACHE_CACHE_TIME"    envDefault:"5m"`
	Debounce     time.Duration `env:"QUERYCACHE_DEBOUNCE"      envDefault:"300ms"`
	PollInterval time.Duration `env:"QUERYCACHE_POLL_INTERVAL" envDefault:"30s"`
	PageSize     int           `env:"QUERYCACHE_PAGE_SIZE"     envDefault:"20"`

	Store         string `env:"QUERYCACHE_STORE"           envDefault:"memory"`
	LRUMaxEntries int    `env:"QUERYCACHE_LRU_MAX_ENTRIES" envDefault:"1000"`

	RedisAddr      string        `env:"QUERYCACHE_REDIS_ADDR"       envDefault:"localhost:6379"`
	RedisPassword  string        `env:"QUERYCACHE_REDIS_PASSWORD"`
	RedisDB        int           `env:"QUERYCACHE_REDIS_DB"`
	RedisKeyPrefix string        `env:"QUERYCACHE_REDIS_KEY_PREFIX" envDefault:"querycache:"`
	RedisEntryTTL  time.Duration `env:"QUERYCACHE_REDIS_ENTRY_TTL"`

	ProjectID           string `env:"QUERYCACHE_PROJECT_ID"`
	FirestoreCollection string `env:"QUERYCACHE_FIRESTORE_COLLECTION" envDefault:"querycache"`
	// InvalidationSubscription enables the change-event listener when set.
	InvalidationSubscription string `env:"QUERYCACHE_INVALIDATION_SUBSCRIPTION"`

	APIBaseURL string        `env:"QUERYCACHE_API_BASE_URL,required"`
	APIToken   string        `env:"QUERYCACHE_API_TOKEN"`
	APITimeout time.Duration `env:"QUERYCACHE_API_TIMEOUT" envDefault:"10s"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be expressed as env tags.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreLRU, StoreRedis:
	case StoreFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("firestore store requires QUERYCACHE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.Store == StoreLRU && c.LRUMaxEntries <= 0 {
		return fmt.Errorf("lru store requires a positive QUERYCACHE_LRU_MAX_ENTRIES")
	}
	if c.InvalidationSubscription != "" && c.ProjectID == "" {
		return fmt.Errorf("invalidation subscription requires QUERYCACHE_PROJECT_ID")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}
	return nil
}

// ClientConfig returns the query client defaults.
func (c *Config) ClientConfig() query.ClientConfig {
	return query.ClientConfig{CacheTime: c.CacheTime, Debounce: c.Debounce}
}

// RedisConfig returns the Redis store settings.
func (c *Config) RedisConfig() *cache.RedisConfig {
	return &cache.RedisConfig{
		Addr:      c.RedisAddr,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		KeyPrefix: c.RedisKeyPrefix,
		EntryTTL:  c.RedisEntryTTL,
	}
}

// FirestoreConfig returns the Firestore store settings.
func (c *Config) FirestoreConfig() *cache.FirestoreConfig {
	return &cache.FirestoreConfig{ProjectID: c.ProjectID, CollectionName: c.FirestoreCollection}
}

// APIConfig returns the backend client settings.
func (c *Config) APIConfig() api.Config {
	return api.Config{BaseURL: c.APIBaseURL, Token: c.APIToken, Timeout: c.APITimeout}
}

// PageSizeClamped returns PageSize within the paginator's limits.
func (c *Config) PageSizeClamped() int {
	return query.ClampPageSize(c.PageSize, query.DefaultPageSizes)
}
