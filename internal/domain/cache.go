package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. The live-screening path
// uses it for windowed counters and last-seen card positions; the API uses it
// for response caching.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetCardPosition retrieves the last seen position for a card.
	GetCardPosition(ctx context.Context, cardID string) (*CardPosition, error)

	// SetCardPosition records the last seen position for a card.
	SetCardPosition(ctx context.Context, cardID string, pos *CardPosition, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for live velocity screening (transaction count in a time window).
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CardPosition is the last observed location and time for a card, kept in
// cache for the live geo-velocity screen.
type CardPosition struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	HasGeo    bool      `json:"hasGeo"`
	Timestamp time.Time `json:"ts"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
