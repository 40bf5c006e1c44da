package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations the judge needs to mirror run state.
// The abstraction keeps the redis client out of the judge packages.
type Cache interface {
	KeyOps
	HashOps
	ListOps

	// Publish sends a message on a pub/sub channel
	Publish(ctx context.Context, channel string, message interface{}) error

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// KeyOps defines key lifetime operations
type KeyOps interface {
	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HMSet sets multiple fields in the hash stored at key
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error

	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ListOps defines list operations
type ListOps interface {
	// RPush appends values to the list stored at key
	RPush(ctx context.Context, key string, values ...interface{}) error

	// LRange returns the elements of the list between start and stop
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LTrim keeps only the elements between start and stop
	LTrim(ctx context.Context, key string, start, stop int64) error
}
