package cache

import (
	"context"
	"time"
)

// Backend is the storage strategy under a Gateway. Implementations decide
// whether tags are tracked; a backend without tag support must treat tag
// invalidation as a full flush.
type Backend interface {
	// Get returns found=false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) error
	InvalidateTags(ctx context.Context, tags []string) error
	Flush(ctx context.Context) error
	SupportsTags() bool
	Ping(ctx context.Context) error
	Close() error
}
