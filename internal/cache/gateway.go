package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"task-manager/pkg/logger"
)

// DefaultTTL applies when no TTL option is given.
const DefaultTTL = time.Hour

// Gateway memoizes read results on a Backend. Every backend failure is logged
// and absorbed: reads fall through to the producer and writes report false.
type Gateway struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTTL sets the entry lifetime and the upper bound for RememberFor overrides.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock sets the clock used for envelope expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a Gateway over backend.
func New(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{backend: backend, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Stats is a snapshot of gateway counters.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Errors       int64 `json:"errors"`
	SupportsTags bool  `json:"supports_tags"`
}

// Stats returns the current counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Hits:         g.hits.Load(),
		Misses:       g.misses.Load(),
		Errors:       g.errors.Load(),
		SupportsTags: g.backend.SupportsTags(),
	}
}

// TTL returns the default entry lifetime.
func (g *Gateway) TTL() time.Duration { return g.ttl }

// Ping checks the backend.
func (g *Gateway) Ping(ctx context.Context) error { return g.backend.Ping(ctx) }

// Close releases the backend.
func (g *Gateway) Close() error { return g.backend.Close() }

type envelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

// Remember returns the cached value for key, or runs producer and caches its
// result under tags for the default TTL. Producer errors are returned and not cached.
func Remember[T any](ctx context.Context, g *Gateway, key string, tags []string, producer func(context.Context) (T, error)) (T, error) {
	return RememberFor(ctx, g, key, tags, func(ctx context.Context) (T, time.Duration, error) {
		v, err := producer(ctx)
		return v, 0, err
	})
}

// RememberFor is Remember with a producer that can shorten the TTL of the
// entry it produces. A zero TTL means the default; longer TTLs are capped.
func RememberFor[T any](ctx context.Context, g *Gateway, key string, tags []string, producer func(context.Context) (T, time.Duration, error)) (T, error) {
	var zero T
	if v, ok := lookup[T](ctx, g, key); ok {
		return v, nil
	}

	res, err, _ := g.group.Do(key, func() (interface{}, error) {
		v, ttl, err := producer(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		g.store(ctx, key, v, ttl, tags)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("cache: shared result for %q has type %T", key, res)
	}
	return v, nil
}

func lookup[T any](ctx context.Context, g *Gateway, key string) (T, bool) {
	var zero T
	raw, ok := g.read(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache decode failed", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// read returns the raw value of a live entry and updates counters.
func (g *Gateway) read(ctx context.Context, key string) (json.RawMessage, bool) {
	b, found, err := g.backend.Get(ctx, key)
	if err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		g.misses.Add(1)
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache envelope decode failed", "key", key, "error", err)
		return nil, false
	}
	if !g.now().Before(env.ExpiresAt) {
		g.misses.Add(1)
		return nil, false
	}
	g.hits.Add(1)
	return env.Value, true
}

func (g *Gateway) store(ctx context.Context, key string, value any, ttl time.Duration, tags []string) bool {
	if ttl <= 0 || ttl > g.ttl {
		ttl = g.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache encode failed", "key", key, "error", err)
		return false
	}
	b, err := json.Marshal(envelope{ExpiresAt: g.now().Add(ttl), Value: raw})
	if err != nil {
		g.errors.Add(1)
		return false
	}
	if !g.backend.SupportsTags() {
		tags = nil
	}
	if err := g.backend.Set(ctx, key, b, ttl, tags); err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Put stores value under key with the default TTL.
func (g *Gateway) Put(ctx context.Context, key string, value any, tags []string) bool {
	return g.store(ctx, key, value, 0, tags)
}

// Has reports whether key holds a live entry.
func (g *Gateway) Has(ctx context.Context, key string) bool {
	_, ok := g.read(ctx, key)
	return ok
}

// Forget removes a single key.
func (g *Gateway) Forget(ctx context.Context, key string) bool {
	if err := g.backend.Delete(ctx, key); err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache forget failed", "key", key, "error", err)
		return false
	}
	return true
}

// InvalidateTag evicts every entry stored under tag.
func (g *Gateway) InvalidateTag(ctx context.Context, tag string) bool {
	return g.InvalidateTags(ctx, []string{tag})
}

// InvalidateTags evicts every entry stored under any of tags. Backends without
// tag support flush everything.
func (g *Gateway) InvalidateTags(ctx context.Context, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	var err error
	if g.backend.SupportsTags() {
		err = g.backend.InvalidateTags(ctx, tags)
	} else {
		err = g.backend.Flush(ctx)
	}
	if err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache invalidation failed", "tags", tags, "error", err)
		return false
	}
	return true
}

// Flush clears every entry owned by the gateway.
func (g *Gateway) Flush(ctx context.Context) bool {
	if err := g.backend.Flush(ctx); err != nil {
		g.errors.Add(1)
		logger.Warn(ctx, "Cache flush failed", "error", err)
		return false
	}
	return true
}
