package cache

import (
	"context"
	"fmt"
	"time"

	fiberredis "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"
)

// KV is a plain key-value store with a whole-store reset.
// github.com/gofiber/storage/redis/v3 satisfies it.
type KV interface {
	GetWithContext(ctx context.Context, key string) ([]byte, error)
	SetWithContext(ctx context.Context, key string, val []byte, exp time.Duration) error
	DeleteWithContext(ctx context.Context, key string) error
	ResetWithContext(ctx context.Context) error
	Close() error
}

// NewKVStore connects a gofiber Redis storage. The storage panics when the
// server is unreachable; that is reported as an error here.
func NewKVStore(url string, poolSize int) (kv KV, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kv store connect: %v", r)
		}
	}()
	return fiberredis.New(fiberredis.Config{URL: url, PoolSize: poolSize}), nil
}

// connProvider is implemented by KV stores backed by a Redis connection,
// such as the gofiber storage.
type connProvider interface {
	Conn() redis.UniversalClient
}

// FlushBackend ignores tags. Any invalidation drops every key under the
// prefix. A store that cannot enumerate its keys is reset as a whole, so it
// must not share a database with anything else.
type FlushBackend struct {
	kv     KV
	prefix string
}

func NewFlushBackend(kv KV, prefix string) *FlushBackend {
	return &FlushBackend{kv: kv, prefix: prefix}
}

func (b *FlushBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.kv.GetWithContext(ctx, b.prefix+key)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

func (b *FlushBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, _ []string) error {
	return b.kv.SetWithContext(ctx, b.prefix+key, value, ttl)
}

func (b *FlushBackend) Delete(ctx context.Context, key string) error {
	return b.kv.DeleteWithContext(ctx, b.prefix+key)
}

func (b *FlushBackend) InvalidateTags(ctx context.Context, _ []string) error {
	return b.Flush(ctx)
}

func (b *FlushBackend) Flush(ctx context.Context) error {
	if c, ok := b.kv.(connProvider); ok && b.prefix != "" {
		return deleteMatching(ctx, c.Conn(), b.prefix+"*")
	}
	return b.kv.ResetWithContext(ctx)
}

func (b *FlushBackend) SupportsTags() bool { return false }

func (b *FlushBackend) Ping(ctx context.Context) error {
	_, err := b.kv.GetWithContext(ctx, b.prefix+"__health_check__")
	return err
}

func (b *FlushBackend) Close() error { return b.kv.Close() }
