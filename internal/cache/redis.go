package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses url and returns a client with the given pool size.
func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// TaggedBackend keeps tag membership in Redis sets so a tag can be evicted
// without touching unrelated keys.
type TaggedBackend struct {
	client redis.UniversalClient
	prefix string
	// tagTTL bounds tag set lifetime and must cover the longest entry TTL.
	tagTTL time.Duration
}

// NewTaggedBackend wraps client. maxTTL is the longest TTL any entry will get.
func NewTaggedBackend(client redis.UniversalClient, prefix string, maxTTL time.Duration) *TaggedBackend {
	return &TaggedBackend{client: client, prefix: prefix, tagTTL: maxTTL + time.Minute}
}

func (b *TaggedBackend) key(k string) string    { return b.prefix + k }
func (b *TaggedBackend) tagKey(t string) string { return b.prefix + "tag:" + t }

func (b *TaggedBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *TaggedBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	full := b.key(key)
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, full, value, ttl)
		for _, t := range tags {
			p.SAdd(ctx, b.tagKey(t), full)
			p.Expire(ctx, b.tagKey(t), b.tagTTL)
		}
		return nil
	})
	return err
}

func (b *TaggedBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.key(key)).Err()
}

func (b *TaggedBackend) InvalidateTags(ctx context.Context, tags []string) error {
	for _, t := range tags {
		tk := b.tagKey(t)
		members, err := b.client.SMembers(ctx, tk).Result()
		if err != nil {
			return fmt.Errorf("tag %s members: %w", t, err)
		}
		if err := b.client.Del(ctx, append(members, tk)...).Err(); err != nil {
			return fmt.Errorf("tag %s delete: %w", t, err)
		}
	}
	return nil
}

// Flush deletes every key under the prefix.
func (b *TaggedBackend) Flush(ctx context.Context) error {
	return deleteMatching(ctx, b.client, b.prefix+"*")
}

// deleteMatching SCANs for pattern and deletes the keys in batches.
func deleteMatching(ctx context.Context, client redis.UniversalClient, pattern string) error {
	iter := client.Scan(ctx, 0, pattern, 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return client.Del(ctx, batch...).Err()
	}
	return nil
}

func (b *TaggedBackend) SupportsTags() bool { return true }

func (b *TaggedBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op: the client is shared with the delay queue and closed by its owner.
func (b *TaggedBackend) Close() error { return nil }
