package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers consumed message ids in Redis so redelivered events are
// skipped by every worker replica.
type Deduper struct {
	client *redis.Client
	prefix string
}

func NewDeduper(client *redis.Client, prefix string) *Deduper {
	return &Deduper{client: client, prefix: prefix}
}

func (d *Deduper) key(k string) string {
	return fmt.Sprintf("dedupe:%s:%s", d.prefix, k)
}

func (d *Deduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check message: %w", err)
	}
	return n > 0, nil
}

func (d *Deduper) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := d.client.Set(ctx, d.key(key), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("mark message: %w", err)
	}
	return nil
}
