package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedupe: быстрый фильтр повторных доставок вебхуков. Корректность держится
// на идемпотентности журнала; кэш лишь экономит обращения к базе.
type Dedupe interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

var (
	_ Dedupe = (*RedisDedupe)(nil)
	_ Dedupe = (*MemoryDedupe)(nil)
)

type RedisDedupe struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDedupe(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDedupe {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "wallet:webhook"
	}
	return &RedisDedupe{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDedupe) key(key string) string {
	return d.prefix + ":" + key
}

func (d *RedisDedupe) Seen(ctx context.Context, key string) (bool, error) {
	err := d.client.Get(ctx, d.key(key)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	return true, nil
}

func (d *RedisDedupe) Mark(ctx context.Context, key string) error {
	if err := d.client.Set(ctx, d.key(key), time.Now().UTC().Unix(), d.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// MemoryDedupe: замена Redis для локального запуска и тестов.
type MemoryDedupe struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

func NewMemoryDedupe(ttl time.Duration) *MemoryDedupe {
	return &MemoryDedupe{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

func (d *MemoryDedupe) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expires, ok := d.entries[key]
	if !ok {
		return false, nil
	}
	if d.now().After(expires) {
		delete(d.entries, key)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDedupe) Mark(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = d.now().Add(d.ttl)
	return nil
}
