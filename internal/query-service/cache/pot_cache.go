package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct{ R *redis.Client }

func New(r *redis.Client) *Cache { return &Cache{R: r} }

// mesma chave escrita pelo notifier do settlement-worker
func keyPot(pot string) string { return "pot:current:" + pot }

func (c *Cache) GetPot(ctx context.Context, pot string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, keyPot(pot)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (c *Cache) SetPot(ctx context.Context, pot string, v any, ttl time.Duration) error {
	b, _ := json.Marshal(v)
	return c.R.Set(ctx, keyPot(pot), b, ttl).Err()
}
