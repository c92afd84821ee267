package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache stores product read models. A miss is reported as (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*Product, bool, error)
	Set(ctx context.Context, product *Product) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("product:%s", id)
}

func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (*Product, bool, error) {
	cached, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: failed to get product %s: %w", id, err)
	}

	var product Product
	if err := json.Unmarshal(cached, &product); err != nil {
		return nil, false, fmt.Errorf("cache: failed to decode product %s: %w", id, err)
	}
	return &product, true, nil
}

func (c *RedisCache) Set(ctx context.Context, product *Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("cache: failed to encode product %s: %w", product.ID, err)
	}
	if err := c.client.Set(ctx, cacheKey(product.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set product %s: %w", product.ID, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete product %s: %w", id, err)
	}
	return nil
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, uuid.UUID) (*Product, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, *Product) error { return nil }
func (NoopCache) Delete(context.Context, uuid.UUID) error { return nil }
