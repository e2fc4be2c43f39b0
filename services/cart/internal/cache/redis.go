package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

var ErrCacheMiss = errors.New("cache miss")

// CartCache holds read copies of open carts keyed by session.
type CartCache interface {
	Get(ctx context.Context, sessionID string) (*models.Cart, error)
	Set(ctx context.Context, cart *models.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{client: client, baseTTL: baseTTL}
}

func cacheKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// ttl spreads expirations by up to a fifth of the base TTL.
func (c *RedisCache) ttl() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(c.baseTTL/5) + 1))
	return c.baseTTL + jitter
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (*models.Cart, error) {
	raw, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var cart models.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("decode cached cart: %w", err)
	}
	return &cart, nil
}

func (c *RedisCache) Set(ctx context.Context, cart *models.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(cart.SessionID), raw, c.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Nop is used when REDIS_ADDR is empty.
type Nop struct{}

func (Nop) Get(context.Context, string) (*models.Cart, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, *models.Cart) error            { return nil }
func (Nop) Delete(context.Context, string) error               { return nil }
