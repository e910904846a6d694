package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/recipes"
)

// Source is the read contract served by Repository and Cached.
type Source interface {
	TrackedIngredients(ctx context.Context) ([]ledger.Ingredient, error)
	ActiveVariants(ctx context.Context) ([]recipes.Variant, error)
	Recipes(ctx context.Context) ([]recipes.Recipe, error)
	Variant(ctx context.Context, id int64) (recipes.Variant, error)
}

const (
	keyIngredients = "catalog:ingredients"
	keyVariants    = "catalog:variants"
	keyRecipes     = "catalog:recipes"
)

// Cached keeps list reads in Redis for a short TTL. Redis failures fall back
// to the source. Single-variant lookups always hit the source.
type Cached struct {
	next   Source
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next. A nil client or non-positive ttl disables caching.
func NewCached(next Source, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) Source {
	if client == nil || ttl <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

// TrackedIngredients implements Source.
func (c *Cached) TrackedIngredients(ctx context.Context) ([]ledger.Ingredient, error) {
	return cachedList(ctx, c, keyIngredients, c.next.TrackedIngredients)
}

// ActiveVariants implements Source.
func (c *Cached) ActiveVariants(ctx context.Context) ([]recipes.Variant, error) {
	return cachedList(ctx, c, keyVariants, c.next.ActiveVariants)
}

// Recipes implements Source.
func (c *Cached) Recipes(ctx context.Context) ([]recipes.Recipe, error) {
	return cachedList(ctx, c, keyRecipes, c.next.Recipes)
}

// Variant implements Source.
func (c *Cached) Variant(ctx context.Context, id int64) (recipes.Variant, error) {
	return c.next.Variant(ctx, id)
}

// Invalidate drops every cached list.
func (c *Cached) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, keyIngredients, keyVariants, keyRecipes).Err()
}

func cachedList[T any](ctx context.Context, c *Cached, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []T
		if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
			return out, nil
		}
		c.logger.Warn("catalog cache decode", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache read", slog.String("key", key), slog.Any("error", err))
	}
	out, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(out); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("catalog cache write", slog.String("key", key), slog.Any("error", err))
		}
	}
	return out, nil
}
