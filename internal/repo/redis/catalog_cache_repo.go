package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const catalogKey = "catalog:active_courses"

// CatalogCacheRepo keeps the serialized active-course list so the bot menu
// and the mini-app do not hit postgres on every open.
type CatalogCacheRepo struct {
	client *goredis.Client
}

func NewCatalogCacheRepo(client *goredis.Client) *CatalogCacheRepo {
	return &CatalogCacheRepo{client: client}
}

func (r *CatalogCacheRepo) Get(ctx context.Context, target any) (bool, error) {
	if r.client == nil {
		return false, nil
	}

	raw, err := r.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("get catalog cache: %w", err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		// A stale or corrupt entry behaves like a miss.
		return false, nil
	}
	return true, nil
}

func (r *CatalogCacheRepo) Set(ctx context.Context, value any, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal catalog cache: %w", err)
	}

	if err := r.client.Set(ctx, catalogKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set catalog cache: %w", err)
	}
	return nil
}

func (r *CatalogCacheRepo) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, catalogKey).Err(); err != nil {
		return fmt.Errorf("invalidate catalog cache: %w", err)
	}
	return nil
}
