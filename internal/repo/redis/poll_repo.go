package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const pollPrefix = "chain_poll:"

// PollRepo counts chain-verification polls per attempt inside a rolling
// window so that a buyer hammering "I paid" cannot turn every tap into an
// indexer round-trip.
type PollRepo struct {
	client *goredis.Client
}

func NewPollRepo(client *goredis.Client) *PollRepo {
	return &PollRepo{client: client}
}

func (r *PollRepo) IncrementWindow(ctx context.Context, attemptID int64, window time.Duration) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, fmt.Errorf("redis client is nil")
	}
	if attemptID <= 0 || window <= 0 {
		return 0, 0, fmt.Errorf("invalid poll window payload")
	}

	key := pollKey(attemptID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("increment poll key: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("set poll key ttl: %w", err)
		}
	}

	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read poll key ttl: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}

	return count, ttl, nil
}

func pollKey(attemptID int64) string {
	return pollPrefix + strconv.FormatInt(attemptID, 10)
}
