package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestPollRepoCountsWithinWindow(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewPollRepo(client)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := repo.IncrementWindow(ctx, 7, time.Minute)
		if err != nil {
			t.Fatalf("increment window: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Fatalf("unexpected ttl: %s", ttl)
		}
	}
}

func TestPollRepoResetsAfterWindowExpiry(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewPollRepo(client)
	ctx := context.Background()

	if _, _, err := repo.IncrementWindow(ctx, 7, time.Minute); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	count, _, err := repo.IncrementWindow(ctx, 7, time.Minute)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window count 1, got %d", count)
	}
}

func TestPollRepoRejectsInvalidInput(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewPollRepo(client)
	if _, _, err := repo.IncrementWindow(context.Background(), 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero attempt id")
	}
	if _, _, err := repo.IncrementWindow(context.Background(), 7, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestCatalogCacheRoundTrip(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewCatalogCacheRepo(client)
	ctx := context.Background()

	type course struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}

	var missed []course
	hit, err := repo.Get(ctx, &missed)
	if err != nil {
		t.Fatalf("get empty cache: %v", err)
	}
	if hit {
		t.Fatalf("empty cache must miss")
	}

	stored := []course{{ID: 42, Title: "Daromad kursi"}}
	if err := repo.Set(ctx, stored, time.Minute); err != nil {
		t.Fatalf("set cache: %v", err)
	}

	var loaded []course
	hit, err = repo.Get(ctx, &loaded)
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if !hit || len(loaded) != 1 || loaded[0].ID != 42 {
		t.Fatalf("unexpected cache contents: hit=%v %+v", hit, loaded)
	}

	if err := repo.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate cache: %v", err)
	}
	hit, err = repo.Get(ctx, &loaded)
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if hit {
		t.Fatalf("cache must miss after invalidate")
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
