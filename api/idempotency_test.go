package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeduper(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisDeduper) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client, NewRedisDeduper(client, time.Minute)
}

func TestRedisDeduperAddRemove(t *testing.T) {
	_, _, deduper := newDeduper(t)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "move:k1")
	if err != nil || !added {
		t.Fatalf("expected key to be added, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "user", "move:k1")
	if err != nil || added {
		t.Fatalf("expected duplicate, got %v %v", added, err)
	}
	if added, _ := deduper.Add(ctx, "other", "move:k1"); !added {
		t.Fatalf("keys must be scoped per user")
	}

	if err := deduper.Remove(ctx, "user", "move:k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := deduper.Add(ctx, "user", "move:k1"); !added {
		t.Fatalf("expected key to be accepted again after removal")
	}
}

func TestRedisDeduperKeyNamespacingAndTTL(t *testing.T) {
	m, client, deduper := newDeduper(t)
	ctx := context.Background()
	const (
		userID = "user"
		key    = "session:k1"
	)

	if _, err := deduper.Add(ctx, userID, key); err != nil {
		t.Fatalf("add: %v", err)
	}
	expectedKey := userID + ":" + dedupeKeyPrefix + ":" + key
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}
	if ttl := m.TTL(expectedKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL %v", ttl)
	}
	m.FastForward(2 * time.Minute)
	if added, _ := deduper.Add(ctx, userID, key); !added {
		t.Fatalf("expected key to expire")
	}
}
