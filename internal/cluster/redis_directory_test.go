package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisClient creates a Redis client for testing.
// Tests that require a running Redis instance are skipped automatically.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use a separate DB for tests
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisDirectory(t *testing.T) {
	client := newTestRedisClient(t)
	key := "pulsar:test:actions:" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { client.Del(context.Background(), key) })

	testDirectory(t, NewRedisDirectory(client, key))
}

func TestRedisDirectory_DefaultKey(t *testing.T) {
	d := NewRedisDirectory(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	if d.key != DefaultRedisDirectoryKey {
		t.Fatalf("expected %s, got %s", DefaultRedisDirectoryKey, d.key)
	}
}
