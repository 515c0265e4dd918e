//go:build integration

package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/store/storetest"
	"github.com/redis/go-redis/v9"
)

// TestRealRedisConformance runs the shared suite against the Redis at
// REDIS_ADDR, which is flushed before each case. Key expiry cannot be
// fast-forwarded there, so the expiry checks are skipped.
func TestRealRedisConformance(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	storetest.Run(t, func(t *testing.T) storetest.Harness {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			t.Skipf("cannot connect to Redis at %s: %v", addr, err)
		}
		rdb.FlushDB(context.Background())
		t.Cleanup(func() {
			rdb.FlushDB(context.Background())
			_ = rdb.Close()
		})

		return storetest.Harness{
			Store: New(rdb, Options{Prefix: "gt-it"}),
			Now:   time.Now,
		}
	})
}
