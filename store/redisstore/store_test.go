package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/store"
	"github.com/MrEthical07/goToken/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newRedisStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(rdb, Options{Prefix: "gt", Now: clock.Now}), mr, clock
}

func TestRedisStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s, mr, clock := newRedisStoreTest(t)
		return storetest.Harness{
			Store: s,
			Now:   clock.Now,
			Advance: func(d time.Duration) {
				clock.mu.Lock()
				clock.now = clock.now.Add(d)
				clock.mu.Unlock()
				mr.FastForward(d)
			},
		}
	})
}

func TestRedisStoreKeysCarryNoRawToken(t *testing.T) {
	s, mr, clock := newRedisStoreTest(t)
	ctx := context.Background()

	rec, err := s.InsertRefreshRecord(ctx, storetest.NewRecord(clock.Now(), "fam-1", "hash-abc"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got, _ := mr.Get("gt:rth:hash-abc"); got != rec.ID {
		t.Fatalf("expected hash index to point at %s, got %q", rec.ID, got)
	}
	if !mr.Exists("gt:rt:" + rec.ID) {
		t.Fatal("expected record hash key")
	}
	members, err := mr.Members("gt:rtf:fam-1")
	if err != nil || len(members) != 1 || members[0] != rec.ID {
		t.Fatalf("expected family index to contain record, got %v %v", members, err)
	}
	if ttl := mr.TTL("gt:rt:" + rec.ID); ttl <= time.Hour {
		t.Fatalf("expected record retained past expiry, ttl=%v", ttl)
	}
}

func TestRedisStoreBlacklistKeyExpires(t *testing.T) {
	s, mr, clock := newRedisStoreTest(t)
	ctx := context.Background()

	entry := store.BlacklistEntry{JTI: "j1", ExpiresAt: clock.Now().Add(5 * time.Minute), BlacklistedAt: clock.Now(), Reason: store.ReasonAdminAction}
	if err := s.InsertBlacklistEntry(ctx, entry); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, _ := mr.Get("gt:bl:j1"); got != string(store.ReasonAdminAction) {
		t.Fatalf("expected reason stored, got %q", got)
	}
	if ttl := mr.TTL("gt:bl:j1"); ttl != 5*time.Minute {
		t.Fatalf("expected ttl to mirror access expiry, got %v", ttl)
	}

	past := store.BlacklistEntry{JTI: "j2", ExpiresAt: clock.Now().Add(-time.Second), Reason: store.ReasonLogout}
	if err := s.InsertBlacklistEntry(ctx, past); err != nil {
		t.Fatalf("insert expired entry: %v", err)
	}
	if mr.Exists("gt:bl:j2") {
		t.Fatal("already-expired entry should not be written")
	}
}

func TestRedisStoreCorruptRecordSurfacesUnavailable(t *testing.T) {
	s, mr, _ := newRedisStoreTest(t)

	mr.Set("gt:rth:h1", "id-1")
	mr.HSet("gt:rt:id-1", "status", "BOGUS")

	if _, err := s.FindRefreshRecordByHash(context.Background(), "h1"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for corrupt record, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr, clock := newRedisStoreTest(t)
	mr.Close()

	ctx := context.Background()
	if _, err := s.InsertRefreshRecord(ctx, storetest.NewRecord(clock.Now(), "fam", "h")); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.IsBlacklisted(ctx, "j"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Ping(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from ping, got %v", err)
	}
}
