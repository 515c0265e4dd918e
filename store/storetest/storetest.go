// Package storetest holds behavioural tests shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/store"
)

// Harness is a backend under test. Advance moves the backend's notion of time
// forward; Now reports it. A nil Advance skips the expiry checks.
type Harness struct {
	Store   store.Store
	Now     func() time.Time
	Advance func(time.Duration)
}

// Run executes the shared suite. newHarness must return an empty backend.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newHarness(t)) })
	t.Run("RejectsDuplicateHash", func(t *testing.T) { testDuplicateHash(t, newHarness(t)) })
	t.Run("MarkStatusTransitions", func(t *testing.T) { testMarkStatus(t, newHarness(t)) })
	t.Run("RotateIsCompareAndSwap", func(t *testing.T) { testRotateCAS(t, newHarness(t)) })
	t.Run("RotateSingleWinner", func(t *testing.T) { testRotateSingleWinner(t, newHarness(t)) })
	t.Run("RevokeFamily", func(t *testing.T) { testRevokeFamily(t, newHarness(t)) })
	t.Run("RevokeRacingRotate", func(t *testing.T) { testRevokeRacingRotate(t, newHarness(t)) })
	t.Run("BlacklistExpiry", func(t *testing.T) { testBlacklistExpiry(t, newHarness(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, newHarness(t)) })
}

// NewRecord builds an ACTIVE-ready record for tests.
func NewRecord(now time.Time, family, hash string) store.RefreshTokenRecord {
	return store.RefreshTokenRecord{
		TokenHash: hash,
		FamilyID:  family,
		Subject:   "alice",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Client:    store.ClientContext{RemoteAddr: "10.0.0.1", UserAgent: "test-agent"},
	}
}

func testInsertAndFind(t *testing.T, h Harness) {
	ctx := context.Background()
	rec, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID == "" || rec.Status != store.StatusActive {
		t.Fatalf("expected assigned id and ACTIVE, got %+v", rec)
	}

	got, err := h.Store.FindRefreshRecordByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != rec.ID || got.FamilyID != "fam-1" || got.Subject != "alice" || got.Status != store.StatusActive {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Client.UserAgent != "test-agent" || got.Client.RemoteAddr != "10.0.0.1" {
		t.Fatalf("client context not preserved: %+v", got.Client)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("expiry not preserved: %v vs %v", got.ExpiresAt, rec.ExpiresAt)
	}

	if _, err := h.Store.FindRefreshRecordByHash(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	active, err := h.Store.FindActiveRefreshRecordsByFamily(ctx, "fam-1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if len(active) != 1 || active[0].ID != rec.ID {
		t.Fatalf("expected one active record, got %+v", active)
	}
}

func testDuplicateHash(t *testing.T, h Harness) {
	ctx := context.Background()
	if _, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-2", "hash-1")); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := h.Store.InsertRefreshRecord(ctx, store.RefreshTokenRecord{TokenHash: "x"}); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func testMarkStatus(t *testing.T, h Harness) {
	ctx := context.Background()
	rec, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := h.Store.MarkStatus(ctx, rec.ID, store.StatusUsed); err != nil {
		t.Fatalf("ACTIVE->USED: %v", err)
	}
	if err := h.Store.MarkStatus(ctx, rec.ID, store.StatusActive); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("USED->ACTIVE must fail, got %v", err)
	}
	if err := h.Store.MarkStatus(ctx, rec.ID, store.StatusRevoked); err != nil {
		t.Fatalf("USED->REVOKED: %v", err)
	}
	if err := h.Store.MarkStatus(ctx, rec.ID, store.StatusRevoked); err != nil {
		t.Fatalf("REVOKED->REVOKED must be a no-op: %v", err)
	}
	if err := h.Store.MarkStatus(ctx, rec.ID, store.StatusUsed); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("REVOKED->USED must fail, got %v", err)
	}
	if err := h.Store.MarkStatus(ctx, "missing", store.StatusUsed); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testRotateCAS(t *testing.T, h Harness) {
	ctx := context.Background()
	r0, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-0"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	r1, err := h.Store.RotateRefreshRecord(ctx, r0.ID, NewRecord(h.Now(), "fam-1", "hash-1"))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if r1.Status != store.StatusActive || r1.ID == r0.ID {
		t.Fatalf("unexpected rotated record: %+v", r1)
	}

	old, _ := h.Store.FindRefreshRecordByHash(ctx, "hash-0")
	if old.Status != store.StatusUsed {
		t.Fatalf("expected consumed record USED, got %s", old.Status)
	}

	if _, err := h.Store.RotateRefreshRecord(ctx, r0.ID, NewRecord(h.Now(), "fam-1", "hash-2")); !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if _, err := h.Store.FindRefreshRecordByHash(ctx, "hash-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("losing rotation must not insert, got %v", err)
	}

	active, _ := h.Store.FindActiveRefreshRecordsByFamily(ctx, "fam-1")
	if len(active) != 1 || active[0].ID != r1.ID {
		t.Fatalf("expected exactly r1 active, got %+v", active)
	}
}

func testRotateSingleWinner(t *testing.T, h Harness) {
	ctx := context.Background()
	r0, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-0"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := h.Store.RotateRefreshRecord(ctx, r0.ID, NewRecord(h.Now(), "fam-1", fmt.Sprintf("next-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrStatusConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected one winner, got successes=%d conflicts=%d", successes, conflicts)
	}
	active, _ := h.Store.FindActiveRefreshRecordsByFamily(ctx, "fam-1")
	if len(active) != 1 {
		t.Fatalf("expected exactly one active record, got %d", len(active))
	}
}

func testRevokeFamily(t *testing.T, h Harness) {
	ctx := context.Background()
	r0, _ := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-0"))
	if _, err := h.Store.RotateRefreshRecord(ctx, r0.ID, NewRecord(h.Now(), "fam-1", "hash-1")); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	other, _ := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-2", "hash-x"))

	n, err := h.Store.RevokeFamily(ctx, "fam-1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records revoked, got %d", n)
	}
	for _, hash := range []string{"hash-0", "hash-1"} {
		rec, _ := h.Store.FindRefreshRecordByHash(ctx, hash)
		if rec.Status != store.StatusRevoked {
			t.Fatalf("%s: expected REVOKED, got %s", hash, rec.Status)
		}
	}
	if n, _ := h.Store.RevokeFamily(ctx, "fam-1"); n != 0 {
		t.Fatalf("second revoke should change nothing, got %d", n)
	}
	untouched, _ := h.Store.FindRefreshRecordByHash(ctx, other.TokenHash)
	if untouched.Status != store.StatusActive {
		t.Fatalf("other family must stay ACTIVE, got %s", untouched.Status)
	}
}

func testRevokeRacingRotate(t *testing.T, h Harness) {
	ctx := context.Background()
	for round := 0; round < 8; round++ {
		family := fmt.Sprintf("fam-%d", round)
		r0, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), family, family+"-0"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.Store.RotateRefreshRecord(ctx, r0.ID, NewRecord(h.Now(), family, family+"-1"))
		}()
		go func() {
			defer wg.Done()
			_, _ = h.Store.RevokeFamily(ctx, family)
		}()
		wg.Wait()

		active, err := h.Store.FindActiveRefreshRecordsByFamily(ctx, family)
		if err != nil {
			t.Fatalf("find active: %v", err)
		}
		if len(active) != 0 {
			t.Fatalf("round %d: family revoked but %d records remain active", round, len(active))
		}
	}
}

func testBlacklistExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Now()
	entry := store.BlacklistEntry{JTI: "jti-1", ExpiresAt: now.Add(10 * time.Minute), BlacklistedAt: now, Reason: store.ReasonLogout}
	if err := h.Store.InsertBlacklistEntry(ctx, entry); err != nil {
		t.Fatalf("insert blacklist: %v", err)
	}
	if err := h.Store.InsertBlacklistEntry(ctx, store.BlacklistEntry{JTI: "jti-2", ExpiresAt: now.Add(time.Minute), Reason: "BOGUS"}); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected unknown reason to be rejected, got %v", err)
	}

	hit, err := h.Store.IsBlacklisted(ctx, "jti-1")
	if err != nil || !hit {
		t.Fatalf("expected blacklisted, got %v %v", hit, err)
	}
	if hit, _ := h.Store.IsBlacklisted(ctx, "unknown"); hit {
		t.Fatal("unknown jti must not be blacklisted")
	}

	if h.Advance == nil {
		return
	}
	h.Advance(11 * time.Minute)
	if hit, _ := h.Store.IsBlacklisted(ctx, "jti-1"); hit {
		t.Fatal("entry past expiresAt must not count")
	}
}

func testCanceledContext(t *testing.T, h Harness) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Store.InsertRefreshRecord(ctx, NewRecord(h.Now(), "fam-1", "hash-0")); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for canceled context, got %v", err)
	}
	if _, err := h.Store.RevokeFamily(ctx, "fam-1"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for canceled context, got %v", err)
	}
}
