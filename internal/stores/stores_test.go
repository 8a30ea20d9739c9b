package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
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
	return mr, rdb
}

func TestTokenCacheSaveGetDelete(t *testing.T) {
	_, rdb := testRedis(t)
	cache := NewTokenCache(rdb, "")
	ctx := context.Background()

	if _, err := cache.Get(ctx, "s1"); !errors.Is(err, ErrTokenCacheMiss) {
		t.Fatalf("expected ErrTokenCacheMiss, got %v", err)
	}

	if err := cache.Save(ctx, "s1", "token-bytes", time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := cache.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "token-bytes" {
		t.Fatalf("Get = %q, want token-bytes", got)
	}

	deleted, err := cache.Delete(ctx, "s1")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if !deleted {
		t.Fatal("expected Delete to report an existing entry")
	}
	if _, err := cache.Get(ctx, "s1"); !errors.Is(err, ErrTokenCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}

	deleted, err = cache.Delete(ctx, "s1")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if deleted {
		t.Fatal("expected second Delete to be a no-op")
	}
}

func TestTokenCacheTTL(t *testing.T) {
	mr, rdb := testRedis(t)
	cache := NewTokenCache(rdb, "")
	ctx := context.Background()

	if err := cache.Save(ctx, "s1", "token", 30*time.Second); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	mr.FastForward(31 * time.Second)
	if _, err := cache.Get(ctx, "s1"); !errors.Is(err, ErrTokenCacheMiss) {
		t.Fatalf("expected miss after TTL, got %v", err)
	}
}

func TestTokenCacheDeleteMany(t *testing.T) {
	_, rdb := testRedis(t)
	cache := NewTokenCache(rdb, "")
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := cache.Save(ctx, id, "t-"+id, time.Minute); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	if err := cache.DeleteMany(ctx, []string{"s1", "s3"}); err != nil {
		t.Fatalf("DeleteMany error: %v", err)
	}

	if _, err := cache.Get(ctx, "s1"); !errors.Is(err, ErrTokenCacheMiss) {
		t.Fatal("expected s1 to be gone")
	}
	if _, err := cache.Get(ctx, "s2"); err != nil {
		t.Fatalf("expected s2 to survive, got %v", err)
	}
	if err := cache.DeleteMany(ctx, nil); err != nil {
		t.Fatalf("empty DeleteMany error: %v", err)
	}
}

func testChallenge() *Challenge {
	return &Challenge{
		UserID:         "user-1",
		Factor:         2,
		Secret:         "JBSWY3DPEHPK3PXP",
		ReferenceToken: "ref-abc",
		ExpiresAt:      time.Now().Add(5 * time.Minute).Unix(),
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewChallengeStore(rdb, "")
	ctx := context.Background()

	want := testChallenge()
	if err := store.Save(ctx, PurposeLoginConfirm, "ch-1", want, 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := store.Get(ctx, PurposeLoginConfirm, "ch-1", time.Now())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestChallengePurposeScoping(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewChallengeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, PurposeSetup, "ch-1", testChallenge(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := store.Get(ctx, PurposeLoginConfirm, "ch-1", time.Now()); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not-found across purposes, got %v", err)
	}
	if _, err := store.Get(ctx, PurposeSetup, "ch-1", time.Now()); err != nil {
		t.Fatalf("expected setup challenge to exist, got %v", err)
	}
}

func TestChallengeConsumeIsSingleUse(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewChallengeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, PurposeReset, "ch-1", testChallenge(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if _, err := store.Consume(ctx, PurposeReset, "ch-1", time.Now()); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if _, err := store.Consume(ctx, PurposeReset, "ch-1", time.Now()); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected second Consume to miss, got %v", err)
	}
}

func TestChallengeExpiredRecord(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewChallengeStore(rdb, "")
	ctx := context.Background()

	record := testChallenge()
	record.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	// TTL still open: the embedded stamp governs.
	if err := store.Save(ctx, PurposeLoginConfirm, "ch-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if _, err := store.Get(ctx, PurposeLoginConfirm, "ch-1", time.Now()); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	// Expired records are removed on read.
	if _, err := store.Get(ctx, PurposeLoginConfirm, "ch-1", time.Now()); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not-found after expiry cleanup, got %v", err)
	}
}

func TestChallengeExpiryUsesCallerClock(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewChallengeStore(rdb, "")
	ctx := context.Background()

	record := testChallenge()
	if err := store.Save(ctx, PurposeLoginConfirm, "ch-1", record, time.Hour); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// The supplied clock, not the wall clock, decides the stamp check.
	future := time.Unix(record.ExpiresAt, 0).Add(time.Second)
	if _, err := store.Get(ctx, PurposeLoginConfirm, "ch-1", future); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired at future clock, got %v", err)
	}
}

func testReference() *Reference {
	now := time.Now()
	return &Reference{
		UserID:    "user-1",
		IP:        "203.0.113.7",
		UserAgent: "test-agent/1.0",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(10 * time.Minute).Unix(),
		Data:      "$argon2id$staged-hash",
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewReferenceStore(rdb, "")
	ctx := context.Background()

	want := testReference()
	if err := store.Save(ctx, KindLogin, "ref-1", want, 10*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := store.Get(ctx, KindLogin, "ref-1", time.Now())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}

	// Kinds are separate namespaces.
	if _, err := store.Get(ctx, KindPasswordChange, "ref-1", time.Now()); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected not-found across kinds, got %v", err)
	}
}

func TestReferenceConsumeIsSingleUse(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewReferenceStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, KindPasswordChange, "ref-1", testReference(), 10*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := store.Consume(ctx, KindPasswordChange, "ref-1", time.Now()); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if _, err := store.Consume(ctx, KindPasswordChange, "ref-1", time.Now()); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected second Consume to miss, got %v", err)
	}
}

func TestReferenceExpiredStamp(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewReferenceStore(rdb, "")
	ctx := context.Background()

	record := testReference()
	record.ExpiresAt = time.Now().Add(-time.Second).Unix()
	if err := store.Save(ctx, KindLogin, "ref-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := store.Get(ctx, KindLogin, "ref-1", time.Now()); !errors.Is(err, ErrReferenceExpired) {
		t.Fatalf("expected ErrReferenceExpired, got %v", err)
	}
}

func TestReferenceExpiryUsesCallerClock(t *testing.T) {
	_, rdb := testRedis(t)
	store := NewReferenceStore(rdb, "")
	ctx := context.Background()

	record := testReference()
	if err := store.Save(ctx, KindLogin, "ref-1", record, time.Hour); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	future := time.Unix(record.ExpiresAt, 0).Add(time.Second)
	if _, err := store.Consume(ctx, KindLogin, "ref-1", future); !errors.Is(err, ErrReferenceExpired) {
		t.Fatalf("expected ErrReferenceExpired at future clock, got %v", err)
	}
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	_, rdb := testRedis(t)
	cache := NewSnapshotCache(rdb, "")
	ctx := context.Background()

	payload := []byte(`{"userId":"user-1","username":"alice"}`)
	if err := cache.Save(ctx, "user-1", "s1", payload, time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := cache.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Get = %s, want %s", got, payload)
	}

	if err := cache.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := cache.Get(ctx, "s1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestSnapshotCacheInvalidateUser(t *testing.T) {
	_, rdb := testRedis(t)
	cache := NewSnapshotCache(rdb, "")
	ctx := context.Background()

	if err := cache.Save(ctx, "user-1", "s1", []byte("a"), time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := cache.Save(ctx, "user-1", "s2", []byte("b"), time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := cache.Save(ctx, "user-2", "s3", []byte("c"), time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := cache.InvalidateUser(ctx, "user-1"); err != nil {
		t.Fatalf("InvalidateUser error: %v", err)
	}

	for _, id := range []string{"s1", "s2"} {
		if _, err := cache.Get(ctx, id); !errors.Is(err, ErrSnapshotNotFound) {
			t.Fatalf("expected %s to be invalidated, got %v", id, err)
		}
	}
	if _, err := cache.Get(ctx, "s3"); err != nil {
		t.Fatalf("expected other user's snapshot to survive, got %v", err)
	}

	// Invalidating a user with no snapshots is a no-op.
	if err := cache.InvalidateUser(ctx, "user-3"); err != nil {
		t.Fatalf("InvalidateUser(no entries) error: %v", err)
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	mr, rdb := testRedis(t)
	cache := NewSnapshotCache(rdb, "")
	ctx := context.Background()

	if err := cache.Save(ctx, "user-1", "s1", []byte("a"), 30*time.Second); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	mr.FastForward(31 * time.Second)
	if _, err := cache.Get(ctx, "s1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected miss after TTL, got %v", err)
	}
}
