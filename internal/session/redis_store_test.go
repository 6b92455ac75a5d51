package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"corkboard/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	sessions, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	return sessions, s
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	sessions, s := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if !s.Exists("corkboard:refresh:hash-1") {
		t.Fatalf("expected namespaced key, keys=%v", s.Keys())
	}
	if ttl := s.TTL("corkboard:refresh:hash-1"); ttl <= 0 || ttl > 24*time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	if got := s.HGet("corkboard:refresh:hash-1", "user"); got != "usr_1" {
		t.Fatalf("expected user field usr_1, got %q", got)
	}

	user, err := sessions.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_1" {
		t.Fatalf("expected usr_1, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	sessions, s := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "short", "usr_2", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := sessions.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAlreadyExpiredSessionIsNoop(t *testing.T) {
	sessions, s := setupTestRedis(t)
	if err := sessions.SaveRefreshSession(context.Background(), "past", "usr_3", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if len(s.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", s.Keys())
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	sessions, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	for _, hash := range []string{"token-1", "token-2"} {
		if err := sessions.SaveRefreshSession(ctx, hash, "usr_"+hash, expiresAt); err != nil {
			t.Fatalf("SaveRefreshSession %s failed: %v", hash, err)
		}
	}
	if err := sessions.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := sessions.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected revoked token to be gone, got %v", err)
	}
	user, err := sessions.LookupRefreshSession(ctx, "token-2")
	if err != nil || user.ID != "usr_token-2" {
		t.Fatalf("expected token-2 to survive, got %+v err=%v", user, err)
	}

	if err := sessions.RevokeRefreshSession(ctx, "never-issued"); err != nil {
		t.Fatalf("revoking unknown token should not fail: %v", err)
	}
}

func TestDatabaseStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	var userID string
	if err := backing.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.EnsureUserByName(ctx, "Ada")
		userID = user.ID
		return err
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	sessions := DatabaseStore{Store: backing}
	if err := sessions.SaveRefreshSession(ctx, "db-hash", userID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := sessions.LookupRefreshSession(ctx, "db-hash")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != userID || user.DisplayName != "Ada" {
		t.Fatalf("unexpected user %+v", user)
	}

	if err := sessions.RevokeRefreshSession(ctx, "db-hash"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := sessions.LookupRefreshSession(ctx, "db-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}
