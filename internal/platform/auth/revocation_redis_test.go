package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisRevocationStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisRevocationStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisRevocationStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestRedisRevocationStore_RevokeAndCheck(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if ok, err := store.IsRevoked(ctx, "jti-1"); err != nil || !ok {
		t.Errorf("expected jti-1 to be revoked, got %v, %v", ok, err)
	}
	if ok, err := store.IsRevoked(ctx, "jti-2"); err != nil || ok {
		t.Errorf("expected jti-2 not to be revoked, got %v, %v", ok, err)
	}
	if ttl := mr.TTL(revokedKey("jti-1")); ttl <= 0 || ttl > time.Hour {
		t.Errorf("expected key to expire with the token, ttl %s", ttl)
	}

	mr.FastForward(time.Hour + time.Second)
	if ok, _ := store.IsRevoked(ctx, "jti-1"); ok {
		t.Error("expected revocation to lapse once the token expired")
	}
}

func TestRedisRevocationStore_ExpiredTokenNotStored(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if mr.Exists(revokedKey("old")) {
		t.Error("expected no key for an already expired token")
	}
}

func TestRedisRevocationStore_RevokeUser(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()
	id := uuid.New()
	cutoff := time.Now().Truncate(time.Second)

	if err := store.RevokeUser(ctx, id, cutoff, cutoff.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}

	cases := []struct {
		name     string
		user     uuid.UUID
		issuedAt time.Time
		want     bool
	}{
		{"issued earlier", id, cutoff.Add(-time.Minute), true},
		{"issued at cutoff", id, cutoff, true},
		{"issued later", id, cutoff.Add(time.Second), false},
		{"other user", uuid.New(), cutoff.Add(-time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.IsUserRevoked(ctx, tc.user, tc.issuedAt)
			if err != nil {
				t.Fatalf("IsUserRevoked: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	other := uuid.New()
	if err := store.RevokeUser(ctx, other, cutoff, cutoff.Add(-time.Second)); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if mr.Exists(revokedUserKey(other)) {
		t.Error("expected no key once every affected token has expired")
	}
}

func TestRedisRevocationStore_ServerDown(t *testing.T) {
	mr, store := newTestRedisStore(t)
	mr.Close()

	if _, err := store.IsRevoked(context.Background(), "jti-1"); err == nil {
		t.Error("expected error when redis is unreachable")
	}
	if _, err := store.IsUserRevoked(context.Background(), uuid.New(), time.Now()); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}

func TestNewRedisRevocationStore_BadURL(t *testing.T) {
	if _, err := NewRedisRevocationStore(context.Background(), "not a url"); err == nil {
		t.Error("expected parse error")
	}
}
