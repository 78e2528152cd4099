package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryRevocationStore_RevokeAndCheck(t *testing.T) {
	store := NewMemoryRevocationStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour))

	if ok, _ := store.IsRevoked(ctx, "jti-1"); !ok {
		t.Error("expected jti-1 to be revoked")
	}
	if ok, _ := store.IsRevoked(ctx, "jti-2"); ok {
		t.Error("expected jti-2 not to be revoked")
	}
}

func TestMemoryRevocationStore_Cleanup(t *testing.T) {
	store := NewMemoryRevocationStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	store.Revoke(ctx, "expired", time.Now().Add(-time.Minute))
	store.Revoke(ctx, "live", time.Now().Add(time.Hour))
	store.cleanup()

	if store.Count() != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", store.Count())
	}
	if ok, _ := store.IsRevoked(ctx, "live"); !ok {
		t.Error("expected live entry to survive cleanup")
	}
}

func TestMemoryRevocationStore_RevokeUser(t *testing.T) {
	store := NewMemoryRevocationStore(time.Hour)
	defer store.Close()
	ctx := context.Background()
	id := uuid.New()
	cutoff := time.Now()

	store.RevokeUser(ctx, id, cutoff, cutoff.Add(time.Hour))

	if ok, _ := store.IsUserRevoked(ctx, id, cutoff.Add(-time.Minute)); !ok {
		t.Error("expected earlier token to be revoked")
	}
	if ok, _ := store.IsUserRevoked(ctx, id, cutoff.Truncate(time.Second)); !ok {
		t.Error("expected token issued in the cutoff second to be revoked")
	}
	if ok, _ := store.IsUserRevoked(ctx, id, cutoff.Add(time.Minute)); ok {
		t.Error("expected later token to be accepted")
	}
	if ok, _ := store.IsUserRevoked(ctx, uuid.New(), cutoff.Add(-time.Minute)); ok {
		t.Error("expected unknown user not to be revoked")
	}

	store.RevokeUser(ctx, uuid.New(), cutoff, cutoff.Add(-time.Second))
	store.cleanup()
	if store.Count() != 1 {
		t.Errorf("expected expired user entry to be swept, got %d entries", store.Count())
	}
}

func TestMemoryRevocationStore_CloseTwice(t *testing.T) {
	store := NewMemoryRevocationStore(time.Minute)
	store.Close()
	store.Close()
}

func TestMemoryRevocationStore_Concurrent(t *testing.T) {
	store := NewMemoryRevocationStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jti := fmt.Sprintf("jti-%d", i)
			store.Revoke(ctx, jti, time.Now().Add(time.Hour))
			store.IsRevoked(ctx, jti)
		}(i)
	}
	wg.Wait()

	if store.Count() != 50 {
		t.Errorf("expected 50 entries, got %d", store.Count())
	}
}

func TestRevokedKey(t *testing.T) {
	if got := revokedKey("abc"); got != "portal:revoked:abc" {
		t.Errorf("unexpected key %q", got)
	}
}
