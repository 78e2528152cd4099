package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RevocationStore records session tokens ended by logout, and accounts whose
// earlier tokens were all ended by deactivation. Entries only need to live
// until the affected tokens would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RevokeUser ends every token of userID issued at or before
	// issuedBefore. The entry is dropped after expiresAt.
	RevokeUser(ctx context.Context, userID uuid.UUID, issuedBefore, expiresAt time.Time) error
	IsUserRevoked(ctx context.Context, userID uuid.UUID, issuedAt time.Time) (bool, error)
}

type userRevocation struct {
	issuedBefore time.Time
	expiresAt    time.Time
}

// MemoryRevocationStore keeps revoked token ids in process memory. It is
// used when no Redis URL is configured and in tests.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	users   map[uuid.UUID]userRevocation
	now     func() time.Time
	done    chan struct{}
}

// NewMemoryRevocationStore starts a background sweep of expired entries
// every interval. Call Close to stop it.
func NewMemoryRevocationStore(interval time.Duration) *MemoryRevocationStore {
	s := &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		users:   make(map[uuid.UUID]userRevocation),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop(interval)
	return s
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = expiresAt
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[jti]
	return ok, nil
}

func (s *MemoryRevocationStore) RevokeUser(_ context.Context, userID uuid.UUID, issuedBefore, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = userRevocation{issuedBefore: issuedBefore.Truncate(time.Second), expiresAt: expiresAt}
	return nil
}

func (s *MemoryRevocationStore) IsUserRevoked(_ context.Context, userID uuid.UUID, issuedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.users[userID]
	return ok && !issuedAt.After(r.issuedBefore), nil
}

// Count returns the number of tracked revocations.
func (s *MemoryRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries) + len(s.users)
}

// Close stops the sweep. Safe to call more than once.
func (s *MemoryRevocationStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *MemoryRevocationStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryRevocationStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, jti)
		}
	}
	for id, r := range s.users {
		if now.After(r.expiresAt) {
			delete(s.users, id)
		}
	}
}
