package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	revokedKeyPrefix     = "portal:revoked:"
	revokedUserKeyPrefix = "portal:revoked-user:"
)

// RedisRevocationStore shares revocations between server replicas. Keys
// expire with the token they revoke.
type RedisRevocationStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRevocationStore connects to redisURL and verifies it with PING.
func NewRedisRevocationStore(ctx context.Context, redisURL string) (*RedisRevocationStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisRevocationStore{client: client, now: time.Now}, nil
}

func revokedKey(jti string) string { return revokedKeyPrefix + jti }

func revokedUserKey(id uuid.UUID) string { return revokedUserKeyPrefix + id.String() }

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// RevokeUser stores the cutoff as unix seconds, matching token iat precision.
func (s *RedisRevocationStore) RevokeUser(ctx context.Context, userID uuid.UUID, issuedBefore, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedUserKey(userID), issuedBefore.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsUserRevoked(ctx context.Context, userID uuid.UUID, issuedAt time.Time) (bool, error) {
	cutoff, err := s.client.Get(ctx, revokedUserKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check user revocation: %w", err)
	}
	return issuedAt.Unix() <= cutoff, nil
}

func (s *RedisRevocationStore) Close() error {
	return s.client.Close()
}
