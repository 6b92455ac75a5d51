// Package session provides session storage backends for refresh tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"corkboard/internal/store"
)

// ErrNotFound reports a refresh token that is unknown, expired or revoked.
var ErrNotFound = errors.New("refresh session not found")

// Store keeps refresh sessions keyed by token hash.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

const (
	keyPrefix    = "corkboard:refresh:"
	fieldUser    = "user"
	fieldIssued  = "issued"
	dialDeadline = 5 * time.Second
)

// RedisStore keeps each refresh session as a hash that expires with the token.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials redisURL and checks the server answers.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialDeadline)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveRefreshSession writes the session and its expiry atomically. Sessions
// that have already expired are not stored.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return nil
	}
	key := keyPrefix + tokenHash
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldUser, userID, fieldIssued, time.Now().UTC().Format(time.RFC3339))
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the session's user. Only the ID is populated.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	userID, err := s.client.HGet(ctx, keyPrefix+tokenHash, fieldUser).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return store.User{}, ErrNotFound
	case err != nil:
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	case userID == "":
		return store.User{}, ErrNotFound
	}
	return store.User{ID: userID}, nil
}

// RevokeRefreshSession deletes the session. Unknown hashes are not an error.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, keyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
