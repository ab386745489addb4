// Package redisstore keeps each user's entitlements in a Redis hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/redis/go-redis/v9"
)

var _ entitlements.Opener = (*Store)(nil)

type Store struct {
	rdb   *redis.Client
	keyNS string
}

func New(rdb *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "buttonclicker:entitlements:"
	}
	return &Store{rdb: rdb, keyNS: keyPrefix}
}

func (s *Store) key(userID string) string { return s.keyNS + userID }

func (s *Store) Open(ctx context.Context, userID string) (entitlements.Store, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	values, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read entitlements for user %q: %w", userID, err)
	}
	return entitlements.NewStaged(values, func(ctx context.Context, changes map[string]string) error {
		// HSET with every field is a single command, so the flush is atomic.
		args := make([]any, 0, len(changes)*2)
		for k, v := range changes {
			args = append(args, k, v)
		}
		if err := s.rdb.HSet(ctx, s.key(userID), args...).Err(); err != nil {
			return fmt.Errorf("commit entitlements for user %q: %w", userID, err)
		}
		return nil
	}), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
