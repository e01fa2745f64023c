// Package redis provides the ephemeral secret store and an scs session
// store on go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	oi "github.com/panyam/oneid"
)

// DefaultSecretPrefix namespaces reset codes.
const DefaultSecretPrefix = "reset:"

// SecretStore implements oi.EphemeralStore with SET EX, GET and DEL.
type SecretStore struct {
	client redis.UniversalClient
	prefix string
}

// NewSecretStore creates a store; an empty prefix uses DefaultSecretPrefix.
func NewSecretStore(client redis.UniversalClient, prefix string) *SecretStore {
	if prefix == "" {
		prefix = DefaultSecretPrefix
	}
	return &SecretStore{client: client, prefix: prefix}
}

func (s *SecretStore) key(k string) string { return s.prefix + k }

func (s *SecretStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *SecretStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", oi.ErrSecretNotFound
	} else if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (s *SecretStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
