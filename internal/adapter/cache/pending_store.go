package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/repository"
)

const pendingKeyPrefix = "authz:pending:"

// RedisPendingStore implements PendingAuthorizationStore backed by Redis.
type RedisPendingStore struct {
	client redis.UniversalClient
}

var _ repository.PendingAuthorizationStore = (*RedisPendingStore)(nil)

// NewRedisPendingStore constructs a Redis-backed pending authorization store.
func NewRedisPendingStore(client redis.UniversalClient) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

// Save stores the encoded pending authorization with TTL.
func (s *RedisPendingStore) Save(ctx context.Context, key string, pending oauth.PendingAuthorization, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending authorization: %w", err)
	}
	if err := s.client.Set(ctx, pendingKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist pending authorization: %w", err)
	}
	return nil
}

// Get loads and decodes the pending authorization without consuming it.
func (s *RedisPendingStore) Get(ctx context.Context, key string) (*oauth.PendingAuthorization, error) {
	bytes, err := s.client.Get(ctx, pendingKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, oauth.ErrConsentNotFound
		}
		return nil, fmt.Errorf("load pending authorization: %w", err)
	}
	return decodePending(bytes)
}

// Take loads and deletes the pending authorization in one round trip.
func (s *RedisPendingStore) Take(ctx context.Context, key string) (*oauth.PendingAuthorization, error) {
	bytes, err := s.client.GetDel(ctx, pendingKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, oauth.ErrConsentNotFound
		}
		return nil, fmt.Errorf("take pending authorization: %w", err)
	}
	return decodePending(bytes)
}

// Delete removes the pending authorization key.
func (s *RedisPendingStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, pendingKeyPrefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete pending authorization: %w", err)
	}
	return nil
}

func decodePending(bytes []byte) (*oauth.PendingAuthorization, error) {
	var pending oauth.PendingAuthorization
	if err := json.Unmarshal(bytes, &pending); err != nil {
		return nil, fmt.Errorf("decode pending authorization: %w", err)
	}
	return &pending, nil
}
