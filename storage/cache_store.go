package storage

import (
	"context"
	"fmt"

	"github.com/kasuganosora/questledger/cache"
)

// CacheStore persists values through a cache.Cache (Redis or in-process).
// Values are stored without expiry.
type CacheStore struct {
	c cache.Cache
}

func NewCacheStore(c cache.Cache) *CacheStore {
	return &CacheStore{c: c}
}

func (s *CacheStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.c.Get(ctx, key)
	if cache.IsNotFound(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: cache get %q: %w", key, err)
	}
	return v, nil
}

func (s *CacheStore) Set(ctx context.Context, key, value string) error {
	if err := s.c.Set(ctx, key, value, 0); err != nil {
		return fmt.Errorf("storage: cache set %q: %w", key, err)
	}
	return nil
}

func (s *CacheStore) Del(ctx context.Context, key string) error {
	if err := s.c.Del(ctx, key); err != nil {
		return fmt.Errorf("storage: cache del %q: %w", key, err)
	}
	return nil
}
