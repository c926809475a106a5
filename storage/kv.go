package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/questledger/cache"
	"github.com/kasuganosora/questledger/config"
	"gorm.io/gorm"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

const (
	BackendCache = "cache"
	BackendDB    = "db"
)

// KV is the durable key/value store the progress document is saved to.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
}

// Open returns the KV backend selected by cfg.Backend.
func Open(cfg config.LedgerConfig, db *gorm.DB, c cache.Cache) (KV, error) {
	switch cfg.Backend {
	case BackendCache:
		if c == nil {
			return nil, errors.New("storage: cache backend selected but no cache configured")
		}
		return NewCacheStore(c), nil
	case BackendDB:
		if db == nil {
			return nil, errors.New("storage: db backend selected but no database configured")
		}
		return NewDBStore(db), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
