package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/burnbox/config"
)

var (
	// ErrKeyNotFound is returned for reads of absent (or expired) keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrCapExceeded is returned by SetAddCapped when inserting the member
	// would push the set over its cap. The set is left unchanged.
	ErrCapExceeded = errors.New("set cap exceeded")
)

// Store is the metadata store capability set. All keys carry a TTL, expiry is
// enforced by the backend. Every ttl argument must be positive, callers
// compute it from the owning record's absolute expiry at call time.
//
// List semantics follow the redis list commands: ListPush prepends (the log
// is stored newest-first), ListRange takes inclusive start/stop indices
// counted from the head with negative values addressing from the tail, and a
// range over a missing key yields an empty result, not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Update atomically replaces the value of an existing key, preserving its
	// remaining TTL. fn maps the current value to the next one; an error from
	// fn aborts the update and is returned unchanged.
	Update(ctx context.Context, key string, fn func(current string) (string, error)) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error

	ListPush(ctx context.Context, key, value string, ttl time.Duration) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListSet(ctx context.Context, key string, index int64, value string) error
	ListLen(ctx context.Context, key string) (int64, error)

	// SetAddCapped inserts member unless the set would exceed limit, in one
	// atomic round-trip. It reports whether the member was newly added; the
	// set TTL is re-synced to ttl only on a new member.
	SetAddCapped(ctx context.Context, key, member string, limit int64, ttl time.Duration) (bool, error)
	SetRemove(ctx context.Context, key, member string) error
	SetCard(ctx context.Context, key string) (int64, error)

	// Scan visits every key matching the glob pattern until fn returns false.
	Scan(ctx context.Context, pattern string, fn func(key string) bool) error

	Ping(ctx context.Context) error
	Close() error
}

// NewStore selects the backend from the configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.StoreConfig.Type {
	case "redis":
		return NewRedisStore(cfg)
	case "buntdb", "":
		return NewBuntStore(cfg)
	default:
		return nil, fmt.Errorf("invalid store type %q", cfg.StoreConfig.Type)
	}
}
