// Package store defines the key-value cache that holds all entitlement state.
//
// The cache is the single source of truth: there is no relational schema and
// no transaction log behind it. Every record carries its own time-to-live and
// simply disappears when it expires.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned (wrapped) by every backend when the cache cannot
// be reached or does not answer in time. Callers match it with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// Store is a key-value cache with per-key expiry.
type Store interface {
	// Get returns the value stored at key. found is false when the key is
	// absent or expired; err is non-nil only when the backend failed.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set writes value at key, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Unavailable wraps a backend failure so it matches ErrUnavailable while
// keeping the original cause in the chain.
func Unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, key, ErrUnavailable, err)
}
