package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geonexus/entitlements/internal/store"
	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 3 * time.Second

// Store is a Redis-backed store.Store. Values are written with SET EX so the
// server enforces expiry.
type Store struct {
	rdb     *redis.Client
	keyNS   string
	timeout time.Duration
}

// Options configures a Store.
type Options struct {
	// URL is a redis:// or rediss:// connection string.
	URL string
	// KeyPrefix is prepended to every key. Empty means no namespace.
	KeyPrefix string
	// Timeout bounds every call, including dialing.
	Timeout time.Duration
}

// Open parses the connection URL and returns a Store. It does not dial; use
// Ping to check connectivity.
func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	ro, err := redis.ParseURL(strings.TrimSpace(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ro.DialTimeout = timeout
	ro.ReadTimeout = timeout
	ro.WriteTimeout = timeout
	return New(redis.NewClient(ro), opts.KeyPrefix, timeout), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, keyPrefix string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{rdb: rdb, keyNS: keyPrefix, timeout: timeout}
}

func (s *Store) key(k string) string { return s.keyNS + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("redis get", key, err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis set %s: ttl must be positive", key)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return store.Unavailable("redis set", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return store.Unavailable("redis del", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return store.Unavailable("redis ping", "", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
