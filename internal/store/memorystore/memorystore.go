package memorystore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is an in-memory store.Store with per-key TTL. It is intended for
// single-node development and tests; state does not survive a restart.
type Store struct {
	mu     sync.Mutex
	data   map[string]item
	now    func() time.Time
	closed chan struct{}
	once   sync.Once
}

type item struct {
	v   []byte
	exp time.Time
}

// New creates an empty store and starts a background goroutine that removes
// expired entries every minute. Call Close to stop it.
func New() *Store {
	s := &Store{
		data:   make(map[string]item),
		now:    time.Now,
		closed: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(it.exp) {
		delete(s.data, key)
		return nil, false, nil
	}
	out := make([]byte, len(it.v))
	copy(out, it.v)
	return out, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("memory set %s: ttl must be positive", key)
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = item{v: v, exp: s.now().Add(ttl)}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// TTL returns the remaining lifetime of key, or zero if it is absent.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[key]
	if !ok {
		return 0
	}
	d := it.exp.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, it := range s.data {
		if now.Before(it.exp) {
			n++
		}
	}
	return n
}

// cleanupLoop removes expired entries every minute until Close is called.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.data {
		if !now.Before(v.exp) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
