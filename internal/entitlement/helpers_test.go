package entitlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geonexus/entitlements/internal/store"
	"github.com/geonexus/entitlements/internal/store/memorystore"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// downStore fails every call the way an unreachable backend does.
type downStore struct{}

func (downStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	return nil, false, store.Unavailable("get", key, errConnRefused)
}

func (downStore) Set(_ context.Context, key string, _ []byte, _ time.Duration) error {
	return store.Unavailable("set", key, errConnRefused)
}

func (downStore) Delete(_ context.Context, key string) error {
	return store.Unavailable("delete", key, errConnRefused)
}

func (downStore) Ping(context.Context) error {
	return store.Unavailable("ping", "", errConnRefused)
}

// failingKeys fails writes to keys with a given prefix while fail is set.
type failingKeys struct {
	store.Store
	prefix string
	fail   bool
}

func (f *failingKeys) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail && strings.HasPrefix(key, f.prefix) {
		return store.Unavailable("set", key, errConnRefused)
	}
	return f.Store.Set(ctx, key, value, ttl)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []WelcomeNotice
}

func (n *recordingNotifier) Welcome(_ context.Context, w WelcomeNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, w)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func newMemoryRecords(t *testing.T) (*Records, *memorystore.Store) {
	t.Helper()
	s := memorystore.New()
	t.Cleanup(func() { _ = s.Close() })
	return NewRecords(s), s
}

var eventTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func checkoutEvent(id Identity, customerID, email string) Event {
	return Event{
		ID:             "evt_checkout",
		Type:           "checkout.session.completed",
		Category:       CategoryCheckoutCompleted,
		OccurredAt:     eventTime,
		Identity:       id,
		CustomerID:     customerID,
		Email:          email,
		SubscriptionID: "sub_1",
		Plan:           "analyst",
		BillingCycle:   "monthly",
	}
}
