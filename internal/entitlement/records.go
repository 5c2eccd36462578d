package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/geonexus/entitlements/internal/store"
)

const (
	flagPrefix     = "sub:"
	profilePrefix  = "customer:"
	emailPrefix    = "email:"
	customerPrefix = "stripe:"
)

// Records is the typed view of the four record families over a store.
type Records struct {
	store store.Store
}

// NewRecords wraps s.
func NewRecords(s store.Store) *Records {
	return &Records{store: s}
}

// Store returns the underlying store.
func (r *Records) Store() store.Store { return r.store }

// Flag returns the raw flag value for id.
func (r *Records) Flag(ctx context.Context, id Identity) (string, bool, error) {
	v, found, err := r.store.Get(ctx, flagPrefix+string(id))
	if err != nil || !found {
		return "", false, err
	}
	return string(v), true, nil
}

// Grant sets the flag to active and renews its TTL.
func (r *Records) Grant(ctx context.Context, id Identity) error {
	return r.store.Set(ctx, flagPrefix+string(id), []byte(FlagActive), FlagTTL)
}

// Revoke deletes the flag.
func (r *Records) Revoke(ctx context.Context, id Identity) error {
	return r.store.Delete(ctx, flagPrefix+string(id))
}

// Profile returns the stored profile, or nil when none exists.
func (r *Records) Profile(ctx context.Context, id Identity) (*Profile, error) {
	raw, found, err := r.store.Get(ctx, profilePrefix+string(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

// PutProfile overwrites the profile and refreshes its TTL.
func (r *Records) PutProfile(ctx context.Context, p *Profile) error {
	if p == nil || strings.TrimSpace(p.UID) == "" {
		return fmt.Errorf("put profile: uid required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.UID, err)
	}
	return r.store.Set(ctx, profilePrefix+p.UID, raw, ProfileTTL)
}

// IdentityByEmail looks up the email index.
func (r *Records) IdentityByEmail(ctx context.Context, email string) (Identity, bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", false, nil
	}
	return r.lookup(ctx, emailPrefix+email)
}

// IdentityByCustomer looks up the processor customer id index.
func (r *Records) IdentityByCustomer(ctx context.Context, customerID string) (Identity, bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", false, nil
	}
	return r.lookup(ctx, customerPrefix+customerID)
}

// IndexEmail points email at id. A previous mapping is silently replaced.
func (r *Records) IndexEmail(ctx context.Context, email string, id Identity) error {
	email = NormalizeEmail(email)
	if email == "" || id.IsZero() {
		return nil
	}
	return r.store.Set(ctx, emailPrefix+email, []byte(id), ProfileTTL)
}

// IndexCustomer points a processor customer id at id.
func (r *Records) IndexCustomer(ctx context.Context, customerID string, id Identity) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || id.IsZero() {
		return nil
	}
	return r.store.Set(ctx, customerPrefix+customerID, []byte(id), ProfileTTL)
}

func (r *Records) lookup(ctx context.Context, key string) (Identity, bool, error) {
	v, found, err := r.store.Get(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	id := Identity(strings.TrimSpace(string(v)))
	if id.IsZero() {
		return "", false, nil
	}
	return id, true, nil
}
