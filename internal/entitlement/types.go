// Package entitlement reconciles payment processor events into access flags
// and answers whether an identity is currently entitled.
//
// All state lives in a store.Store as four record families:
//
//	sub:<identity>        entitlement flag ("active"), 32 day TTL
//	customer:<identity>   customer profile (JSON), 1 year TTL
//	email:<email>         email -> identity index, 1 year TTL
//	stripe:<customer id>  processor customer id -> identity index, 1 year TTL
//
// Absence of the flag means "not entitled". Revocation deletes the flag.
package entitlement

import (
	"errors"
	"strings"
	"time"
)

// Identity is the canonical account id issued by the product's auth layer.
type Identity string

func (id Identity) String() string { return string(id) }

// IsZero reports whether id is empty after trimming.
func (id Identity) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

const (
	// FlagTTL outlasts a monthly billing cycle with a few days of buffer.
	FlagTTL = 32 * 24 * time.Hour
	// ProfileTTL applies to profiles and both indices; refreshed on every write.
	ProfileTTL = 365 * 24 * time.Hour

	// FlagActive is the only flag value that admits access.
	FlagActive = "active"
)

// Subscription statuses mirrored into CustomerProfile.SubscriptionStatus.
// Processor statuses outside this list are mirrored verbatim.
const (
	StatusNone      = "none"
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
	StatusTrialing  = "trialing"
)

var (
	// ErrUnresolved means no identity could be derived from an event.
	ErrUnresolved = errors.New("identity not resolved")
	// ErrInvalidEvent marks an event rejected at the boundary.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidInput marks a malformed client or operator request.
	ErrInvalidInput = errors.New("invalid input")
)

// Profile is the CustomerProfile record. Field names match the JSON the
// dashboard already reads.
type Profile struct {
	UID         string     `json:"uid"`
	Email       string     `json:"email,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	LoginCount  int        `json:"loginCount"`

	StripeCustomerID   string     `json:"stripeCustomerId,omitempty"`
	SubscriptionID     string     `json:"subscriptionId,omitempty"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	Plan               string     `json:"plan,omitempty"`
	BillingCycle       string     `json:"billingCycle,omitempty"`
	SubscribedAt       *time.Time `json:"subscribedAt,omitempty"`
	LastPaymentAt      *time.Time `json:"lastPaymentAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	UpdatedAt          *time.Time `json:"updatedAt,omitempty"`
}

// NormalizeEmail lower-cases and trims an address for use as an index key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
