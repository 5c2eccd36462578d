package entitlement

import (
	"context"
	"fmt"
)

// ResolvedBy names the rule that produced an identity.
type ResolvedBy string

const (
	ResolvedByEvent    ResolvedBy = "event"
	ResolvedByCustomer ResolvedBy = "customer_index"
	ResolvedByEmail    ResolvedBy = "email_index"
)

// Resolver maps the correlation data on an event to an Identity.
type Resolver struct {
	records *Records
}

// NewResolver creates a Resolver over records.
func NewResolver(records *Records) *Resolver {
	return &Resolver{records: records}
}

// Resolve tries, in order, the identity carried by the event, the customer id
// index and the email index, stopping at the first hit. It returns
// ErrUnresolved when nothing matches; store failures are returned as-is so
// the delivery transport can retry.
func (r *Resolver) Resolve(ctx context.Context, ev Event) (Identity, ResolvedBy, error) {
	if !ev.Identity.IsZero() {
		return ev.Identity, ResolvedByEvent, nil
	}

	if ev.CustomerID != "" {
		id, found, err := r.records.IdentityByCustomer(ctx, ev.CustomerID)
		if err != nil {
			return "", "", fmt.Errorf("lookup customer index: %w", err)
		}
		if found {
			return id, ResolvedByCustomer, nil
		}
	}

	if ev.Email != "" {
		id, found, err := r.records.IdentityByEmail(ctx, ev.Email)
		if err != nil {
			return "", "", fmt.Errorf("lookup email index: %w", err)
		}
		if found {
			return id, ResolvedByEmail, nil
		}
	}

	return "", "", ErrUnresolved
}
