package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPlan is applied by manual activation when no plan is given.
const DefaultPlan = "analyst"

// ErrNotFound is returned by operator lookups that find no identity.
var ErrNotFound = errors.New("not found")

// Inspection is everything the store knows about one identity.
type Inspection struct {
	Identity Identity `json:"uid"`
	Flag     string   `json:"flag"`
	Profile  *Profile `json:"profile"`
}

// Operator carries the manual overrides used by support staff.
type Operator struct {
	records *Records
	now     func() time.Time
}

func NewOperator(records *Records) *Operator {
	return &Operator{records: records, now: time.Now}
}

// IdentityForEmail resolves an email through the index.
func (o *Operator) IdentityForEmail(ctx context.Context, email string) (Identity, error) {
	if NormalizeEmail(email) == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	id, found, err := o.records.IdentityByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("lookup email index: %w", err)
	}
	if !found {
		return "", fmt.Errorf("no identity for %s: %w", NormalizeEmail(email), ErrNotFound)
	}
	return id, nil
}

// Activate grants id and marks its profile active on plan.
func (o *Operator) Activate(ctx context.Context, id Identity, plan string) (*Profile, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}
	if plan == "" {
		plan = DefaultPlan
	}
	now := o.now().UTC()

	if err := o.records.Grant(ctx, id); err != nil {
		return nil, fmt.Errorf("grant entitlement: %w", err)
	}
	p, err := o.records.Profile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		p = &Profile{UID: string(id), CreatedAt: &now}
	}
	p.SubscriptionStatus = StatusActive
	p.Plan = plan
	if p.SubscribedAt == nil {
		p.SubscribedAt = &now
	}
	p.LastPaymentAt = &now
	p.CancelledAt = nil
	p.UpdatedAt = &now
	if err := o.records.PutProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	log.Info().Str("uid", string(id)).Str("plan", plan).Msg("Entitlement activated manually")
	return p, nil
}

// ActivateEmail resolves email and activates the identity it maps to.
func (o *Operator) ActivateEmail(ctx context.Context, email, plan string) (*Profile, error) {
	id, err := o.IdentityForEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return o.Activate(ctx, id, plan)
}

// Revoke deletes the flag and marks the profile cancelled if one exists.
func (o *Operator) Revoke(ctx context.Context, id Identity) error {
	if id.IsZero() {
		return fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}
	if err := o.records.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke entitlement: %w", err)
	}
	p, err := o.records.Profile(ctx, id)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if p != nil {
		now := o.now().UTC()
		p.SubscriptionStatus = StatusCancelled
		p.CancelledAt = &now
		p.UpdatedAt = &now
		if err := o.records.PutProfile(ctx, p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
	}

	log.Info().Str("uid", string(id)).Msg("Entitlement revoked manually")
	return nil
}

// Inspect returns the flag and profile for id.
func (o *Operator) Inspect(ctx context.Context, id Identity) (Inspection, error) {
	flag, found, err := o.records.Flag(ctx, id)
	if err != nil {
		return Inspection{}, fmt.Errorf("read flag: %w", err)
	}
	if !found {
		flag = StatusNone
	}
	p, err := o.records.Profile(ctx, id)
	if err != nil {
		return Inspection{}, fmt.Errorf("load profile: %w", err)
	}
	return Inspection{Identity: id, Flag: flag, Profile: p}, nil
}

// InspectEmail resolves email and inspects the identity it maps to.
func (o *Operator) InspectEmail(ctx context.Context, email string) (Inspection, error) {
	id, err := o.IdentityForEmail(ctx, email)
	if err != nil {
		return Inspection{}, err
	}
	return o.Inspect(ctx, id)
}
