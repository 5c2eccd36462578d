package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geonexus/entitlements/internal/metrics"
	"github.com/rs/zerolog/log"
)

// WelcomeNotice is handed to the Notifier after a successful checkout.
type WelcomeNotice struct {
	Identity    Identity
	Email       string
	DisplayName string
	Plan        string
}

// Notifier dispatches best-effort messages. Implementations must not block
// the caller on delivery and must not report failures back.
type Notifier interface {
	Welcome(ctx context.Context, n WelcomeNotice)
}

// Outcome describes what Reconcile did with an event.
type Outcome struct {
	EventID    string
	Category   Category
	Identity   Identity
	ResolvedBy ResolvedBy
	Flag       FlagEffect
	// Ignored is set for unrecognized categories.
	Ignored bool
	// Dropped is set when no identity could be resolved.
	Dropped bool
}

// Reconciler applies one event at a time to the store.
type Reconciler struct {
	records  *Records
	resolver *Resolver
	notifier Notifier
	now      func() time.Time
}

// NewReconciler creates a Reconciler. notifier may be nil.
func NewReconciler(records *Records, notifier Notifier) *Reconciler {
	return &Reconciler{
		records:  records,
		resolver: NewResolver(records),
		notifier: notifier,
		now:      time.Now,
	}
}

// Reconcile applies ev. It returns an error only when the store failed, in
// which case the caller should report failure so the event is redelivered.
// Every write is a last-write-wins overwrite derived from the event, so
// applying the same event again leaves the same records.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (out Outcome, err error) {
	out = Outcome{EventID: ev.ID, Category: ev.Category, Flag: FlagUnchanged}
	defer func() {
		metrics.ReconcileTotal.WithLabelValues(string(ev.Category), reconcileResult(out, err)).Inc()
	}()

	t, ok := TransitionFor(ev)
	if !ok {
		out.Ignored = true
		log.Info().
			Str("event_id", ev.ID).
			Str("type", ev.Type).
			Msg("Event type not handled, ignoring")
		return out, nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now()
	}

	id, by, err := r.resolver.Resolve(ctx, ev)
	if errors.Is(err, ErrUnresolved) {
		out.Dropped = true
		log.Warn().
			Str("event_id", ev.ID).
			Str("type", ev.Type).
			Str("customer_id", ev.CustomerID).
			Bool("has_email", ev.Email != "").
			Msg("No identity for event, dropping")
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("resolve identity: %w", err)
	}
	out.Identity = id
	out.ResolvedBy = by

	effect := t.Flag(ev)
	switch effect {
	case FlagGrant:
		if err := r.records.Grant(ctx, id); err != nil {
			return out, fmt.Errorf("grant entitlement: %w", err)
		}
	case FlagRevoke:
		if err := r.records.Revoke(ctx, id); err != nil {
			return out, fmt.Errorf("revoke entitlement: %w", err)
		}
	}
	out.Flag = effect

	// Repair the customer index on every event that carries both values.
	if err := r.records.IndexCustomer(ctx, ev.CustomerID, id); err != nil {
		return out, fmt.Errorf("index customer: %w", err)
	}

	prior, err := r.records.Profile(ctx, id)
	if err != nil {
		return out, fmt.Errorf("load profile: %w", err)
	}
	next := mergeEventProfile(prior, id, ev)
	t.Profile(next, ev)
	if err := r.records.PutProfile(ctx, next); err != nil {
		return out, fmt.Errorf("save profile: %w", err)
	}

	// The saved profile marks the checkout as seen, so a redelivery after
	// any later failure would skip the welcome. Dispatch it now.
	if t.Welcome && r.notifier != nil && next.Email != "" && firstCheckout(prior, ev) {
		r.notifier.Welcome(ctx, WelcomeNotice{
			Identity:    id,
			Email:       next.Email,
			DisplayName: next.DisplayName,
			Plan:        next.Plan,
		})
	}

	if ev.Email != "" {
		if err := r.records.IndexEmail(ctx, ev.Email, id); err != nil {
			return out, fmt.Errorf("index email: %w", err)
		}
	}

	log.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Str("uid", string(id)).
		Str("resolved_by", string(by)).
		Str("flag", string(effect)).
		Str("subscription_status", next.SubscriptionStatus).
		Msg("Event reconciled")

	return out, nil
}

// mergeEventProfile copies the prior profile (or starts a new one) and folds
// in the correlation fields the event carries.
func mergeEventProfile(prior *Profile, id Identity, ev Event) *Profile {
	var p Profile
	if prior != nil {
		p = *prior
	} else {
		p = Profile{
			UID:                string(id),
			SubscriptionStatus: StatusNone,
			CreatedAt:          timePtr(ev.OccurredAt),
		}
	}
	p.UID = string(id)
	setIfPresent(&p.StripeCustomerID, ev.CustomerID)
	setIfPresent(&p.SubscriptionID, ev.SubscriptionID)
	if p.Email == "" {
		p.Email = NormalizeEmail(ev.Email)
	}
	if p.DisplayName == "" {
		p.DisplayName = ev.DisplayName
	}
	p.UpdatedAt = timePtr(ev.OccurredAt)
	return &p
}

// firstCheckout is false on re-delivery of a checkout already applied.
func firstCheckout(prior *Profile, ev Event) bool {
	if prior == nil || prior.SubscribedAt == nil {
		return true
	}
	return ev.SubscriptionID != "" && prior.SubscriptionID != ev.SubscriptionID
}

func reconcileResult(out Outcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case out.Ignored:
		return "ignored"
	case out.Dropped:
		return "dropped"
	default:
		return "applied"
	}
}
