package entitlement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/geonexus/entitlements/internal/store"
	"github.com/geonexus/entitlements/internal/store/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_CheckoutGrantsAndIndexes(t *testing.T) {
	records, mem := newMemoryRecords(t)
	notifier := &recordingNotifier{}
	r := NewReconciler(records, notifier)
	ctx := context.Background()

	out, err := r.Reconcile(ctx, checkoutEvent("u1", "cus_1", "A@X.com"))
	require.NoError(t, err)
	assert.Equal(t, Identity("u1"), out.Identity)
	assert.Equal(t, ResolvedByEvent, out.ResolvedBy)
	assert.Equal(t, FlagGrant, out.Flag)

	flag, found, err := records.Flag(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, FlagActive, flag)
	assert.InDelta(t, FlagTTL.Seconds(), mem.TTL("sub:u1").Seconds(), 5)

	p, err := records.Profile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, StatusActive, p.SubscriptionStatus)
	assert.Equal(t, "cus_1", p.StripeCustomerID)
	assert.Equal(t, "sub_1", p.SubscriptionID)
	assert.Equal(t, "analyst", p.Plan)
	assert.Equal(t, "monthly", p.BillingCycle)
	assert.Equal(t, "a@x.com", p.Email)
	require.NotNil(t, p.SubscribedAt)
	assert.True(t, p.SubscribedAt.Equal(eventTime))

	byCustomer, found, err := records.IdentityByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Identity("u1"), byCustomer)

	byEmail, found, err := records.IdentityByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Identity("u1"), byEmail)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, WelcomeNotice{Identity: "u1", Email: "a@x.com", Plan: "analyst"}, notifier.notices[0])
}

func TestReconcile_CheckoutIsIdempotent(t *testing.T) {
	records, mem := newMemoryRecords(t)
	notifier := &recordingNotifier{}
	r := NewReconciler(records, notifier)
	ctx := context.Background()
	ev := checkoutEvent("u1", "cus_1", "a@x.com")

	_, err := r.Reconcile(ctx, ev)
	require.NoError(t, err)
	first, _, err := mem.Get(ctx, "customer:u1")
	require.NoError(t, err)

	// Redelivery arrives later on the wall clock but carries the same event.
	r.now = func() time.Time { return eventTime.Add(time.Hour) }
	_, err = r.Reconcile(ctx, ev)
	require.NoError(t, err)
	second, _, err := mem.Get(ctx, "customer:u1")
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, 4, mem.Len())
	assert.Equal(t, 1, notifier.count(), "welcome must not repeat on redelivery")
}

func TestReconcile_CheckoutByEmailThenDeletionByCustomer(t *testing.T) {
	records, _ := newMemoryRecords(t)
	ctx := context.Background()

	profiles := NewProfiles(records, NewVerifier(records))
	_, err := profiles.Upsert(ctx, ProfileInput{UID: "u1", Email: "a@x.com"})
	require.NoError(t, err)

	r := NewReconciler(records, nil)
	out, err := r.Reconcile(ctx, checkoutEvent("", "cus_1", "a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, Identity("u1"), out.Identity)
	assert.Equal(t, ResolvedByEmail, out.ResolvedBy)

	res, err := NewVerifier(records).Check(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Active: true, Status: FlagActive}, res)

	out, err = r.Reconcile(ctx, Event{
		ID:         "evt_deleted",
		Type:       "customer.subscription.deleted",
		Category:   CategorySubscriptionDeleted,
		OccurredAt: eventTime.Add(48 * time.Hour),
		CustomerID: "cus_1",
	})
	require.NoError(t, err)
	assert.Equal(t, ResolvedByCustomer, out.ResolvedBy)
	assert.Equal(t, FlagRevoke, out.Flag)

	res, err = NewVerifier(records).Check(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Result{Active: false, Status: StatusNone}, res)

	p, err := records.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.SubscriptionStatus)
	require.NotNil(t, p.CancelledAt)
	assert.True(t, p.CancelledAt.Equal(eventTime.Add(48*time.Hour)))
	assert.Equal(t, 1, p.LoginCount, "login data survives reconciliation")
}

func TestReconcile_PaymentFailedKeepsAccess(t *testing.T) {
	records, _ := newMemoryRecords(t)
	r := NewReconciler(records, nil)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, checkoutEvent("u1", "cus_1", ""))
	require.NoError(t, err)

	out, err := r.Reconcile(ctx, Event{
		ID:         "evt_failed",
		Type:       "invoice.payment_failed",
		Category:   CategoryPaymentFailed,
		OccurredAt: eventTime.Add(time.Hour),
		CustomerID: "cus_1",
	})
	require.NoError(t, err)
	assert.Equal(t, FlagUnchanged, out.Flag)

	res, err := NewVerifier(records).Check(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Active)

	p, err := records.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, p.SubscriptionStatus)
}

func TestReconcile_SubscriptionChanged(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantFlag   FlagEffect
		wantActive bool
		wantStatus string
	}{
		{name: "active grants", status: "active", wantFlag: FlagGrant, wantActive: true, wantStatus: StatusActive},
		{name: "trialing grants", status: "trialing", wantFlag: FlagGrant, wantActive: true, wantStatus: StatusTrialing},
		{name: "canceled mirrors only", status: "canceled", wantFlag: FlagUnchanged, wantStatus: StatusCancelled},
		{name: "unpaid mirrored verbatim", status: "unpaid", wantFlag: FlagUnchanged, wantStatus: "unpaid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, _ := newMemoryRecords(t)
			r := NewReconciler(records, nil)
			ctx := context.Background()
			periodEnd := eventTime.Add(30 * 24 * time.Hour)

			out, err := r.Reconcile(ctx, Event{
				ID:             "evt_sub",
				Type:           "customer.subscription.updated",
				Category:       CategorySubscriptionChanged,
				OccurredAt:     eventTime,
				Identity:       "u1",
				CustomerID:     "cus_1",
				SubscriptionID: "sub_1",
				Status:         tt.status,
				Plan:           "pro",
				PeriodEnd:      periodEnd,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, out.Flag)

			res, err := NewVerifier(records).Check(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantActive, res.Active)

			p, err := records.Profile(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, p.SubscriptionStatus)
			assert.Equal(t, "pro", p.Plan)
			require.NotNil(t, p.ExpiresAt)
			assert.True(t, p.ExpiresAt.Equal(periodEnd))
		})
	}
}

func TestReconcile_PaymentSucceededRenews(t *testing.T) {
	records, mem := newMemoryRecords(t)
	r := NewReconciler(records, nil)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, Event{
		ID:         "evt_paid",
		Type:       "invoice.paid",
		Category:   CategoryForType("invoice.paid"),
		OccurredAt: eventTime,
		Identity:   "u1",
		CustomerID: "cus_1",
	})
	require.NoError(t, err)

	assert.InDelta(t, FlagTTL.Seconds(), mem.TTL("sub:u1").Seconds(), 5)
	p, err := records.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.SubscriptionStatus)
	require.NotNil(t, p.LastPaymentAt)
	assert.True(t, p.LastPaymentAt.Equal(eventTime))
}

func TestReconcile_UnknownTypeIsNoop(t *testing.T) {
	records, mem := newMemoryRecords(t)
	r := NewReconciler(records, nil)

	out, err := r.Reconcile(context.Background(), Event{
		ID:       "evt_x",
		Type:     "customer.created",
		Category: CategoryForType("customer.created"),
		Identity: "u1",
	})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, 0, mem.Len())
}

func TestReconcile_UnresolvedIsDropped(t *testing.T) {
	records, mem := newMemoryRecords(t)
	r := NewReconciler(records, nil)

	out, err := r.Reconcile(context.Background(), checkoutEvent("", "cus_unknown", "nobody@x.com"))
	require.NoError(t, err)
	assert.True(t, out.Dropped)
	assert.Equal(t, 0, mem.Len())
}

func TestReconcile_StoreUnavailable(t *testing.T) {
	r := NewReconciler(NewRecords(downStore{}), nil)

	_, err := r.Reconcile(context.Background(), checkoutEvent("u1", "cus_1", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	// Resolution failures are not reported as unresolved.
	_, err = r.Reconcile(context.Background(), checkoutEvent("", "cus_1", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUnresolved)
}

func TestReconcile_NewSubscriptionSendsWelcomeAgain(t *testing.T) {
	records, _ := newMemoryRecords(t)
	notifier := &recordingNotifier{}
	r := NewReconciler(records, notifier)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, checkoutEvent("u1", "cus_1", "a@x.com"))
	require.NoError(t, err)

	ev := checkoutEvent("u1", "cus_1", "a@x.com")
	ev.ID = "evt_checkout_2"
	ev.SubscriptionID = "sub_2"
	_, err = r.Reconcile(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, 2, notifier.count())
}

func TestMergeEventProfile_KeepsExistingEmail(t *testing.T) {
	prior := &Profile{UID: "u1", Email: "first@x.com", SubscriptionStatus: StatusNone}
	next := mergeEventProfile(prior, "u1", Event{Email: "second@x.com", OccurredAt: eventTime})

	assert.Equal(t, "first@x.com", next.Email)
	assert.Equal(t, "first@x.com", prior.Email, "prior must not be mutated")

	raw, err := json.Marshal(next)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"updatedAt":"2026-03-14T09:30:00Z"`)
}

func TestReconcile_RepairsCustomerIndex(t *testing.T) {
	for _, status := range []string{"active", "past_due"} {
		t.Run(status, func(t *testing.T) {
			records, mem := newMemoryRecords(t)
			r := NewReconciler(records, nil)
			ctx := context.Background()

			_, err := r.Reconcile(ctx, checkoutEvent("u1", "cus_1", "a@x.com"))
			require.NoError(t, err)
			require.NoError(t, mem.Delete(ctx, "stripe:cus_1"))

			_, found, err := records.IdentityByCustomer(ctx, "cus_1")
			require.NoError(t, err)
			require.False(t, found)

			_, err = r.Reconcile(ctx, Event{
				ID:         "evt_sub_updated",
				Type:       "customer.subscription.updated",
				Category:   CategorySubscriptionChanged,
				OccurredAt: eventTime.Add(time.Hour),
				Identity:   "u1",
				CustomerID: "cus_1",
				Status:     status,
			})
			require.NoError(t, err)

			id, found, err := records.IdentityByCustomer(ctx, "cus_1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, Identity("u1"), id)
			assert.InDelta(t, ProfileTTL.Seconds(), mem.TTL("stripe:cus_1").Seconds(), 5)
		})
	}
}

func TestReconcile_WelcomeSurvivesEmailIndexFailure(t *testing.T) {
	mem := memorystore.New()
	t.Cleanup(func() { _ = mem.Close() })
	flaky := &failingKeys{Store: mem, prefix: "email:", fail: true}
	notifier := &recordingNotifier{}
	r := NewReconciler(NewRecords(flaky), notifier)
	ctx := context.Background()
	ev := checkoutEvent("u1", "cus_1", "a@x.com")

	_, err := r.Reconcile(ctx, ev)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, 1, notifier.count())

	flaky.fail = false
	_, err = r.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count(), "redelivery must not repeat the welcome")

	id, found, err := NewRecords(mem).IdentityByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Identity("u1"), id)
}
