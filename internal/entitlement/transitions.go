package entitlement

// FlagEffect is what a transition does to the entitlement flag.
type FlagEffect string

const (
	FlagUnchanged FlagEffect = "unchanged"
	FlagGrant     FlagEffect = "grant"
	FlagRevoke    FlagEffect = "revoke"
)

// Transition is one row of the reconciliation table.
type Transition struct {
	// Flag decides the flag effect; most rows ignore the event.
	Flag func(Event) FlagEffect
	// Profile mutates the profile in place. Every assignment must derive
	// from the event alone so applying the row twice is a no-op.
	Profile func(*Profile, Event)
	// Welcome requests the one-time confirmation message.
	Welcome bool
}

func always(e FlagEffect) func(Event) FlagEffect {
	return func(Event) FlagEffect { return e }
}

var transitions = map[Category]Transition{
	CategoryCheckoutCompleted: {
		Flag: always(FlagGrant),
		Profile: func(p *Profile, ev Event) {
			p.SubscriptionStatus = StatusActive
			setIfPresent(&p.Plan, ev.Plan)
			setIfPresent(&p.BillingCycle, ev.BillingCycle)
			if p.SubscribedAt == nil {
				p.SubscribedAt = timePtr(ev.OccurredAt)
			}
			p.CancelledAt = nil
		},
		Welcome: true,
	},
	CategorySubscriptionChanged: {
		Flag: func(ev Event) FlagEffect {
			if Granting(ev.Status) {
				return FlagGrant
			}
			return FlagUnchanged
		},
		Profile: func(p *Profile, ev Event) {
			p.SubscriptionStatus = MirrorStatus(ev.Status)
			setIfPresent(&p.Plan, ev.Plan)
			setIfPresent(&p.BillingCycle, ev.BillingCycle)
			if !ev.PeriodEnd.IsZero() {
				p.ExpiresAt = timePtr(ev.PeriodEnd)
			}
		},
	},
	CategorySubscriptionDeleted: {
		Flag: always(FlagRevoke),
		Profile: func(p *Profile, ev Event) {
			p.SubscriptionStatus = StatusCancelled
			p.CancelledAt = timePtr(ev.OccurredAt)
		},
	},
	CategoryPaymentSucceeded: {
		Flag: always(FlagGrant),
		Profile: func(p *Profile, ev Event) {
			p.SubscriptionStatus = StatusActive
			p.LastPaymentAt = timePtr(ev.OccurredAt)
			if !ev.PeriodEnd.IsZero() {
				p.ExpiresAt = timePtr(ev.PeriodEnd)
			}
		},
	},
	CategoryPaymentFailed: {
		Flag: always(FlagUnchanged),
		Profile: func(p *Profile, ev Event) {
			p.SubscriptionStatus = StatusPastDue
		},
	},
}

// TransitionFor returns the table row for ev. ok is false for unrecognized
// categories, which are no-ops.
func TransitionFor(ev Event) (Transition, bool) {
	t, ok := transitions[ev.Category]
	return t, ok
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
