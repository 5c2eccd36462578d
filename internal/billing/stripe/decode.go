package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/geonexus/entitlements/internal/entitlement"
	stripelib "github.com/stripe/stripe-go/v82"
)

// expandableID accepts either a bare Stripe id or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// CheckoutSession is the subset of a checkout.session object we read.
type CheckoutSession struct {
	ID                string       `json:"id"`
	Mode              string       `json:"mode"`
	ClientReferenceID string       `json:"client_reference_id"`
	Customer          expandableID `json:"customer"`
	Subscription      expandableID `json:"subscription"`
	CustomerEmail     string       `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type price struct {
	ID        string            `json:"id"`
	LookupKey string            `json:"lookup_key"`
	Nickname  string            `json:"nickname"`
	Metadata  map[string]string `json:"metadata"`
	Recurring *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

// Subscription is the subset of a subscription object we read.
type Subscription struct {
	ID               string            `json:"id"`
	Customer         expandableID      `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price            price `json:"price"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// Invoice is the subset of an invoice object we read.
type Invoice struct {
	ID            string       `json:"id"`
	Customer      expandableID `json:"customer"`
	CustomerEmail string       `json:"customer_email"`
	CustomerName  string       `json:"customer_name"`
	Subscription  expandableID `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// DecodeEvent converts a verified Stripe event into an entitlement.Event.
// Unrecognized types decode to CategoryUnrecognized without reading the
// payload. Malformed payloads return an error wrapping
// entitlement.ErrInvalidEvent.
func DecodeEvent(ev *stripelib.Event) (entitlement.Event, error) {
	if ev == nil || strings.TrimSpace(string(ev.Type)) == "" {
		return entitlement.Event{}, fmt.Errorf("%w: missing event type", entitlement.ErrInvalidEvent)
	}
	out := entitlement.Event{
		ID:       ev.ID,
		Type:     string(ev.Type),
		Category: entitlement.CategoryForType(string(ev.Type)),
	}
	if ev.Created > 0 {
		out.OccurredAt = time.Unix(ev.Created, 0).UTC()
	}
	if out.Category == entitlement.CategoryUnrecognized {
		return out, nil
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return entitlement.Event{}, fmt.Errorf("%w: %s has no data object", entitlement.ErrInvalidEvent, ev.ID)
	}

	var err error
	switch out.Category {
	case entitlement.CategoryCheckoutCompleted:
		err = decodeCheckout(ev.Data.Raw, &out)
	case entitlement.CategorySubscriptionChanged, entitlement.CategorySubscriptionDeleted:
		err = decodeSubscription(ev.Data.Raw, &out)
	case entitlement.CategoryPaymentSucceeded, entitlement.CategoryPaymentFailed:
		err = decodeInvoice(ev.Data.Raw, &out)
	}
	if err != nil {
		return entitlement.Event{}, fmt.Errorf("%w: decode %s: %w", entitlement.ErrInvalidEvent, out.Type, err)
	}
	return out, nil
}

func decodeCheckout(raw json.RawMessage, out *entitlement.Event) error {
	var s CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	out.Identity = identityFrom(s.ClientReferenceID, s.Metadata)
	out.CustomerID = string(s.Customer)
	out.SubscriptionID = string(s.Subscription)
	out.Email = firstNonEmpty(s.CustomerDetails.Email, s.CustomerEmail)
	out.DisplayName = strings.TrimSpace(s.CustomerDetails.Name)
	out.Plan = strings.TrimSpace(s.Metadata["plan"])
	out.BillingCycle = billingCycle(s.Metadata["billing_cycle"])
	return nil
}

func decodeSubscription(raw json.RawMessage, out *entitlement.Event) error {
	var s Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	out.Identity = identityFrom("", s.Metadata)
	out.CustomerID = string(s.Customer)
	out.SubscriptionID = s.ID
	out.Status = strings.ToLower(strings.TrimSpace(s.Status))

	periodEnd := s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.Plan = planFromPrice(s.Metadata, item.Price)
		if item.Price.Recurring != nil {
			out.BillingCycle = billingCycle(item.Price.Recurring.Interval)
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	} else {
		out.Plan = strings.TrimSpace(s.Metadata["plan"])
	}
	if periodEnd > 0 {
		out.PeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return nil
}

func decodeInvoice(raw json.RawMessage, out *entitlement.Event) error {
	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}
	out.CustomerID = string(inv.Customer)
	out.Email = strings.TrimSpace(inv.CustomerEmail)
	out.DisplayName = strings.TrimSpace(inv.CustomerName)
	out.SubscriptionID = string(inv.Subscription)
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		out.Identity = identityFrom("", details.Metadata)
		if out.SubscriptionID == "" {
			out.SubscriptionID = string(details.Subscription)
		}
	}
	var end int64
	for _, line := range inv.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	if end > 0 {
		out.PeriodEnd = time.Unix(end, 0).UTC()
	}
	return nil
}

// identityFrom prefers the checkout client reference, then metadata.
func identityFrom(clientRef string, metadata map[string]string) entitlement.Identity {
	return entitlement.Identity(firstNonEmpty(clientRef, metadata["uid"], metadata["firebase_uid"]))
}

func planFromPrice(metadata map[string]string, p price) string {
	return firstNonEmpty(metadata["plan"], p.Metadata["plan"], p.LookupKey, p.Nickname)
}

func billingCycle(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "month", "monthly":
		return "monthly"
	case "year", "yearly", "annual":
		return "yearly"
	default:
		return strings.ToLower(strings.TrimSpace(v))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
