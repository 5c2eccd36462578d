package entitlement

import (
	"strings"
	"time"
)

// Category is the tag of the event union. Every processor event type maps to
// exactly one category; anything not listed is CategoryUnrecognized.
type Category string

const (
	CategoryUnrecognized        Category = "unrecognized"
	CategoryCheckoutCompleted   Category = "checkout_completed"
	CategorySubscriptionChanged Category = "subscription_changed"
	CategorySubscriptionDeleted Category = "subscription_deleted"
	CategoryPaymentSucceeded    Category = "payment_succeeded"
	CategoryPaymentFailed       Category = "payment_failed"
)

var categoryByType = map[string]Category{
	"checkout.session.completed":    CategoryCheckoutCompleted,
	"customer.subscription.created": CategorySubscriptionChanged,
	"customer.subscription.updated": CategorySubscriptionChanged,
	"customer.subscription.deleted": CategorySubscriptionDeleted,
	"invoice.payment_succeeded":     CategoryPaymentSucceeded,
	"invoice.paid":                  CategoryPaymentSucceeded,
	"invoice.payment_failed":        CategoryPaymentFailed,
}

// CategoryForType maps a processor event type string to its category.
func CategoryForType(eventType string) Category {
	if c, ok := categoryByType[strings.TrimSpace(eventType)]; ok {
		return c
	}
	return CategoryUnrecognized
}

// Event is one inbound subscription-lifecycle event, already decoded from the
// processor's wire format. Which fields are populated depends on Category.
type Event struct {
	ID       string
	Type     string
	Category Category
	// OccurredAt is the processor's creation time for the event. Profile
	// timestamps derive from it so re-delivery writes identical records.
	OccurredAt time.Time

	// Correlation data, in resolver precedence order.
	Identity   Identity
	CustomerID string
	Email      string

	SubscriptionID string
	// Status is the processor's subscription status, lower-cased.
	Status       string
	Plan         string
	BillingCycle string
	PeriodEnd    time.Time
	DisplayName  string
}

// Granting reports whether a subscription status admits access.
func Granting(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusActive, StatusTrialing:
		return true
	default:
		return false
	}
}

// MirrorStatus converts a processor status into the profile vocabulary.
func MirrorStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "":
		return StatusNone
	case "canceled":
		return StatusCancelled
	default:
		return s
	}
}
