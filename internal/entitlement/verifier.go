package entitlement

import (
	"context"
	"fmt"

	"github.com/geonexus/entitlements/internal/metrics"
)

// Result is the answer to "is this identity entitled right now".
type Result struct {
	Active bool   `json:"active"`
	Status string `json:"status"`
}

// Verifier answers entitlement queries with a single point read.
type Verifier struct {
	records *Records
}

// NewVerifier creates a Verifier over records.
func NewVerifier(records *Records) *Verifier {
	return &Verifier{records: records}
}

// Check reads the flag for id. Status is the stored flag value, or "none"
// when absent. When the store cannot be reached the returned error wraps
// store.ErrUnavailable; callers must not treat that as inactive.
func (v *Verifier) Check(ctx context.Context, id Identity) (Result, error) {
	if id.IsZero() {
		metrics.VerifyTotal.WithLabelValues("invalid").Inc()
		return Result{Status: StatusNone}, fmt.Errorf("check entitlement: identity required")
	}

	val, found, err := v.records.Flag(ctx, id)
	if err != nil {
		metrics.VerifyTotal.WithLabelValues("unavailable").Inc()
		return Result{}, fmt.Errorf("check entitlement %s: %w", id, err)
	}
	if !found {
		metrics.VerifyTotal.WithLabelValues("inactive").Inc()
		return Result{Active: false, Status: StatusNone}, nil
	}

	res := Result{Active: val == FlagActive, Status: val}
	if res.Active {
		metrics.VerifyTotal.WithLabelValues("active").Inc()
	} else {
		metrics.VerifyTotal.WithLabelValues("inactive").Inc()
	}
	return res, nil
}
