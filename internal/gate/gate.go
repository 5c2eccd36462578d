// Package gate decides which surface a client may see based on its local
// identity and the entitlement verifier.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/metrics"
	"github.com/geonexus/entitlements/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single verification call.
const DefaultTimeout = 5 * time.Second

// Surface is a coarse area of the client application.
type Surface string

const (
	SurfaceLanding     Surface = "landing"
	SurfacePurchase    Surface = "purchase"
	SurfaceApplication Surface = "application"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNoIdentity  Reason = "no_identity"
	ReasonAllowlisted Reason = "allowlisted"
	ReasonActive      Reason = "active"
	ReasonInactive    Reason = "inactive"
	ReasonUnavailable Reason = "unavailable"
)

// Checker is the verifier contract the gate depends on. Both
// *entitlement.Verifier and *RemoteChecker satisfy it.
type Checker interface {
	Check(ctx context.Context, id entitlement.Identity) (entitlement.Result, error)
}

// Decision is where the client should be.
type Decision struct {
	Surface  Surface `json:"surface"`
	Redirect bool    `json:"redirect"`
	Entitled bool    `json:"entitled"`
	Reason   Reason  `json:"reason"`
}

// Options configures a Gate.
type Options struct {
	Timeout   time.Duration
	Allowlist *Allowlist
}

// Gate is safe for concurrent use.
type Gate struct {
	checker Checker
	allow   *Allowlist
	timeout time.Duration
}

func New(checker Checker, opts Options) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Gate{checker: checker, allow: opts.Allowlist, timeout: opts.Timeout}
}

// Decide maps (identity, verification, current surface) to a Decision.
// Anything other than a positive answer from the verifier fails closed: the
// client is sent to purchase, except that a client on landing stays there.
func (g *Gate) Decide(ctx context.Context, id entitlement.Identity, current Surface) Decision {
	d := g.decide(ctx, id, current)
	d.Redirect = d.Surface != current
	metrics.GateDecisions.WithLabelValues(string(d.Reason)).Inc()
	return d
}

func (g *Gate) decide(ctx context.Context, id entitlement.Identity, current Surface) Decision {
	if id.IsZero() {
		return Decision{Surface: SurfaceLanding, Reason: ReasonNoIdentity}
	}
	if g.allow.Allowed(id) {
		return Decision{Surface: current, Entitled: true, Reason: ReasonAllowlisted}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.checker.Check(ctx, id)
	if err != nil {
		ev := log.Warn().Err(err).Str("uid", string(id)).Str("surface", string(current))
		if errors.Is(err, context.DeadlineExceeded) {
			ev = ev.Dur("timeout", g.timeout)
		}
		ev.Bool("store_unavailable", errors.Is(err, store.ErrUnavailable)).
			Msg("Entitlement check failed, failing closed")
		if current == SurfaceLanding {
			return Decision{Surface: SurfaceLanding, Reason: ReasonUnavailable}
		}
		return Decision{Surface: SurfacePurchase, Reason: ReasonUnavailable}
	}
	if res.Active {
		return Decision{Surface: current, Entitled: true, Reason: ReasonActive}
	}
	return Decision{Surface: SurfacePurchase, Reason: ReasonInactive}
}
