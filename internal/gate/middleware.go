package gate

import (
	"net/http"
	"strings"

	"github.com/geonexus/entitlements/internal/entitlement"
)

// IdentityHeader carries the client's local identity on gated requests.
const IdentityHeader = "X-Auth-UID"

// IdentityCookie is consulted when the header is absent.
const IdentityCookie = "uid"

// IdentityFunc extracts the local identity from a request.
type IdentityFunc func(*http.Request) entitlement.Identity

// IdentityFromRequest reads IdentityHeader, then IdentityCookie.
func IdentityFromRequest(r *http.Request) entitlement.Identity {
	if v := strings.TrimSpace(r.Header.Get(IdentityHeader)); v != "" {
		return entitlement.Identity(v)
	}
	if c, err := r.Cookie(IdentityCookie); err == nil {
		return entitlement.Identity(strings.TrimSpace(c.Value))
	}
	return ""
}

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	Identify    IdentityFunc
	LandingURL  string
	PurchaseURL string
	// Ungated paths are served without a decision. Matching is exact;
	// PurchaseURL is always ungated.
	Ungated []string
}

// DefaultUngated are pages reachable mid-purchase.
var DefaultUngated = []string{"/app/subscribe", "/app/success", "/subscribe", "/success"}

// Middleware guards application pages. Requests that the gate would move
// elsewhere are redirected with 303 See Other.
func (g *Gate) Middleware(opts MiddlewareOptions) func(http.Handler) http.Handler {
	if opts.Identify == nil {
		opts.Identify = IdentityFromRequest
	}
	if opts.LandingURL == "" {
		opts.LandingURL = "/"
	}
	if opts.PurchaseURL == "" {
		opts.PurchaseURL = "/subscribe"
	}
	if opts.Ungated == nil {
		opts.Ungated = DefaultUngated
	}
	ungatedPaths := make(map[string]struct{}, len(opts.Ungated)+1)
	for _, p := range opts.Ungated {
		ungatedPaths[p] = struct{}{}
	}
	ungatedPaths[opts.PurchaseURL] = struct{}{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ungatedPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			d := g.Decide(r.Context(), opts.Identify(r), SurfaceApplication)
			w.Header().Set("X-Entitlement-Reason", string(d.Reason))
			if !d.Redirect {
				next.ServeHTTP(w, r)
				return
			}

			target := opts.PurchaseURL
			if d.Surface == SurfaceLanding {
				target = opts.LandingURL
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, target, http.StatusSeeOther)
		})
	}
}
