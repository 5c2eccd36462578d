package api

import (
	"net/http"
	"time"

	"github.com/geonexus/entitlements/internal/billing/stripe"
	"github.com/geonexus/entitlements/internal/config"
	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/gate"
	"github.com/geonexus/entitlements/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *config.Config
	Store      store.Store
	Reconciler *entitlement.Reconciler
	Verifier   *entitlement.Verifier
	Profiles   *entitlement.Profiles
	Operator   *entitlement.Operator
	Gate       *gate.Gate
	Checkout   *stripe.CheckoutHandler
	Limiter    *RateLimiter
	Version    string
}

// NewDeps builds the entitlement services over s.
func NewDeps(cfg *config.Config, s store.Store, notifier entitlement.Notifier, allow *gate.Allowlist, version string) *Deps {
	records := entitlement.NewRecords(s)
	verifier := entitlement.NewVerifier(records)
	return &Deps{
		Config:     cfg,
		Store:      s,
		Reconciler: entitlement.NewReconciler(records, notifier),
		Verifier:   verifier,
		Profiles:   entitlement.NewProfiles(records, verifier),
		Operator:   entitlement.NewOperator(records),
		Gate:       gate.New(verifier, gate.Options{Timeout: cfg.GateTimeout, Allowlist: allow}),
		Checkout: stripe.NewCheckoutHandler(stripe.CheckoutConfig{
			SecretKey: cfg.StripeSecretKey,
			AppURL:    cfg.AppURL,
			Prices:    checkoutPrices(cfg.CheckoutPrices),
		}),
		Limiter: NewRateLimiter(time.Minute, map[string]int{
			RouteCheck:    cfg.RateLimit,
			RouteProfile:  cfg.ProfileRateLimit,
			RouteCheckout: cfg.ProfileRateLimit,
		}),
		Version: version,
	}
}

func checkoutPrices(in []config.CheckoutPrice) []stripe.Price {
	out := make([]stripe.Price, 0, len(in))
	for _, p := range in {
		out = append(out, stripe.Price{ID: p.ID, Plan: p.Plan, BillingCycle: p.BillingCycle})
	}
	return out
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health and readiness are unauthenticated.
	mux.HandleFunc("GET /healthz", HandleHealthz)
	mux.HandleFunc("GET /readyz", HandleReadyz(deps.Store))
	mux.HandleFunc("GET /version", HandleVersion(deps.Version))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("GET /metrics", metricsHandler)
	} else {
		mux.Handle("GET /metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated). Method checks stay in the
	// handler so non-POST requests get its JSON 405.
	mux.Handle("/api/stripe/webhook", stripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Reconciler))

	checkLimit := deps.Limiter.Limit(RouteCheck)
	profileLimit := deps.Limiter.Limit(RouteProfile)
	mux.Handle("GET /api/check-subscription", checkLimit(HandleCheckSubscription(deps.Verifier)))
	mux.Handle("GET /api/customer-profile", profileLimit(HandleGetProfile(deps.Profiles)))
	mux.Handle("POST /api/customer-profile", profileLimit(HandleUpsertProfile(deps.Profiles)))
	mux.Handle("POST /api/create-checkout-session", deps.Limiter.Limit(RouteCheckout)(deps.Checkout))

	// Operator overrides (key-authenticated)
	mux.Handle("POST /admin/entitlements/{uid}/grant", adminAuth(HandleAdminGrant(deps.Operator)))
	mux.Handle("POST /admin/entitlements/{uid}/revoke", adminAuth(HandleAdminRevoke(deps.Operator)))
	mux.Handle("GET /admin/customers", adminAuth(HandleAdminCustomer(deps.Operator)))

	// Gated application surface
	mux.Handle("/app/", appHandler(deps.Gate))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, http.StatusOK, page{Title: "GeoNexus", Body: "Sign in to open your dashboard."})
	})
}

// NewHandler returns the full HTTP handler for deps.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return RequestLogger(mux)
}
