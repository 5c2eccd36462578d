package stripe

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/metrics"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
)

const checkoutBodyLimit = 16 * 1024

// Price is a Stripe price the checkout endpoint may sell.
type Price struct {
	ID           string
	Plan         string
	BillingCycle string
}

// CheckoutConfig configures the checkout session endpoint.
type CheckoutConfig struct {
	SecretKey string
	AppURL    string
	// Prices restricts which price IDs may be bought. Empty accepts any
	// price and takes the plan and cycle from the request.
	Prices []Price
	// Backend overrides the Stripe API backend. Nil uses the default.
	Backend stripelib.Backend
}

// CheckoutHandler creates Stripe Checkout sessions for subscriptions.
type CheckoutHandler struct {
	appURL        string
	prices        map[string]Price
	createSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

type checkoutRequest struct {
	PriceID      string `json:"priceId"`
	Email        string `json:"email"`
	UID          string `json:"uid"`
	Plan         string `json:"plan"`
	BillingCycle string `json:"billingCycle"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// NewCheckoutHandler creates the handler. Without a secret key every
// request is answered with 503.
func NewCheckoutHandler(cfg CheckoutConfig) *CheckoutHandler {
	h := &CheckoutHandler{
		appURL: strings.TrimRight(cfg.AppURL, "/"),
	}
	if len(cfg.Prices) > 0 {
		h.prices = make(map[string]Price, len(cfg.Prices))
		for _, p := range cfg.Prices {
			h.prices[p.ID] = p
		}
	}
	if cfg.SecretKey != "" {
		backend := cfg.Backend
		if backend == nil {
			backend = stripelib.GetBackend(stripelib.APIBackend)
		}
		client := stripesession.Client{B: backend, Key: cfg.SecretKey}
		h.createSession = client.New
	}
	return h
}

func (h *CheckoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if h.createSession == nil {
		metrics.CheckoutSessions.WithLabelValues("unconfigured").Inc()
		writeJSON(w, http.StatusServiceUnavailable, webhookErrorResponse{Error: "checkout not configured"})
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, checkoutBodyLimit)).Decode(&req); err != nil {
		metrics.CheckoutSessions.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid request body"})
		return
	}
	params, err := h.sessionParams(req)
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: err.Error()})
		return
	}
	params.Context = r.Context()

	sess, err := h.createSession(params)
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("uid", req.UID).Str("price_id", req.PriceID).Msg("Failed to create checkout session")
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "failed to create checkout session"})
		return
	}

	metrics.CheckoutSessions.WithLabelValues("created").Inc()
	log.Info().Str("uid", req.UID).Str("session_id", sess.ID).Msg("Checkout session created")
	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: sess.ID, URL: sess.URL})
}

// sessionParams builds a subscription checkout for req. The uid travels as
// the client reference and in both metadata maps, so checkout and
// subscription events resolve the buyer without an email lookup.
func (h *CheckoutHandler) sessionParams(req checkoutRequest) (*stripelib.CheckoutSessionParams, error) {
	priceID := strings.TrimSpace(req.PriceID)
	uid := strings.TrimSpace(req.UID)
	if priceID == "" {
		return nil, errors.New("price ID required")
	}
	if uid == "" {
		return nil, errors.New("uid required")
	}

	plan := firstNonEmpty(req.Plan, entitlement.DefaultPlan)
	cycle := billingCycle(req.BillingCycle)
	if h.prices != nil {
		p, ok := h.prices[priceID]
		if !ok {
			return nil, errors.New("unknown price ID")
		}
		plan = firstNonEmpty(p.Plan, entitlement.DefaultPlan)
		cycle = billingCycle(p.BillingCycle)
	}

	metadata := map[string]string{"uid": uid, "plan": plan}
	if cycle != "" {
		metadata["billing_cycle"] = cycle
	}
	subscriptionMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		subscriptionMetadata[k] = v
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(h.appURL + "/app/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripelib.String(h.appURL + "/app/subscribe"),
		ClientReferenceID: stripelib.String(uid),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{Price: stripelib.String(priceID), Quantity: stripelib.Int64(1)},
		},
		AllowPromotionCodes:      stripelib.Bool(true),
		BillingAddressCollection: stripelib.String(string(stripelib.CheckoutSessionBillingAddressCollectionRequired)),
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: subscriptionMetadata,
		},
		Metadata: metadata,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripelib.String(email)
	}
	return params, nil
}
