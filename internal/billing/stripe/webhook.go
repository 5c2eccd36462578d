// Package stripe receives Stripe webhooks and turns them into entitlement
// events.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/metrics"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// ErrInvalidSignature is returned when the Stripe-Signature header does not
// match the payload.
var ErrInvalidSignature = errors.New("invalid Stripe signature")

// Reconciler applies decoded events.
type Reconciler interface {
	Reconcile(ctx context.Context, ev entitlement.Event) (entitlement.Outcome, error)
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret     string
	reconciler Reconciler
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, reconciler Reconciler) *WebhookHandler {
	return &WebhookHandler{secret: secret, reconciler: reconciler}
}

// VerifyEvent checks the signature header against payload and parses the
// event envelope.
func VerifyEvent(payload []byte, sigHeader, secret string) (stripelib.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripelib.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return event, nil
}

// ServeHTTP verifies the Stripe signature, decodes the event and hands it to
// the reconciler. Only store failures produce a 5xx, so Stripe redelivers
// exactly the events that were not applied.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := VerifyEvent(payload, sigHeader, h.secret)
	if err != nil {
		log.Warn().Err(err).Msg("Stripe webhook rejected")
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: ErrInvalidSignature.Error()})
		return
	}
	if event.Type != "" {
		eventType = string(event.Type)
	}

	ev, err := DecodeEvent(&event)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("Stripe webhook payload malformed")
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "malformed event"})
		return
	}

	if _, err := h.reconciler.Reconcile(r.Context(), ev); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
