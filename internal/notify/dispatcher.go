package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/metrics"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// DefaultSendTimeout bounds one delivery attempt.
const DefaultSendTimeout = 15 * time.Second

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	From         string
	DashboardURL string
	Timeout      time.Duration
}

// Dispatcher sends notifications on their own goroutines. Failures are
// logged and counted, never returned. It implements entitlement.Notifier.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	return &Dispatcher{sender: sender, cfg: cfg}
}

// Welcome queues the post-checkout confirmation and returns immediately.
func (d *Dispatcher) Welcome(ctx context.Context, n entitlement.WelcomeNotice) {
	if d == nil || d.sender == nil || strings.TrimSpace(n.Email) == "" {
		metrics.NotificationsTotal.WithLabelValues("welcome", "skipped").Inc()
		return
	}

	taskID := ulid.Make().String()
	// Detached so the webhook response does not cancel delivery.
	sendCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sendWelcome(sendCtx, taskID, n)
	}()
}

func (d *Dispatcher) sendWelcome(ctx context.Context, taskID string, n entitlement.WelcomeNotice) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	html, text, err := RenderWelcomeEmail(WelcomeData{
		Name:         n.DisplayName,
		Plan:         n.Plan,
		DashboardURL: strings.TrimRight(d.cfg.DashboardURL, "/") + "/app",
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("welcome", "failed").Inc()
		log.Error().Err(err).Str("task_id", taskID).Msg("Failed to render welcome email")
		return
	}

	err = d.sender.Send(ctx, Message{
		From:    d.cfg.From,
		To:      n.Email,
		Subject: "Your GeoNexus subscription is active",
		HTML:    html,
		Text:    text,
		Tag:     "welcome",
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("welcome", "failed").Inc()
		log.Warn().Err(err).
			Str("task_id", taskID).
			Str("uid", string(n.Identity)).
			Msg("Welcome email failed")
		return
	}

	metrics.NotificationsTotal.WithLabelValues("welcome", "sent").Inc()
	log.Info().
		Str("task_id", taskID).
		Str("uid", string(n.Identity)).
		Msg("Welcome email sent")
}

// Wait blocks until queued sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
