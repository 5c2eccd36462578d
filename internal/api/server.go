package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geonexus/entitlements/internal/config"
	"github.com/geonexus/entitlements/internal/gate"
	"github.com/geonexus/entitlements/internal/netutil"
	"github.com/geonexus/entitlements/internal/notify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Run starts the entitlement HTTP server and blocks until ctx is cancelled
// or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	log.Info().Str("version", version).Str("store", cfg.StoreBackend).Msg("Starting entitlement service")

	s, closer, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.StoreTimeout)
	if err := s.Ping(pingCtx); err != nil {
		// Keep serving: checks fail closed until the store comes back.
		log.Warn().Err(err).Msg("Entitlement store not reachable at startup")
	}
	cancelPing()

	resolver := netutil.NewResolver(netutil.DefaultRefresh)
	defer resolver.Close()

	dispatcher := notify.NewDispatcher(newSender(cfg, resolver), notify.DispatcherConfig{
		From:         cfg.EmailFrom,
		DashboardURL: cfg.AppURL,
	})

	allow := gate.NewAllowlist(cfg.Allowlist...)
	var watcher *config.FileWatcher
	if cfg.AllowlistFile != "" {
		watcher = config.NewFileWatcher(cfg.AllowlistFile, func(data []byte) {
			entries := append(append([]string(nil), cfg.Allowlist...), gate.ParseAllowlist(string(data))...)
			allow.Replace(entries)
			log.Info().Int("entries", allow.Len()).Msg("Allow-list loaded")
		})
		if err := watcher.Load(); err != nil {
			return fmt.Errorf("load allow-list: %w", err)
		}
	}

	deps := NewDeps(cfg, s, dispatcher, allow, version)
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           NewHandler(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Entitlement service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deps.Limiter.Sweep()
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Pending notifications abandoned")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Entitlement service stopped")
	return err
}

func newSender(cfg *config.Config, resolver *netutil.Resolver) notify.Sender {
	if cfg.PostmarkToken != "" {
		log.Info().Msg("Email sender configured (Postmark)")
		return notify.NewPostmarkSender(cfg.PostmarkToken, resolver.HTTPClient(10*time.Second))
	}
	log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	return notify.NewLogSender(func(to, subject, body string) {
		const maxBody = 4096
		if len(body) > maxBody {
			body = body[:maxBody] + "...(truncated)"
		}
		log.Info().
			Str("to", to).
			Str("subject", subject).
			Str("body", body).
			Msg("Email (log-only, no email provider configured)")
	})
}
