package main

import (
	"context"

	"github.com/geonexus/entitlements/internal/api"
	"github.com/geonexus/entitlements/internal/config"
	"github.com/geonexus/entitlements/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	// Baseline defaults for early startup logs
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "entitlementd",
	})

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "entitlementd",
	})

	log.Debug().
		Str("commit", GitCommit).
		Str("built", BuildTime).
		Msg("Build information")

	if ctx == nil {
		ctx = context.Background()
	}
	return api.Run(ctx, cfg, Version)
}
