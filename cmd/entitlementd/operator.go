package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/geonexus/entitlements/internal/api"
	"github.com/geonexus/entitlements/internal/config"
	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/store"
	"github.com/spf13/cobra"
)

const operatorTimeout = 30 * time.Second

var activatePlan string

// openOperator is replaced in tests.
var openOperator = func() (*entitlement.Operator, func() error, error) {
	cfg, err := config.LoadStore()
	if err != nil {
		return nil, nil, err
	}
	s, closer, err := api.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return operatorFor(s), closer.Close, nil
}

func operatorFor(s store.Store) *entitlement.Operator {
	return entitlement.NewOperator(entitlement.NewRecords(s))
}

var activateCmd = &cobra.Command{
	Use:   "activate <email>",
	Short: "Grant an entitlement to the customer registered under an email",
	Long: `Grant an entitlement by email. The customer must have signed in at least
once so that the email resolves to an identity.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *entitlement.Operator) error {
			p, err := op.ActivateEmail(ctx, args[0], activatePlan)
			if err != nil {
				return fmt.Errorf("activate %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated %s (uid %s, plan %s)\n", p.Email, p.UID, p.Plan)
			return nil
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <email>",
	Short: "Show the entitlement flag and profile for an email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *entitlement.Operator) error {
			ins, err := op.InspectEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), ins)
		})
	},
}

func init() {
	activateCmd.Flags().StringVar(&activatePlan, "plan", entitlement.DefaultPlan, "plan recorded on the profile")
}

func withOperator(cmd *cobra.Command, fn func(context.Context, *entitlement.Operator) error) error {
	op, closeFn, err := openOperator()
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, operatorTimeout)
	defer cancel()
	return fn(ctx, op)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
