// Package cli implements cartctl, the operator tool for the cart service.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/app"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/config"
)

// Opener builds the application for a single command run.
type Opener func(ctx context.Context, log *slog.Logger) (*app.App, error)

type RootOptions struct {
	LogLevel string
	Open     Opener
}

// DefaultOpener loads configuration from the environment.
func DefaultOpener(ctx context.Context, log *slog.Logger) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log)
}

func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "Operate the cart recovery service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(newDetectCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// withApp opens the application, runs fn and closes it again.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	log := logging.NewWithWriter(cmd.ErrOrStderr(), opts.LogLevel)
	ctx := logging.IntoContext(cmd.Context(), log)

	a, err := opts.Open(ctx, log)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close_failed", "error", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
