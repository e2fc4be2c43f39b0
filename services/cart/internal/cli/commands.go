package cli

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/app"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

func newDetectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run one abandonment detection pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Detector.RunPass(ctx)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newRetryCommand(opts *RootOptions) *cobra.Command {
	var (
		allFailed bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "retry [attempt-id]",
		Short: "Resend failed recovery attempts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if allFailed == (len(args) == 1) {
				return errors.New("pass either an attempt id or --failed")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var ids []uint
				if len(args) == 1 {
					id, err := strconv.ParseUint(args[0], 10, 64)
					if err != nil || id == 0 {
						return fmt.Errorf("attempt id %q is not a positive integer", args[0])
					}
					ids = append(ids, uint(id))
				} else {
					failed, _, err := a.Repo.ListAttempts(ctx, models.DeliveryFailed, 0, limit)
					if err != nil {
						return err
					}
					for _, f := range failed {
						ids = append(ids, f.ID)
					}
				}

				log := logging.FromContext(ctx)
				var errs []error
				for _, id := range ids {
					att, err := a.Recovery.Retry(ctx, id)
					if err != nil {
						log.Warn("retry_failed", "attempt_id", id, "error", err)
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "attempt %d: %s\n", att.ID, att.DeliveryStatus)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&allFailed, "failed", false, "retry every failed attempt")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum attempts to retry with --failed")
	return cmd
}

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Products []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Price       string `yaml:"price"`
		Stock       uint   `yaml:"stock"`
		Category    string `yaml:"category"`
		ImageURL    string `yaml:"image_url"`
	} `yaml:"products"`
}

// SampleCatalog returns the demo products shipped with cartctl.
func SampleCatalog() ([]models.Product, error) {
	var f catalogFile
	if err := yaml.Unmarshal(catalogYAML, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	out := make([]models.Product, 0, len(f.Products))
	for _, p := range f.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %q: price: %w", p.Name, err)
		}
		out = append(out, models.Product{
			Name:        p.Name,
			Description: p.Description,
			Price:       price,
			Stock:       p.Stock,
			Category:    p.Category,
			ImageURL:    p.ImageURL,
		})
	}
	return out, nil
}

func newSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the sample catalog and index it for search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			products, err := SampleCatalog()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				created, err := a.Repo.SeedProducts(ctx, products)
				if err != nil {
					return fmt.Errorf("seed products: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d products\n", created, len(products))

				if a.Elastic == nil {
					return nil
				}
				all, _, err := a.Repo.ListProducts(ctx, 0, 1000)
				if err != nil {
					return err
				}
				if err := a.Elastic.IndexProducts(ctx, all); err != nil {
					return fmt.Errorf("index products: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d products\n", len(all))
				return nil
			})
		},
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(context.Context, *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}
