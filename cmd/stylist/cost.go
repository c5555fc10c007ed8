package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/stylist/internal/cost"
	"github.com/manash/stylist/internal/ledger"
)

const recentAttempts = 10

func newCostCmd(app *App, global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show recorded spend and manage price overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCostSummary(cmd, app, global)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "prices",
			Short: "List per-image prices, including overrides",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				overrides, err := app.overrides(cmd, global)
				if err != nil {
					return err
				}
				names := cost.KnownModels()
				sort.Strings(names)
				for _, name := range names {
					price, _ := cost.GetImagePrice(name)
					if p, ok := overrides.Get(name); ok {
						fmt.Fprintf(app.Out, "  %-32s $%.4f (override, default $%.4f)\n", name, p, price)
						continue
					}
					fmt.Fprintf(app.Out, "  %-32s $%.4f\n", name, price)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-price <model> <usd-per-image>",
			Short: "Override the per-image price of a model",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				price, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid price %q: %w", args[1], err)
				}
				if _, ok := app.Registry.Get(args[0]); !ok {
					return fmt.Errorf("unknown model: %s", args[0])
				}
				overrides, err := app.overrides(cmd, global)
				if err != nil {
					return err
				}
				if err := overrides.SetPrice(args[0], price); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Price for %s set to $%.4f\n", args[0], price)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset-prices",
			Short: "Remove every price override",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				overrides, err := app.overrides(cmd, global)
				if err != nil {
					return err
				}
				if err := overrides.Delete(); err != nil {
					return err
				}
				fmt.Fprintln(app.Out, "Price overrides removed.")
				return nil
			},
		},
	)

	return cmd
}

func (a *App) overrides(cmd *cobra.Command, global *globalFlags) (*cost.Overrides, error) {
	cfg, err := a.loadConfig(cmd, global)
	if err != nil {
		return nil, err
	}
	home, err := cfg.HomeDir()
	if err != nil {
		return nil, err
	}
	return cost.NewOverrides(home), nil
}

func runCostSummary(cmd *cobra.Command, app *App, global *globalFlags) error {
	cfg, err := app.loadConfig(cmd, global)
	if err != nil {
		return err
	}
	home, err := cfg.HomeDir()
	if err != nil {
		return err
	}
	store, err := app.OpenLedger(home)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	total, err := store.GetTotalCost(ctx)
	if err != nil {
		return err
	}
	if total.AttemptCount == 0 {
		fmt.Fprintln(app.Out, "No attempts recorded yet.")
		return nil
	}
	fmt.Fprintf(app.Out, "Total: $%.4f (%d image(s), %d attempt(s))\n", total.TotalCost, total.ImageCount, total.AttemptCount)

	byProvider, err := store.GetCostByProvider(ctx)
	if err != nil {
		return err
	}
	for _, p := range byProvider {
		fmt.Fprintf(app.Out, "  %-8s $%.4f (%d image(s))\n", p.Provider, p.TotalCost, p.ImageCount)
	}

	recent, err := store.RecentAttempts(ctx, recentAttempts)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, "\nRecent:")
	for _, a := range recent {
		printAttempt(app, a)
	}
	return nil
}

func printAttempt(app *App, a *ledger.Attempt) {
	line := fmt.Sprintf("  %s  %-7s %-24s $%.4f  %s", humanize.Time(a.Timestamp), a.Mode, a.Model, a.Cost, a.Status)
	if a.Error != "" {
		line += ": " + a.Error
	}
	fmt.Fprintln(app.Out, line)
}
