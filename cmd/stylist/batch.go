package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/stylist/internal/batch"
	"github.com/manash/stylist/internal/ledger"
	"github.com/manash/stylist/internal/session"
)

type batchFlags struct {
	reference   string
	parallel    int
	stopOnError bool
	delayMs     int
}

func newBatchCmd(app *App, global *globalFlags) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "batch <manifest>",
		Short: "Style many products against one reference image",
		Long: `batch reads a manifest and composites every product against the same
style reference.

Text manifests hold one product per line:
  path/to/product.png | Title | $49 [| $59]

JSON manifests hold an array of objects:
  [{"product": "lamp.png", "title": "Desk Lamp", "price": "$49",
    "old_price": "$59", "refine": ["add a soft shadow"]}]

Relative product paths are resolved against the manifest's directory.`,
		Example: `  stylist batch --reference ref.jpg products.txt
  stylist batch -r ref.jpg --parallel 4 -o out products.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, app, global, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.reference, "reference", "r", "", "style reference image shared by every product (required)")
	f.IntVar(&flags.parallel, "parallel", 1, "number of products processed concurrently")
	f.BoolVar(&flags.stopOnError, "stop-on-error", false, "stop at the first failed product")
	f.IntVar(&flags.delayMs, "delay", 0, "delay between products in milliseconds")
	_ = cmd.MarkFlagRequired("reference")

	return cmd
}

func runBatch(cmd *cobra.Command, app *App, global *globalFlags, flags *batchFlags, manifest string) error {
	if flags.parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}
	if flags.delayMs < 0 {
		return fmt.Errorf("--delay must not be negative")
	}

	items, err := batch.ParseFile(manifest)
	if err != nil {
		return err
	}

	rt, err := app.setup(cmd, global)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	ref, err := batch.LoadReference(ctx, flags.reference)
	if err != nil {
		return err
	}

	opts := []batch.ProcessorOption{batch.WithCalculator(rt.calc)}
	if rt.ledger != nil {
		opts = append(opts, batch.WithRecorder(func(ctx context.Context, item batch.Item) (session.Recorder, error) {
			rec, err := ledger.NewRecorder(ctx, rt.ledger, "batch: "+item.Title, rt.cfg.Model, app.Registry, rt.calc)
			if err != nil {
				return nil, err
			}
			return rec, nil
		}))
	}

	proc := batch.NewProcessor(rt.router, app.NewSaver(), app.Registry, app.Out, app.Err, opts...)

	fmt.Fprintf(app.Out, "Processing %d product(s) with %s\n", len(items), rt.cfg.Model)
	results, err := proc.Process(ctx, items, &batch.Options{
		Reference:   ref,
		OutputDir:   global.outputDir,
		Model:       rt.cfg.Model,
		Parallel:    flags.parallel,
		StopOnError: flags.stopOnError,
		DelayMs:     flags.delayMs,
	})
	if err != nil {
		return err
	}
	proc.PrintSummary(results)

	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("batch finished with errors")
		}
	}
	return nil
}
