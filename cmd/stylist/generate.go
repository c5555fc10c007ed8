package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/security"
	"github.com/manash/stylist/internal/session"
)

type generateFlags struct {
	reference string
	product   string
	title     string
	price     string
	oldPrice  string
	refine    []string
	attach    string
	output    string
	show      bool
}

func newGenerateCmd(app *App, global *globalFlags) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one styled product image, optionally refining it",
		Example: `  stylist generate --reference ref.jpg --product lamp.png --title "Desk Lamp" --price '$49'
  stylist generate -r ref.jpg -P mug.png -t Mug --price '$12' --old-price '$15' \
      --refine "add a soft shadow" --refine "add this logo top right" --attach logo.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, app, global, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.reference, "reference", "r", "", "style reference image (required)")
	f.StringVarP(&flags.product, "product", "P", "", "product photo (required)")
	f.StringVarP(&flags.title, "title", "t", "", "product title (required)")
	f.StringVar(&flags.price, "price", "", "current price (required)")
	f.StringVar(&flags.oldPrice, "old-price", "", "previous price, shown struck through")
	f.StringArrayVar(&flags.refine, "refine", nil, "refinement instruction, applied in order (repeatable)")
	f.StringVar(&flags.attach, "attach", "", "image used by the first refinement (e.g. a logo)")
	f.StringVar(&flags.output, "output", "", "output file (default styled-product-image-v{N}.{ext})")
	f.BoolVar(&flags.show, "show", false, "display the result inline in supported terminals")

	return cmd
}

func runGenerate(cmd *cobra.Command, app *App, global *globalFlags, flags *generateFlags) error {
	if flags.output != "" {
		if err := security.ValidateSavePath(flags.output); err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
	}
	if flags.attach != "" && len(flags.refine) == 0 {
		return fmt.Errorf("--attach requires at least one --refine step")
	}

	rt, err := app.setup(cmd, global)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	ctrl, rec := app.newController(cmd, rt, "generate")

	for _, in := range []struct {
		slot session.Slot
		path string
	}{
		{session.SlotReference, flags.reference},
		{session.SlotProduct, flags.product},
	} {
		if in.path == "" {
			continue
		}
		if err := ctrl.Attach(ctx, in.slot, in.path); err != nil {
			return fmt.Errorf("%s image: %w", in.slot, err)
		}
	}
	ctrl.SetTitle(flags.title)
	ctrl.SetPrice(flags.price)
	ctrl.SetOldPrice(flags.oldPrice)

	fmt.Fprintf(app.Out, "Generating with %s...\n", ctrl.Model())
	if err := ctrl.Generate(ctx); err != nil {
		return err
	}

	for i, step := range flags.refine {
		if i == 0 && flags.attach != "" {
			if err := ctrl.Attach(ctx, session.SlotAuxiliary, flags.attach); err != nil {
				return fmt.Errorf("attachment: %w", err)
			}
		}
		ctrl.SetInstruction(step)
		fmt.Fprintf(app.Out, "Refining (%d/%d): %s\n", i+1, len(flags.refine), step)
		if err := ctrl.Refine(ctx); err != nil {
			return err
		}
	}

	v := ctrl.View()
	path := flags.output
	if path == "" {
		path = filepath.Join(global.outputDir, image.DownloadFilename(v.Position.Index, v.Current.Image))
	}
	if err := app.NewSaver().Save(v.Current.Image, path); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Saved: %s (%s, %d version(s))\n", path, humanize.Bytes(uint64(v.Current.Image.Len())), v.Position.Total)

	if flags.show {
		if err := app.NewDisplay(app.Out).Display(v.Current.Image); err != nil {
			fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
		}
	}

	if rec != nil {
		if summary, err := rec.Cost(ctx); err == nil {
			fmt.Fprintf(app.Out, "Cost: $%.4f (%d image(s))\n", summary.TotalCost, summary.ImageCount)
		}
	}

	fmt.Fprintln(app.Out, "Done!")
	return nil
}
