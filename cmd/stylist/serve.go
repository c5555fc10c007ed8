package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/stylist/internal/server"
)

func newServeCmd(app *App, global *globalFlags) *cobra.Command {
	var (
		addr    string
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one styling session over HTTP",
		Long: `serve exposes a single session as a JSON API under /api. A second
submit while one is in flight is rejected with 409 Conflict.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.setup(cmd, global)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cmd.Flags().Changed("addr") {
				addr = rt.cfg.Addr
			}

			ctrl, rec := app.newController(cmd, rt, "serve")
			opts := []server.Option{server.WithAllowedOrigins(origins...)}
			if rec != nil {
				opts = append(opts, server.WithRecorder(rec))
			}

			fmt.Fprintf(app.Out, "Serving %s on %s\n", ctrl.Model(), addr)
			return server.New(ctrl, opts...).ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", []string{"*"}, "CORS allowed origins")

	return cmd
}
