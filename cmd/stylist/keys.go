package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/stylist/internal/keys"
	"github.com/manash/stylist/pkg/models"
)

var errEmptyKey = errors.New("API key must not be empty")

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored provider API keys",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <provider> [key]",
			Short: "Store an API key; reads it from the terminal when omitted",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(_ *cobra.Command, args []string) error {
				provider, err := parseProvider(args[0])
				if err != nil {
					return err
				}
				key := ""
				if len(args) == 2 {
					key = args[1]
				} else {
					key, err = app.ReadSecret(fmt.Sprintf("Enter %s API key: ", provider))
					if err != nil {
						return err
					}
				}
				if key == "" {
					return errEmptyKey
				}

				store, err := app.NewKeyStore()
				if err != nil {
					return err
				}
				if err := store.Set(provider, key); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Stored %s key %s in %s\n", provider, keys.MaskKey(key), store.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored keys",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				store, err := app.NewKeyStore()
				if err != nil {
					return err
				}
				providers, err := store.List()
				if err != nil {
					return err
				}
				if len(providers) == 0 {
					fmt.Fprintln(app.Out, "No stored keys.")
					return nil
				}
				for _, p := range providers {
					key, err := store.Get(p)
					if err != nil {
						return err
					}
					fmt.Fprintf(app.Out, "  %-8s %s\n", p, keys.MaskKey(key))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:     "delete <provider>",
			Aliases: []string{"rm"},
			Short:   "Delete a stored key",
			Args:    cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				provider, err := parseProvider(args[0])
				if err != nil {
					return err
				}
				store, err := app.NewKeyStore()
				if err != nil {
					return err
				}
				if err := store.Delete(provider); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Deleted %s key\n", provider)
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the key file location",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				store, err := app.NewKeyStore()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, store.Path())
				return nil
			},
		},
	)

	return cmd
}

func parseProvider(s string) (string, error) {
	p := models.ProviderType(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown provider %q: use gemini or openai", s)
	}
	return string(p), nil
}
