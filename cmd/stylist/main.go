package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/stylist/internal/config"
	"github.com/manash/stylist/internal/cost"
	"github.com/manash/stylist/internal/display"
	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/keys"
	"github.com/manash/stylist/internal/ledger"
	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/internal/provider"
	"github.com/manash/stylist/internal/provider/gemini"
	"github.com/manash/stylist/internal/provider/openai"
	"github.com/manash/stylist/internal/repl"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

type App struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Registry    *models.ModelRegistry
	GetEnv      func(string) string
	LoadDotEnv  func() error
	NewProvider func(ctx context.Context, p models.ProviderType, cfg *provider.Config, registry *models.ModelRegistry) (provider.Provider, error)
	OpenLedger  func(dir string) (*ledger.Store, error)
	NewKeyStore func() (*keys.Store, error)
	NewSaver    func() *image.Saver
	NewDisplay  func(out io.Writer) *display.Displayer
	ReadSecret  func(prompt string) (string, error)
}

func DefaultApp() *App {
	app := &App{
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		Registry:    models.DefaultRegistry(),
		GetEnv:      os.Getenv,
		LoadDotEnv:  func() error { return config.LoadDotEnv() },
		NewProvider: newProvider,
		OpenLedger:  ledger.NewStore,
		NewKeyStore: keys.NewStore,
		NewSaver:    image.NewSaver,
		NewDisplay:  display.New,
	}
	app.ReadSecret = app.readSecret
	return app
}

func newProvider(ctx context.Context, p models.ProviderType, cfg *provider.Config, registry *models.ModelRegistry) (provider.Provider, error) {
	switch p {
	case models.ProviderGemini:
		return gemini.New(ctx, cfg, registry)
	case models.ProviderOpenAI:
		return openai.New(cfg, registry)
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrProviderNotFound, p)
	}
}

// readSecret reads without echo from a terminal and falls back to one line
// of app.In otherwise.
func (a *App) readSecret(prompt string) (string, error) {
	if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.Err, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.Err)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.ExecuteContext(ctx)
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	provider  string
	model     string
	apiKey    string
	logLevel  string
	timeout   int
	verbose   bool
	outputDir string
	noLedger  bool
}

func newRootCmd(app *App) *cobra.Command {
	cmd, _ := buildRootCmd(app)
	return cmd
}

func buildRootCmd(app *App) (*cobra.Command, *globalFlags) {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "stylist",
		Short: "Restyle product photos to match a reference image",
		Long: `stylist composites a product photo into the visual style of a reference
image, adds the title and price, and lets you refine the result step by step.

Running stylist with no subcommand starts an interactive session.

Supported providers:
  - Gemini (gemini-2.5-flash-image)
  - OpenAI (gpt-image-1)

Examples:
  stylist
  stylist generate --reference ref.jpg --product lamp.png --title "Desk Lamp" --price '$49'
  stylist serve --addr :8080
  stylist batch --reference ref.jpg products.txt`,
		Args:          cobra.NoArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd, app, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.provider, "provider", "p", "", "provider to use (gemini, openai); defaults to "+config.EnvProvider+" or gemini")
	pf.StringVarP(&flags.model, "model", "m", "", "model to use; defaults to the provider's default model")
	pf.StringVar(&flags.apiKey, "api-key", "", "API key for the selected provider")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.IntVar(&flags.timeout, "timeout", 0, "request timeout in seconds")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log provider requests and responses")
	pf.StringVarP(&flags.outputDir, "output-dir", "o", "", "directory for saved images")
	pf.BoolVar(&flags.noLedger, "no-ledger", false, "do not record attempts in the ledger")

	cmd.AddCommand(
		newGenerateCmd(app, flags),
		newServeCmd(app, flags),
		newBatchCmd(app, flags),
		newKeysCmd(app),
		newCostCmd(app, flags),
	)

	return cmd, flags
}

// loadConfig merges .env, the environment and flags, in that order.
func (a *App) loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	if a.LoadDotEnv != nil {
		if err := a.LoadDotEnv(); err != nil {
			return nil, err
		}
	}
	cfg := config.FromEnv(a.GetEnv)

	changed := cmd.Flags().Changed
	providerExplicit := a.GetEnv(config.EnvProvider) != ""
	if changed("provider") {
		cfg.Provider = models.ProviderType(strings.ToLower(flags.provider))
		providerExplicit = true
	}
	if changed("model") {
		cfg.Model = flags.model
	}
	if changed("log-level") {
		cfg.LogLevel = strings.ToLower(flags.logLevel)
	}
	if changed("timeout") {
		cfg.TimeoutSec = flags.timeout
	}
	cfg.Verbose = flags.verbose
	cfg.APIKey = flags.apiKey
	if cfg.Verbose && cfg.LogLevel == log.LevelWarn {
		cfg.LogLevel = log.LevelInfo
	}

	cfg.ResolveModel(a.Registry, providerExplicit)
	if err := cfg.Validate(a.Registry); err != nil {
		return nil, err
	}
	log.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// services is everything a controller-backed command needs.
type services struct {
	cfg    *config.Config
	router *provider.Router
	models []string
	ledger *ledger.Store
	calc   *cost.Calculator
	home   string
}

func (rt *services) Close() {
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			log.Warnf("ledger: close failed: %v", err)
		}
	}
}

// setup resolves config, registers every provider that has a key, and opens
// the ledger. The selected provider must have a key; others are optional so
// `model` can switch across providers when both are configured.
func (a *App) setup(cmd *cobra.Command, flags *globalFlags) (*services, error) {
	cfg, err := a.loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	home, err := cfg.HomeDir()
	if err != nil {
		return nil, err
	}

	store, err := a.NewKeyStore()
	if err != nil {
		log.Warnf("keys: key store unavailable: %v", err)
		store = nil
	}

	factory := provider.NewFactory(a.Registry)
	for _, p := range models.ValidProviders() {
		explicit := ""
		if p == cfg.Provider {
			explicit = cfg.APIKey
		}
		key, source, err := keys.GetAPIKey(store, explicit, string(p))
		if err != nil {
			if p == cfg.Provider {
				return nil, err
			}
			continue
		}
		log.Debugf("keys: %s key from %s", p, source)

		prov, err := a.NewProvider(cmd.Context(), p, &provider.Config{
			APIKey:     key,
			TimeoutSec: cfg.TimeoutSec,
			Verbose:    cfg.Verbose,
		}, a.Registry)
		if err != nil {
			if p == cfg.Provider {
				return nil, fmt.Errorf("failed to create provider: %w", err)
			}
			log.Warnf("provider %s unavailable: %v", p, err)
			continue
		}
		factory.Register(prov)
	}

	var available []string
	for _, p := range factory.ListProviders() {
		available = append(available, a.Registry.ListByProvider(p)...)
	}

	rt := &services{
		cfg:    cfg,
		router: provider.NewRouter(factory),
		models: available,
		calc:   cost.NewCalculator(cost.NewOverrides(home)),
		home:   home,
	}

	if !flags.noLedger {
		led, err := a.OpenLedger(home)
		if err != nil {
			fmt.Fprintf(a.Err, "Warning: ledger disabled: %v\n", err)
		} else {
			rt.ledger = led
		}
	}

	return rt, nil
}

// newController creates a controller with its own ledger run.
func (a *App) newController(cmd *cobra.Command, rt *services, name string) (*session.Controller, *ledger.Recorder) {
	opts := []session.Option{session.WithModel(rt.cfg.Model)}

	var rec *ledger.Recorder
	if rt.ledger != nil {
		r, err := ledger.NewRecorder(cmd.Context(), rt.ledger, name, rt.cfg.Model, a.Registry, rt.calc)
		if err != nil {
			fmt.Fprintf(a.Err, "Warning: failed to start ledger run: %v\n", err)
		} else {
			rec = r
			opts = append(opts, session.WithRecorder(rec))
		}
	}

	return session.NewController(rt.router, opts...), rec
}

func runInteractive(cmd *cobra.Command, app *App, flags *globalFlags) error {
	rt, err := app.setup(cmd, flags)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctrl, rec := app.newController(cmd, rt, "interactive")

	r := repl.New(&repl.Config{
		In:         app.In,
		Out:        app.Out,
		Err:        app.Err,
		Controller: ctrl,
		Registry:   app.Registry,
		Models:     rt.models,
		Displayer:  app.NewDisplay(app.Out),
		Saver:      app.NewSaver(),
		Ledger:     rt.ledger,
		Recorder:   rec,
		Calculator: rt.calc,
		OutputDir:  flags.outputDir,
	})
	return r.Run(cmd.Context())
}
