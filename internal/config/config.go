// Package config resolves runtime settings from a .env file, the
// environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/pkg/models"
)

const (
	EnvProvider   = "STYLIST_PROVIDER"
	EnvModel      = "STYLIST_MODEL"
	EnvHome       = "STYLIST_HOME"
	EnvLogLevel   = "STYLIST_LOG_LEVEL"
	EnvAddr       = "STYLIST_ADDR"
	EnvTimeoutSec = "STYLIST_TIMEOUT_SEC"

	defaultAddr       = ":8080"
	defaultTimeoutSec = 180
	defaultHomeDir    = ".stylist"
)

var (
	ErrInvalidProvider = errors.New("provider must be one of: gemini, openai")
	ErrUnknownModel    = errors.New("unknown model")
	ErrModelProvider   = errors.New("model is served by a different provider")
	ErrInvalidLogLevel = errors.New("log-level must be one of: debug, info, warn, error")
	ErrInvalidTimeout  = errors.New("timeout must be a positive number of seconds")
)

type Config struct {
	Provider   models.ProviderType
	Model      string
	Home       string
	LogLevel   string
	Addr       string
	TimeoutSec int
	Verbose    bool
	APIKey     string
}

// LoadDotEnv loads .env files into the process environment. Variables
// already set are kept. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		log.Debugf("config: no .env file found, using environment")
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.Join(present, ", "), err)
	}
	return nil
}

// FromEnv builds a Config from getenv with defaults applied. Invalid
// numbers are kept as zero and rejected by Validate.
func FromEnv(getenv func(string) string) *Config {
	cfg := &Config{
		Provider:   models.ProviderGemini,
		Addr:       defaultAddr,
		TimeoutSec: defaultTimeoutSec,
		LogLevel:   log.LevelWarn,
	}

	if v := strings.TrimSpace(getenv(EnvProvider)); v != "" {
		cfg.Provider = models.ProviderType(strings.ToLower(v))
	}
	cfg.Model = strings.TrimSpace(getenv(EnvModel))
	if v := strings.TrimSpace(getenv(EnvHome)); v != "" {
		cfg.Home = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvAddr)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(getenv(EnvTimeoutSec)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = 0
		}
		cfg.TimeoutSec = n
	}

	return cfg
}

// Load reads .env and then the process environment.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return FromEnv(os.Getenv), nil
}

// ResolveModel fills in the provider default when no model is set, and
// follows the model to its provider when only the model was given.
func (c *Config) ResolveModel(registry *models.ModelRegistry, providerExplicit bool) {
	if c.Model == "" {
		c.Model = models.DefaultModel(c.Provider)
		return
	}
	if providerExplicit {
		return
	}
	if cap, ok := registry.Get(c.Model); ok {
		c.Provider = cap.Provider
	}
}

func (c *Config) Validate(registry *models.ModelRegistry) error {
	if !c.Provider.IsValid() {
		return fmt.Errorf("%w: got %q", ErrInvalidProvider, c.Provider)
	}
	if c.Model != "" {
		cap, ok := registry.Get(c.Model)
		if !ok {
			return fmt.Errorf("%w: %s (available: %s)", ErrUnknownModel, c.Model, strings.Join(registry.List(), ", "))
		}
		if cap.Provider != c.Provider {
			return fmt.Errorf("%w: %s is served by %s, not %s", ErrModelProvider, c.Model, cap.Provider, c.Provider)
		}
	}
	if !log.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: got %q", ErrInvalidLogLevel, c.LogLevel)
	}
	if c.TimeoutSec <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// HomeDir returns the data directory, defaulting to ~/.stylist.
func (c *Config) HomeDir() (string, error) {
	if c.Home != "" {
		return c.Home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultHomeDir), nil
}
