package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/stylist/pkg/models"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv(envMap(nil))

	assert.Equal(t, models.ProviderGemini, cfg.Provider)
	assert.Empty(t, cfg.Model)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 180, cfg.TimeoutSec)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.NoError(t, cfg.Validate(models.DefaultRegistry()))
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		EnvProvider:   " OpenAI ",
		EnvModel:      "gpt-image-1",
		EnvHome:       "/tmp/stylist",
		EnvLogLevel:   "DEBUG",
		EnvAddr:       "127.0.0.1:9000",
		EnvTimeoutSec: "30",
	}))

	assert.Equal(t, models.ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-image-1", cfg.Model)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 30, cfg.TimeoutSec)

	home, err := cfg.HomeDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/stylist", home)
	assert.NoError(t, cfg.Validate(models.DefaultRegistry()))
}

func TestValidate(t *testing.T) {
	registry := models.DefaultRegistry()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"bad provider", func(c *Config) { c.Provider = "stability" }, ErrInvalidProvider},
		{"unknown model", func(c *Config) { c.Model = "dall-e-3" }, ErrUnknownModel},
		{"model of other provider", func(c *Config) { c.Model = "gpt-image-1" }, ErrModelProvider},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
		{"bad timeout", func(c *Config) { c.TimeoutSec = 0 }, ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv(envMap(nil))
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(registry), tt.wantErr)
		})
	}
}

func TestFromEnv_InvalidTimeout(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{EnvTimeoutSec: "soon"}))
	assert.ErrorIs(t, cfg.Validate(models.DefaultRegistry()), ErrInvalidTimeout)
}

func TestResolveModel(t *testing.T) {
	registry := models.DefaultRegistry()

	cfg := &Config{Provider: models.ProviderOpenAI}
	cfg.ResolveModel(registry, true)
	assert.Equal(t, "gpt-image-1", cfg.Model)

	cfg = &Config{Provider: models.ProviderGemini, Model: "gpt-image-1"}
	cfg.ResolveModel(registry, false)
	assert.Equal(t, models.ProviderOpenAI, cfg.Provider)

	cfg = &Config{Provider: models.ProviderGemini, Model: "gpt-image-1"}
	cfg.ResolveModel(registry, true)
	assert.Equal(t, models.ProviderGemini, cfg.Provider)
	assert.ErrorIs(t, cfg.Validate(registry), ErrModelProvider)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STYLIST_MODEL=gpt-image-1\nSTYLIST_ADDR=:7000\n"), 0o600))

	t.Setenv(EnvAddr, ":9999")
	t.Setenv(EnvModel, "")
	require.NoError(t, os.Unsetenv(EnvModel))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "gpt-image-1", os.Getenv(EnvModel))
	assert.Equal(t, ":9999", os.Getenv(EnvAddr), "existing variables win over .env")

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestHomeDir_Default(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := &Config{}
	home, err := cfg.HomeDir()
	require.NoError(t, err)
	assert.Equal(t, ".stylist", filepath.Base(home))
}
