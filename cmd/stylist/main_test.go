package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/manash/stylist/internal/display"
	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/keys"
	"github.com/manash/stylist/internal/ledger"
	"github.com/manash/stylist/internal/provider"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

// fakeProvider implements provider.Provider for testing.
type fakeProvider struct {
	name models.ProviderType
	err  error

	mu        sync.Mutex
	composite []*models.CompositeRequest
	refine    []*models.RefineRequest
}

func (f *fakeProvider) Name() models.ProviderType { return f.name }

func (f *fakeProvider) GenerateComposite(_ context.Context, req *models.CompositeRequest) (models.EncodedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composite = append(f.composite, req)
	if f.err != nil {
		return models.EncodedImage{}, f.err
	}
	return models.NewEncodedImage(append(pngHeader, "composite"...), "image/png"), nil
}

func (f *fakeProvider) Refine(_ context.Context, req *models.RefineRequest) (models.EncodedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refine = append(f.refine, req)
	if f.err != nil {
		return models.EncodedImage{}, f.err
	}
	return models.NewEncodedImage(append(pngHeader, req.Instruction...), "image/png"), nil
}

func (f *fakeProvider) SupportsModel(string) bool { return true }

func (f *fakeProvider) ListModels() []string { return nil }

type testApp struct {
	*App
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	home     string
	provider *fakeProvider
	keys     *keys.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	for _, p := range models.ValidProviders() {
		for _, v := range keys.EnvVars(string(p)) {
			t.Setenv(v, "")
		}
	}

	home := t.TempDir()
	store := keys.NewStoreAt(filepath.Join(home, "config"))
	fake := &fakeProvider{name: models.ProviderGemini}
	env := map[string]string{"STYLIST_HOME": home}

	ta := &testApp{
		out:      &bytes.Buffer{},
		errOut:   &bytes.Buffer{},
		home:     home,
		provider: fake,
		keys:     store,
	}
	ta.App = &App{
		In:       strings.NewReader(""),
		Out:      ta.out,
		Err:      ta.errOut,
		Registry: models.DefaultRegistry(),
		GetEnv:   func(k string) string { return env[k] },
		NewProvider: func(_ context.Context, p models.ProviderType, cfg *provider.Config, _ *models.ModelRegistry) (provider.Provider, error) {
			if cfg.APIKey == "" {
				return nil, provider.ErrAPIKeyRequired
			}
			if p != fake.name {
				return &fakeProvider{name: p}, nil
			}
			return fake, nil
		},
		OpenLedger:  ledger.NewStore,
		NewKeyStore: func() (*keys.Store, error) { return store, nil },
		NewSaver:    image.NewSaver,
		NewDisplay:  func(out io.Writer) *display.Displayer { return display.NewWithSupport(out, false) },
	}
	ta.ReadSecret = func(string) (string, error) { return "secret-from-prompt", nil }
	return ta
}

func (ta *testApp) run(args ...string) error {
	cmd := newRootCmd(ta.App)
	cmd.SetArgs(args)
	cmd.SetOut(ta.out)
	cmd.SetErr(ta.errOut)
	return cmd.ExecuteContext(context.Background())
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, append(pngHeader, name...), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerate(t *testing.T) {
	ta := newTestApp(t)
	dir := t.TempDir()
	ref := writeImage(t, dir, "ref.png")
	prod := writeImage(t, dir, "prod.png")
	outDir := filepath.Join(dir, "out")

	err := ta.run("generate", "--api-key", "k", "--no-ledger", "-o", outDir,
		"--reference", ref, "--product", prod, "--title", "Desk Lamp", "--price", "$49", "--old-price", "$59")
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}

	if len(ta.provider.composite) != 1 {
		t.Fatalf("composite calls = %d, want 1", len(ta.provider.composite))
	}
	req := ta.provider.composite[0]
	if req.Title != "Desk Lamp" || req.Price != "$49" || req.OldPrice != "$59" {
		t.Errorf("request text = %q %q %q", req.Title, req.Price, req.OldPrice)
	}
	if req.Model != "gemini-2.5-flash-image" {
		t.Errorf("model = %q, want default gemini model", req.Model)
	}

	if _, err := os.Stat(filepath.Join(outDir, "styled-product-image-v1.png")); err != nil {
		t.Errorf("saved image missing: %v", err)
	}
	if !strings.Contains(ta.out.String(), "Done!") {
		t.Errorf("output = %q, want Done!", ta.out.String())
	}
}

func TestGenerate_RefineSteps(t *testing.T) {
	ta := newTestApp(t)
	dir := t.TempDir()
	ref := writeImage(t, dir, "ref.png")
	prod := writeImage(t, dir, "prod.png")
	logo := writeImage(t, dir, "logo.png")
	out := filepath.Join(dir, "final.png")

	err := ta.run("generate", "--api-key", "k", "--no-ledger",
		"-r", ref, "-P", prod, "-t", "Mug", "--price", "$12",
		"--refine", "add this logo", "--attach", logo, "--refine", "warmer light",
		"--output", out)
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}

	if len(ta.provider.refine) != 2 {
		t.Fatalf("refine calls = %d, want 2", len(ta.provider.refine))
	}
	if ta.provider.refine[0].Auxiliary == nil {
		t.Error("first refine should carry the attachment")
	}
	if ta.provider.refine[1].Instruction != "warmer light" {
		t.Errorf("second instruction = %q", ta.provider.refine[1].Instruction)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(data, []byte("warmer light")) {
		t.Errorf("saved image is not the last version: %q", data)
	}
	if !strings.Contains(ta.out.String(), "3 version(s)") {
		t.Errorf("output = %q, want 3 versions", ta.out.String())
	}
}

func TestGenerate_MissingInputs(t *testing.T) {
	ta := newTestApp(t)
	dir := t.TempDir()
	ref := writeImage(t, dir, "ref.png")

	err := ta.run("generate", "--api-key", "k", "--no-ledger", "-r", ref, "--price", "$1")
	var verr *session.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(ta.provider.composite) != 0 {
		t.Error("service must not be called with missing inputs")
	}
}

func TestGenerate_AttachWithoutRefine(t *testing.T) {
	ta := newTestApp(t)
	err := ta.run("generate", "--api-key", "k", "--attach", "logo.png")
	if err == nil || !strings.Contains(err.Error(), "--refine") {
		t.Errorf("error = %v, want --refine hint", err)
	}
}

func TestGenerate_NoAPIKey(t *testing.T) {
	ta := newTestApp(t)
	err := ta.run("generate", "--no-ledger")
	if !errors.Is(err, keys.ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
}

func TestGenerate_StoredKey(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.keys.Set("gemini", "stored-key"); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	err := ta.run("generate", "--no-ledger", "-o", dir,
		"-r", writeImage(t, dir, "r.png"), "-P", writeImage(t, dir, "p.png"), "-t", "T", "--price", "1")
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}
}

func TestGenerate_ServiceFailure(t *testing.T) {
	ta := newTestApp(t)
	ta.provider.err = errors.New("upstream unavailable")
	dir := t.TempDir()

	err := ta.run("generate", "--api-key", "k", "--no-ledger", "-o", dir,
		"-r", writeImage(t, dir, "r.png"), "-P", writeImage(t, dir, "p.png"), "-t", "T", "--price", "1")
	var failure *session.Failure
	if !errors.As(err, &failure) || failure.Kind != session.KindGeneration {
		t.Fatalf("error = %v, want generation failure", err)
	}
}

func TestGenerate_LedgerAndCost(t *testing.T) {
	ta := newTestApp(t)
	dir := t.TempDir()

	err := ta.run("generate", "--api-key", "k", "-o", dir,
		"-r", writeImage(t, dir, "r.png"), "-P", writeImage(t, dir, "p.png"), "-t", "T", "--price", "1",
		"--refine", "brighter")
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "Cost: $0.0780 (2 image(s))") {
		t.Errorf("output = %q, want run cost", ta.out.String())
	}

	ta.out.Reset()
	if err := ta.run("cost"); err != nil {
		t.Fatalf("cost error = %v", err)
	}
	got := ta.out.String()
	if !strings.Contains(got, "Total: $0.0780 (2 image(s), 2 attempt(s))") {
		t.Errorf("cost output = %q", got)
	}
	if !strings.Contains(got, "gemini") || !strings.Contains(got, "Recent:") {
		t.Errorf("cost output = %q, want provider and recent sections", got)
	}
}

func TestCost_Empty(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.run("cost"); err != nil {
		t.Fatalf("cost error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "No attempts recorded yet.") {
		t.Errorf("output = %q", ta.out.String())
	}
}

func TestCost_PriceOverrides(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.run("cost", "set-price", "gpt-image-1", "0.1"); err != nil {
		t.Fatalf("set-price error = %v", err)
	}
	ta.out.Reset()
	if err := ta.run("cost", "prices"); err != nil {
		t.Fatalf("prices error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "$0.1000 (override, default $0.0420)") {
		t.Errorf("prices output = %q", ta.out.String())
	}

	if err := ta.run("cost", "reset-prices"); err != nil {
		t.Fatalf("reset-prices error = %v", err)
	}
	ta.out.Reset()
	if err := ta.run("cost", "prices"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(ta.out.String(), "override") {
		t.Errorf("override survived reset: %q", ta.out.String())
	}

	if err := ta.run("cost", "set-price", "nope", "1"); err == nil {
		t.Error("set-price accepted an unknown model")
	}
	if err := ta.run("cost", "set-price", "gpt-image-1", "-1"); err == nil {
		t.Error("set-price accepted a negative price")
	}
}

func TestKeys(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.run("keys", "set", "openai", "sk-abcdefghijkl"); err != nil {
		t.Fatalf("keys set error = %v", err)
	}
	if err := ta.run("keys", "set", "gemini"); err != nil {
		t.Fatalf("keys set (prompt) error = %v", err)
	}
	if got, _ := ta.keys.Get("gemini"); got != "secret-from-prompt" {
		t.Errorf("prompted key = %q", got)
	}

	ta.out.Reset()
	if err := ta.run("keys", "list"); err != nil {
		t.Fatalf("keys list error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "sk-a*******ijkl") {
		t.Errorf("list output = %q, want masked key", ta.out.String())
	}
	if strings.Contains(ta.out.String(), "sk-abcdefghijkl") {
		t.Error("list printed an unmasked key")
	}

	if err := ta.run("keys", "delete", "openai"); err != nil {
		t.Fatalf("keys delete error = %v", err)
	}
	if ok, _ := ta.keys.Exists("openai"); ok {
		t.Error("key still present after delete")
	}

	ta.out.Reset()
	if err := ta.run("keys", "path"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(ta.out.String()) != ta.keys.Path() {
		t.Errorf("path = %q, want %q", ta.out.String(), ta.keys.Path())
	}
}

func TestKeys_Invalid(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.run("keys", "set", "stability", "k"); err == nil {
		t.Error("keys set accepted an unknown provider")
	}
	ta.ReadSecret = func(string) (string, error) { return "", nil }
	if err := ta.run("keys", "set", "gemini"); !errors.Is(err, errEmptyKey) {
		t.Errorf("error = %v, want errEmptyKey", err)
	}
}

func TestBatch(t *testing.T) {
	ta := newTestApp(t)
	dir := t.TempDir()
	ref := writeImage(t, dir, "ref.png")
	writeImage(t, dir, "lamp.png")
	writeImage(t, dir, "mug.png")
	manifest := filepath.Join(dir, "products.txt")
	content := "# products\nlamp.png | Desk Lamp | $49 | $59\nmug.png | Mug | $12\n"
	if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")

	if err := ta.run("batch", "--api-key", "k", "-o", outDir, "-r", ref, "--parallel", "2", manifest); err != nil {
		t.Fatalf("batch error = %v", err)
	}

	if len(ta.provider.composite) != 2 {
		t.Errorf("composite calls = %d, want 2", len(ta.provider.composite))
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("saved %d files, want 2", len(entries))
	}
	if !strings.Contains(ta.out.String(), "Successful: 2/2 products") {
		t.Errorf("output = %q", ta.out.String())
	}

	store, err := ledger.NewStore(ta.home)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("ledger runs = %d, want one per product", len(runs))
	}
}

func TestBatch_Failures(t *testing.T) {
	ta := newTestApp(t)
	ta.provider.err = errors.New("boom")
	dir := t.TempDir()
	ref := writeImage(t, dir, "ref.png")
	writeImage(t, dir, "lamp.png")
	manifest := filepath.Join(dir, "p.txt")
	if err := os.WriteFile(manifest, []byte("lamp.png | Lamp | $1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ta.run("batch", "--api-key", "k", "--no-ledger", "-o", dir, "-r", ref, manifest)
	if err == nil || !strings.Contains(err.Error(), "errors") {
		t.Errorf("error = %v, want batch failure", err)
	}
}

func TestBatch_InvalidFlags(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.run("batch", "--api-key", "k", "-r", "ref.png", "--parallel", "0", "m.txt"); err == nil {
		t.Error("accepted --parallel 0")
	}
	if err := ta.run("batch", "--api-key", "k", "m.txt"); err == nil {
		t.Error("accepted a missing --reference")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ta := newTestApp(t)
	cmd := newRootCmd(ta.App)
	cmd.SetArgs([]string{"serve", "--api-key", "k", "--no-ledger", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("serve error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "Serving gemini-2.5-flash-image on 127.0.0.1:0") {
		t.Errorf("output = %q", ta.out.String())
	}
}

func TestInteractive(t *testing.T) {
	ta := newTestApp(t)
	ta.In = strings.NewReader("status\nquit\n")

	if err := ta.run("--api-key", "k", "--no-ledger"); err != nil {
		t.Fatalf("interactive error = %v", err)
	}
	if ta.out.Len() == 0 {
		t.Error("interactive session printed nothing")
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantErr   bool
		wantModel string
		wantLevel string
	}{
		{name: "defaults", wantModel: "gemini-2.5-flash-image", wantLevel: "warn"},
		{name: "provider default model", args: []string{"-p", "openai"}, wantModel: "gpt-image-1", wantLevel: "warn"},
		{name: "model selects provider", args: []string{"-m", "gpt-image-1"}, wantModel: "gpt-image-1", wantLevel: "warn"},
		{name: "verbose raises level", args: []string{"-v"}, wantModel: "gemini-2.5-flash-image", wantLevel: "info"},
		{name: "explicit level wins", args: []string{"-v", "--log-level", "DEBUG"}, wantModel: "gemini-2.5-flash-image", wantLevel: "debug"},
		{name: "bad provider", args: []string{"-p", "stability"}, wantErr: true},
		{name: "mismatched model", args: []string{"-p", "gemini", "-m", "gpt-image-1"}, wantErr: true},
		{name: "bad timeout", args: []string{"--timeout", "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t)
			cmd, flags := buildRootCmd(ta.App)
			cmd.RunE = func(cmd *cobra.Command, _ []string) error {
				cfg, err := ta.loadConfig(cmd, flags)
				if err != nil {
					return err
				}
				if cfg.Model != tt.wantModel {
					t.Errorf("model = %q, want %q", cfg.Model, tt.wantModel)
				}
				if cfg.LogLevel != tt.wantLevel {
					t.Errorf("level = %q, want %q", cfg.LogLevel, tt.wantLevel)
				}
				return nil
			}
			cmd.SetArgs(tt.args)
			err := cmd.ExecuteContext(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
