package provider

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/manash/stylist/pkg/models"
)

// mockProvider is a test implementation of Provider.
type mockProvider struct {
	name            models.ProviderType
	supportedModels []string
	composites      int
	refines         int
}

func (m *mockProvider) Name() models.ProviderType {
	return m.name
}

func (m *mockProvider) GenerateComposite(_ context.Context, req *models.CompositeRequest) (models.EncodedImage, error) {
	m.composites++
	return models.NewEncodedImage([]byte(string(m.name)+":"+req.Title), "image/png"), nil
}

func (m *mockProvider) Refine(_ context.Context, req *models.RefineRequest) (models.EncodedImage, error) {
	m.refines++
	return models.NewEncodedImage([]byte(string(m.name)+":"+req.Instruction), "image/png"), nil
}

func (m *mockProvider) SupportsModel(model string) bool {
	return slices.Contains(m.supportedModels, model)
}

func (m *mockProvider) ListModels() []string {
	return m.supportedModels
}

func testRegistry() *models.ModelRegistry {
	registry := models.NewModelRegistry()
	registry.Register(&models.ModelCapabilities{Name: "gem-model", Provider: models.ProviderGemini})
	registry.Register(&models.ModelCapabilities{Name: "oai-model", Provider: models.ProviderOpenAI})
	return registry
}

func TestNewFactory(t *testing.T) {
	registry := models.NewModelRegistry()
	factory := NewFactory(registry)

	if factory == nil {
		t.Fatal("NewFactory() returned nil")
	}
	if factory.registry != registry {
		t.Error("NewFactory() registry not set correctly")
	}
	if factory.providers == nil {
		t.Error("NewFactory() providers map is nil")
	}
}

func TestFactory_Register(t *testing.T) {
	factory := NewFactory(models.NewModelRegistry())
	factory.Register(&mockProvider{name: models.ProviderGemini})

	got, err := factory.Get(models.ProviderGemini)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name() != models.ProviderGemini {
		t.Errorf("Get() provider name = %v, want %v", got.Name(), models.ProviderGemini)
	}
}

func TestFactory_Get_NotFound(t *testing.T) {
	factory := NewFactory(models.NewModelRegistry())

	_, err := factory.Get(models.ProviderOpenAI)
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrProviderNotFound)
	}
}

func TestFactory_GetForModel(t *testing.T) {
	factory := NewFactory(testRegistry())
	factory.Register(&mockProvider{name: models.ProviderOpenAI})

	got, err := factory.GetForModel("oai-model")
	if err != nil {
		t.Fatalf("GetForModel() error = %v", err)
	}
	if got.Name() != models.ProviderOpenAI {
		t.Errorf("GetForModel() provider name = %v, want %v", got.Name(), models.ProviderOpenAI)
	}

	if _, err := factory.GetForModel("unknown-model"); !errors.Is(err, ErrModelNotSupported) {
		t.Errorf("GetForModel(unknown) error = %v, want %v", err, ErrModelNotSupported)
	}

	// gem-model is registered but its provider is not
	if _, err := factory.GetForModel("gem-model"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("GetForModel(gem-model) error = %v, want %v", err, ErrProviderNotFound)
	}
}

func TestFactory_ListProviders(t *testing.T) {
	factory := NewFactory(models.NewModelRegistry())
	factory.Register(&mockProvider{name: models.ProviderOpenAI})
	factory.Register(&mockProvider{name: models.ProviderGemini})

	providers := factory.ListProviders()
	want := []models.ProviderType{models.ProviderGemini, models.ProviderOpenAI}
	if !slices.Equal(providers, want) {
		t.Errorf("ListProviders() = %v, want %v", providers, want)
	}
}

func TestRouter(t *testing.T) {
	gem := &mockProvider{name: models.ProviderGemini}
	oai := &mockProvider{name: models.ProviderOpenAI}

	factory := NewFactory(testRegistry())
	factory.Register(gem)
	factory.Register(oai)
	router := NewRouter(factory)
	ctx := context.Background()

	img, err := router.GenerateComposite(ctx, &models.CompositeRequest{Model: "gem-model", Title: "Lamp"})
	if err != nil {
		t.Fatalf("GenerateComposite() error = %v", err)
	}
	if string(img.Bytes()) != "gemini:Lamp" {
		t.Errorf("GenerateComposite() routed to wrong provider: %q", img.Bytes())
	}

	img, err = router.Refine(ctx, &models.RefineRequest{Model: "oai-model", Instruction: "blue"})
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if string(img.Bytes()) != "openai:blue" {
		t.Errorf("Refine() routed to wrong provider: %q", img.Bytes())
	}

	if gem.composites != 1 || oai.refines != 1 || gem.refines != 0 || oai.composites != 0 {
		t.Errorf("unexpected call counts gem=%d/%d oai=%d/%d", gem.composites, gem.refines, oai.composites, oai.refines)
	}

	if _, err := router.Refine(ctx, &models.RefineRequest{Model: "nope"}); !errors.Is(err, ErrModelNotSupported) {
		t.Errorf("Refine(unknown) error = %v, want %v", err, ErrModelNotSupported)
	}

	if p, ok := router.ProviderFor("oai-model"); !ok || p != models.ProviderOpenAI {
		t.Errorf("ProviderFor() = %v, %v", p, ok)
	}
	if _, ok := router.ProviderFor("nope"); ok {
		t.Error("ProviderFor(nope) ok = true")
	}
}

func TestCompositePrompt(t *testing.T) {
	p := CompositePrompt(" Lamp ", "$10", "")
	if !strings.Contains(p, `"Lamp"`) || !strings.Contains(p, `"$10"`) {
		t.Errorf("CompositePrompt() missing title or price:\n%s", p)
	}
	if strings.Contains(p, "Old price") {
		t.Error("CompositePrompt() mentions old price when absent")
	}

	p = CompositePrompt("Lamp", "$10", "$15")
	if !strings.Contains(p, `Old price: "$15"`) {
		t.Errorf("CompositePrompt() missing old price:\n%s", p)
	}
}

func TestRefinePrompt(t *testing.T) {
	p := RefinePrompt("make it blue", false)
	if !strings.Contains(p, "Instruction: make it blue") {
		t.Errorf("RefinePrompt() missing instruction:\n%s", p)
	}
	if strings.Contains(p, "second image") {
		t.Error("RefinePrompt() mentions auxiliary image when absent")
	}
	if !strings.Contains(RefinePrompt("add logo", true), "second image") {
		t.Error("RefinePrompt() does not mention auxiliary image")
	}
}
