package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/manash/stylist/pkg/models"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrModelNotSupported = errors.New("model not supported by provider")
	ErrAPIKeyRequired    = errors.New("API key is required")
	ErrGenerationFailed  = errors.New("image generation failed")
	ErrRefineFailed      = errors.New("image refinement failed")
	ErrNoImageReturned   = errors.New("model returned no image")
	ErrContentBlocked    = errors.New("request blocked by content policy")
	ErrQuotaExceeded     = errors.New("quota exceeded")
)

// Provider is the remote generation service: composite generation and
// instruction-guided refinement.
type Provider interface {
	Name() models.ProviderType
	GenerateComposite(ctx context.Context, req *models.CompositeRequest) (models.EncodedImage, error)
	Refine(ctx context.Context, req *models.RefineRequest) (models.EncodedImage, error)
	SupportsModel(model string) bool
	ListModels() []string
}

type Config struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
	Verbose    bool
}

type Factory struct {
	registry  *models.ModelRegistry
	providers map[models.ProviderType]Provider
}

func NewFactory(registry *models.ModelRegistry) *Factory {
	return &Factory{
		registry:  registry,
		providers: make(map[models.ProviderType]Provider),
	}
}

func (f *Factory) Register(provider Provider) {
	f.providers[provider.Name()] = provider
}

func (f *Factory) Get(providerType models.ProviderType) (Provider, error) {
	provider, ok := f.providers[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}
	return provider, nil
}

func (f *Factory) GetForModel(model string) (Provider, error) {
	cap, ok := f.registry.Get(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotSupported, model)
	}

	provider, ok := f.providers[cap.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s (required by model %s)", ErrProviderNotFound, cap.Provider, model)
	}

	return provider, nil
}

func (f *Factory) ListProviders() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(f.providers))
	for t := range f.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Router dispatches each request to the provider registered for its model,
// so the model can be switched at runtime across providers.
type Router struct {
	factory *Factory
}

func NewRouter(factory *Factory) *Router {
	return &Router{factory: factory}
}

func (r *Router) GenerateComposite(ctx context.Context, req *models.CompositeRequest) (models.EncodedImage, error) {
	p, err := r.factory.GetForModel(req.Model)
	if err != nil {
		return models.EncodedImage{}, err
	}
	return p.GenerateComposite(ctx, req)
}

func (r *Router) Refine(ctx context.Context, req *models.RefineRequest) (models.EncodedImage, error) {
	p, err := r.factory.GetForModel(req.Model)
	if err != nil {
		return models.EncodedImage{}, err
	}
	return p.Refine(ctx, req)
}

// ProviderFor reports which provider serves model.
func (r *Router) ProviderFor(model string) (models.ProviderType, bool) {
	p, err := r.factory.GetForModel(model)
	if err != nil {
		return "", false
	}
	return p.Name(), true
}
