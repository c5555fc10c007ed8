package models

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrNoReferenceImage       = errors.New("reference image is required")
	ErrNoProductImage         = errors.New("product image is required")
	ErrEmptyTitle             = errors.New("product title cannot be empty")
	ErrEmptyPrice             = errors.New("price cannot be empty")
	ErrNoBaseImage            = errors.New("base image is required for refinement")
	ErrEmptyInstruction       = errors.New("instruction cannot be empty")
	ErrAuxiliaryNotSupported  = errors.New("auxiliary refinement image not supported by model")
	ErrUnsupportedInputFormat = errors.New("input media type not supported by model")
)

type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
)

func ValidProviders() []ProviderType {
	return []ProviderType{ProviderGemini, ProviderOpenAI}
}

func (p ProviderType) IsValid() bool {
	return slices.Contains(ValidProviders(), p)
}

func (p ProviderType) String() string {
	return string(p)
}

// CompositeRequest asks for a styled product shot built from a reference
// (style) image and a product image.
type CompositeRequest struct {
	Model     string
	Reference EncodedImage
	Product   EncodedImage
	Title     string
	Price     string
	OldPrice  string // empty when absent
}

func (r *CompositeRequest) Validate() error {
	if r.Reference.IsZero() {
		return ErrNoReferenceImage
	}
	if r.Product.IsZero() {
		return ErrNoProductImage
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(r.Price) == "" {
		return ErrEmptyPrice
	}
	return nil
}

// RefineRequest applies a free-text instruction to an existing image,
// optionally guided by an auxiliary image.
type RefineRequest struct {
	Model       string
	Base        EncodedImage
	Instruction string
	Auxiliary   *EncodedImage
}

func (r *RefineRequest) Validate() error {
	if r.Base.IsZero() {
		return ErrNoBaseImage
	}
	if strings.TrimSpace(r.Instruction) == "" {
		return ErrEmptyInstruction
	}
	return nil
}

func (r *RefineRequest) HasAuxiliary() bool {
	return r.Auxiliary != nil && !r.Auxiliary.IsZero()
}

type CostInfo struct {
	PerImage float64
	Total    float64
	Currency string
}

type ModelCapabilities struct {
	Name                   string
	Provider               ProviderType
	OutputMediaType        string
	SupportedInputTypes    []string
	SupportsAuxiliaryImage bool
	MaxInputImages         int
	DefaultAspectRatio     string
	SupportedAspectRatios  []string
}

func (c *ModelCapabilities) acceptsInput(img EncodedImage) bool {
	if len(c.SupportedInputTypes) == 0 {
		return true
	}
	return slices.Contains(c.SupportedInputTypes, img.MediaType())
}

func (c *ModelCapabilities) ValidateComposite(req *CompositeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	for _, img := range []EncodedImage{req.Reference, req.Product} {
		if !c.acceptsInput(img) {
			return fmt.Errorf("%w: %q not in %v", ErrUnsupportedInputFormat, img.MediaType(), c.SupportedInputTypes)
		}
	}
	return nil
}

func (c *ModelCapabilities) ValidateRefine(req *RefineRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.HasAuxiliary() && !c.SupportsAuxiliaryImage {
		return fmt.Errorf("%w: %s", ErrAuxiliaryNotSupported, c.Name)
	}
	if !c.acceptsInput(req.Base) {
		return fmt.Errorf("%w: %q not in %v", ErrUnsupportedInputFormat, req.Base.MediaType(), c.SupportedInputTypes)
	}
	if req.HasAuxiliary() && !c.acceptsInput(*req.Auxiliary) {
		return fmt.Errorf("%w: %q not in %v", ErrUnsupportedInputFormat, req.Auxiliary.MediaType(), c.SupportedInputTypes)
	}
	return nil
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ModelRegistry) ListByProvider(provider ProviderType) []string {
	var names []string
	for name, cap := range r.models {
		if cap.Provider == provider {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultModel returns the registry default for a provider.
func DefaultModel(provider ProviderType) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-image-1"
	default:
		return "gemini-2.5-flash-image"
	}
}

var commonInputTypes = []string{"image/png", "image/jpeg", "image/webp"}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:                   "gemini-2.5-flash-image",
		Provider:               ProviderGemini,
		OutputMediaType:        "image/png",
		SupportedInputTypes:    append(slices.Clone(commonInputTypes), "image/heic", "image/heif"),
		SupportsAuxiliaryImage: true,
		MaxInputImages:         3,
		DefaultAspectRatio:     "1:1",
		SupportedAspectRatios:  []string{"1:1", "3:4", "4:3", "9:16", "16:9"},
	})

	r.Register(&ModelCapabilities{
		Name:                   "gemini-2.5-flash-image-preview",
		Provider:               ProviderGemini,
		OutputMediaType:        "image/png",
		SupportedInputTypes:    append(slices.Clone(commonInputTypes), "image/heic", "image/heif"),
		SupportsAuxiliaryImage: true,
		MaxInputImages:         3,
		DefaultAspectRatio:     "1:1",
	})

	r.Register(&ModelCapabilities{
		Name:                   "gpt-image-1",
		Provider:               ProviderOpenAI,
		OutputMediaType:        "image/png",
		SupportedInputTypes:    slices.Clone(commonInputTypes),
		SupportsAuxiliaryImage: true,
		MaxInputImages:         16,
		DefaultAspectRatio:     "1:1",
	})

	return r
}
