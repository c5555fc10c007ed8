// Package gemini implements provider.Provider on the Gemini image models.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/internal/provider"
	"github.com/manash/stylist/pkg/models"
)

const defaultTimeout = 180 * time.Second

var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"IMAGE_SAFETY":       true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	client   *genai.Client
	registry *models.ModelRegistry
	verbose  bool
}

func New(ctx context.Context, cfg *provider.Config, registry *models.ModelRegistry) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Provider{
		client:   client,
		registry: registry,
		verbose:  cfg.Verbose,
	}, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderGemini
}

func (p *Provider) SupportsModel(model string) bool {
	cap, ok := p.registry.Get(model)
	if !ok {
		return false
	}
	return cap.Provider == models.ProviderGemini
}

func (p *Provider) ListModels() []string {
	return p.registry.ListByProvider(models.ProviderGemini)
}

func (p *Provider) capabilities(model string) (*models.ModelCapabilities, error) {
	cap, ok := p.registry.Get(model)
	if !ok || cap.Provider != models.ProviderGemini {
		return nil, fmt.Errorf("%w: %s", provider.ErrModelNotSupported, model)
	}
	return cap, nil
}

func (p *Provider) GenerateComposite(ctx context.Context, req *models.CompositeRequest) (models.EncodedImage, error) {
	cap, err := p.capabilities(req.Model)
	if err != nil {
		return models.EncodedImage{}, err
	}
	if err := cap.ValidateComposite(req); err != nil {
		return models.EncodedImage{}, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(provider.CompositePrompt(req.Title, req.Price, req.OldPrice)),
		genai.NewPartFromBytes(req.Reference.Bytes(), req.Reference.MediaType()),
		genai.NewPartFromBytes(req.Product.Bytes(), req.Product.MediaType()),
	}

	img, err := p.generate(ctx, req.Model, parts)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", provider.ErrGenerationFailed, err)
	}
	return img, nil
}

func (p *Provider) Refine(ctx context.Context, req *models.RefineRequest) (models.EncodedImage, error) {
	cap, err := p.capabilities(req.Model)
	if err != nil {
		return models.EncodedImage{}, err
	}
	if err := cap.ValidateRefine(req); err != nil {
		return models.EncodedImage{}, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(provider.RefinePrompt(req.Instruction, req.HasAuxiliary())),
		genai.NewPartFromBytes(req.Base.Bytes(), req.Base.MediaType()),
	}
	if req.HasAuxiliary() {
		parts = append(parts, genai.NewPartFromBytes(req.Auxiliary.Bytes(), req.Auxiliary.MediaType()))
	}

	img, err := p.generate(ctx, req.Model, parts)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", provider.ErrRefineFailed, err)
	}
	return img, nil
}

func (p *Provider) generate(ctx context.Context, model string, parts []*genai.Part) (models.EncodedImage, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	p.logRequest(model, parts)
	start := time.Now()

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		if isQuotaError(err) {
			return models.EncodedImage{}, fmt.Errorf("%w: %v", provider.ErrQuotaExceeded, err)
		}
		return models.EncodedImage{}, err
	}

	log.Debugf("gemini: %s responded in %s", model, time.Since(start).Round(time.Millisecond))
	return extractImage(resp)
}

func extractImage(resp *genai.GenerateContentResponse) (models.EncodedImage, error) {
	if resp == nil {
		return models.EncodedImage{}, provider.ErrNoImageReturned
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		msg := string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			msg += ": " + fb.BlockReasonMessage
		}
		return models.EncodedImage{}, fmt.Errorf("%w: %s", provider.ErrContentBlocked, msg)
	}

	var text []string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					mediaType := part.InlineData.MIMEType
					if mediaType == "" {
						mediaType = "image/png"
					}
					return models.NewEncodedImage(part.InlineData.Data, mediaType), nil
				}
				if t := strings.TrimSpace(part.Text); t != "" {
					text = append(text, t)
				}
			}
		}
		if reason := string(cand.FinishReason); blockedFinishReasons[reason] {
			return models.EncodedImage{}, fmt.Errorf("%w: finish reason %s", provider.ErrContentBlocked, reason)
		}
	}

	if len(text) > 0 {
		return models.EncodedImage{}, fmt.Errorf("%w: %s", provider.ErrNoImageReturned, truncate(strings.Join(text, " "), 200))
	}
	return models.EncodedImage{}, provider.ErrNoImageReturned
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota")
}

func (p *Provider) logRequest(model string, parts []*genai.Part) {
	if !p.verbose {
		return
	}
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteString(", ")
		}
		switch {
		case part.InlineData != nil:
			fmt.Fprintf(&b, "%s[%d bytes]", part.InlineData.MIMEType, len(part.InlineData.Data))
		default:
			fmt.Fprintf(&b, "text[%d chars]", len(part.Text))
		}
	}
	log.Infof("gemini: generateContent model=%s parts=%s", model, b.String())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
