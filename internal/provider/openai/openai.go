package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/internal/provider"
	"github.com/manash/stylist/pkg/models"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 180 * time.Second
)

var _ provider.Provider = (*Provider)(nil)

type apiResponse struct {
	Created int64       `json:"created"`
	Data    []imageData `json:"data"`
	Error   *apiError   `json:"error,omitempty"`
}

type imageData struct {
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	registry   *models.ModelRegistry
	verbose    bool
}

func New(cfg *provider.Config, registry *models.ModelRegistry) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		registry: registry,
		verbose:  cfg.Verbose,
	}, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderOpenAI
}

func (p *Provider) SupportsModel(model string) bool {
	cap, ok := p.registry.Get(model)
	if !ok {
		return false
	}
	return cap.Provider == models.ProviderOpenAI
}

func (p *Provider) ListModels() []string {
	return p.registry.ListByProvider(models.ProviderOpenAI)
}

func (p *Provider) capabilities(model string) (*models.ModelCapabilities, error) {
	cap, ok := p.registry.Get(model)
	if !ok || cap.Provider != models.ProviderOpenAI {
		return nil, fmt.Errorf("%w: %s", provider.ErrModelNotSupported, model)
	}
	return cap, nil
}

// GenerateComposite sends the reference and product images to the edits
// endpoint, reference first.
func (p *Provider) GenerateComposite(ctx context.Context, req *models.CompositeRequest) (models.EncodedImage, error) {
	cap, err := p.capabilities(req.Model)
	if err != nil {
		return models.EncodedImage{}, err
	}
	if err := cap.ValidateComposite(req); err != nil {
		return models.EncodedImage{}, err
	}

	img, err := p.edit(ctx, &editRequest{
		model:  req.Model,
		prompt: provider.CompositePrompt(req.Title, req.Price, req.OldPrice),
		images: []models.EncodedImage{req.Reference, req.Product},
	})
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

	images := []models.EncodedImage{req.Base}
	if req.HasAuxiliary() {
		images = append(images, *req.Auxiliary)
	}

	img, err := p.edit(ctx, &editRequest{
		model:  req.Model,
		prompt: provider.RefinePrompt(req.Instruction, req.HasAuxiliary()),
		images: images,
	})
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", provider.ErrRefineFailed, err)
	}
	return img, nil
}

func (p *Provider) parseResponse(statusCode int, body []byte) (models.EncodedImage, error) {
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if apiResp.Error != nil {
		return models.EncodedImage{}, apiFailure(statusCode, apiResp.Error)
	}

	if statusCode != http.StatusOK {
		return models.EncodedImage{}, fmt.Errorf("status %d", statusCode)
	}

	for i, data := range apiResp.Data {
		if data.B64JSON == "" {
			continue
		}
		img, err := models.DecodeBase64Image(data.B64JSON, "image/png")
		if err != nil {
			return models.EncodedImage{}, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		if data.RevisedPrompt != "" {
			log.Debugf("openai: revised prompt: %s", data.RevisedPrompt)
		}
		return img, nil
	}

	return models.EncodedImage{}, provider.ErrNoImageReturned
}

func apiFailure(statusCode int, e *apiError) error {
	switch {
	case statusCode == http.StatusTooManyRequests || e.Code == "insufficient_quota" || e.Type == "insufficient_quota":
		return fmt.Errorf("%w: %s", provider.ErrQuotaExceeded, e.Message)
	case e.Code == "moderation_blocked" || e.Code == "content_policy_violation":
		return fmt.Errorf("%w: %s", provider.ErrContentBlocked, e.Message)
	default:
		return fmt.Errorf("%s", e.Message)
	}
}

func (p *Provider) logMultipartRequest(method, url string, headers http.Header, req *editRequest) {
	if !p.verbose {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", method, url)
	b.WriteString("Headers:\n")
	writeHeaders(&b, headers)
	b.WriteString("Body (multipart form):\n")
	fmt.Fprintf(&b, "  model: %s\n", req.model)
	fmt.Fprintf(&b, "  prompt: %s\n", req.prompt)
	for i, img := range req.images {
		fmt.Fprintf(&b, "  image[%d]: %s [%d bytes]\n", i, img.MediaType(), img.Len())
	}
	log.Infof("openai request:\n%s", b.String())
}

func (p *Provider) logResponse(statusCode int, headers http.Header, body []byte) {
	if !p.verbose {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %d\n", statusCode)
	b.WriteString("Headers:\n")
	writeHeaders(&b, headers)
	if len(body) > 0 {
		b.WriteString("Body:\n")
		// base64 payloads are truncated for readability
		truncatedBody := truncateBase64InJSON(body)
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, truncatedBody, "  ", "  "); err == nil {
			fmt.Fprintf(&b, "  %s\n", prettyJSON.String())
		} else {
			fmt.Fprintf(&b, "  %s\n", string(truncatedBody))
		}
	}
	log.Infof("openai response:\n%s", b.String())
}

func writeHeaders(w io.Writer, headers http.Header) {
	for key, values := range headers {
		for _, value := range values {
			if strings.EqualFold(key, "authorization") {
				value = "[REDACTED]"
			}
			fmt.Fprintf(w, "  %s: %s\n", key, value)
		}
	}
}

func truncateBase64InJSON(body []byte) []byte {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	truncateBase64Fields(data)

	result, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return result
}

func truncateBase64Fields(data map[string]any) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if key == "b64_json" && len(v) > 100 {
				data[key] = v[:100] + "... [truncated]"
			}
		case map[string]any:
			truncateBase64Fields(v)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					truncateBase64Fields(m)
				}
			}
		}
	}
}
