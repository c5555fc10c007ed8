package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/manash/stylist/pkg/models"
)

type editRequest struct {
	model  string
	prompt string
	images []models.EncodedImage
}

func (p *Provider) edit(ctx context.Context, req *editRequest) (models.EncodedImage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for i, img := range req.images {
		if err := writeImagePart(writer, i, img); err != nil {
			return models.EncodedImage{}, err
		}
	}

	if err := writer.WriteField("prompt", req.prompt); err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to write prompt: %w", err)
	}

	if err := writer.WriteField("model", req.model); err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to write model: %w", err)
	}

	if err := writer.WriteField("n", "1"); err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to write count: %w", err)
	}

	if err := writer.Close(); err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := p.baseURL + "/images/edits"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logMultipartRequest(http.MethodPost, url, httpReq.Header, req)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("failed to read response: %w", err)
	}

	p.logResponse(resp.StatusCode, resp.Header, bodyBytes)

	return p.parseResponse(resp.StatusCode, bodyBytes)
}

// writeImagePart adds one image[] part carrying the image's own media type.
func writeImagePart(writer *multipart.Writer, index int, img models.EncodedImage) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image[]"; filename="image-%d.%s"`, index, img.Extension()))
	h.Set("Content-Type", img.MediaType())

	part, err := writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(img.Bytes()); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}
