// Package codec turns uploaded files into models.EncodedImage values.
package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/manash/stylist/pkg/models"
)

// MaxImageBytes bounds a single upload.
const MaxImageBytes = 20 << 20

var (
	ErrRead     = errors.New("failed to read image")
	ErrEmpty    = errors.New("image file is empty")
	ErrTooLarge = errors.New("image file too large")
)

// Encode reads the whole file at path.
func Encode(ctx context.Context, path string) (models.EncodedImage, error) {
	if err := ctx.Err(); err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", ErrRead, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer f.Close()

	return EncodeReader(ctx, f, filepath.Base(path))
}

// EncodeReader reads r to EOF. name is used only to guess the media type.
func EncodeReader(ctx context.Context, r io.Reader, name string) (models.EncodedImage, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if err := ctx.Err(); err != nil {
		return models.EncodedImage{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if len(data) == 0 {
		return models.EncodedImage{}, ErrEmpty
	}
	if len(data) > MaxImageBytes {
		return models.EncodedImage{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, MaxImageBytes)
	}

	return models.NewEncodedImage(data, DetectMediaType(name, data)), nil
}

// DetectMediaType prefers the file extension and falls back to sniffing the
// first bytes.
func DetectMediaType(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			if base, _, err := mime.ParseMediaType(mt); err == nil {
				return base
			}
			return mt
		}
	}
	mt := http.DetectContentType(data)
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}
