package codec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestEncode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "product.png")
	if err := os.WriteFile(path, pngHeader, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	img, err := Encode(context.Background(), path)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if img.MediaType() != "image/png" {
		t.Errorf("MediaType() = %q, want image/png", img.MediaType())
	}
	if !bytes.Equal(img.Bytes(), pngHeader) {
		t.Error("Encode() payload differs from file content")
	}
}

func TestEncode_MissingFile(t *testing.T) {
	_, err := Encode(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	if !errors.Is(err, ErrRead) {
		t.Errorf("Encode() error = %v, want %v", err, ErrRead)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Encode() error = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestEncode_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Encode(ctx, "whatever.png")
	if !errors.Is(err, ErrRead) || !errors.Is(err, context.Canceled) {
		t.Errorf("Encode() error = %v, want ErrRead wrapping context.Canceled", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestEncodeReader(t *testing.T) {
	ctx := context.Background()

	t.Run("sniffs content without extension", func(t *testing.T) {
		img, err := EncodeReader(ctx, bytes.NewReader(pngHeader), "upload")
		if err != nil {
			t.Fatalf("EncodeReader() error = %v", err)
		}
		if img.MediaType() != "image/png" {
			t.Errorf("MediaType() = %q, want image/png", img.MediaType())
		}
	})

	t.Run("extension wins", func(t *testing.T) {
		img, err := EncodeReader(ctx, strings.NewReader("jpegish"), "photo.JPG")
		if err != nil {
			t.Fatalf("EncodeReader() error = %v", err)
		}
		if img.MediaType() != "image/jpeg" {
			t.Errorf("MediaType() = %q, want image/jpeg", img.MediaType())
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := EncodeReader(ctx, strings.NewReader(""), "x.png")
		if !errors.Is(err, ErrEmpty) {
			t.Errorf("EncodeReader() error = %v, want %v", err, ErrEmpty)
		}
	})

	t.Run("read failure", func(t *testing.T) {
		_, err := EncodeReader(ctx, failingReader{}, "x.png")
		if !errors.Is(err, ErrRead) {
			t.Errorf("EncodeReader() error = %v, want %v", err, ErrRead)
		}
	})

	t.Run("too large", func(t *testing.T) {
		big := bytes.NewReader(make([]byte, MaxImageBytes+1))
		_, err := EncodeReader(ctx, big, "x.png")
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("EncodeReader() error = %v, want %v", err, ErrTooLarge)
		}
	})
}
