package security

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidateSavePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{
			name:    "valid simple filename",
			path:    "image.png",
			wantErr: nil,
		},
		{
			name:    "valid filename with subdirectory",
			path:    "output/image.png",
			wantErr: nil,
		},
		{
			name:    "path traversal with ..",
			path:    "../image.png",
			wantErr: ErrPathTraversal,
		},
		{
			name:    "path traversal in middle",
			path:    "foo/../../../etc/passwd",
			wantErr: ErrPathTraversal,
		},
		{
			name:    "absolute path unix",
			path:    "/etc/passwd",
			wantErr: ErrAbsolutePath,
		},
		{
			name:    "windows reserved name CON",
			path:    "CON.txt",
			wantErr: ErrReservedName,
		},
		{
			name:    "windows reserved name PRN",
			path:    "prn.png",
			wantErr: ErrReservedName,
		},
		{
			name:    "windows reserved name NUL",
			path:    "nul",
			wantErr: ErrReservedName,
		},
		{
			name:    "windows reserved name LPT1",
			path:    "lpt1.doc",
			wantErr: ErrReservedName,
		},
		{
			name:    "filename starting with hyphen",
			path:    "-image.png",
			wantErr: ErrLeadingHyphen,
		},
		{
			name:    "download filename",
			path:    "styled-product-image-v2.png",
			wantErr: nil,
		},
		{
			name:    "blank",
			path:    "  ",
			wantErr: ErrEmptyPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSavePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSavePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	got, err := SafeJoin("out", "lamp.png")
	if err != nil {
		t.Fatalf("SafeJoin() error = %v", err)
	}
	if got != filepath.Join("out", "lamp.png") {
		t.Errorf("SafeJoin() = %q", got)
	}

	if _, err := SafeJoin("out", "../lamp.png"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("SafeJoin(traversal) error = %v, want %v", err, ErrPathTraversal)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal filename",
			input:    "image.png",
			expected: "image.png",
		},
		{
			name:     "filename with slashes",
			input:    "foo/bar.png",
			expected: "foo-bar.png",
		},
		{
			name:     "filename with backslashes",
			input:    "foo\\bar.png",
			expected: "foo-bar.png",
		},
		{
			name:     "leading dots removed",
			input:    "..hidden.png",
			expected: "hidden.png",
		},
		{
			name:     "leading hyphens removed",
			input:    "--flag.png",
			expected: "flag.png",
		},
		{
			name:     "trailing dots removed",
			input:    "file.png...",
			expected: "file.png",
		},
		{
			name:     "special characters removed",
			input:    "file<name>:with*bad?chars.png",
			expected: "filename-withbadchars.png",
		},
		{
			name:     "windows reserved name gets underscore",
			input:    "CON.txt",
			expected: "CON.txt_",
		},
		{
			name:     "product title",
			input:    "Desk Lamp 2/3\" LED",
			expected: "Desk Lamp 2-3 LED",
		},
		{
			name:     "empty becomes file",
			input:    "...",
			expected: "file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
