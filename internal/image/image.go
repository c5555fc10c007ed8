// Package image writes generated images to disk.
package image

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/manash/stylist/internal/history"
	"github.com/manash/stylist/pkg/models"
)

var ErrNoImageData = errors.New("no image data available")

// DownloadFilename names the file for history version n (1-based).
func DownloadFilename(version int, img models.EncodedImage) string {
	return fmt.Sprintf("styled-product-image-v%d.%s", version, img.Extension())
}

type Saver struct {
	fileMode os.FileMode
}

func NewSaver() *Saver {
	return &Saver{fileMode: 0644}
}

func (s *Saver) Save(img models.EncodedImage, path string) error {
	if img.IsZero() {
		return ErrNoImageData
	}

	if err := s.ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, img.Bytes(), s.fileMode); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// SaveVersion writes img into dir under its download filename and returns
// the full path.
func (s *Saver) SaveVersion(dir string, version int, img models.EncodedImage) (string, error) {
	path := filepath.Join(dir, DownloadFilename(version, img))
	if err := s.Save(img, path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveAll writes every history entry into dir, oldest first.
func (s *Saver) SaveAll(dir string, entries []history.Entry) ([]string, error) {
	paths := make([]string, 0, len(entries))

	for i, e := range entries {
		path, err := s.SaveVersion(dir, i+1, e.Image)
		if err != nil {
			return paths, fmt.Errorf("failed to save version %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func (s *Saver) ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
