package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoItems = errors.New("no products found in manifest")

// Item is one product to composite. Refine lists follow-up instructions
// applied in order after the initial generation.
type Item struct {
	Index       int
	ProductPath string
	Title       string
	Price       string
	OldPrice    string
	Refine      []string
}

type jsonItem struct {
	Product  string   `json:"product"`
	Title    string   `json:"title"`
	Price    string   `json:"price"`
	OldPrice string   `json:"old_price,omitempty"`
	Refine   []string `json:"refine,omitempty"`
}

// ParseFile reads a manifest. Relative product paths are resolved against
// the manifest's directory.
func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var items []Item
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		items, err = ParseJSON(file)
	case ".txt", "":
		items, err = ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range items {
		if !filepath.IsAbs(items[i].ProductPath) {
			items[i].ProductPath = filepath.Join(base, items[i].ProductPath)
		}
	}
	return items, nil
}

// ParseText reads `product_path | title | price [| old_price]` lines. Blank
// lines and lines starting with # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("line %d: want product_path | title | price [| old_price], got %d field(s)", lineNo, len(fields))
		}

		item := Item{
			Index:       len(items) + 1,
			ProductPath: fields[0],
			Title:       fields[1],
			Price:       fields[2],
		}
		if len(fields) == 4 {
			item.OldPrice = fields[3]
		}
		if err := item.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, ErrNoItems
	}

	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(jsonItems) == 0 {
		return nil, ErrNoItems
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		items[i] = Item{
			Index:       i + 1,
			ProductPath: strings.TrimSpace(ji.Product),
			Title:       strings.TrimSpace(ji.Title),
			Price:       strings.TrimSpace(ji.Price),
			OldPrice:    strings.TrimSpace(ji.OldPrice),
		}
		for _, step := range ji.Refine {
			if s := strings.TrimSpace(step); s != "" {
				items[i].Refine = append(items[i].Refine, s)
			}
		}
		if err := items[i].validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
	}

	return items, nil
}

func (it Item) validate() error {
	switch {
	case it.ProductPath == "":
		return errors.New("missing product path")
	case it.Title == "":
		return errors.New("missing title")
	case it.Price == "":
		return errors.New("missing price")
	}
	return nil
}
