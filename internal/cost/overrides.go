package cost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const overridesFile = "pricing.json"

var ErrInvalidPrice = errors.New("price must not be negative")

// LocalPricing is the on-disk set of per-model price overrides.
type LocalPricing struct {
	UpdatedAt time.Time          `json:"updated_at"`
	Source    string             `json:"source"`
	Image     map[string]float64 `json:"image"`
}

// Overrides stores manual prices that take precedence over the built-in
// table.
type Overrides struct {
	path string
}

func NewOverrides(dir string) *Overrides {
	return &Overrides{path: filepath.Join(dir, overridesFile)}
}

func (o *Overrides) Path() string {
	return o.path
}

func (o *Overrides) Save(pricing *LocalPricing) error {
	if err := os.MkdirAll(filepath.Dir(o.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(pricing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pricing: %w", err)
	}

	if err := os.WriteFile(o.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pricing cache: %w", err)
	}

	return nil
}

// Load returns nil, nil when no overrides have been saved.
func (o *Overrides) Load() (*LocalPricing, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pricing cache: %w", err)
	}

	var pricing LocalPricing
	if err := json.Unmarshal(data, &pricing); err != nil {
		return nil, fmt.Errorf("failed to parse pricing cache: %w", err)
	}

	return &pricing, nil
}

func (o *Overrides) Delete() error {
	if err := os.Remove(o.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete pricing cache: %w", err)
	}
	return nil
}

func (o *Overrides) SetPrice(model string, price float64) error {
	if price < 0 {
		return ErrInvalidPrice
	}

	pricing, err := o.Load()
	if err != nil {
		return err
	}

	if pricing == nil {
		pricing = &LocalPricing{}
	}
	if pricing.Image == nil {
		pricing.Image = make(map[string]float64)
	}

	pricing.Image[model] = price
	pricing.UpdatedAt = time.Now()
	pricing.Source = "manual"

	return o.Save(pricing)
}

func (o *Overrides) Get(model string) (float64, bool) {
	pricing, err := o.Load()
	if err != nil || pricing == nil {
		return 0, false
	}
	price, ok := pricing.Image[model]
	return price, ok
}
