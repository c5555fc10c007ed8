package cost

import "github.com/manash/stylist/pkg/models"

const (
	CurrencyUSD = "USD"
)

type Calculator struct {
	overrides *Overrides
}

// NewCalculator returns a calculator that consults overrides first. A nil
// overrides uses the built-in table only.
func NewCalculator(overrides *Overrides) *Calculator {
	return &Calculator{overrides: overrides}
}

func (c *Calculator) Calculate(provider models.ProviderType, model string, count int) *models.CostInfo {
	perImage := c.PerImage(provider, model)
	if count < 0 {
		count = 0
	}

	return &models.CostInfo{
		PerImage: perImage,
		Total:    perImage * float64(count),
		Currency: CurrencyUSD,
	}
}

func (c *Calculator) PerImage(provider models.ProviderType, model string) float64 {
	if c.overrides != nil {
		if price, ok := c.overrides.Get(model); ok {
			return price
		}
	}

	if price, ok := GetImagePrice(model); ok {
		return price
	}

	// Default fallback prices
	switch provider {
	case models.ProviderGemini:
		return 0.039
	case models.ProviderOpenAI:
		return 0.042
	default:
		return 0
	}
}
