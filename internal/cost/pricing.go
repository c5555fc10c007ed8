package cost

// Image pricing in USD per generated image at the default output size.
// Gemini bills 1290 output tokens per image at $30 per 1M tokens.
// Source: https://ai.google.dev/gemini-api/docs/pricing
//         https://openai.com/api/pricing/

var imagePricing = map[string]float64{
	"gemini-2.5-flash-image":         0.039,
	"gemini-2.5-flash-image-preview": 0.039,
	"gpt-image-1":                    0.042, // 1024x1024 medium
}

func GetImagePrice(model string) (float64, bool) {
	price, ok := imagePricing[model]
	return price, ok
}

// KnownModels lists the models with a built-in price.
func KnownModels() []string {
	names := make([]string, 0, len(imagePricing))
	for name := range imagePricing {
		names = append(names, name)
	}
	return names
}
