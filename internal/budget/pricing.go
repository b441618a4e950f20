package budget

// ModelPricing contains pricing per 1M tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64 // Cost per 1M input tokens
	OutputPerMillion float64 // Cost per 1M output tokens
}

// DefaultModel is used when no model is specified for a cost estimate.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultModelPricing contains pricing for known Claude models.
var DefaultModelPricing = map[string]ModelPricing{
	"claude-opus-4-5-20251101":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
}

// EstimateCost returns the dollar cost of the given token counts for a model.
// Unknown or empty model names fall back to DefaultModel pricing.
func EstimateCost(inputTokens, outputTokens int64, model string) float64 {
	pricing, ok := DefaultModelPricing[model]
	if !ok {
		pricing = DefaultModelPricing[DefaultModel]
	}

	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMillion
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMillion
	return inputCost + outputCost
}
