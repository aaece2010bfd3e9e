package pricing

import (
	"go.uber.org/zap"
)

// ModelPrice holds per-1K-token USD rates for a model.
type ModelPrice struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// priceTable is the static pricing table, loaded at process start.
// Rates are USD per 1000 tokens.
var priceTable = map[string]ModelPrice{
	"gpt-4":         {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
	"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
}

// PriceForModel returns the pricing for a model and whether it is known.
func PriceForModel(model string) (ModelPrice, bool) {
	p, ok := priceTable[model]
	return p, ok
}

// Cost computes the USD cost of a request from token counts.
// An unknown model costs zero; a warning is logged so the request itself
// is never aborted over missing pricing.
func Cost(logger *zap.Logger, model string, inputTokens, outputTokens int) float64 {
	p, ok := priceTable[model]
	if !ok {
		if logger != nil {
			logger.Warn("no pricing information for model", zap.String("model", model))
		}
		return 0
	}
	return (float64(inputTokens)/1000)*p.Input + (float64(outputTokens)/1000)*p.Output
}

// EstimateTokens approximates a token count from text length.
// One token is roughly four characters; used whenever the provider has not
// reported exact counts (always the case mid-stream).
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
