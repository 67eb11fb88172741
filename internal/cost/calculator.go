// Package cost prices API usage for run summaries.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
	Jina   JinaRate             `yaml:"jina" mapstructure:"jina"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaRate holds Jina Reader and Search pricing.
type JinaRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Model computes the cost of one extraction call. Unknown models price at
// zero rather than erroring; cost reporting never blocks a run.
func (c *Calculator) Model(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	inCost := (float64(inputTokens) / 1e6) * rate.Input
	outCost := (float64(outputTokens) / 1e6) * rate.Output
	return inCost + outCost
}

// Jina computes the cost for Jina Reader token usage.
func (c *Calculator) Jina(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Jina.PerMTok
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gpt-4o":                     {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Jina: JinaRate{PerMTok: 0.02},
	}
}
