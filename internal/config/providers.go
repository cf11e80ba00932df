package config

import "time"

// ProvidersConfig names the two provider clients the orchestrator wraps and
// carries the per-model pricing table used for spend tracking.
type ProvidersConfig struct {
	Primary   ProviderConfig        `yaml:"primary"`
	Secondary ProviderConfig        `yaml:"secondary"`
	Pricing   map[string]PriceEntry `yaml:"pricing"`
}

type ProviderConfig struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Models        []string          `yaml:"models"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

// PriceEntry is USD per million tokens.
type PriceEntry struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// CostCents estimates the cost of one call in cents. Unknown models cost
// zero, which keeps spend tracking fail-open for unpriced models.
func (p *ProvidersConfig) CostCents(model string, promptTokens, completionTokens int) float64 {
	price, ok := p.Pricing[model]
	if !ok {
		return 0
	}
	usd := price.Input*float64(promptTokens)/1e6 + price.Output*float64(completionTokens)/1e6
	return usd * 100
}
