package llms

import (
	"math"
	"strings"

	"github.com/hearthd/hearth/pkg/config"
)

// Built-in price tables in USD per million tokens. Config pricing
// overrides these; dated model snapshots resolve by longest prefix
// (gpt-4o-2024-08-06 matches gpt-4o).
var fallbackPrices = map[config.Provider]map[string]config.PriceConfig{
	config.ProviderOpenAI: {
		"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
		"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4.1":       {InputPer1M: 2.00, OutputPer1M: 8.00},
		"gpt-4.1-mini":  {InputPer1M: 0.40, OutputPer1M: 1.60},
		"gpt-4.1-nano":  {InputPer1M: 0.10, OutputPer1M: 0.40},
		"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
		"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},
		"o3-mini":       {InputPer1M: 1.10, OutputPer1M: 4.40},
	},
	config.ProviderAnthropic: {
		"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
		"claude-3-7-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
		"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
		"claude-sonnet-4":   {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-opus-4":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	},
	config.ProviderGoogle: {
		"gemini-2.5-pro":        {InputPer1M: 1.25, OutputPer1M: 10.00},
		"gemini-2.5-flash":      {InputPer1M: 0.30, OutputPer1M: 2.50},
		"gemini-2.0-flash":      {InputPer1M: 0.10, OutputPer1M: 0.40},
		"gemini-2.0-flash-lite": {InputPer1M: 0.075, OutputPer1M: 0.30},
		"gemini-1.5-pro":        {InputPer1M: 1.25, OutputPer1M: 5.00},
		"gemini-1.5-flash":      {InputPer1M: 0.075, OutputPer1M: 0.30},
	},
}

// providerDefaultPrices covers unrecognized models on a known cloud
// provider. Better to overestimate than to bill a call at zero.
var providerDefaultPrices = map[config.Provider]config.PriceConfig{
	config.ProviderOpenAI:    {InputPer1M: 2.50, OutputPer1M: 10.00},
	config.ProviderAnthropic: {InputPer1M: 3.00, OutputPer1M: 15.00},
	config.ProviderGoogle:    {InputPer1M: 1.25, OutputPer1M: 10.00},
}

// PriceTable resolves per-model prices with config overrides layered
// over the built-in tables.
type PriceTable struct {
	overrides map[string]map[string]config.PriceConfig
}

func NewPriceTable(overrides map[string]map[string]config.PriceConfig) *PriceTable {
	return &PriceTable{overrides: overrides}
}

// Lookup returns the price pair for a model. Local providers have no
// price; ok is false for them.
func (t *PriceTable) Lookup(provider config.Provider, model string) (config.PriceConfig, bool) {
	if provider.IsLocal() {
		return config.PriceConfig{}, false
	}

	if t != nil && t.overrides != nil {
		if models, ok := t.overrides[string(provider)]; ok {
			if price, ok := matchModelPrice(models, model); ok {
				return price, true
			}
		}
	}

	if models, ok := fallbackPrices[provider]; ok {
		if price, ok := matchModelPrice(models, model); ok {
			return price, true
		}
	}

	if price, ok := providerDefaultPrices[provider]; ok {
		return price, true
	}
	return config.PriceConfig{}, false
}

// Cost computes the USD cost of one call, rounded to six decimals.
// Local calls cost zero.
func (t *PriceTable) Cost(provider config.Provider, model string, inputTokens, outputTokens int) float64 {
	price, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	cost := float64(inputTokens)*price.InputPer1M/1e6 + float64(outputTokens)*price.OutputPer1M/1e6
	return math.Round(cost*1e6) / 1e6
}

func matchModelPrice(models map[string]config.PriceConfig, model string) (config.PriceConfig, bool) {
	if price, ok := models[model]; ok {
		return price, true
	}

	bestLen := 0
	var best config.PriceConfig
	for prefix, price := range models {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = price
		}
	}
	if bestLen > 0 {
		return best, true
	}
	return config.PriceConfig{}, false
}
