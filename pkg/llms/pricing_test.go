package llms

import (
	"testing"

	"github.com/hearthd/hearth/pkg/config"
)

func TestPriceTable_Lookup_LocalProvidersAreFree(t *testing.T) {
	table := NewPriceTable(nil)
	for _, provider := range []config.Provider{config.ProviderOllama, config.ProviderLlamaCpp} {
		if _, ok := table.Lookup(provider, "llama3.2"); ok {
			t.Errorf("Lookup(%s) ok = true, want false for local provider", provider)
		}
		if cost := table.Cost(provider, "llama3.2", 1_000_000, 1_000_000); cost != 0 {
			t.Errorf("Cost(%s) = %v, want 0", provider, cost)
		}
	}
}

func TestPriceTable_Lookup_ExactMatch(t *testing.T) {
	table := NewPriceTable(nil)
	price, ok := table.Lookup(config.ProviderOpenAI, "gpt-4o-mini")
	if !ok {
		t.Fatal("Lookup(gpt-4o-mini) ok = false, want true")
	}
	if price.InputPer1M != 0.15 || price.OutputPer1M != 0.60 {
		t.Errorf("gpt-4o-mini price = %v/%v, want 0.15/0.60", price.InputPer1M, price.OutputPer1M)
	}
}

func TestPriceTable_Lookup_LongestPrefixWins(t *testing.T) {
	table := NewPriceTable(nil)

	// A dated snapshot resolves to its base model, and the longer
	// prefix beats the shorter one (gpt-4o-mini over gpt-4o).
	price, ok := table.Lookup(config.ProviderOpenAI, "gpt-4o-mini-2024-07-18")
	if !ok {
		t.Fatal("Lookup(dated snapshot) ok = false, want true")
	}
	if price.InputPer1M != 0.15 {
		t.Errorf("dated snapshot input price = %v, want gpt-4o-mini rate 0.15", price.InputPer1M)
	}

	price, ok = table.Lookup(config.ProviderAnthropic, "claude-3-5-haiku-20241022")
	if !ok || price.InputPer1M != 0.80 {
		t.Errorf("claude snapshot price = %v (ok=%v), want 0.80", price.InputPer1M, ok)
	}
}

func TestPriceTable_Lookup_ProviderDefault(t *testing.T) {
	table := NewPriceTable(nil)
	price, ok := table.Lookup(config.ProviderAnthropic, "claude-99-experimental")
	if !ok {
		t.Fatal("Lookup(unknown anthropic model) ok = false, want provider default")
	}
	if price.InputPer1M != 3.00 || price.OutputPer1M != 15.00 {
		t.Errorf("unknown model price = %v/%v, want provider default 3.00/15.00", price.InputPer1M, price.OutputPer1M)
	}
}

func TestPriceTable_Lookup_OverridesWin(t *testing.T) {
	table := NewPriceTable(map[string]map[string]config.PriceConfig{
		"openai": {
			"gpt-4o": {InputPer1M: 1.00, OutputPer1M: 2.00},
		},
	})

	price, ok := table.Lookup(config.ProviderOpenAI, "gpt-4o")
	if !ok || price.InputPer1M != 1.00 || price.OutputPer1M != 2.00 {
		t.Errorf("override price = %v/%v (ok=%v), want 1.00/2.00", price.InputPer1M, price.OutputPer1M, ok)
	}

	// Models the overrides do not mention still resolve through the
	// built-in table.
	price, ok = table.Lookup(config.ProviderOpenAI, "gpt-4o-mini")
	if !ok || price.InputPer1M != 0.15 {
		t.Errorf("non-overridden price = %v (ok=%v), want builtin 0.15", price.InputPer1M, ok)
	}
}

func TestPriceTable_Cost_RoundsToSixDecimals(t *testing.T) {
	table := NewPriceTable(nil)

	// 333 input tokens at 0.15/1M is 0.00004995, which rounds to
	// 0.00005.
	if cost := table.Cost(config.ProviderOpenAI, "gpt-4o-mini", 333, 0); cost != 0.00005 {
		t.Errorf("Cost() = %v, want 0.00005", cost)
	}

	// 1000 in + 500 out on gpt-4o: 0.0025 + 0.005.
	if cost := table.Cost(config.ProviderOpenAI, "gpt-4o", 1000, 500); cost != 0.0075 {
		t.Errorf("Cost() = %v, want 0.0075", cost)
	}
}
