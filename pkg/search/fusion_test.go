package search

import (
	"math"
	"testing"

	"github.com/hearthd/hearth/pkg/config"
)

func testFusionEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.SearchConfig{}
	cfg.SetDefaults()
	cfg.Providers = nil
	return NewEngine(cfg)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFuse_DedupKeepsHigherConfidence(t *testing.T) {
	e := testFusionEngine(t)

	results := []Result{
		{Source: "duckduckgo", Title: "Eagles win Super Bowl LIX", Snippet: "The Philadelphia Eagles beat the Chiefs.", Confidence: 0.6},
		{Source: "brave", Title: "Eagles win Super Bowl LIX", Snippet: "The Philadelphia Eagles beat the Chiefs.", Confidence: 0.9},
		{Source: "duckduckgo", Title: "City hall unveils new budget", Snippet: "Council approved the plan on Monday.", Confidence: 0.8},
	}

	fused := e.Fuse(IntentGeneral, results)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}

	// The duplicate collapses to the brave copy (0.9 > 0.6), gains the
	// two-provider agreement boost, then takes brave's general-intent
	// authority: (0.9 + 0.05) * 0.85.
	if fused[0].Source != "brave" {
		t.Errorf("expected brave to win the duplicate, got %s", fused[0].Source)
	}
	if want := (0.9 + 0.05) * 0.85; !almostEqual(fused[0].Confidence, want) {
		t.Errorf("confidence = %v, want %v", fused[0].Confidence, want)
	}

	// The lone result gets no boost, just duckduckgo's authority.
	if want := 0.8 * 0.9; !almostEqual(fused[1].Confidence, want) {
		t.Errorf("confidence = %v, want %v", fused[1].Confidence, want)
	}
}

func TestFuse_CrossValidationBoostIsCapped(t *testing.T) {
	e := testFusionEngine(t)

	same := func(source string, conf float64) Result {
		return Result{Source: source, Title: "Phillies home opener announced", Snippet: "Tickets on sale Friday.", Confidence: conf}
	}
	results := []Result{
		same("ticketmaster", 0.5),
		same("eventbrite", 0.4),
		same("duckduckgo", 0.4),
		same("brave", 0.4),
		same("searxng", 0.4),
	}

	fused := e.Fuse(IntentEventSearch, results)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused result, got %d", len(fused))
	}
	if fused[0].Source != "ticketmaster" {
		t.Errorf("expected the first-seen highest-confidence copy, got %s", fused[0].Source)
	}
	// Four extra providers agree but the boost caps at 0.15, and
	// ticketmaster has full authority on events.
	if want := (0.5 + 0.15) * 1.0; !almostEqual(fused[0].Confidence, want) {
		t.Errorf("confidence = %v, want %v", fused[0].Confidence, want)
	}
}

func TestFuse_AuthorityZeroesTicketingOffEvents(t *testing.T) {
	e := testFusionEngine(t)

	results := []Result{
		{Source: "ticketmaster", Title: "Weather stripping installation", Snippet: "Event listing.", Confidence: 0.9},
	}
	if fused := e.Fuse(IntentGeneral, results); len(fused) != 0 {
		t.Fatalf("expected ticketmaster to be dropped on general intent, got %d results", len(fused))
	}
}

func TestFuse_MinConfidenceAndCap(t *testing.T) {
	cfg := &config.SearchConfig{}
	cfg.SetDefaults()
	cfg.Providers = nil
	cfg.MaxResults = 1
	e := NewEngine(cfg)

	results := []Result{
		{Source: "duckduckgo", Title: "Quantum computing milestone", Snippet: "Researchers report progress.", Confidence: 0.9},
		{Source: "duckduckgo", Title: "Phillies trade rumors swirl", Snippet: "Front office stays quiet.", Confidence: 0.5},
		{Source: "duckduckgo", Title: "Garden soil basics", Snippet: "A primer for beginners.", Confidence: 0.25},
	}

	fused := e.Fuse(IntentGeneral, results)
	// 0.25 * 0.9 falls below the 0.3 floor, and the cap keeps one of
	// the two survivors.
	if len(fused) != 1 {
		t.Fatalf("expected 1 result after filter and cap, got %d", len(fused))
	}
	if fused[0].Title != "Quantum computing milestone" {
		t.Errorf("expected the highest-confidence result to survive the cap, got %q", fused[0].Title)
	}
}

func TestFuse_SortsByConfidenceThenTitle(t *testing.T) {
	e := testFusionEngine(t)

	results := []Result{
		{Source: "duckduckgo", Title: "Zebra crossing rules", Snippet: "Local traffic ordinance.", Confidence: 0.5},
		{Source: "duckduckgo", Title: "Apple harvest season", Snippet: "Orchards open in October.", Confidence: 0.5},
	}

	fused := e.Fuse(IntentGeneral, results)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	if fused[0].Title != "Apple harvest season" {
		t.Errorf("expected title tiebreak, got %q first", fused[0].Title)
	}
}

func TestFuse_EmptyInput(t *testing.T) {
	e := testFusionEngine(t)
	if fused := e.Fuse(IntentGeneral, nil); fused != nil {
		t.Fatalf("expected nil for empty input, got %v", fused)
	}
}

func TestAuthorityWeight(t *testing.T) {
	tests := []struct {
		provider string
		intent   Intent
		want     float64
	}{
		{"ticketmaster", IntentEventSearch, 1.0},
		{"ticketmaster", IntentGeneral, 0.0},
		{"duckduckgo", IntentNews, 0.75},
		{"bing", IntentGeneral, defaultAuthority},
	}
	for _, tt := range tests {
		if got := authorityWeight(tt.provider, tt.intent); !almostEqual(got, tt.want) {
			t.Errorf("authorityWeight(%s, %s) = %v, want %v", tt.provider, tt.intent, got, tt.want)
		}
	}
}
