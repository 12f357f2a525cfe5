package search

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	crossValidationBoost    = 0.05
	maxCrossValidationBoost = 0.15
	defaultAuthority        = 0.5
)

// authorityMatrix weights a provider's say per intent. Ticketing
// providers are authoritative for events and near-worthless for
// anything else; the web providers are broadly useful with Brave
// slightly ahead on news. Missing cells fall back to 0.5.
var authorityMatrix = map[string]map[Intent]float64{
	"duckduckgo": {
		IntentGeneral:       0.9,
		IntentNews:          0.75,
		IntentWeather:       0.8,
		IntentSports:        0.8,
		IntentLocalBusiness: 0.7,
		IntentEventSearch:   0.6,
	},
	"brave": {
		IntentGeneral:       0.85,
		IntentNews:          0.9,
		IntentWeather:       0.8,
		IntentSports:        0.85,
		IntentLocalBusiness: 0.8,
		IntentEventSearch:   0.6,
	},
	"searxng": {
		IntentGeneral:       0.8,
		IntentNews:          0.8,
		IntentWeather:       0.7,
		IntentSports:        0.7,
		IntentLocalBusiness: 0.7,
		IntentEventSearch:   0.5,
	},
	"ticketmaster": {
		IntentEventSearch:   1.0,
		IntentSports:        0.3,
		IntentLocalBusiness: 0.2,
		IntentGeneral:       0.0,
		IntentNews:          0.0,
		IntentWeather:       0.0,
	},
	"eventbrite": {
		IntentEventSearch:   0.95,
		IntentLocalBusiness: 0.3,
		IntentSports:        0.1,
		IntentGeneral:       0.0,
		IntentNews:          0.0,
		IntentWeather:       0.0,
	},
}

type fusedResult struct {
	Result
	sources map[string]bool
}

// Fuse merges the raw fan-out output: near-duplicates collapse to the
// higher-confidence copy, agreement across providers boosts
// confidence, per-intent authority scales it, and anything below the
// configured floor is dropped. The survivors come back sorted by
// confidence, capped at the configured maximum.
func (e *Engine) Fuse(intent Intent, results []Result) []Result {
	if len(results) == 0 {
		return nil
	}

	fused := dedupe(results, e.cfg.DedupThreshold)

	for i := range fused {
		if extra := len(fused[i].sources) - 1; extra > 0 {
			boost := min(crossValidationBoost*float64(extra), maxCrossValidationBoost)
			fused[i].Confidence = min(fused[i].Confidence+boost, 1.0)
		}
		fused[i].Confidence *= authorityWeight(fused[i].Source, intent)
	}

	kept := make([]Result, 0, len(fused))
	for _, f := range fused {
		if f.Confidence >= e.cfg.MinConfidence {
			kept = append(kept, f.Result)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].Title < kept[j].Title
	})

	if len(kept) > e.cfg.MaxResults {
		kept = kept[:e.cfg.MaxResults]
	}
	return kept
}

// dedupe collapses results whose title and snippet read as the same
// thing, keeping the higher-confidence copy and remembering every
// provider that reported it so cross-validation can count agreement
// after the collapse.
func dedupe(results []Result, threshold float64) []fusedResult {
	fused := make([]fusedResult, 0, len(results))
	for _, r := range results {
		idx := -1
		text := fuseText(r)
		for i := range fused {
			if matchr.JaroWinkler(text, fuseText(fused[i].Result), false) >= threshold {
				idx = i
				break
			}
		}
		if idx == -1 {
			fused = append(fused, fusedResult{
				Result:  r,
				sources: map[string]bool{r.Source: true},
			})
			continue
		}
		fused[idx].sources[r.Source] = true
		if r.Confidence > fused[idx].Confidence {
			sources := fused[idx].sources
			fused[idx] = fusedResult{Result: r, sources: sources}
		}
	}
	return fused
}

func fuseText(r Result) string {
	return strings.ToLower(strings.TrimSpace(r.Title + " " + r.Snippet))
}

func authorityWeight(provider string, intent Intent) float64 {
	weights, ok := authorityMatrix[provider]
	if !ok {
		return defaultAuthority
	}
	w, ok := weights[intent]
	if !ok {
		return defaultAuthority
	}
	return w
}
