package search

import (
	"regexp"
	"strings"
)

// intentRules is checked in order; the first rule with a matching
// keyword wins. Weather and sports sit first so routing agrees with
// the answer layers that own those domains, events outrank news so
// "concerts this weekend news" still books tickets, and local
// business comes last before the general fallback.
var intentRules = []struct {
	intent   Intent
	keywords []string
}{
	{IntentWeather, []string{
		"weather", "forecast", "temperature", "rain", "raining", "snow",
		"snowing", "sunny", "windy", "humidity", "humid",
	}},
	{IntentSports, []string{
		"score", "scores", "game tonight", "game today", "standings",
		"playoffs", "playoff", "season opener", "nfl", "nba", "mlb", "nhl",
		"eagles", "phillies", "sixers", "76ers", "flyers",
	}},
	{IntentEventSearch, []string{
		"concert", "concerts", "tickets", "festival", "festivals",
		"things to do", "events", "event", "happening this", "show tonight",
		"shows this", "comedy show", "live music",
	}},
	{IntentNews, []string{
		"news", "headline", "headlines", "breaking", "latest on",
		"what happened", "election",
	}},
	{IntentLocalBusiness, []string{
		"restaurant", "restaurants", "open now", "open late", "near me",
		"nearby", "coffee shop", "pizza place", "plumber", "dentist",
		"barber", "pharmacy", "grocery store", "store hours",
	}},
}

var intentPunctRe = regexp.MustCompile(`[.,!?;:'"()]`)

// ClassifyIntent maps a raw query onto the provider-routing intent.
// Unmatched queries fall through to general web search.
func ClassifyIntent(query string) Intent {
	q := intentPunctRe.ReplaceAllString(strings.ToLower(query), "")
	q = " " + strings.Join(strings.Fields(q), " ") + " "

	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, " "+kw+" ") {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}
