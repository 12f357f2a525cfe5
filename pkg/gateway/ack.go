package gateway

import "strings"

// ackDefault opens any stream whose query matched no specific family.
const ackDefault = "One moment."

// ackPhrases are spoken before the real answer so the speaker never
// sits silent while retrieval runs. Keyed by pre-router category.
var ackPhrases = map[Category]string{
	CategoryWeather:    "Checking the weather.",
	CategorySports:     "Checking the score.",
	CategoryDining:     "Looking for restaurants.",
	CategoryNews:       "Getting the latest headlines.",
	CategoryStocks:     "Checking the markets.",
	CategoryEvents:     "Looking for events.",
	CategoryFlights:    "Checking the flight.",
	CategoryRecipes:    "Finding a recipe.",
	CategoryDirections: "Checking the route.",
	CategoryStreaming:  "Looking that up.",
}

// acknowledgment picks the opener for a query. Forecast questions get a
// forecast-flavored line; otherwise the category phrase, else the
// default.
func acknowledgment(query string, category Category) string {
	q := strings.ToLower(query)
	if category == CategoryWeather &&
		(strings.Contains(q, "rain") || strings.Contains(q, "snow") || strings.Contains(q, "forecast")) {
		return "Checking the forecast."
	}
	if category == CategorySports && strings.Contains(q, "play") {
		return "Checking the schedule."
	}
	if p, ok := ackPhrases[category]; ok {
		return p
	}
	return ackDefault
}
