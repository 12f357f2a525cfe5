package search

import "testing"

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"whats the weather tomorrow", IntentWeather},
		{"is it raining in philly", IntentWeather},
		{"WEATHER FORECAST?", IntentWeather},
		{"eagles score last night", IntentSports},
		{"phillies game tonight", IntentSports},
		{"nba standings", IntentSports},
		{"76ers playoff chances", IntentSports},
		{"any concerts this weekend", IntentEventSearch},
		{"things to do in philly this weekend", IntentEventSearch},
		{"comedy show tickets", IntentEventSearch},
		{"latest news headlines", IntentNews},
		{"breaking election results", IntentNews},
		{"good restaurants near me", IntentLocalBusiness},
		{"pizza place open late", IntentLocalBusiness},
		{"pharmacy open now", IntentLocalBusiness},
		{"how tall is the eiffel tower", IntentGeneral},
		{"who wrote moby dick", IntentGeneral},
		{"", IntentGeneral},
	}

	for _, tt := range tests {
		if got := ClassifyIntent(tt.query); got != tt.want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

func TestClassifyIntent_WeatherOutranksSports(t *testing.T) {
	// "game day weather" mentions both domains; the answer layer that
	// owns weather should get it.
	if got := ClassifyIntent("weather for the eagles game"); got != IntentWeather {
		t.Errorf("got %s, want %s", got, IntentWeather)
	}
}
