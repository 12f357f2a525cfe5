package semcache

import "time"

// Category buckets a query for TTL selection and key construction.
type Category string

const (
	CategoryWeather    Category = "weather"
	CategoryDining     Category = "dining"
	CategoryNews       Category = "news"
	CategoryStocks     Category = "stocks"
	CategorySports     Category = "sports"
	CategoryEvents     Category = "events"
	CategoryFlights    Category = "flights"
	CategoryRecipes    Category = "recipes"
	CategoryStreaming  Category = "streaming"
	CategoryDirections Category = "directions"
	CategoryGeneral    Category = "general"

	// Zero-TTL categories. These are classified so bypasses can be
	// attributed in metrics, but their answers are never cached.
	CategoryTime         Category = "time"
	CategoryControl      Category = "control"
	CategoryMemory       Category = "memory"
	CategoryConversation Category = "conversation"
	CategoryCalendar     Category = "calendar"
	CategoryDeviceState  Category = "device_state"
)

// defaultTTLs holds the built-in per-category lifetime. Zero means the
// category is never cached. Config and the admin API can override
// individual entries.
var defaultTTLs = map[Category]time.Duration{
	CategoryWeather:    5 * time.Minute,
	CategoryDining:     30 * time.Minute,
	CategoryNews:       15 * time.Minute,
	CategoryStocks:     time.Minute,
	CategorySports:     5 * time.Minute,
	CategoryEvents:     time.Hour,
	CategoryFlights:    5 * time.Minute,
	CategoryRecipes:    24 * time.Hour,
	CategoryStreaming:  30 * time.Minute,
	CategoryDirections: 5 * time.Minute,
	CategoryGeneral:    time.Hour,

	CategoryTime:         0,
	CategoryControl:      0,
	CategoryMemory:       0,
	CategoryConversation: 0,
	CategoryCalendar:     0,
	CategoryDeviceState:  0,
}

// DefaultTTL returns the built-in lifetime for the category.
func (c Category) DefaultTTL() time.Duration {
	return defaultTTLs[c]
}

// classifyRules is checked in order and the first matching rule wins.
// Ordering matters wherever vocabularies overlap: control outranks
// everything so "turn on the news" stays a command, recipes outrank
// dining so "chicken parmesan recipe" is not a restaurant query, and
// sports outrank news so "phillies news" keys on the team.
var classifyRules = []struct {
	category Category
	keywords []string
}{
	{CategoryControl, []string{
		"turn on", "turn off", "switch on", "switch off", "shut off",
		"turn up", "turn down", "dim", "brighten", "lock", "unlock",
		"disarm", "set the", "open the garage", "close the garage",
	}},
	{CategoryTime, []string{
		"what time is it", "current time", "what day is it",
		"whats the date", "date today", "what is todays date",
	}},
	{CategoryCalendar, []string{
		"my calendar", "my schedule", "appointment", "appointments",
		"meeting", "meetings", "remind me", "reminder", "reminders",
	}},
	{CategoryMemory, []string{
		"remember", "do i have", "did i", "where did i", "i told you",
		"my medication", "my pills",
	}},
	{CategoryDeviceState, []string{
		"is the door", "are the doors", "is the garage", "are the lights",
		"is the light", "are the windows", "locked", "left open",
		"status of", "is the alarm",
	}},
	{CategoryConversation, []string{
		"hello", "thanks", "thank you", "good morning", "good night",
		"goodnight", "how are you", "hey there",
	}},
	{CategoryRecipes, []string{
		"recipe", "recipes", "how do i make", "how do you make",
		"how to make", "how to cook", "ingredients", "bake",
	}},
	{CategoryDining, []string{
		"restaurant", "restaurants", "places to eat", "place to eat",
		"dinner", "lunch", "brunch", "takeout", "reservation", "hungry",
		"italian", "mexican", "chinese", "thai", "indian", "japanese",
		"sushi", "pizza", "bbq", "barbecue", "vegan", "seafood", "ramen",
		"tacos", "burgers",
	}},
	{CategoryStocks, []string{
		"stock", "stocks", "share price", "nasdaq", "dow", "s&p",
		"bitcoin", "ethereum", "crypto", "ticker",
	}},
	{CategoryFlights, []string{
		"flight", "flights", "airline", "airport", "plane", "layover",
	}},
	{CategorySports, []string{
		"score", "scores", "game", "games", "standings", "playoffs",
		"nfl", "nba", "mlb", "nhl", "mls",
		"eagles", "sixers", "76ers", "phillies", "flyers", "cowboys",
		"lakers", "celtics", "warriors", "knicks", "yankees", "dodgers",
		"steelers", "packers",
	}},
	{CategoryNews, []string{
		"news", "headline", "headlines", "latest on", "what happened",
		"breaking", "election",
	}},
	{CategoryWeather, []string{
		"weather", "temperature", "forecast", "rain", "raining", "snow",
		"snowing", "sunny", "humid", "windy", "umbrella",
		"degrees outside", "hot outside", "cold outside",
	}},
	{CategoryEvents, []string{
		"concert", "concerts", "event", "events", "festival", "tickets",
		"things to do", "show tonight", "happening this weekend",
	}},
	{CategoryStreaming, []string{
		"watch", "watching", "netflix", "hulu", "disney plus", "movie",
		"movies", "stream", "episode", "season of", "series",
	}},
	{CategoryDirections, []string{
		"directions", "how far", "drive to", "driving", "traffic",
		"route to", "navigate", "how long to get",
	}},
}

// classify picks the cache category for a normalised query.
func classify(normalized string) Category {
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if containsPhrase(normalized, kw) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

// triggerWords returns the keyword set for a category so the keyer can
// drop trigger vocabulary from the residual key material.
func triggerWords(c Category) []string {
	for _, rule := range classifyRules {
		if rule.category == c {
			return rule.keywords
		}
	}
	return nil
}

// sportsTeams maps team mentions to their league. The map is wider
// than the classifier's trigger list: ambiguous names (heat, jets)
// only resolve a league once the query is already known to be sports.
var sportsTeams = map[string]string{
	"eagles": "nfl", "cowboys": "nfl", "giants": "nfl", "commanders": "nfl",
	"chiefs": "nfl", "bills": "nfl", "steelers": "nfl", "packers": "nfl",
	"ravens": "nfl", "jets": "nfl", "niners": "nfl", "49ers": "nfl",

	"sixers": "nba", "76ers": "nba", "lakers": "nba", "celtics": "nba",
	"warriors": "nba", "knicks": "nba", "bucks": "nba", "heat": "nba",
	"nuggets": "nba", "suns": "nba", "bulls": "nba",

	"phillies": "mlb", "yankees": "mlb", "mets": "mlb", "dodgers": "mlb",
	"braves": "mlb", "astros": "mlb", "red sox": "mlb", "cubs": "mlb",
	"orioles": "mlb", "padres": "mlb",

	"flyers": "nhl", "bruins": "nhl", "penguins": "nhl", "rangers": "nhl",
	"devils": "nhl", "islanders": "nhl", "maple leafs": "nhl",
	"oilers": "nhl", "avalanche": "nhl",

	"union": "mls", "inter miami": "mls", "galaxy": "mls", "sounders": "mls",
}

var sportsLeagues = []string{"nfl", "nba", "mlb", "nhl", "mls", "ncaa"}

// diningCuisines maps cuisine mentions to a canonical token.
var diningCuisines = map[string]string{
	"italian": "italian", "mexican": "mexican", "chinese": "chinese",
	"thai": "thai", "indian": "indian", "japanese": "japanese",
	"korean": "korean", "vietnamese": "vietnamese", "greek": "greek",
	"mediterranean": "mediterranean", "french": "french",
	"sushi": "sushi", "pizza": "pizza", "ramen": "ramen",
	"bbq": "bbq", "barbecue": "bbq", "vegan": "vegan",
	"seafood": "seafood", "tacos": "tacos", "taco": "tacos",
	"burgers": "burgers", "burger": "burgers",
}

// stockSymbols maps company mentions to tickers; bare tickers map to
// themselves so "aapl price" and "apple price" share a key.
var stockSymbols = map[string]string{
	"apple": "aapl", "microsoft": "msft", "tesla": "tsla",
	"amazon": "amzn", "google": "googl", "alphabet": "googl",
	"nvidia": "nvda", "meta": "meta", "facebook": "meta",
	"netflix": "nflx", "intel": "intc", "amd": "amd",
	"bitcoin": "btc", "ethereum": "eth",

	"aapl": "aapl", "msft": "msft", "tsla": "tsla", "amzn": "amzn",
	"googl": "googl", "goog": "googl", "nvda": "nvda", "nflx": "nflx",
	"intc": "intc", "spy": "spy", "qqq": "qqq", "btc": "btc", "eth": "eth",
}

var sportsQueryTypes = []struct {
	token    string
	keywords []string
}{
	{"score", []string{"score", "scores", "final", "win", "won", "lose", "lost", "result"}},
	{"schedule", []string{"schedule", "next game", "when do", "play next", "playing tonight", "play tonight"}},
	{"standings", []string{"standings", "record", "ranked", "place are"}},
}
