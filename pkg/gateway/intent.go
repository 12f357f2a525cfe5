package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/hearthd/hearth/pkg/llms"
)

// Category is the pre-router's classification of a query. The set is
// closed; downstream components key routing, caching and usage tags on
// these exact strings.
type Category string

const (
	CategoryControl      Category = "control"
	CategoryWeather      Category = "weather"
	CategorySports       Category = "sports"
	CategoryEvents       Category = "events"
	CategoryNews         Category = "news"
	CategoryDining       Category = "dining"
	CategoryStocks       Category = "stocks"
	CategoryFlights      Category = "flights"
	CategoryRecipes      Category = "recipes"
	CategoryStreaming    Category = "streaming"
	CategoryDirections   Category = "directions"
	CategoryTime         Category = "time"
	CategoryGeneral      Category = "general"
	CategoryMemory       Category = "memory"
	CategoryConversation Category = "conversation"
)

// Route says which pathway serves a category.
type Route string

const (
	// RouteControl hands the query to the smart-home controller.
	RouteControl Route = "control"

	// RouteSearch runs the retrieval pipeline: parallel search, then a
	// synthesis call with the fused results in context.
	RouteSearch Route = "search"

	// RouteDirect answers with a plain LLM call.
	RouteDirect Route = "direct"
)

// Route maps the category to its pathway. The retrieval pipeline owns
// every category that needs live external data; everything else is
// answerable from the model alone.
func (c Category) Route() Route {
	switch c {
	case CategoryControl:
		return RouteControl
	case CategoryWeather, CategorySports, CategoryEvents, CategoryNews,
		CategoryDining, CategoryStocks, CategoryFlights, CategoryRecipes,
		CategoryStreaming, CategoryDirections:
		return RouteSearch
	}
	return RouteDirect
}

// Classification is the pre-router's verdict on one query.
type Classification struct {
	Category   Category
	Confidence float64
}

var (
	controlVerbRe = regexp.MustCompile(`\b(turn|switch|shut|dim|brighten|lock|unlock|open|close|set|flip|kill|activate|disable|enable|warm|preheat)\b`)
	deviceNounRe  = regexp.MustCompile(`\b(lights?|lamps?|thermostat|heat|ac|fans?|garage|blinds|shades|curtains|door|doors|locks?|tv|television|scene|bed warmer|motion|temperature to)\b`)

	weatherRe = regexp.MustCompile(`\b(weather|forecast|temperature outside|rain|raining|snow|snowing|sunny|humid|humidity|windy|umbrella|degrees out(side)?)\b`)

	sportsTermRe = regexp.MustCompile(`\b(score|game|playing|play tonight|win|won|lose|lost|season|playoffs?|standings|schedule|draft|roster|injury report)\b`)

	newsRe = regexp.MustCompile(`\b(news|headlines?|latest on|whats happening in the world|current events|breaking)\b`)

	diningMarkerRe = regexp.MustCompile(`\b(restaurants?|dinner reservation|takeout|take out|delivery|eat|food|places? to eat|hungry|lunch spot|brunch|taco|pizza|sushi|burger)\b`)

	stocksRe = regexp.MustCompile(`\b(stock|stocks|share price|ticker|nasdaq|dow|s&p|market today|crypto|bitcoin)\b`)

	flightsRe = regexp.MustCompile(`\b(flight|flights|plane|airport|departure|arrival|landed|delayed|gate)\b`)

	recipesRe = regexp.MustCompile(`\b(recipe|how (do i|to) (make|cook|bake)|ingredients for)\b`)

	streamingRe = regexp.MustCompile(`\b(watch|streaming|stream|netflix|hulu|disney|max|prime video|what (channel|service))\b`)

	directionsRe = regexp.MustCompile(`\b(directions|how (far|long) (is it |to get )?to|navigate|route to|traffic|drive time|commute)\b`)

	timeRe = regexp.MustCompile(`\bwhat time is it\b|\bcurrent time\b|\bwhat day is it\b|\bwhats the date\b|\btodays date\b`)

	memoryRe = regexp.MustCompile(`\b(remember|remind me what|did i (say|tell|mention)|where did i (put|leave|park)|my (car|keys|medication|pills|appointment))\b`)

	greetingRe = regexp.MustCompile(`^(hi|hey|hello|good (morning|afternoon|evening)|whats up|how are you|thank you|thanks|goodnight|good night|bye|goodbye)\b`)

	eventMarkerRe = regexp.MustCompile(`\b(concerts?|shows?|events?|tickets?|whats (happening|going on)|things to do|festival|comedy|theater|theatre)\b`)
)

// teamNames covers the franchises this house actually asks about, plus
// the league names themselves. Lowercase, matched as whole phrases.
var teamNames = []string{
	"eagles", "phillies", "sixers", "76ers", "flyers", "union",
	"cowboys", "giants", "commanders", "chiefs", "bills", "ravens",
	"yankees", "mets", "braves", "dodgers", "red sox",
	"celtics", "knicks", "lakers", "warriors", "heat",
	"nfl", "nba", "mlb", "nhl", "mls",
}

// cuisineNames mark dining queries even without a restaurant word.
var cuisineNames = []string{
	"italian", "mexican", "chinese", "japanese", "thai", "indian",
	"korean", "vietnamese", "mediterranean", "greek", "french",
	"ethiopian", "cajun", "barbecue", "bbq", "seafood", "vegan",
	"vegetarian", "ramen", "pho", "dim sum", "cheesesteak",
}

// Classifier decides which pathway serves a query. The keyword pass is
// authoritative; an LLM classifier can be layered on via feature flag
// and falls back to keywords whenever it misbehaves.
type Classifier struct {
	llm      Generator
	flags    FlagSource
	flagName string
}

// Generator is the slice of the LLM router the gateway needs.
// *llms.Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, model string, messages []llms.Message, opts llms.Options) (*llms.Result, error)
	GenerateStreaming(ctx context.Context, model string, messages []llms.Message, tools []llms.ToolDefinition, opts llms.Options) (<-chan llms.StreamChunk, error)
}

// FlagSource answers feature-flag lookups. *adminconfig.Plane
// satisfies it.
type FlagSource interface {
	FlagEnabled(ctx context.Context, name string) bool
	ComponentModel(ctx context.Context, component string) (string, bool)
}

// flagLLMClassifier gates the LLM classification pass.
const flagLLMClassifier = "llm_intent_classifier"

// intentComponent is the component-model assignment consulted for the
// classifier model.
const intentClassifierComponent = "gateway_intent"

// NewClassifier builds the pre-router. llm and flags may be nil, which
// leaves only the keyword pass.
func NewClassifier(llm Generator, flags FlagSource) *Classifier {
	return &Classifier{llm: llm, flags: flags, flagName: flagLLMClassifier}
}

// Classify returns the category for a query. The LLM pass runs only
// when the flag is on, and any failure there degrades to keywords.
func (c *Classifier) Classify(ctx context.Context, query string) Classification {
	keyword := classifyKeywords(query)

	if c.llm == nil || c.flags == nil || !c.flags.FlagEnabled(ctx, c.flagName) {
		return keyword
	}

	cls, err := c.classifyLLM(ctx, query)
	if err != nil {
		slog.Warn("LLM intent classification failed, using keywords", "error", err)
		return keyword
	}
	return cls
}

// classifyKeywords is the priority-ordered keyword pass. Control wins
// over everything so "turn on the news" stays a command; sports beats
// news so "eagles news" routes to the sports providers.
func classifyKeywords(query string) Classification {
	q := normalizeQuery(query)
	if q == "" {
		return Classification{Category: CategoryGeneral, Confidence: 0.1}
	}

	switch {
	case controlVerbRe.MatchString(q) && deviceNounRe.MatchString(q):
		return Classification{Category: CategoryControl, Confidence: 0.95}
	case timeRe.MatchString(q):
		return Classification{Category: CategoryTime, Confidence: 0.9}
	case memoryRe.MatchString(q):
		return Classification{Category: CategoryMemory, Confidence: 0.8}
	case weatherRe.MatchString(q):
		return Classification{Category: CategoryWeather, Confidence: 0.9}
	case recipesRe.MatchString(q):
		return Classification{Category: CategoryRecipes, Confidence: 0.85}
	case containsAny(q, teamNames) && sportsTermRe.MatchString(q):
		return Classification{Category: CategorySports, Confidence: 0.9}
	case containsAny(q, teamNames):
		return Classification{Category: CategorySports, Confidence: 0.7}
	case stocksRe.MatchString(q):
		return Classification{Category: CategoryStocks, Confidence: 0.85}
	case flightsRe.MatchString(q):
		return Classification{Category: CategoryFlights, Confidence: 0.8}
	case diningMarkerRe.MatchString(q) || containsAny(q, cuisineNames):
		return Classification{Category: CategoryDining, Confidence: 0.8}
	case eventMarkerRe.MatchString(q):
		return Classification{Category: CategoryEvents, Confidence: 0.8}
	case newsRe.MatchString(q):
		return Classification{Category: CategoryNews, Confidence: 0.8}
	case directionsRe.MatchString(q):
		return Classification{Category: CategoryDirections, Confidence: 0.75}
	case streamingRe.MatchString(q):
		return Classification{Category: CategoryStreaming, Confidence: 0.7}
	case greetingRe.MatchString(q):
		return Classification{Category: CategoryConversation, Confidence: 0.7}
	}
	return Classification{Category: CategoryGeneral, Confidence: 0.3}
}

// classifierResponse is the structured output asked of the LLM pass.
type classifierResponse struct {
	Category   string  `json:"category" jsonschema:"required,enum=control,enum=weather,enum=sports,enum=events,enum=news,enum=dining,enum=stocks,enum=flights,enum=recipes,enum=streaming,enum=directions,enum=time,enum=general,enum=memory,enum=conversation"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

var classifierSchema = reflectSchema(&classifierResponse{})

func reflectSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

const classifierPrompt = `You classify voice assistant queries into exactly one category.
Categories: control, weather, sports, events, news, dining, stocks, flights, recipes, streaming, directions, time, general, memory, conversation.
control means a smart-home device command. memory means the user refers to something personal or previously said.
Respond with JSON only: {"category": "...", "confidence": 0.0-1.0}.`

func (c *Classifier) classifyLLM(ctx context.Context, query string) (Classification, error) {
	model := ""
	if m, ok := c.flags.ComponentModel(ctx, intentClassifierComponent); ok {
		model = m
	}

	low := 0.0
	result, err := c.llm.Generate(ctx, model, []llms.Message{
		llms.SystemMessage(classifierPrompt),
		llms.UserMessage(query),
	}, llms.Options{Temperature: &low, MaxTokens: 100, JSONSchema: classifierSchema, Intent: "classify"})
	if err != nil {
		return Classification{}, err
	}

	var parsed classifierResponse
	if err := json.Unmarshal(jsonBody(result.Text), &parsed); err != nil {
		return Classification{}, err
	}
	cat := Category(parsed.Category)
	if !validCategory(cat) {
		return classifyKeywords(query), nil
	}
	conf := parsed.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.5
	}
	return Classification{Category: cat, Confidence: conf}, nil
}

func validCategory(c Category) bool {
	switch c {
	case CategoryControl, CategoryWeather, CategorySports, CategoryEvents,
		CategoryNews, CategoryDining, CategoryStocks, CategoryFlights,
		CategoryRecipes, CategoryStreaming, CategoryDirections,
		CategoryTime, CategoryGeneral, CategoryMemory, CategoryConversation:
		return true
	}
	return false
}

var queryPunctRe = regexp.MustCompile(`[.,!?;:'"()]`)

func normalizeQuery(query string) string {
	q := queryPunctRe.ReplaceAllString(strings.ToLower(query), "")
	return strings.Join(strings.Fields(q), " ")
}

func containsAny(q string, phrases []string) bool {
	padded := " " + q + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// jsonBody trims markdown fences and any chatter around the outermost
// JSON object.
func jsonBody(text string) []byte {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		t = strings.TrimPrefix(t, "json")
		if i := strings.Index(t, "```"); i >= 0 {
			t = t[:i]
		}
		t = strings.TrimSpace(t)
	}
	if start := strings.Index(t, "{"); start >= 0 {
		if end := strings.LastIndex(t, "}"); end > start {
			t = t[start : end+1]
		}
	}
	return []byte(t)
}
