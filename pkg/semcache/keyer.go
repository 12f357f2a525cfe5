package semcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Decision reasons.
const (
	ReasonCacheable    = "cacheable"
	ReasonNeverCache   = "never_cache"
	ReasonZeroTTL      = "zero_ttl"
	ReasonEmptyQuery   = "empty_query"
	ReasonPersonalMode = "personalised_mode"
)

// Coordinates is an explicit geographic override from the caller.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Options carries the per-request context a caller can attach to a
// lookup or store.
type Options struct {
	// Room the query originated from. Cache keys never vary by room:
	// the room-dependent query families (device state, control) are
	// all zero-TTL, and everything else answers the same in every
	// room. The field exists so callers pass their full context and
	// the invariant lives here rather than in each caller.
	Room string

	// UserMode marks personalised assistant modes. Anything other
	// than "" or "normal" bypasses the cache entirely.
	UserMode string

	// Place is an explicit location override by name.
	Place string

	// Coords is an explicit location override by position.
	Coords *Coordinates
}

// Decision is the outcome of analysing one query: whether it may be
// cached, under which key, and for how long.
type Decision struct {
	Cacheable       bool
	Reason          string
	Category        Category
	Key             string
	NormalizedQuery string
	Location        string
	TTL             time.Duration
}

// Keyer derives deterministic cache keys from raw queries.
type Keyer struct {
	defaultLocation string
}

// NewKeyer returns a Keyer that assigns defaultLocation to
// location-sensitive queries that do not name a place.
func NewKeyer(defaultLocation string) *Keyer {
	if defaultLocation == "" {
		defaultLocation = "home"
	}
	return &Keyer{defaultLocation: slugify(defaultLocation)}
}

// Analyze classifies the query and builds its cache key. The pipeline
// is: normalise, check never-cache patterns, classify into a category,
// derive the effective location, extract sub-dimensions, then compose
// `semantic:<normalised>` plus any explicit override segment. The same
// query with the same options always yields the same Decision.
func (k *Keyer) Analyze(query string, opts Options) Decision {
	text := normalize(query)
	if text == "" {
		return Decision{Reason: ReasonEmptyQuery}
	}

	d := Decision{Category: classify(text)}
	d.TTL = d.Category.DefaultTTL()

	switch {
	case opts.UserMode != "" && opts.UserMode != "normal":
		d.Reason = ReasonPersonalMode
	case neverCache(text):
		d.Reason = ReasonNeverCache
	case d.TTL <= 0:
		d.Reason = ReasonZeroTTL
	default:
		d.Cacheable = true
		d.Reason = ReasonCacheable
	}

	text, loc := k.extractLocation(text, d.Category)
	d.Location = loc

	subdims := extractSubDimensions(text, d.Category)

	parts := []string{string(d.Category)}
	if len(subdims) > 0 {
		// Sub-dimensions replace the residual words so every phrasing
		// of "eagles score" collapses to one key.
		parts = append(parts, subdims...)
	} else {
		parts = append(parts, residualWords(text, d.Category)...)
	}
	if loc != "" {
		parts = append(parts, "loc:"+loc)
	}

	d.NormalizedQuery = strings.Join(parts, " ")
	d.Key = "semantic:" + strings.ReplaceAll(d.NormalizedQuery, " ", "_")

	switch {
	case opts.Place != "":
		d.Key += "_loc_" + hashToken(opts.Place)
	case opts.Coords != nil:
		d.Key += fmt.Sprintf("_loc_%.4f_%.4f", opts.Coords.Lat, opts.Coords.Lon)
	}

	return d
}

var punctuationRe = regexp.MustCompile(`[.,!?;:'"()\[\]{}]|[“”‘’]`)

// normalize lowercases, strips minimal punctuation and collapses
// whitespace.
func normalize(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))
	s = punctuationRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// locationSynonyms is checked in order, longest variant first, so
// "new york city" wins over "new york".
var locationSynonyms = []struct {
	variant string
	token   string
}{
	{"new york city", "new_york"},
	{"downtown philly", "philadelphia"},
	{"san francisco", "san_francisco"},
	{"washington dc", "washington_dc"},
	{"south philly", "philadelphia"},
	{"los angeles", "los_angeles"},
	{"philadelphia", "philadelphia"},
	{"new york", "new_york"},
	{"bay area", "san_francisco"},
	{"manhattan", "new_york"},
	{"brooklyn", "new_york"},
	{"chicago", "chicago"},
	{"atlanta", "atlanta"},
	{"seattle", "seattle"},
	{"boston", "boston"},
	{"denver", "denver"},
	{"austin", "austin"},
	{"philly", "philadelphia"},
	{"miami", "miami"},
	{"nyc", "new_york"},
	{"sf", "san_francisco"},
}

var nearMePhrases = []string{
	"near me", "nearby", "around here", "close by", "near here",
	"around me", "in the area", "in my area",
}

// trailingPlaceRe captures an unknown place named at the end of the
// query, as in "restaurants in doylestown".
var trailingPlaceRe = regexp.MustCompile(`\b(in|near|at|around)\s+([a-z][a-z]*(?:\s+[a-z][a-z]*){0,2})$`)

// locationSensitive categories get the default location token when the
// query names no place, so "weather" and "weather in philly" can never
// collide across households with different defaults.
var locationSensitive = map[Category]bool{
	CategoryWeather:    true,
	CategoryDining:     true,
	CategoryEvents:     true,
	CategoryDirections: true,
}

// extractLocation removes any place mention from the text and returns
// the remaining text plus the canonical location token. Resolution
// order: known synonyms, an explicit trailing place (hashed), near-me
// phrases, then the configured default for location-sensitive
// categories.
func (k *Keyer) extractLocation(text string, cat Category) (string, string) {
	for _, syn := range locationSynonyms {
		if !containsPhrase(text, syn.variant) {
			continue
		}
		text = removePhrase(text, "in "+syn.variant)
		text = removePhrase(text, "near "+syn.variant)
		text = removePhrase(text, "at "+syn.variant)
		text = removePhrase(text, "around "+syn.variant)
		text = removePhrase(text, "to "+syn.variant)
		text = removePhrase(text, syn.variant)
		return text, syn.token
	}

	if m := trailingPlaceRe.FindStringSubmatch(text); m != nil {
		place := m[2]
		if !strings.HasPrefix(place, "the ") && !strings.HasPrefix(place, "my ") && !strings.HasPrefix(place, "a ") {
			return strings.TrimSpace(strings.TrimSuffix(text, m[0])), hashToken(place)
		}
	}

	for _, phrase := range nearMePhrases {
		if containsPhrase(text, phrase) {
			return removePhrase(text, phrase), "user_location"
		}
	}

	if locationSensitive[cat] {
		return text, k.defaultLocation
	}
	return text, ""
}

// extractSubDimensions returns the category's distinguishing tokens in
// a fixed order so extraction is deterministic.
func extractSubDimensions(text string, cat Category) []string {
	switch cat {
	case CategorySports:
		return sportsDimensions(text)
	case CategoryDining:
		return diningDimensions(text)
	case CategoryStocks:
		return stockDimensions(text)
	}
	return nil
}

func sportsDimensions(text string) []string {
	var teams []string
	league := ""
	for team, lg := range sportsTeams {
		if containsPhrase(text, team) {
			teams = append(teams, canonicalTeam(team))
			if league == "" {
				league = lg
			}
		}
	}
	sort.Strings(teams)
	if len(teams) > 0 {
		// Map iteration order is random; pin the league to the first
		// team after sorting.
		league = sportsTeams[lookupTeamMention(text, teams[0])]
	}
	for _, lg := range sportsLeagues {
		if containsPhrase(text, lg) {
			league = lg
			break
		}
	}

	queryType := ""
	for _, qt := range sportsQueryTypes {
		for _, kw := range qt.keywords {
			if containsPhrase(text, kw) {
				queryType = qt.token
				break
			}
		}
		if queryType != "" {
			break
		}
	}

	var dims []string
	if league != "" {
		dims = append(dims, "league:"+league)
	}
	for i, team := range teams {
		if i == 2 {
			break
		}
		dims = append(dims, "team:"+team)
	}
	if queryType != "" {
		dims = append(dims, "type:"+queryType)
	}
	return dims
}

// canonicalTeam folds spelling variants of a team mention to one token.
func canonicalTeam(team string) string {
	switch team {
	case "76ers":
		return "sixers"
	case "49ers":
		return "niners"
	}
	return strings.ReplaceAll(team, " ", "_")
}

// lookupTeamMention maps a canonical team token back to the mention
// present in the text so its league can be read from sportsTeams.
func lookupTeamMention(text, canonical string) string {
	for team := range sportsTeams {
		if canonicalTeam(team) == canonical && containsPhrase(text, team) {
			return team
		}
	}
	return canonical
}

func diningDimensions(text string) []string {
	seen := map[string]bool{}
	var dims []string
	for mention, token := range diningCuisines {
		if containsPhrase(text, mention) && !seen[token] {
			seen[token] = true
			dims = append(dims, "cuisine:"+token)
		}
	}
	sort.Strings(dims)
	return dims
}

func stockDimensions(text string) []string {
	seen := map[string]bool{}
	var dims []string
	for mention, ticker := range stockSymbols {
		if containsPhrase(text, mention) && !seen[ticker] {
			seen[ticker] = true
			dims = append(dims, "ticker:"+ticker)
		}
	}
	sort.Strings(dims)
	return dims
}

// stopwords are filler that never distinguishes one query from
// another. Question words stay out of the list: "who is" and "where
// is" ask different things.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "am": true, "be": true, "been": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "of": true, "for": true, "to": true, "too": true,
	"do": true, "does": true, "did": true, "please": true, "can": true,
	"could": true, "would": true, "should": true, "will": true,
	"you": true, "your": true, "me": true, "i": true, "we": true,
	"my": true, "our": true, "us": true, "whats": true, "what": true,
	"hows": true, "whos": true, "wheres": true, "whens": true,
	"tell": true, "give": true, "show": true, "s": true, "about": true,
	"any": true, "some": true, "there": true, "like": true, "in": true,
	"at": true, "on": true, "near": true, "around": true, "out": true,
	"hey": true, "ok": true, "okay": true, "best": true, "good": true,
	"find": true, "get": true, "want": true, "need": true, "right": true,
	"now": true, "up": true, "and": true, "or": true, "with": true,
}

const maxResidualWords = 8

// residualWords returns the distinguishing words left after dropping
// stopwords and the category's own trigger vocabulary. For general
// queries with nothing left, the raw words are kept so the key still
// reflects the query.
func residualWords(text string, cat Category) []string {
	for _, kw := range triggerWords(cat) {
		text = removePhrase(text, kw)
	}

	var words []string
	for _, w := range strings.Fields(text) {
		if stopwords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == maxResidualWords {
			break
		}
	}

	if len(words) == 0 && cat == CategoryGeneral {
		fields := strings.Fields(text)
		if len(fields) > maxResidualWords {
			fields = fields[:maxResidualWords]
		}
		return fields
	}
	return words
}

// containsPhrase reports a word-bounded match of phrase within text.
func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// removePhrase deletes every word-bounded occurrence of phrase.
func removePhrase(text, phrase string) string {
	padded := " " + text + " "
	padded = strings.ReplaceAll(padded, " "+phrase+" ", " ")
	return strings.Join(strings.Fields(padded), " ")
}

// hashToken folds an arbitrary place name to a short stable token.
func hashToken(place string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(place))))
	return hex.EncodeToString(sum[:8])
}

func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
