package semcache

import "regexp"

// neverCachePatterns override the category decision outright. Each
// pattern names a family of queries whose answer depends on live
// state, conversation context, or the speaker, so serving a cached
// payload would be wrong no matter how fresh it is. Patterns run
// against the normalised (lowercased, punctuation-stripped) query.
var neverCachePatterns = []*regexp.Regexp{
	// Device-state-changing commands.
	regexp.MustCompile(`\b(turn|switch|shut|power)\s+(on|off|up|down)\b`),
	regexp.MustCompile(`\b(turn|shut|power)\s+(it|them|everything|the\s+\w+)\s+(on|off|up|down)\b`),
	regexp.MustCompile(`\b(dim|brighten|lock|unlock|open|close|start|stop|arm|disarm)\s+(the|my|all)\b`),
	regexp.MustCompile(`\bset\s+(the\s+)?\w+\s+to\b`),
	regexp.MustCompile(`\b(is|are)\s+the\s+\w+\s+(on|off|open|closed|locked|unlocked)\b`),

	// Context-dependent pronouns and follow-ups.
	regexp.MustCompile(`\btell me more\b`),
	regexp.MustCompile(`\b(the|that)\s+(first|second|third|last)\s+one\b`),
	regexp.MustCompile(`\bwhere was that\b`),
	regexp.MustCompile(`\bwhat about\b`),
	regexp.MustCompile(`^(and|also|then)\b`),
	regexp.MustCompile(`\b(more|another)\s+(like|of)\s+(that|those|it)\b`),

	// Personal-memory references. The pronoun family is start-anchored
	// so "how do i make pasta" still reaches the recipes category.
	regexp.MustCompile(`\bmy\s+(car|keys|phone|wallet|glasses|medication|pills|appointment)\b`),
	regexp.MustCompile(`^(do|did|have|should)\s+i\b`),
	regexp.MustCompile(`\bwhere\s+(did|do)\s+i\b`),
	regexp.MustCompile(`\bremind me\b`),
	regexp.MustCompile(`\bremember\b`),

	// Problem reports.
	regexp.MustCompile(`\b(not|isnt|stopped)\s+working\b`),
	regexp.MustCompile(`\bbroken?\b`),
	regexp.MustCompile(`\bwont\s+(turn|connect|respond|start|stop)\b`),

	// Emotional or sarcastic reactions.
	regexp.MustCompile(`\b(ugh|wtf|seriously|are you kidding)\b`),
	regexp.MustCompile(`\bthats\s+(wrong|ridiculous|not right)\b`),
	regexp.MustCompile(`^(no|nope|wrong|stop)$`),

	// Greetings and small talk.
	regexp.MustCompile(`^(hi|hey|hello|yo)\b`),
	regexp.MustCompile(`^good\s+(morning|afternoon|evening|night)\b`),
	regexp.MustCompile(`^thanks?\b|^thank you\b`),
	regexp.MustCompile(`\bhow are you\b`),

	// Occupancy and presence.
	regexp.MustCompile(`\b(is|are)\s+(anyone|anybody|someone)\s+(home|here|there|upstairs|downstairs)\b`),
	regexp.MustCompile(`\bwho\s*s?\s+(home|here|in the house)\b`),

	// Music control.
	regexp.MustCompile(`^(play|pause|resume|skip|shuffle|queue)\b`),
	regexp.MustCompile(`\b(next|previous)\s+(song|track)\b`),
	regexp.MustCompile(`\b(volume|turn it)\s+(up|down)\b`),

	// Slang that needs a live model.
	regexp.MustCompile(`\bwhats the damage\b`),
	regexp.MustCompile(`\b(spill the tea|no cap|deadass|fr fr)\b`),

	// Multi-step sequences.
	regexp.MustCompile(`\b(then|after that)\b.*\b(turn|set|lock|dim|start|open|close)\b`),
	regexp.MustCompile(`\b(in|after)\s+\d+\s+(seconds?|minutes?|hours?)\b`),
	regexp.MustCompile(`\bat\s+\d{1,2}(\d{2})?\s*(am|pm)\b`),
}

// neverCache reports whether any pattern forbids caching the query.
func neverCache(normalized string) bool {
	for _, re := range neverCachePatterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}
