package smarthome

import (
	"regexp"
	"strings"
)

// Sequence is a timed multi-step command: "flash the lights three
// times", "turn the porch light on at 6pm and off at midnight".
type Sequence struct {
	Acknowledge string         `json:"acknowledge"`
	Steps       []SequenceStep `json:"steps"`
}

// SequenceStep is one action in a sequence. Targets are spoken names
// ("kitchen lights"); the executor resolves them like any rule intent.
type SequenceStep struct {
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// DelayAfter is seconds to wait before the next step.
	DelayAfter float64 `json:"delay_after,omitempty"`

	// AtTime schedules the step at a wall-clock time, "15:04" form.
	AtTime string `json:"at_time,omitempty"`
}

const (
	maxSequenceSteps     = 20
	maxSequenceStepDelay = 6 * 60 * 60 // seconds
)

// Timing markers. A query needs at least one to count as a sequence;
// a bare "then" between two actions is casual filler, not a schedule.
var (
	atClockRe  = regexp.MustCompile(`\bat \d{1,2}(:\d{2})?\s*(am|pm|oclock)?\b|\bat (noon|midnight)\b`)
	everyRe    = regexp.MustCompile(`\bevery (\d+ )?(second|minute|hour)s?\b`)
	timesRe    = regexp.MustCompile(`\b(\d+|two|three|four|five) times\b`)
	waitThenRe = regexp.MustCompile(`\b(then )?wait\b|\bhold on\b`)
	inDelayRe  = regexp.MustCompile(`\bin (\d+|a few|a couple( of)?) (seconds?|minutes?|hours?)\b`)
	flashRe    = regexp.MustCompile(`\b(blink|flash|pulse|strobe|cycle)\b`)
	forThenRe  = regexp.MustCompile(`\bfor (\d+) (seconds?|minutes?|hours?)\b`)

	reassuranceRe = regexp.MustCompile(`\b(its ok|its okay|dont worry|no worries|never ?mind|thank you|thanks|i love you)\b`)

	sequencePunctRe = regexp.MustCompile(`[.,!?;'"()]`)
)

// normalizeSequence keeps colons so "at 6:30" survives.
func normalizeSequence(query string) string {
	q := sequencePunctRe.ReplaceAllString(strings.ToLower(query), "")
	return strings.Join(strings.Fields(q), " ")
}

// NeedsSequence reports whether a query describes timed or repeated
// actions that a single service call cannot express. Named scenes,
// lone brightness tweaks and emotional filler never count, whatever
// words they contain.
func NeedsSequence(query string) bool {
	q := normalizeSequence(query)
	if q == "" {
		return false
	}

	plain := strings.ReplaceAll(q, ":", " ")
	for _, s := range sceneNames {
		if containsPhrase(plain, s.phrase) {
			return false
		}
	}
	if reassuranceRe.MatchString(q) {
		return false
	}
	if _, ok := matchBrightnessSet(normalizeCommand(query)); ok {
		return false
	}

	return atClockRe.MatchString(q) ||
		everyRe.MatchString(q) ||
		timesRe.MatchString(q) ||
		waitThenRe.MatchString(q) ||
		inDelayRe.MatchString(q) ||
		flashRe.MatchString(q) ||
		forThenRe.MatchString(q)
}

// waitAction reports whether a step is a pure delay with no device
// call, the encoding for "in ten minutes" style lead-ins.
func waitAction(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "wait", "delay", "noop", "none":
		return true
	}
	return false
}

// validSequence bounds what an extracted sequence may ask for.
func validSequence(seq *Sequence) bool {
	if seq == nil || len(seq.Steps) == 0 || len(seq.Steps) > maxSequenceSteps {
		return false
	}
	for _, step := range seq.Steps {
		if step.Action == "" {
			return false
		}
		if step.Target == "" && !waitAction(step.Action) {
			return false
		}
		if step.DelayAfter < 0 || step.DelayAfter > maxSequenceStepDelay {
			return false
		}
	}
	return true
}
