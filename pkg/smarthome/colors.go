package smarthome

// HS is a hue/saturation pair in Home Assistant's hs_color space:
// hue 0-360, saturation 0-100.
type HS struct {
	Hue        float64
	Saturation float64
}

// hsColor returns the service-call value for hs_color.
func (c HS) hsColor() []float64 {
	return []float64{c.Hue, c.Saturation}
}

// basicColors are single-hue requests: one color replicated across all
// targets.
var basicColors = map[string]HS{
	"red":    {0, 100},
	"orange": {30, 100},
	"yellow": {55, 100},
	"green":  {120, 100},
	"teal":   {170, 100},
	"cyan":   {180, 100},
	"blue":   {240, 100},
	"purple": {270, 100},
	"violet": {280, 100},
	"pink":   {320, 70},
	"white":  {0, 0},
	"warm":   {30, 45},
}

// ambientPalettes cycle across targets: light i gets palette[i % len].
var ambientPalettes = map[string][]HS{
	"sunset":    {{14, 95}, {30, 90}, {340, 70}, {270, 50}},
	"ocean":     {{200, 90}, {220, 80}, {180, 60}},
	"christmas": {{0, 100}, {120, 100}},
	"rainbow":   {{0, 100}, {60, 100}, {120, 100}, {180, 100}, {240, 100}, {300, 100}},
	"forest":    {{120, 85}, {100, 60}, {80, 70}},
	"fire":      {{10, 100}, {25, 95}, {40, 90}},
}

// teamPalettes alternate a team's primary colors across targets. Keys
// are lowercase team names plus common short forms.
var teamPalettes = map[string][]HS{
	"eagles":   {{145, 90}, {0, 0}},
	"phillies": {{355, 95}, {210, 30}},
	"sixers":   {{215, 90}, {355, 90}},
	"76ers":    {{215, 90}, {355, 90}},
	"flyers":   {{20, 100}, {0, 0}},
	"union":    {{215, 85}, {45, 90}},
	"cowboys":  {{210, 80}, {0, 0}},
	"chiefs":   {{355, 95}, {45, 90}},
	"giants":   {{225, 85}, {0, 95}},
	"steelers": {{50, 95}, {0, 0}},
	"lakers":   {{280, 75}, {45, 95}},
	"celtics":  {{130, 90}, {0, 0}},
}

// paletteFor resolves a named palette, checking teams before ambient
// themes so "eagles colors" never reads as a nature theme.
func paletteFor(name string) ([]HS, bool) {
	if p, ok := teamPalettes[name]; ok {
		return p, true
	}
	if p, ok := ambientPalettes[name]; ok {
		return p, true
	}
	return nil, false
}
