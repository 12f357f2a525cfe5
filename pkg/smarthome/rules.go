package smarthome

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// The fast path is a prioritised rule list: first match wins. Order
// carries the disambiguation. Scenes outrank everything ("movie mode
// on" is a scene, not a light toggle), motion overrides and the bed
// warmer outrank the generic on/off rule that would misread their
// phrasing, whole-house exclusions outrank plain whole-house,
// thermostat adjustments outrank basic colors so "make it warmer"
// never reads as warm white, and the generic on/off rule is the
// catch-all at the bottom.
var rules = []rule{
	{"scene", matchScene},
	{"motion_override", matchMotionOverride},
	{"bed_warmer", matchBedWarmer},
	{"house_exception", matchHouseException},
	{"house_all", matchHouseAll},
	{"multi_room", matchMultiRoom},
	{"team_colors", matchTeamColors},
	{"ambient_colors", matchAmbientColors},
	{"thermostat_adjust", matchThermostatAdjust},
	{"thermostat_query", matchThermostatQuery},
	{"basic_color", matchBasicColor},
	{"brightness_set", matchBrightnessSet},
	{"brightness_step", matchBrightnessStep},
	{"brightness_implicit", matchBrightnessImplicit},
	{"fan", matchFan},
	{"cover", matchCover},
	{"media", matchMedia},
	{"lock", matchLock},
	{"window_sensors", matchWindowSensors},
	{"occupancy", matchOccupancy},
	{"generic_onoff", matchGenericOnOff},
}

type rule struct {
	name  string
	match func(q string) (Intent, bool)
}

// MatchRule runs the fast-path rules against a raw query. The returned
// name identifies the family that matched, for logs.
func MatchRule(query string) (Intent, string, bool) {
	q := normalizeCommand(query)
	if q == "" {
		return Intent{}, "", false
	}
	for _, r := range rules {
		if intent, ok := r.match(q); ok {
			intent.Source = SourceRule
			return intent, r.name, true
		}
	}
	return Intent{}, "", false
}

var commandPunctRe = regexp.MustCompile(`[.,!?;:'"()]`)

func normalizeCommand(query string) string {
	q := commandPunctRe.ReplaceAllString(strings.ToLower(query), "")
	return strings.Join(strings.Fields(q), " ")
}

func containsPhrase(q, phrase string) bool {
	return strings.Contains(" "+q+" ", " "+phrase+" ")
}

// roomNames is ordered longest-first so "master bedroom" wins over
// "bedroom". Group names (downstairs, upstairs) are valid rooms here;
// the controller expands them via the configured room groups.
var roomNames = []string{
	"master bedroom", "guest bedroom", "living room", "family room",
	"dining room", "laundry room", "powder room", "guest room",
	"kids room", "tv room", "downstairs", "upstairs", "bedroom", "kitchen",
	"bathroom", "office", "den", "basement", "garage", "hallway", "nursery",
	"attic", "porch", "patio", "closet", "foyer", "loft", "mudroom",
	"sunroom", "playroom", "gym", "library", "pantry", "study",
}

func slugRoom(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// findRoom returns the first room mentioned in the query.
func findRoom(q string) (string, bool) {
	best := -1
	found := ""
	for _, name := range roomNames {
		if i := strings.Index(" "+q+" ", " "+name+" "); i >= 0 && (best == -1 || i < best) {
			best = i
			found = name
		}
	}
	if best == -1 {
		return "", false
	}
	return slugRoom(found), true
}

// findRooms returns every room mentioned, in utterance order.
func findRooms(q string) []string {
	type hit struct {
		pos  int
		name string
	}
	padded := " " + q + " "
	var hits []hit
	for _, name := range roomNames {
		offset := 0
		for {
			i := strings.Index(padded[offset:], " "+name+" ")
			if i < 0 {
				break
			}
			hits = append(hits, hit{offset + i, name})
			offset += i + len(name)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	var rooms []string
	seen := make(map[string]bool)
	for _, h := range hits {
		slug := slugRoom(h.name)
		if !seen[slug] {
			seen[slug] = true
			rooms = append(rooms, slug)
		}
	}
	return rooms
}

func roomTarget(q string) (room, scope string) {
	if r, ok := findRoom(q); ok {
		return r, ScopeRoom
	}
	return "", ScopeRoom
}

// --- scenes ---

var sceneNames = []struct{ phrase, scene string }{
	{"movie mode", "movie"}, {"movie time", "movie"}, {"movie night", "movie"},
	{"good night", "good_night"}, {"goodnight", "good_night"},
	{"bedtime", "good_night"}, {"night mode", "good_night"},
	{"good morning", "morning"}, {"morning mode", "morning"},
	{"party mode", "party"}, {"party time", "party"},
	{"dinner time", "dinner"}, {"dinner mode", "dinner"},
	{"relax mode", "relax"}, {"chill mode", "relax"}, {"wind down", "relax"},
	{"reading mode", "reading"}, {"reading time", "reading"},
	{"date night", "romantic"}, {"romantic mode", "romantic"},
}

func matchScene(q string) (Intent, bool) {
	for _, s := range sceneNames {
		if containsPhrase(q, s.phrase) {
			return Intent{
				DeviceType:  DeviceScene,
				Action:      ActionActivateScene,
				TargetScope: ScopeHouse,
				Parameters:  map[string]any{"scene": s.scene},
			}, true
		}
	}
	return Intent{}, false
}

// --- motion automation overrides ---

var (
	motionOffRe   = regexp.MustCompile(`\b(turn off|disable|stop|pause|kill)\b.*\bmotion\b|\bmotion\b.*\b(off|disabled)\b`)
	motionOnRe    = regexp.MustCompile(`\b(turn on|enable|resume|restore)\b.*\bmotion\b`)
	keepLightsRe  = regexp.MustCompile(`\bkeep (the )?lights? (on|off)\b`)
	stopTurningRe = regexp.MustCompile(`\bstop turning (the |my )?lights? (on|off)\b`)
)

func matchMotionOverride(q string) (Intent, bool) {
	room, scope := roomTarget(q)
	base := Intent{DeviceType: DeviceAutomation, Room: room, TargetScope: scope}

	switch {
	case motionOnRe.MatchString(q):
		base.Action = ActionEnable
		return base, true
	case motionOffRe.MatchString(q):
		base.Action = ActionDisable
		return base, true
	case keepLightsRe.MatchString(q):
		base.Action = ActionDisable
		hold := "on"
		if strings.Contains(q, "lights off") || strings.HasSuffix(q, "off") {
			hold = "off"
		}
		return base.withParam("hold", hold), true
	case stopTurningRe.MatchString(q):
		base.Action = ActionDisable
		return base, true
	}
	return Intent{}, false
}

// --- bed warmer ---

var (
	bedWarmerRe  = regexp.MustCompile(`\bbed ?warmer\b|\bbed (on|off)\b|\b(warm|heat|preheat|toast)( up)?\b.*\bbed\b`)
	bedSideRe    = regexp.MustCompile(`\b(my|his|her|left|right) side\b|\bboth sides\b`)
	bedLevelRe   = regexp.MustCompile(`\blevel (\d)\b|\bto (low|medium|high|max)\b|\bon (low|medium|high|max)\b`)
	offPolarity  = regexp.MustCompile(`\b(off|out)\b`)
	killVerbRe   = regexp.MustCompile(`\b(shut|kill|cut)\b`)
)

var bedLevels = map[string]int{"low": 1, "medium": 2, "high": 3, "max": 3}

func matchBedWarmer(q string) (Intent, bool) {
	if !bedWarmerRe.MatchString(q) {
		return Intent{}, false
	}

	intent := Intent{
		DeviceType:  DeviceBedWarmer,
		Room:        "bedroom",
		TargetScope: ScopeRoom,
		Action:      ActionTurnOn,
	}

	side := "both"
	if m := bedSideRe.FindString(q); m != "" {
		side = strings.Fields(m)[0]
	}
	intent = intent.withParam("side", side)

	if offPolarity.MatchString(q) {
		intent.Action = ActionTurnOff
		return intent, true
	}

	if m := bedLevelRe.FindStringSubmatch(q); m != nil {
		level := 0
		switch {
		case m[1] != "":
			level, _ = strconv.Atoi(m[1])
		case m[2] != "":
			level = bedLevels[m[2]]
		case m[3] != "":
			level = bedLevels[m[3]]
		}
		if level > 3 {
			level = 3
		}
		if level > 0 {
			intent.Action = ActionSetLevel
			intent = intent.withParam("level", level)
		}
	}
	return intent, true
}

// --- whole house, with and without exclusions ---

var (
	exceptRe       = regexp.MustCompile(`\b(except|besides|other than|but not)\b`)
	lightContextRe = regexp.MustCompile(`\b(lights?|lamps?|everything)\b`)
	houseAllRe     = regexp.MustCompile(`\b(all( of)?( the)? lights?|every light|whole house|entire house|everything)\b`)
	lightsOutRe    = regexp.MustCompile(`\blights? out\b`)
	onWordRe       = regexp.MustCompile(`\bon\b`)
)

func offRequested(q string) bool {
	return offPolarity.MatchString(q) || killVerbRe.MatchString(q) || lightsOutRe.MatchString(q)
}

func matchHouseException(q string) (Intent, bool) {
	m := exceptRe.FindStringIndex(q)
	if m == nil || !lightContextRe.MatchString(q) {
		return Intent{}, false
	}

	excluded := findRooms(q[m[1]:])
	if len(excluded) == 0 {
		return Intent{}, false
	}

	action := ActionTurnOn
	if offRequested(q[:m[0]]) {
		action = ActionTurnOff
	}
	return Intent{
		DeviceType:    DeviceLight,
		Action:        action,
		TargetScope:   ScopeHouse,
		ExcludedRooms: excluded,
	}, true
}

func matchHouseAll(q string) (Intent, bool) {
	if !houseAllRe.MatchString(q) {
		return Intent{}, false
	}

	switch {
	case offRequested(q):
		return Intent{DeviceType: DeviceLight, Action: ActionTurnOff, TargetScope: ScopeHouse}, true
	case onWordRe.MatchString(q):
		return Intent{DeviceType: DeviceLight, Action: ActionTurnOn, TargetScope: ScopeHouse}, true
	}
	return Intent{}, false
}

// --- multi-room "and" ---

func matchMultiRoom(q string) (Intent, bool) {
	if !strings.Contains(q, " and ") {
		return Intent{}, false
	}
	rooms := findRooms(q)
	if len(rooms) < 2 {
		return Intent{}, false
	}

	action := ""
	switch {
	case offRequested(q):
		action = ActionTurnOff
	case onWordRe.MatchString(q):
		action = ActionTurnOn
	default:
		return Intent{}, false
	}
	return Intent{
		DeviceType:  DeviceLight,
		Action:      action,
		TargetScope: ScopeRooms,
		Rooms:       rooms,
	}, true
}

// --- colors ---

var (
	paletteWordRe = regexp.MustCompile(`\b(colors?|pride|theme|mode|vibes?|lighting|lights)\b`)
	lookLikeRe    = regexp.MustCompile(`\b(look|feel) like\b`)
	teamNames     []string
	ambientNames  []string
	colorNames    []string
)

func init() {
	for name := range teamPalettes {
		teamNames = append(teamNames, name)
	}
	sort.Strings(teamNames)
	for name := range ambientPalettes {
		ambientNames = append(ambientNames, name)
	}
	sort.Strings(ambientNames)

	// "warm" before "white" so "warm white" resolves to the warm tone.
	colorNames = append(colorNames, "warm")
	for name := range basicColors {
		if name != "warm" {
			colorNames = append(colorNames, name)
		}
	}
	sort.Strings(colorNames[1:])
}

func paletteIntent(q, palette string) Intent {
	intent := Intent{
		DeviceType:  DeviceLight,
		Action:      ActionSetColor,
		TargetScope: ScopeHouse,
		Parameters:  map[string]any{"palette": palette},
	}
	if room, ok := findRoom(q); ok {
		intent.Room = room
		intent.TargetScope = ScopeRoom
	}
	return intent
}

func matchTeamColors(q string) (Intent, bool) {
	if containsPhrase(q, "go birds") {
		return paletteIntent(q, "eagles"), true
	}
	if !paletteWordRe.MatchString(q) {
		return Intent{}, false
	}
	for _, team := range teamNames {
		if containsPhrase(q, team) {
			return paletteIntent(q, team), true
		}
	}
	return Intent{}, false
}

func matchAmbientColors(q string) (Intent, bool) {
	for _, name := range ambientNames {
		if !containsPhrase(q, name) {
			continue
		}
		if paletteWordRe.MatchString(q) || lookLikeRe.MatchString(q) {
			return paletteIntent(q, name), true
		}
	}
	return Intent{}, false
}

var colorVerbRe = regexp.MustCompile(`\b(make|turn|set|change|switch|go)\b`)

func matchBasicColor(q string) (Intent, bool) {
	for _, name := range colorNames {
		if !containsPhrase(q, name) {
			continue
		}
		if containsPhrase(q, name+" lights") || containsPhrase(q, name+" light") ||
			(colorVerbRe.MatchString(q) && lightTargetRe.MatchString(q)) {
			room, scope := roomTarget(q)
			return Intent{
				DeviceType:  DeviceLight,
				Action:      ActionSetColor,
				Room:        room,
				TargetScope: scope,
				Parameters:  map[string]any{"color": name},
			}, true
		}
	}
	return Intent{}, false
}

// --- brightness ---

var (
	lightTargetRe = regexp.MustCompile(`\b(lights?|lamps?|it|room)\b`)
	pctRe         = regexp.MustCompile(`\b(\d{1,3})\s*(%|percent)\b`)
	setToRe       = regexp.MustCompile(`\b(set|dim|put)\b.*\blights?\b.*\bto (\d{1,3})\b`)
	dimRe         = regexp.MustCompile(`\b(dim|darken|lower|soften)\b.*\b(lights?|lamps?|it)\b|\bturn down the lights?\b|\bdimmer\b|\bdarker\b`)
	brightenRe    = regexp.MustCompile(`\b(brighten|raise)\b.*\b(lights?|lamps?|it)\b|\bturn up the lights?\b|\bbrighter\b|\bbrighten up\b`)
	smallStepRe   = regexp.MustCompile(`\b(a (bit|little|touch|tad)|slightly)\b`)
	bigStepRe     = regexp.MustCompile(`\b(a lot|way|much)\b`)
	tooDarkRe     = regexp.MustCompile(`\btoo (dark|dim)\b|\bcant see\b|\bhard to see\b|\bdark in here\b`)
	tooBrightRe   = regexp.MustCompile(`\btoo bright\b|\bblinding\b|\bhurts my eyes\b|\bbright in here\b`)
)

func brightnessIntent(q string, action string, params map[string]any) Intent {
	room, scope := roomTarget(q)
	return Intent{
		DeviceType:  DeviceLight,
		Action:      action,
		Room:        room,
		TargetScope: scope,
		Parameters:  params,
	}
}

func matchBrightnessSet(q string) (Intent, bool) {
	pct := -1
	if m := pctRe.FindStringSubmatch(q); m != nil {
		if !lightTargetRe.MatchString(q) && !strings.Contains(q, "brightness") {
			return Intent{}, false
		}
		pct, _ = strconv.Atoi(m[1])
	} else if m := setToRe.FindStringSubmatch(q); m != nil {
		pct, _ = strconv.Atoi(m[2])
	}
	if pct < 0 {
		return Intent{}, false
	}

	if pct == 0 {
		return brightnessIntent(q, ActionTurnOff, nil), true
	}
	if pct > 100 {
		pct = 100
	}
	return brightnessIntent(q, ActionSetBrightness, map[string]any{"brightness_pct": pct}), true
}

func stepSize(q string) int {
	switch {
	case smallStepRe.MatchString(q):
		return 10
	case bigStepRe.MatchString(q):
		return 40
	}
	return 25
}

func matchBrightnessStep(q string) (Intent, bool) {
	switch {
	case dimRe.MatchString(q):
		return brightnessIntent(q, ActionStepBrightness, map[string]any{"step_pct": -stepSize(q)}), true
	case brightenRe.MatchString(q):
		return brightnessIntent(q, ActionStepBrightness, map[string]any{"step_pct": stepSize(q)}), true
	}
	return Intent{}, false
}

func matchBrightnessImplicit(q string) (Intent, bool) {
	switch {
	case tooDarkRe.MatchString(q):
		return brightnessIntent(q, ActionStepBrightness, map[string]any{"step_pct": 25}), true
	case tooBrightRe.MatchString(q):
		return brightnessIntent(q, ActionStepBrightness, map[string]any{"step_pct": -25}), true
	}
	return Intent{}, false
}

// --- thermostat ---

var (
	thermoSetRe  = regexp.MustCompile(`\bset (the )?(thermostat|temperature|temp|heat) to (\d{2})\b`)
	thermoUpRe   = regexp.MustCompile(`\b(turn|crank|bump|put) up the (heat|thermostat|temperature)\b|\bmake it (warmer|hotter)\b|\bim (cold|freezing)\b|\bits (cold|freezing) in here\b|\bturn down the (ac|air)\b`)
	thermoDownRe = regexp.MustCompile(`\b(turn|crank|bump|put) down the (heat|thermostat|temperature)\b|\bmake it (cooler|colder)\b|\bim (hot|boiling|sweating)\b|\bits (hot|warm) in here\b|\bturn up the (ac|air)\b`)
	thermoByRe   = regexp.MustCompile(`\bby (\d{1,2})( degrees)?\b`)
	thermoAskRe  = regexp.MustCompile(`\bwhats? (is )?the (thermostat|temperature|temp)\b|\bhow (warm|cold|hot) is it\b|\bcheck the (thermostat|temperature)\b`)
	insideRe     = regexp.MustCompile(`\b(inside|in here|in the house|thermostat)\b`)
	outsideRe    = regexp.MustCompile(`\b(outside|tomorrow|forecast|today)\b`)
)

func thermoDelta(q string) int {
	if m := thermoByRe.FindStringSubmatch(q); m != nil {
		if d, err := strconv.Atoi(m[1]); err == nil && d > 0 && d <= 10 {
			return d
		}
	}
	return 2
}

func matchThermostatAdjust(q string) (Intent, bool) {
	if m := thermoSetRe.FindStringSubmatch(q); m != nil {
		t, _ := strconv.Atoi(m[3])
		return Intent{
			DeviceType:  DeviceClimate,
			Action:      ActionSetTemp,
			TargetScope: ScopeHouse,
			Parameters:  map[string]any{"temperature": t},
		}, true
	}
	switch {
	case thermoUpRe.MatchString(q):
		return Intent{
			DeviceType:  DeviceClimate,
			Action:      ActionStepTemp,
			TargetScope: ScopeHouse,
			Parameters:  map[string]any{"delta": thermoDelta(q)},
		}, true
	case thermoDownRe.MatchString(q):
		return Intent{
			DeviceType:  DeviceClimate,
			Action:      ActionStepTemp,
			TargetScope: ScopeHouse,
			Parameters:  map[string]any{"delta": -thermoDelta(q)},
		}, true
	}
	return Intent{}, false
}

func matchThermostatQuery(q string) (Intent, bool) {
	if !thermoAskRe.MatchString(q) || outsideRe.MatchString(q) || !insideRe.MatchString(q) {
		return Intent{}, false
	}
	return Intent{
		DeviceType:  DeviceClimate,
		Action:      ActionQuery,
		TargetScope: ScopeHouse,
	}, true
}

// --- fans, covers, media ---

var (
	fanWordRe  = regexp.MustCompile(`\b(ceiling )?fan\b`)
	fanSpeedRe = regexp.MustCompile(`\b(low|medium|high)\b`)
	coverRe    = regexp.MustCompile(`\b(garage door|garage|blinds|shades|curtains|shutters)\b`)
	openRe     = regexp.MustCompile(`\b(open|raise)\b`)
	closeRe    = regexp.MustCompile(`\b(close|shut|lower)\b`)
	mediaRe    = regexp.MustCompile(`\b(tv|television|telly|stereo|speakers?|sound system|record player)\b`)
)

var fanSpeeds = map[string]int{"low": 33, "medium": 66, "high": 100}

func matchFan(q string) (Intent, bool) {
	if !fanWordRe.MatchString(q) {
		return Intent{}, false
	}
	room, scope := roomTarget(q)
	intent := Intent{DeviceType: DeviceFan, Room: room, TargetScope: scope}

	switch {
	case offRequested(q) || containsPhrase(q, "stop the fan"):
		intent.Action = ActionTurnOff
	case onWordRe.MatchString(q) || strings.Contains(q, "start"):
		intent.Action = ActionTurnOn
		if m := fanSpeedRe.FindString(q); m != "" {
			intent = intent.withParam("speed_pct", fanSpeeds[m])
		}
	default:
		return Intent{}, false
	}
	return intent, true
}

func matchCover(q string) (Intent, bool) {
	m := coverRe.FindString(q)
	if m == "" {
		return Intent{}, false
	}
	cover := m
	if cover == "garage door" {
		cover = "garage"
	}

	room, scope := roomTarget(q)
	intent := Intent{
		DeviceType:  DeviceCover,
		Room:        room,
		TargetScope: scope,
		Parameters:  map[string]any{"cover": cover},
	}

	switch {
	case isQuestion(q):
		intent.Action = ActionQuery
	case openRe.MatchString(q):
		intent.Action = ActionOpen
	case closeRe.MatchString(q):
		intent.Action = ActionClose
	default:
		return Intent{}, false
	}
	return intent, true
}

func matchMedia(q string) (Intent, bool) {
	if !mediaRe.MatchString(q) {
		return Intent{}, false
	}
	room, scope := roomTarget(q)
	intent := Intent{DeviceType: DeviceMediaPlayer, Room: room, TargetScope: scope}

	switch {
	case offRequested(q):
		intent.Action = ActionTurnOff
	case onWordRe.MatchString(q):
		intent.Action = ActionTurnOn
	default:
		return Intent{}, false
	}
	return intent, true
}

// --- locks, sensors, presence ---

var (
	lockVerbRe   = regexp.MustCompile(`\block(ed)?\b`)
	unlockVerbRe = regexp.MustCompile(`\bunlock\b`)
	doorKindRe   = regexp.MustCompile(`\b(front|back|side|garage|patio|basement) door\b`)
	lockAllRe    = regexp.MustCompile(`\block (up|everything|the house|all the doors)\b`)
	lockAskRe    = regexp.MustCompile(`\b(is|are) the\b.*\b(locked|unlocked)\b|\bdid (i|we) lock\b`)
	windowWordRe = regexp.MustCompile(`\bwindows?\b`)
	windowAskRe  = regexp.MustCompile(`\b(is|are|any|did|check|how many)\b`)
	presenceRe   = regexp.MustCompile(`\b(is|are) (anyone|anybody|someone|somebody)\b|\bwhos home\b|\bwho is home\b|\bis the house empty\b|\banybody home\b|\boccupied\b`)
)

func doorEntity(q string) string {
	if m := doorKindRe.FindString(q); m != "" {
		return slugRoom(m)
	}
	return "front_door"
}

func matchLock(q string) (Intent, bool) {
	switch {
	case lockAskRe.MatchString(q) && lockVerbRe.MatchString(q):
		return Intent{
			DeviceType:  DeviceLock,
			Action:      ActionQuery,
			TargetScope: ScopeEntity,
			Parameters:  map[string]any{"door": doorEntity(q)},
		}, true
	case unlockVerbRe.MatchString(q):
		return Intent{
			DeviceType:  DeviceLock,
			Action:      ActionUnlock,
			TargetScope: ScopeEntity,
			Parameters:  map[string]any{"door": doorEntity(q)},
		}, true
	case lockAllRe.MatchString(q):
		return Intent{DeviceType: DeviceLock, Action: ActionLock, TargetScope: ScopeHouse}, true
	case lockVerbRe.MatchString(q):
		return Intent{
			DeviceType:  DeviceLock,
			Action:      ActionLock,
			TargetScope: ScopeEntity,
			Parameters:  map[string]any{"door": doorEntity(q)},
		}, true
	}
	return Intent{}, false
}

func matchWindowSensors(q string) (Intent, bool) {
	if !windowWordRe.MatchString(q) || !windowAskRe.MatchString(q) {
		return Intent{}, false
	}
	room, _ := findRoom(q)
	return Intent{
		DeviceType:  DeviceSensor,
		Action:      ActionQuery,
		Room:        room,
		TargetScope: ScopeHouse,
		Parameters:  map[string]any{"sensor": "window"},
	}, true
}

func matchOccupancy(q string) (Intent, bool) {
	if !presenceRe.MatchString(q) {
		return Intent{}, false
	}
	room, _ := findRoom(q)
	return Intent{
		DeviceType:  DevicePresence,
		Action:      ActionQuery,
		Room:        room,
		TargetScope: ScopeHouse,
	}, true
}

// --- generic on/off catch-all ---

var (
	onOffVerbRe  = regexp.MustCompile(`\b(turn|switch|shut|power|flip|cut|kill)\b`)
	lightsBareRe = regexp.MustCompile(`\blights? (on|off|out)\b`)
	questionRe   = regexp.MustCompile(`^(is|are|was|were|did|does|do|whats|what|how|who|any)\b`)
)

func isQuestion(q string) bool {
	return questionRe.MatchString(q)
}

func matchGenericOnOff(q string) (Intent, bool) {
	if isQuestion(q) {
		return Intent{}, false
	}
	if !onOffVerbRe.MatchString(q) && !lightsBareRe.MatchString(q) {
		return Intent{}, false
	}

	action := ""
	switch {
	case offRequested(q):
		action = ActionTurnOff
	case onWordRe.MatchString(q):
		action = ActionTurnOn
	default:
		return Intent{}, false
	}

	room, scope := roomTarget(q)
	return Intent{
		DeviceType:  DeviceLight,
		Action:      action,
		Room:        room,
		TargetScope: scope,
	}, true
}
