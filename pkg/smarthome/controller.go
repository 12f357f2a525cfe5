package smarthome

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/homeassistant"
)

// HomeAPI is the slice of the home-automation client the controller
// uses. *homeassistant.Client satisfies it.
type HomeAPI interface {
	States(ctx context.Context) ([]homeassistant.EntityState, error)
	State(ctx context.Context, entityID string) (*homeassistant.EntityState, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// MetricsRecorder receives one event per device service call.
type MetricsRecorder interface {
	RecordDeviceCommand(ctx context.Context, service string, duration time.Duration, err error)
}

// Controller turns free-text commands into device calls: rule engine
// first, LLM extraction when no rule matches, sequences for timed
// commands.
type Controller struct {
	cfg       *config.SmartHomeConfig
	home      HomeAPI
	extractor *Extractor
	metrics   MetricsRecorder
}

// Option customises a Controller.
type Option func(*Controller)

// WithExtractor wires the LLM paths. Without it the controller runs
// rules plus the on/off heuristic only.
func WithExtractor(e *Extractor) Option {
	return func(c *Controller) { c.extractor = e }
}

// WithMetrics wires device-command metrics.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController builds a controller over a home-automation API.
func NewController(cfg *config.SmartHomeConfig, home HomeAPI, opts ...Option) *Controller {
	if cfg == nil {
		cfg = &config.SmartHomeConfig{}
		cfg.SetDefaults()
	}
	c := &Controller{cfg: cfg, home: home}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one inbound command with whatever situational context the
// gateway has.
type Request struct {
	Query        string
	Room         string
	PreviousTurn string
}

// Outcome is the controller's answer. Handled false means the query is
// not a device command and the caller should route it elsewhere.
type Outcome struct {
	Handled        bool
	Acknowledgment string
	Intent         Intent
	Sequence       *Sequence
}

// Handle classifies and executes one command.
func (c *Controller) Handle(ctx context.Context, req Request) Outcome {
	q := normalizeCommand(req.Query)
	for _, phrase := range c.cfg.Exclusions {
		if p := normalizeCommand(phrase); p != "" && containsPhrase(q, p) {
			slog.Debug("Command matched an exclusion phrase", "phrase", phrase)
			return Outcome{}
		}
	}

	pc := PromptContext{CurrentRoom: req.Room, PreviousTurn: req.PreviousTurn}

	if c.llmEnabled() && NeedsSequence(req.Query) {
		seq, err := c.extractor.ExtractSequence(ctx, req.Query, pc)
		if err != nil {
			slog.Warn("Sequence extraction failed, handling as a plain command", "error", err)
		} else {
			// The ack goes back immediately; the steps run detached
			// from the request lifetime.
			go c.runSequence(context.Background(), seq)
			return Outcome{Handled: true, Acknowledgment: seq.Acknowledge, Sequence: seq}
		}
	}

	intent, family, ok := MatchRule(req.Query)
	if ok {
		slog.Debug("Rule matched", "family", family, "action", intent.Action, "device", intent.DeviceType)
	} else if c.llmEnabled() {
		intent = c.extractor.Extract(ctx, req.Query, pc)
	} else {
		intent = HeuristicIntent(req.Query)
	}

	ack := c.execute(ctx, req, intent)
	return Outcome{Handled: true, Acknowledgment: ack, Intent: intent}
}

func (c *Controller) llmEnabled() bool {
	return c.extractor != nil && c.cfg.IsLLMFallbackEnabled()
}

// execute dispatches one intent and returns the spoken acknowledgment.
func (c *Controller) execute(ctx context.Context, req Request, intent Intent) string {
	switch intent.DeviceType {
	case DeviceScene:
		return c.activateScene(ctx, intent)
	case DeviceAutomation:
		return c.setAutomation(ctx, intent)
	case DeviceBedWarmer:
		return c.controlBedWarmer(ctx, intent)
	case DeviceLock:
		return c.controlLocks(ctx, intent)
	case DeviceClimate:
		return c.controlClimate(ctx, intent)
	case DeviceFan:
		return c.controlFan(ctx, req, intent)
	case DeviceCover:
		return c.controlCover(ctx, req, intent)
	case DeviceMediaPlayer:
		return c.controlMedia(ctx, req, intent)
	case DeviceSensor:
		return c.answerWindows(ctx, intent)
	case DevicePresence:
		return c.answerPresence(ctx)
	}
	return c.controlLights(ctx, req, intent)
}

// call issues one service call and records it.
func (c *Controller) call(ctx context.Context, domain, service string, data map[string]any) error {
	start := time.Now()
	err := c.home.CallService(ctx, domain, service, data)
	if c.metrics != nil {
		c.metrics.RecordDeviceCommand(ctx, domain+"."+service, time.Since(start), err)
	}
	return err
}

// fanOut runs one call per entity in parallel. Per-entity failures are
// logged and counted out; the batch always runs to completion.
func (c *Controller) fanOut(ctx context.Context, entities []string, domain, service string, dataFor func(i int, entity string) map[string]any) int {
	var succeeded atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range entities {
		g.Go(func() error {
			if err := c.call(gctx, domain, service, dataFor(i, entity)); err != nil {
				slog.Warn("Device call failed", "entity", entity, "service", service, "error", err)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(succeeded.Load())
}

// --- lights ---

func (c *Controller) controlLights(ctx context.Context, req Request, intent Intent) string {
	service := "turn_on"
	if intent.Action == ActionTurnOff {
		service = "turn_off"
	}

	extra := map[string]any{}
	var palette []HS
	paletteName := ""
	colorName := ""
	brightness := -1
	step := 0

	switch intent.Action {
	case ActionSetBrightness:
		if n, ok := numParam(intent, "brightness_pct"); ok {
			brightness = int(n)
			extra["brightness_pct"] = brightness
		}
	case ActionStepBrightness:
		if n, ok := numParam(intent, "step_pct"); ok {
			step = int(n)
			extra["brightness_step_pct"] = step
		}
	case ActionSetColor:
		if name, ok := strParam(intent, "palette"); ok {
			if p, found := paletteFor(name); found {
				palette = p
				paletteName = name
			}
		} else if name, ok := strParam(intent, "color"); ok {
			if hs, found := basicColors[name]; found {
				colorName = name
				extra["hs_color"] = hs.hsColor()
			} else if p, found := paletteFor(name); found {
				palette = p
				paletteName = name
			}
		}
	}

	scope := intent.TargetScope
	room := intent.Room
	if scope == "" || (scope == ScopeRoom && room == "") {
		switch {
		case room != "":
			scope = ScopeRoom
		case req.Room != "":
			scope, room = ScopeRoom, req.Room
		case c.cfg.DefaultRoom != "":
			scope, room = ScopeRoom, c.cfg.DefaultRoom
		default:
			scope = ScopeHouse
		}
	}

	var entities []string
	roomCount := 0
	target := "the lights"

	switch scope {
	case ScopeHouse:
		var err error
		entities, roomCount, err = c.houseLightTargets(ctx, intent.ExcludedRooms)
		if err != nil {
			slog.Warn("Listing entities failed", "error", err)
			return "I couldn't reach the lights right now."
		}
		if roomCount > 1 {
			target = fmt.Sprintf("the lights in %d rooms", roomCount)
		}
	default:
		states, err := c.home.States(ctx)
		if err != nil {
			slog.Warn("Listing entities failed", "error", err)
			return "I couldn't reach the lights right now."
		}
		rooms := intent.Rooms
		if scope != ScopeRooms {
			rooms = []string{room}
		}
		rooms = c.expandRooms(rooms)
		seen := map[string]bool{}
		for _, r := range rooms {
			targets := roomLightTargets(states, r)
			if len(targets) > 0 {
				roomCount++
			}
			for _, e := range targets {
				if !seen[e] {
					seen[e] = true
					entities = append(entities, e)
				}
			}
		}
		switch {
		case len(rooms) == 1:
			target = fmt.Sprintf("the %s lights", roomLabel(rooms[0]))
		case roomCount > 1:
			target = fmt.Sprintf("the lights in %d rooms", roomCount)
		}
	}

	if len(entities) == 0 {
		if scope == ScopeRoom && room != "" {
			return fmt.Sprintf("I couldn't find any lights in the %s.", roomLabel(room))
		}
		return "I couldn't find any lights to control."
	}

	done := c.fanOut(ctx, entities, "light", service, func(i int, entity string) map[string]any {
		data := map[string]any{"entity_id": entity}
		for k, v := range extra {
			data[k] = v
		}
		if len(palette) > 0 {
			data["hs_color"] = palette[i%len(palette)].hsColor()
		}
		return data
	})
	if done == 0 {
		return "I couldn't reach the lights right now."
	}

	switch {
	case paletteName != "":
		return fmt.Sprintf("%s colors on.", capitalize(paletteName))
	case colorName != "":
		return fmt.Sprintf("Set %s to %s.", target, colorName)
	case brightness >= 0:
		return fmt.Sprintf("Set %s to %d percent.", target, brightness)
	case step > 0:
		return fmt.Sprintf("Brightened %s.", target)
	case step < 0:
		return fmt.Sprintf("Dimmed %s.", target)
	case service == "turn_off":
		return fmt.Sprintf("Turned off %s.", target)
	}
	return fmt.Sprintf("Turned on %s.", target)
}

// houseLightTargets enumerates the whole house: light groups minus
// excluded rooms, expanded to members, plus any ungrouped lights.
func (c *Controller) houseLightTargets(ctx context.Context, excluded []string) ([]string, int, error) {
	states, err := c.home.States(ctx)
	if err != nil {
		return nil, 0, err
	}

	var groups []homeassistant.EntityState
	var singles []string
	grouped := map[string]bool{}
	for _, s := range states {
		if s.Domain() != "light" {
			continue
		}
		if members := s.GroupMembers(); len(members) > 0 {
			groups = append(groups, s)
			for _, m := range members {
				grouped[m] = true
			}
			continue
		}
		singles = append(singles, s.EntityID)
	}

	var out []string
	seen := map[string]bool{}
	rooms := 0
	for _, g := range groups {
		if roomExcluded(g.ObjectID(), excluded) {
			continue
		}
		rooms++
		for _, m := range g.GroupMembers() {
			if homeassistant.Domain(m) != "light" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, id := range singles {
		if grouped[id] || seen[id] || roomExcluded(homeassistant.ObjectID(id), excluded) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, rooms, nil
}

// roomLightTargets resolves one room to its light entities: the room's
// group when one exists, otherwise every light whose id mentions the
// room.
func roomLightTargets(states []homeassistant.EntityState, room string) []string {
	slug := homeassistant.RoomSlug(room)
	if slug == "" {
		return nil
	}
	for _, s := range states {
		if s.Domain() != "light" {
			continue
		}
		if s.ObjectID() != slug && s.ObjectID() != slug+"_lights" {
			continue
		}
		members := s.GroupMembers()
		if len(members) == 0 {
			return []string{s.EntityID}
		}
		var out []string
		for _, m := range members {
			if homeassistant.Domain(m) == "light" {
				out = append(out, m)
			}
		}
		return out
	}

	var out []string
	for _, s := range states {
		if s.Domain() != "light" || len(s.GroupMembers()) > 0 {
			continue
		}
		if strings.Contains(s.ObjectID(), slug) {
			out = append(out, s.EntityID)
		}
	}
	return out
}

// expandRooms maps logical room groups ("downstairs") to their member
// rooms and slugs everything.
func (c *Controller) expandRooms(rooms []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range rooms {
		slug := homeassistant.RoomSlug(r)
		if slug == "" {
			continue
		}
		members, grouped := c.cfg.RoomGroups[slug]
		if !grouped {
			if !seen[slug] {
				seen[slug] = true
				out = append(out, slug)
			}
			continue
		}
		for _, m := range members {
			m = homeassistant.RoomSlug(m)
			if m != "" && !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func roomExcluded(objectID string, excluded []string) bool {
	for _, r := range excluded {
		slug := homeassistant.RoomSlug(r)
		if slug != "" && strings.Contains(objectID, slug) {
			return true
		}
	}
	return false
}

// --- scenes ---

var sceneAcks = map[string]string{
	"movie":      "Enjoy the movie.",
	"good_night": "Good night.",
	"morning":    "Good morning.",
	"party":      "Party mode on.",
	"dinner":     "Enjoy dinner.",
	"relax":      "Relaxing lights on.",
	"reading":    "Reading lights on.",
	"romantic":   "Setting the mood.",
}

func (c *Controller) activateScene(ctx context.Context, intent Intent) string {
	name, ok := strParam(intent, "scene")
	if !ok || name == "" {
		return "I couldn't tell which scene you meant."
	}
	if err := c.call(ctx, "scene", "turn_on", map[string]any{"entity_id": "scene." + name}); err != nil {
		slog.Warn("Scene activation failed", "scene", name, "error", err)
		return fmt.Sprintf("I couldn't start the %s scene.", roomLabel(name))
	}
	if ack, ok := sceneAcks[name]; ok {
		return ack
	}
	return fmt.Sprintf("%s scene on.", capitalize(roomLabel(name)))
}

// --- motion automations ---

func (c *Controller) setAutomation(ctx context.Context, intent Intent) string {
	states, err := c.home.States(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return "I couldn't reach the automations right now."
	}

	slug := homeassistant.RoomSlug(intent.Room)
	var targets []string
	for _, s := range states {
		if s.Domain() != "automation" || !strings.Contains(s.ObjectID(), "motion") {
			continue
		}
		if slug != "" && !strings.Contains(s.ObjectID(), slug) {
			continue
		}
		targets = append(targets, s.EntityID)
	}
	if len(targets) == 0 {
		return "I couldn't find a motion automation to change."
	}

	service := "turn_on"
	if intent.Action == ActionDisable {
		service = "turn_off"
	}
	done := c.fanOut(ctx, targets, "automation", service, func(_ int, entity string) map[string]any {
		return map[string]any{"entity_id": entity}
	})
	if done == 0 {
		return "I couldn't reach the automations right now."
	}

	// "keep the lights on" pauses the automation and pins the lights.
	if hold, ok := strParam(intent, "hold"); ok {
		lightService := "turn_on"
		if hold == "off" {
			lightService = "turn_off"
		}
		lights := roomLightTargets(states, intent.Room)
		if len(lights) > 0 {
			c.fanOut(ctx, lights, "light", lightService, func(_ int, entity string) map[string]any {
				return map[string]any{"entity_id": entity}
			})
		}
		return fmt.Sprintf("Okay, I'll keep the lights %s.", hold)
	}

	if service == "turn_off" {
		return "Okay, motion lighting is paused."
	}
	return "Motion lighting is back on."
}

// --- bed warmer ---

// bedSides maps the spoken side to entity suffixes. "my" is the
// primary sleeper's side, fixed to left by convention.
func bedSides(side string) []string {
	switch side {
	case "left", "my":
		return []string{"left"}
	case "right", "his", "her":
		return []string{"right"}
	}
	return []string{"left", "right"}
}

func (c *Controller) controlBedWarmer(ctx context.Context, intent Intent) string {
	side, _ := strParam(intent, "side")
	sides := bedSides(side)

	done := 0
	for _, s := range sides {
		entity := "switch.bed_warmer_" + s
		switch intent.Action {
		case ActionTurnOff:
			if err := c.call(ctx, "switch", "turn_off", map[string]any{"entity_id": entity}); err != nil {
				slog.Warn("Device call failed", "entity", entity, "error", err)
				continue
			}
		case ActionSetLevel:
			level, ok := numParam(intent, "level")
			if !ok {
				level = 2
			}
			levelEntity := "number.bed_warmer_" + s + "_level"
			if err := c.call(ctx, "number", "set_value", map[string]any{"entity_id": levelEntity, "value": int(level)}); err != nil {
				slog.Warn("Device call failed", "entity", levelEntity, "error", err)
				continue
			}
			if err := c.call(ctx, "switch", "turn_on", map[string]any{"entity_id": entity}); err != nil {
				slog.Warn("Device call failed", "entity", entity, "error", err)
				continue
			}
		default:
			if err := c.call(ctx, "switch", "turn_on", map[string]any{"entity_id": entity}); err != nil {
				slog.Warn("Device call failed", "entity", entity, "error", err)
				continue
			}
		}
		done++
	}
	if done == 0 {
		return "I couldn't reach the bed warmer."
	}

	switch intent.Action {
	case ActionTurnOff:
		return "Turned off the bed warmer."
	case ActionSetLevel:
		level, _ := numParam(intent, "level")
		return fmt.Sprintf("Bed warmer set to level %d.", int(level))
	}
	return "Warming up the bed."
}

// --- locks ---

func (c *Controller) controlLocks(ctx context.Context, intent Intent) string {
	door, _ := strParam(intent, "door")
	if door == "" {
		door = "front_door"
	}
	label := roomLabel(door)
	entity := "lock." + door

	switch intent.Action {
	case ActionQuery:
		st, err := c.home.State(ctx, entity)
		if err != nil {
			slog.Warn("Lock state read failed", "entity", entity, "error", err)
			return fmt.Sprintf("I couldn't check the %s.", label)
		}
		if st.State == "locked" {
			return fmt.Sprintf("The %s is locked.", label)
		}
		return fmt.Sprintf("The %s is unlocked.", label)

	case ActionUnlock:
		if err := c.call(ctx, "lock", "unlock", map[string]any{"entity_id": entity}); err != nil {
			slog.Warn("Device call failed", "entity", entity, "error", err)
			return fmt.Sprintf("I couldn't unlock the %s.", label)
		}
		return fmt.Sprintf("Unlocked the %s.", label)
	}

	if intent.TargetScope == ScopeHouse {
		states, err := c.home.States(ctx)
		if err != nil {
			slog.Warn("Listing entities failed", "error", err)
			return "I couldn't reach the locks right now."
		}
		var locks []string
		for _, s := range states {
			if s.Domain() == "lock" {
				locks = append(locks, s.EntityID)
			}
		}
		if len(locks) == 0 {
			return "I couldn't find any locks."
		}
		done := c.fanOut(ctx, locks, "lock", "lock", func(_ int, entity string) map[string]any {
			return map[string]any{"entity_id": entity}
		})
		if done == 0 {
			return "I couldn't reach the locks right now."
		}
		if done == 1 {
			return "Locked the door."
		}
		return fmt.Sprintf("Locked %d doors.", done)
	}

	if err := c.call(ctx, "lock", "lock", map[string]any{"entity_id": entity}); err != nil {
		slog.Warn("Device call failed", "entity", entity, "error", err)
		return fmt.Sprintf("I couldn't lock the %s.", label)
	}
	return fmt.Sprintf("Locked the %s.", label)
}

// --- climate ---

func (c *Controller) thermostat(ctx context.Context) (*homeassistant.EntityState, error) {
	states, err := c.home.States(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		if s.Domain() == "climate" {
			return &s, nil
		}
	}
	return nil, nil
}

func (c *Controller) controlClimate(ctx context.Context, intent Intent) string {
	thermo, err := c.thermostat(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return "I couldn't reach the thermostat right now."
	}
	if thermo == nil {
		return "I couldn't find a thermostat."
	}

	setpoint, hasSetpoint := attrNum(thermo.Attributes, "temperature")

	switch intent.Action {
	case ActionQuery:
		current, hasCurrent := attrNum(thermo.Attributes, "current_temperature")
		switch {
		case hasCurrent && hasSetpoint:
			return fmt.Sprintf("It's %d degrees inside, and the thermostat is set to %d.", int(current), int(setpoint))
		case hasCurrent:
			return fmt.Sprintf("It's %d degrees inside.", int(current))
		case hasSetpoint:
			return fmt.Sprintf("The thermostat is set to %d degrees.", int(setpoint))
		}
		return "I couldn't read the thermostat."

	case ActionSetTemp:
		t, ok := numParam(intent, "temperature")
		if !ok {
			return "I couldn't tell what temperature you wanted."
		}
		if err := c.call(ctx, "climate", "set_temperature", map[string]any{"entity_id": thermo.EntityID, "temperature": t}); err != nil {
			slog.Warn("Device call failed", "entity", thermo.EntityID, "error", err)
			return "I couldn't reach the thermostat right now."
		}
		return fmt.Sprintf("Set the thermostat to %d degrees.", int(t))

	case ActionStepTemp:
		delta, ok := numParam(intent, "delta")
		if !ok || !hasSetpoint {
			return "I couldn't read the thermostat."
		}
		next := setpoint + delta
		if err := c.call(ctx, "climate", "set_temperature", map[string]any{"entity_id": thermo.EntityID, "temperature": next}); err != nil {
			slog.Warn("Device call failed", "entity", thermo.EntityID, "error", err)
			return "I couldn't reach the thermostat right now."
		}
		return fmt.Sprintf("Set the thermostat to %d degrees.", int(next))
	}
	return "I couldn't tell what you wanted the thermostat to do."
}

// --- fans ---

func (c *Controller) controlFan(ctx context.Context, req Request, intent Intent) string {
	states, err := c.home.States(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return "I couldn't reach the fan right now."
	}

	room := intent.Room
	if room == "" {
		room = req.Room
	}
	targets := domainTargets(states, "fan", room)
	if len(targets) == 0 && room != "" {
		return fmt.Sprintf("I couldn't find a fan in the %s.", roomLabel(room))
	}
	if len(targets) == 0 {
		return "I couldn't find a fan."
	}

	service := "turn_on"
	if intent.Action == ActionTurnOff {
		service = "turn_off"
	}
	speed, hasSpeed := numParam(intent, "speed_pct")

	done := c.fanOut(ctx, targets, "fan", service, func(_ int, entity string) map[string]any {
		data := map[string]any{"entity_id": entity}
		if service == "turn_on" && hasSpeed {
			data["percentage"] = int(speed)
		}
		return data
	})
	if done == 0 {
		return "I couldn't reach the fan right now."
	}

	noun := "the fan"
	if done > 1 {
		noun = fmt.Sprintf("%d fans", done)
	}
	if service == "turn_off" {
		return fmt.Sprintf("Turned off %s.", noun)
	}
	if hasSpeed {
		return fmt.Sprintf("Set %s to %d percent.", noun, int(speed))
	}
	return fmt.Sprintf("Turned on %s.", noun)
}

// --- covers ---

func coverLabel(kind string) string {
	if kind == "garage" {
		return "garage door"
	}
	return kind
}

func (c *Controller) controlCover(ctx context.Context, req Request, intent Intent) string {
	kind, _ := strParam(intent, "cover")
	if kind == "" {
		kind = "garage"
	}
	label := coverLabel(kind)
	// "blinds" entities are usually named in the singular.
	word := strings.TrimSuffix(strings.ReplaceAll(kind, " ", "_"), "s")

	states, err := c.home.States(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return fmt.Sprintf("I couldn't reach the %s right now.", label)
	}

	room := intent.Room
	if room == "" && kind != "garage" {
		room = req.Room
	}
	slug := homeassistant.RoomSlug(room)

	var targets []homeassistant.EntityState
	for _, s := range states {
		if s.Domain() != "cover" || !strings.Contains(s.ObjectID(), word) {
			continue
		}
		if slug != "" && !strings.Contains(s.ObjectID(), slug) {
			continue
		}
		targets = append(targets, s)
	}
	if len(targets) == 0 {
		return fmt.Sprintf("I couldn't find the %s.", label)
	}

	if intent.Action == ActionQuery {
		open := 0
		for _, s := range targets {
			if s.State == "open" || s.State == "opening" {
				open++
			}
		}
		be := "is"
		if strings.HasSuffix(label, "s") {
			be = "are"
		}
		switch {
		case open == 0:
			return fmt.Sprintf("The %s %s closed.", label, be)
		case open == len(targets):
			return fmt.Sprintf("The %s %s open.", label, be)
		default:
			return fmt.Sprintf("%d of the %s are open.", open, label)
		}
	}

	service := "close_cover"
	verb := "Closed"
	if intent.Action == ActionOpen {
		service = "open_cover"
		verb = "Opened"
	}
	ids := make([]string, len(targets))
	for i, s := range targets {
		ids[i] = s.EntityID
	}
	done := c.fanOut(ctx, ids, "cover", service, func(_ int, entity string) map[string]any {
		return map[string]any{"entity_id": entity}
	})
	if done == 0 {
		return fmt.Sprintf("I couldn't reach the %s right now.", label)
	}
	return fmt.Sprintf("%s the %s.", verb, label)
}

// --- media players ---

func (c *Controller) controlMedia(ctx context.Context, req Request, intent Intent) string {
	states, err := c.home.States(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return "I couldn't reach the TV right now."
	}

	room := intent.Room
	if room == "" {
		room = req.Room
	}
	slug := homeassistant.RoomSlug(room)

	var targets []homeassistant.EntityState
	for _, s := range states {
		if s.Domain() != "media_player" {
			continue
		}
		if slug != "" && !strings.Contains(s.ObjectID(), slug) {
			continue
		}
		targets = append(targets, s)
	}
	if len(targets) == 0 {
		return "I couldn't find a media player."
	}

	service := "turn_on"
	verb := "Turned on"
	if intent.Action == ActionTurnOff {
		service = "turn_off"
		verb = "Turned off"
	}
	ids := make([]string, len(targets))
	for i, s := range targets {
		ids[i] = s.EntityID
	}
	done := c.fanOut(ctx, ids, "media_player", service, func(_ int, entity string) map[string]any {
		return map[string]any{"entity_id": entity}
	})
	if done == 0 {
		return "I couldn't reach the TV right now."
	}
	if done == 1 {
		return fmt.Sprintf("%s the %s.", verb, targets[0].FriendlyName())
	}
	return fmt.Sprintf("%s %d media players.", verb, done)
}

// --- sensor and presence queries ---

func (c *Controller) answerWindows(ctx context.Context, intent Intent) string {
	states, err := c.home.States(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return "I couldn't check the windows right now."
	}

	slug := homeassistant.RoomSlug(intent.Room)
	var open []string
	found := false
	for _, s := range states {
		if s.Domain() != "binary_sensor" {
			continue
		}
		class, _ := s.Attributes["device_class"].(string)
		if class != "window" && !strings.Contains(s.ObjectID(), "window") {
			continue
		}
		if slug != "" && !strings.Contains(s.ObjectID(), slug) {
			continue
		}
		found = true
		if s.State == "on" {
			open = append(open, s.FriendlyName())
		}
	}
	if !found {
		return "I couldn't find any window sensors."
	}

	switch len(open) {
	case 0:
		return "All the windows are closed."
	case 1:
		return fmt.Sprintf("The %s is open.", open[0])
	default:
		return fmt.Sprintf("%d windows are open: %s.", len(open), joinNames(open))
	}
}

func (c *Controller) answerPresence(ctx context.Context) string {
	states, err := c.home.States(ctx)
	if err != nil {
		slog.Warn("Listing entities failed", "error", err)
		return "I couldn't check right now."
	}

	var home []string
	found := false
	for _, s := range states {
		if s.Domain() != "person" {
			continue
		}
		found = true
		if s.State == "home" {
			home = append(home, s.FriendlyName())
		}
	}
	if !found {
		return "I don't have anyone's presence set up."
	}

	switch len(home) {
	case 0:
		return "Nobody is home right now."
	case 1:
		return fmt.Sprintf("%s is home.", home[0])
	default:
		return fmt.Sprintf("%s are home.", joinNames(home))
	}
}

// --- sequences ---

// runSequence executes a timed plan. It runs detached: the caller has
// already spoken the acknowledgment.
func (c *Controller) runSequence(ctx context.Context, seq *Sequence) {
	for i, step := range seq.Steps {
		if step.AtTime != "" {
			if d, ok := untilClock(step.AtTime, time.Now()); ok {
				time.Sleep(d)
			}
		}
		c.dispatchStep(ctx, step)
		if step.DelayAfter > 0 && i < len(seq.Steps)-1 {
			time.Sleep(time.Duration(step.DelayAfter * float64(time.Second)))
		}
	}
}

// untilClock returns the duration from now until the next occurrence
// of an "15:04" wall-clock time.
func untilClock(at string, now time.Time) (time.Duration, bool) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, false
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now), true
}

func (c *Controller) dispatchStep(ctx context.Context, step SequenceStep) {
	if waitAction(step.Action) {
		return
	}

	// Explicit entity ids go straight through.
	if strings.Contains(step.Target, ".") {
		domain := homeassistant.Domain(step.Target)
		data := map[string]any{"entity_id": step.Target}
		for k, v := range step.Parameters {
			data[k] = v
		}
		if err := c.call(ctx, domain, serviceForAction(domain, step.Action), data); err != nil {
			slog.Warn("Sequence step failed", "entity", step.Target, "action", step.Action, "error", err)
		}
		return
	}

	c.execute(ctx, Request{}, stepIntent(step))
}

// stepIntent turns a spoken-name step ("kitchen lights", "front door")
// into a regular intent for the dispatcher.
func stepIntent(step SequenceStep) Intent {
	t := normalizeCommand(step.Target)
	intent := Intent{
		DeviceType:  DeviceLight,
		Action:      step.Action,
		TargetScope: ScopeRoom,
		Parameters:  step.Parameters,
		Source:      SourceLLM,
	}

	switch {
	case step.Action == ActionLock || step.Action == ActionUnlock:
		intent.DeviceType = DeviceLock
		intent.TargetScope = ScopeEntity
		intent = intent.withParam("door", doorEntity(t))
	case fanWordRe.MatchString(t):
		intent.DeviceType = DeviceFan
	case coverRe.MatchString(t):
		intent.DeviceType = DeviceCover
		kind := coverRe.FindString(t)
		if kind == "garage door" {
			kind = "garage"
		}
		intent = intent.withParam("cover", kind)
	case mediaRe.MatchString(t):
		intent.DeviceType = DeviceMediaPlayer
	}

	if room, ok := findRoom(t); ok {
		intent.Room = room
	} else if houseAllRe.MatchString(t) {
		intent.TargetScope = ScopeHouse
	}
	return intent
}

// serviceForAction maps an intent action to the service name for a
// domain. Most are the identity.
func serviceForAction(domain, action string) string {
	switch domain {
	case "cover":
		switch action {
		case ActionOpen, ActionTurnOn:
			return "open_cover"
		case ActionClose, ActionTurnOff:
			return "close_cover"
		}
	case "climate":
		return "set_temperature"
	}
	switch action {
	case ActionSetBrightness, ActionStepBrightness, ActionSetColor, ActionActivateScene:
		return "turn_on"
	}
	return action
}

// --- small helpers ---

func domainTargets(states []homeassistant.EntityState, domain, room string) []string {
	slug := homeassistant.RoomSlug(room)
	var out []string
	for _, s := range states {
		if s.Domain() != domain {
			continue
		}
		if slug != "" && !strings.Contains(s.ObjectID(), slug) {
			continue
		}
		out = append(out, s.EntityID)
	}
	return out
}

func numParam(intent Intent, key string) (float64, bool) {
	v, ok := intent.Param(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func attrNum(attrs map[string]any, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func strParam(intent Intent, key string) (string, bool) {
	v, ok := intent.Param(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func roomLabel(slug string) string {
	return strings.ReplaceAll(slug, "_", " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// joinNames renders a spoken list: "a", "a and b", "a, b and c".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
