package world

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

// Config holds registry tunables.
type Config struct {
	HalfExtent       float64
	ArrivalThreshold float64
	// MaxManualGather caps the amount a single Gather intent can take.
	MaxManualGather float64
}

// World is the in-memory Simulation.
//
// Invariant: resource ids and world time never decrease; nextResourceID is
// greater than every id in resources.
type World struct {
	cfg    Config
	gen    *resource.Generator
	logger *zap.Logger

	time           float64
	nextResourceID int64

	characters map[string]*character.Character
	joinOrder  []string

	resources map[int64]*resource.Node
	idOrder   []int64
}

var _ Simulation = (*World)(nil)

// New creates an empty World.
//
// Precondition: cfg.ArrivalThreshold > 0; gen and logger must be non-nil.
// Postcondition: Returns a World at time 0 whose first resource id is 1.
func New(cfg Config, gen *resource.Generator, logger *zap.Logger) (*World, error) {
	if gen == nil || logger == nil {
		return nil, fmt.Errorf("world: generator and logger are required")
	}
	if cfg.ArrivalThreshold <= 0 || cfg.HalfExtent <= 0 {
		return nil, fmt.Errorf("world: arrival threshold and half extent must be positive")
	}
	if cfg.MaxManualGather <= 0 {
		cfg.MaxManualGather = 1
	}
	return &World{
		cfg:            cfg,
		gen:            gen,
		logger:         logger,
		nextResourceID: 1,
		characters:     make(map[string]*character.Character),
		resources:      make(map[int64]*resource.Node),
	}, nil
}

// Seed generates n fresh resources and returns copies of them.
func (w *World) Seed(n int) []resource.Node {
	out := make([]resource.Node, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, *w.spawn())
	}
	return out
}

// Restore loads persisted state into an empty registry.
//
// Postcondition: nextResourceID is max(cp.NextResourceID, highest restored id + 1)
// and time is max(current, cp.Time).
func (w *World) Restore(cp Checkpoint, nodes []*resource.Node) {
	w.time = math.Max(w.time, cp.Time)
	if cp.NextResourceID > w.nextResourceID {
		w.nextResourceID = cp.NextResourceID
	}
	for _, n := range nodes {
		if _, dup := w.resources[n.ID]; dup {
			continue
		}
		cp := *n
		w.resources[n.ID] = &cp
		w.idOrder = append(w.idOrder, n.ID)
		if n.ID >= w.nextResourceID {
			w.nextResourceID = n.ID + 1
		}
	}
	slices.Sort(w.idOrder)
}

func (w *World) spawn() *resource.Node {
	n := w.gen.New(w.nextResourceID)
	w.nextResourceID++
	w.resources[n.ID] = n
	w.idOrder = append(w.idOrder, n.ID)
	return n
}

func (w *World) lookup(id int64) *resource.Node {
	return w.resources[id]
}

// Time returns the world time in seconds.
func (w *World) Time() float64 { return w.time }

// Character returns a copy of the character with the given id.
func (w *World) Character(id string) (*character.Character, bool) {
	c, ok := w.characters[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Characters returns copies of every character in join order.
func (w *World) Characters() []*character.Character {
	out := make([]*character.Character, 0, len(w.joinOrder))
	for _, id := range w.joinOrder {
		out = append(out, w.characters[id].Clone())
	}
	return out
}

// Resource returns a copy of the node with the given id, tombstones included.
func (w *World) Resource(id int64) (resource.Node, bool) {
	n, ok := w.resources[id]
	if !ok {
		return resource.Node{}, false
	}
	return *n, true
}

// Resources returns copies of every node in id order, tombstones included.
func (w *World) Resources() []resource.Node {
	out := make([]resource.Node, 0, len(w.idOrder))
	for _, id := range w.idOrder {
		out = append(out, *w.resources[id])
	}
	return out
}

// ActiveResources returns copies of every non-depleted node in id order.
func (w *World) ActiveResources() []resource.Node {
	out := make([]resource.Node, 0, len(w.idOrder))
	for _, id := range w.idOrder {
		if n := w.resources[id]; !n.Depleted {
			out = append(out, *n)
		}
	}
	return out
}

// Snapshot returns a deep copy of the whole registry.
func (w *World) Snapshot() Snapshot {
	return Snapshot{
		Time:       w.time,
		Characters: w.Characters(),
		Resources:  w.Resources(),
	}
}

// Stats summarizes the registry.
func (w *World) Stats() Stats {
	s := Stats{Time: w.time, ByType: make(map[resource.Type]int, len(resource.Types))}
	for _, c := range w.characters {
		if c.IsAI() {
			s.AI++
		} else {
			s.Players++
		}
	}
	for _, n := range w.resources {
		if n.Depleted {
			s.DepletedResources++
			continue
		}
		s.ActiveResources++
		s.ByType[n.Type]++
	}
	return s
}

// Checkpoint captures the world-level counters.
func (w *World) Checkpoint() Checkpoint {
	return Checkpoint{Time: w.time, NextResourceID: w.nextResourceID}
}

// Join inserts a fully initialized character.
//
// Precondition: c must satisfy CheckInvariants.
// Postcondition: The registry owns c; the caller must not retain it.
func (w *World) Join(c *character.Character) ([]Event, error) {
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("%w: character without id", ErrInvalidIntent)
	}
	if _, exists := w.characters[c.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCharacter, c.ID)
	}
	if err := c.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	c.Position = geom.Clamp(c.Position, w.cfg.HalfExtent)
	w.characters[c.ID] = c
	w.joinOrder = append(w.joinOrder, c.ID)
	return []Event{characterEvent(CharacterJoined, c)}, nil
}

// Leave removes a character; absent ids produce no events.
func (w *World) Leave(id string) []Event {
	c, ok := w.characters[id]
	if !ok {
		return nil
	}
	delete(w.characters, id)
	w.joinOrder = slices.DeleteFunc(w.joinOrder, func(s string) bool { return s == id })
	return []Event{{Kind: CharacterLeft, Character: c}}
}

// ApplyUpdate applies a playerUpdate intent through the state machine.
// Applying the same update twice leaves the character as after the first.
func (w *World) ApplyUpdate(id string, u Update) ([]Event, error) {
	c, ok := w.characters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	var changed bool
	switch u.State {
	case character.Idle:
		changed = c.Stop()
	case character.Moving, character.Gathering:
		if u.TargetResource == nil {
			return nil, fmt.Errorf("%w: %s without target", ErrInvalidIntent, u.State)
		}
		var err error
		changed, err = c.SetTarget(w.lookup(*u.TargetResource))
		if err != nil {
			return nil, fmt.Errorf("%w: resource %d: %w", ErrInvalidIntent, *u.TargetResource, err)
		}
	default:
		return nil, fmt.Errorf("%w: state %q", ErrInvalidIntent, u.State)
	}
	if !changed {
		return nil, nil
	}
	return []Event{characterEvent(CharacterUpdated, c)}, nil
}

// Gather applies a direct harvest intent, capped by MaxManualGather.
func (w *World) Gather(id string, resourceID int64, amount float64) ([]Event, error) {
	c, ok := w.characters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, fmt.Errorf("%w: gather amount %v", ErrInvalidIntent, amount)
	}
	n := w.lookup(resourceID)
	if n == nil || n.Depleted {
		return nil, fmt.Errorf("%w: resource %d: %w", ErrInvalidIntent, resourceID, character.ErrInvalidTarget)
	}
	taken := resource.Harvest(n, math.Min(amount, w.cfg.MaxManualGather))
	if c.Inventory == nil {
		c.Inventory = map[resource.Type]float64{}
	}
	c.Inventory[n.Type] += taken
	c.ResourcesGathered += taken
	return []Event{
		w.harvestEvent(c, n, taken),
		characterEvent(CharacterUpdated, c),
	}, nil
}

// Rename changes a character's display name.
func (w *World) Rename(id, name string) ([]Event, error) {
	c, ok := w.characters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	name, err := character.NormalizeName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if name == c.Name {
		return nil, nil
	}
	c.Name = name
	return []Event{characterEvent(CharacterUpdated, c)}, nil
}

// Chat relays a message from a character.
func (w *World) Chat(id, message string) ([]Event, error) {
	c, ok := w.characters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	message = strings.TrimSpace(message)
	if message == "" || len([]rune(message)) > MaxChatLength {
		return nil, fmt.Errorf("%w: chat length", ErrInvalidIntent)
	}
	return []Event{{Kind: ChatRelayed, Chat: &Chat{CharacterID: c.ID, Name: c.Name, Message: message}}}, nil
}

// SetWaypoint sends a character toward a point, clamped to the world square.
func (w *World) SetWaypoint(id string, p geom.Vec2) ([]Event, error) {
	c, ok := w.characters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return nil, fmt.Errorf("%w: waypoint", ErrInvalidIntent)
	}
	c.SetWaypoint(geom.Clamp(p, w.cfg.HalfExtent))
	return []Event{characterEvent(CharacterUpdated, c)}, nil
}

// Step advances time and performs one serial pass over every character.
// A panic while stepping one character is recovered; that character is
// returned to idle and the pass continues.
func (w *World) Step(dt float64) []Event {
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}
	w.time += dt

	var events []Event
	for _, id := range w.joinOrder {
		c := w.characters[id]
		res, err := w.stepOne(c, dt)
		if err != nil {
			w.logger.Error("character step failed",
				zap.String("character_id", id),
				zap.Error(err),
			)
			c.Stop()
			events = append(events, characterEvent(CharacterUpdated, c))
			continue
		}
		if res.Node != nil {
			events = append(events, w.harvestEvent(c, res.Node, res.Harvested))
		}
		switch {
		case res.StateChanged || res.Harvested > 0:
			events = append(events, characterEvent(CharacterUpdated, c))
		case res.Moved:
			events = append(events, characterEvent(CharacterMoved, c))
		}
	}
	return events
}

func (w *World) stepOne(c *character.Character, dt float64) (res character.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Step(dt, w.lookup, w.cfg.ArrivalThreshold), nil
}

// Regenerate spawns exactly one resource when the active count is below the floor.
func (w *World) Regenerate() []Event {
	active := 0
	for _, n := range w.resources {
		if !n.Depleted {
			active++
		}
	}
	if !w.gen.NeedsRegeneration(active) {
		return nil
	}
	n := w.spawn()
	w.logger.Debug("resource regenerated",
		zap.Int64("resource_id", n.ID),
		zap.String("type", string(n.Type)),
		zap.Int("active_before", active),
	)
	return []Event{resourceEvent(ResourceSpawned, n)}
}

func (w *World) harvestEvent(c *character.Character, n *resource.Node, amount float64) Event {
	ev := resourceEvent(ResourceUpdated, n)
	ev.Harvest = &Harvest{
		CharacterID: c.ID,
		UserID:      c.UserID,
		ResourceID:  n.ID,
		Type:        n.Type,
		Amount:      amount,
	}
	if c.IsAI() {
		ev.Harvest.UserID = ""
	}
	return ev
}
