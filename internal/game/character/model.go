// Package character defines the character domain model shared by human and AI
// characters, together with the idle/moving/gathering state machine that
// advances it each tick.
package character

import (
	"maps"

	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

// State is a character's activity.
type State string

// Character states.
const (
	Idle      State = "idle"
	Moving    State = "moving"
	Gathering State = "gathering"
)

// ParseState validates s as a State.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case Idle, Moving, Gathering:
		return State(s), true
	}
	return "", false
}

// AbilityScores holds the six attribute values for a character.
type AbilityScores struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// AIType is the behavioral archetype of an AI character.
type AIType string

// AI types.
const (
	Gatherer AIType = "gatherer"
	Explorer AIType = "explorer"
	Defender AIType = "defender"
	Trader   AIType = "trader"
)

// AITypes lists every AI type in a stable order.
var AITypes = []AIType{Gatherer, Explorer, Defender, Trader}

// Personality holds the AI personality vector; each trait is in [0, 100].
type Personality struct {
	Bravery         int `json:"bravery"`
	Sociability     int `json:"sociability"`
	Curiosity       int `json:"curiosity"`
	Industriousness int `json:"industriousness"`
}

// AIProfile carries the fields only AI characters have.
//
// Invariant: the values of Preferences sum to 100.
type AIProfile struct {
	// StoreID is the stable logical id the AI is persisted under.
	StoreID          string                    `json:"storeId"`
	Type             AIType                    `json:"type"`
	Personality      Personality               `json:"personality"`
	Preferences      map[resource.Type]float64 `json:"preferences"`
	ExplorationRange float64                   `json:"explorationRange"`
}

// Character is a human- or AI-controlled actor in the world.
//
// Invariant: see CheckInvariants.
type Character struct {
	ID string
	// UserID is the authenticated account; empty for guests and AI characters.
	UserID string
	Name   string

	Position       geom.Vec2
	State          State
	TargetResource *int64
	// Waypoint is a non-resource movement target; only AI characters use it.
	Waypoint       *geom.Vec2
	ActionProgress float64

	Inventory   map[resource.Type]float64
	MoveSpeed   float64
	GatherSpeed float64
	Abilities   AbilityScores

	// ResourcesGathered is the lifetime harvested total.
	ResourcesGathered float64

	AI *AIProfile
}

// IsAI reports whether the character is AI-controlled.
func (c *Character) IsAI() bool { return c.AI != nil }

// Persistent reports whether the character is backed by a user account.
func (c *Character) Persistent() bool { return c.UserID != "" && c.AI == nil }

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Character) Clone() *Character {
	cp := *c
	if c.TargetResource != nil {
		id := *c.TargetResource
		cp.TargetResource = &id
	}
	if c.Waypoint != nil {
		w := *c.Waypoint
		cp.Waypoint = &w
	}
	cp.Inventory = maps.Clone(c.Inventory)
	if cp.Inventory == nil {
		cp.Inventory = map[resource.Type]float64{}
	}
	if c.AI != nil {
		ai := *c.AI
		ai.Preferences = maps.Clone(c.AI.Preferences)
		cp.AI = &ai
	}
	return &cp
}
