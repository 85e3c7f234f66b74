// Package world implements the entity registry: the single authoritative
// store of character and resource state. World is not safe for concurrent
// use; it is owned by exactly one goroutine (the tick loop), and every other
// component reaches it through that goroutine.
package world

import (
	"errors"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

var (
	// ErrUnknownCharacter is returned for intents naming a character not in the registry.
	ErrUnknownCharacter = errors.New("unknown character")
	// ErrDuplicateCharacter is returned when joining with an id already present.
	ErrDuplicateCharacter = errors.New("character already present")
	// ErrInvalidIntent is returned for malformed or impossible intents.
	ErrInvalidIntent = errors.New("invalid intent")
)

// MaxChatLength bounds relayed chat messages.
const MaxChatLength = 500

// Update is a client playerUpdate intent.
type Update struct {
	State          character.State
	TargetResource *int64
}

// Checkpoint is the world-level state persisted alongside entities.
type Checkpoint struct {
	Time           float64
	NextResourceID int64
}

// Snapshot is a point-in-time deep copy of the registry.
type Snapshot struct {
	Time       float64
	Characters []*character.Character
	Resources  []resource.Node
}

// Stats summarizes the registry for dashboards.
type Stats struct {
	Time              float64
	Players           int
	AI                int
	ActiveResources   int
	DepletedResources int
	ByType            map[resource.Type]int
}

// Reader is the read-only view of the registry.
type Reader interface {
	Time() float64
	Character(id string) (*character.Character, bool)
	Characters() []*character.Character
	Resource(id int64) (resource.Node, bool)
	Resources() []resource.Node
	ActiveResources() []resource.Node
	Snapshot() Snapshot
	Stats() Stats
}

// Simulation is the full registry contract. Every mutation returns the events
// it produced; callers publish them. Implementations may wrap one another.
type Simulation interface {
	Reader

	Join(c *character.Character) ([]Event, error)
	// Leave removes a character. Removing an absent character is a no-op.
	Leave(id string) []Event
	ApplyUpdate(id string, u Update) ([]Event, error)
	Gather(id string, resourceID int64, amount float64) ([]Event, error)
	Rename(id, name string) ([]Event, error)
	Chat(id, message string) ([]Event, error)
	SetWaypoint(id string, p geom.Vec2) ([]Event, error)

	// Step advances world time and every character by dt seconds.
	Step(dt float64) []Event
	// Regenerate spawns one resource when active resources are below the floor.
	Regenerate() []Event
	// Checkpoint captures the world-level counters.
	Checkpoint() Checkpoint
}
