package world

import (
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

// EventKind classifies a registry diff.
type EventKind int

// Event kinds.
const (
	CharacterJoined EventKind = iota + 1
	CharacterMoved
	CharacterUpdated
	CharacterLeft
	ResourceUpdated
	ResourceSpawned
	ChatRelayed
)

func (k EventKind) String() string {
	switch k {
	case CharacterJoined:
		return "character_joined"
	case CharacterMoved:
		return "character_moved"
	case CharacterUpdated:
		return "character_updated"
	case CharacterLeft:
		return "character_left"
	case ResourceUpdated:
		return "resource_updated"
	case ResourceSpawned:
		return "resource_spawned"
	case ChatRelayed:
		return "chat_relayed"
	}
	return "unknown"
}

// Harvest records an amount moved from a node into a character's inventory.
type Harvest struct {
	CharacterID string
	UserID      string
	ResourceID  int64
	Type        resource.Type
	Amount      float64
}

// Chat is a relayed chat line.
type Chat struct {
	CharacterID string
	Name        string
	Message     string
}

// Event is a diff produced by a registry mutation. Payload fields are copies
// and never alias registry state.
type Event struct {
	Kind EventKind
	// Character is set for character events. For CharacterLeft it is the
	// final state of the removed character.
	Character *character.Character
	// Resource is set for resource events.
	Resource *resource.Node
	// Harvest is set on ResourceUpdated when the update came from a harvest.
	Harvest *Harvest
	Chat    *Chat
}

func characterEvent(kind EventKind, c *character.Character) Event {
	return Event{Kind: kind, Character: c.Clone()}
}

func resourceEvent(kind EventKind, n *resource.Node) Event {
	cp := *n
	return Event{Kind: kind, Resource: &cp}
}
