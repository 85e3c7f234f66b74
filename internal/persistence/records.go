package persistence

import (
	"maps"

	"github.com/steven-mosley/idleverse/internal/game/ai"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// PlayerRecordFrom captures the durable fields of a user-backed character.
func PlayerRecordFrom(c *character.Character) storage.PlayerRecord {
	return storage.PlayerRecord{
		UserID:            c.UserID,
		Name:              c.Name,
		Position:          c.Position,
		Inventory:         cloneInventory(c.Inventory),
		Attributes:        c.Abilities,
		MoveSpeed:         c.MoveSpeed,
		GatherSpeed:       c.GatherSpeed,
		ResourcesGathered: c.ResourcesGathered,
	}
}

// PlayerFromRecord rebuilds a player as idle under the session's runtime id.
// Zero speeds from older records fall back to the given defaults.
func PlayerFromRecord(id string, p storage.PlayerRecord, moveSpeed, gatherSpeed float64) *character.Character {
	if p.MoveSpeed > 0 {
		moveSpeed = p.MoveSpeed
	}
	if p.GatherSpeed > 0 {
		gatherSpeed = p.GatherSpeed
	}
	abilities := p.Attributes
	if abilities == (character.AbilityScores{}) {
		abilities = character.BaseAbilities()
	}
	return &character.Character{
		ID:                id,
		UserID:            p.UserID,
		Name:              p.Name,
		Position:          p.Position,
		State:             character.Idle,
		Inventory:         cloneInventory(p.Inventory),
		MoveSpeed:         moveSpeed,
		GatherSpeed:       gatherSpeed,
		Abilities:         abilities,
		ResourcesGathered: p.ResourcesGathered,
	}
}

// AIRecordFrom captures an AI character for storage.
//
// Precondition: c.AI must be non-nil.
func AIRecordFrom(c *character.Character, active bool) storage.AIRecord {
	return storage.AIRecord{
		StoreID:           c.AI.StoreID,
		Name:              c.Name,
		Type:              c.AI.Type,
		Position:          c.Position,
		Personality:       c.AI.Personality,
		Preferences:       maps.Clone(c.AI.Preferences),
		ExplorationRange:  c.AI.ExplorationRange,
		Attributes:        c.Abilities,
		Inventory:         cloneInventory(c.Inventory),
		ResourcesGathered: c.ResourcesGathered,
		Active:            active,
	}
}

// AIFromRecord restores an idle AI character. Its runtime id is derived from
// the store id so restarts keep the same id.
func AIFromRecord(a storage.AIRecord) *character.Character {
	c := &character.Character{
		ID:                ai.IDPrefix + a.StoreID,
		Name:              a.Name,
		Position:          a.Position,
		State:             character.Idle,
		Inventory:         cloneInventory(a.Inventory),
		Abilities:         a.Attributes,
		ResourcesGathered: a.ResourcesGathered,
		AI: &character.AIProfile{
			StoreID:          a.StoreID,
			Type:             a.Type,
			Personality:      a.Personality,
			Preferences:      maps.Clone(a.Preferences),
			ExplorationRange: a.ExplorationRange,
		},
	}
	ai.ApplySpeeds(c)
	return c
}

func cloneInventory(m map[resource.Type]float64) map[resource.Type]float64 {
	if m == nil {
		return map[resource.Type]float64{}
	}
	return maps.Clone(m)
}
