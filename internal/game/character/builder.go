package character

import (
	"errors"
	"strings"

	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

// MaxNameLength bounds display names.
const MaxNameLength = 32

// BaseAbilities returns the attribute set every character starts from.
func BaseAbilities() AbilityScores {
	return AbilityScores{
		Strength: 10, Dexterity: 10, Constitution: 10,
		Intelligence: 10, Wisdom: 10, Charisma: 10,
	}
}

// ApplyModifiers adds named deltas to a copy of a. Unknown names are ignored.
func ApplyModifiers(a AbilityScores, mods map[string]int) AbilityScores {
	for ability, delta := range mods {
		switch ability {
		case "strength":
			a.Strength += delta
		case "dexterity":
			a.Dexterity += delta
		case "constitution":
			a.Constitution += delta
		case "intelligence":
			a.Intelligence += delta
		case "wisdom":
			a.Wisdom += delta
		case "charisma":
			a.Charisma += delta
		}
	}
	return a
}

// Clamp limits every attribute to [lo, hi].
func (a AbilityScores) Clamp(lo, hi int) AbilityScores {
	c := func(v int) int { return max(lo, min(hi, v)) }
	return AbilityScores{
		Strength: c(a.Strength), Dexterity: c(a.Dexterity), Constitution: c(a.Constitution),
		Intelligence: c(a.Intelligence), Wisdom: c(a.Wisdom), Charisma: c(a.Charisma),
	}
}

// NormalizeName trims a display name and checks its length.
//
// Postcondition: Returns a name of 1..MaxNameLength runes or a non-nil error.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name must not be empty")
	}
	if len([]rune(name)) > MaxNameLength {
		return "", errors.New("name too long")
	}
	return name, nil
}

// NewHuman constructs an idle human character.
//
// Precondition: id must be non-empty; name must satisfy NormalizeName.
// Postcondition: Returns an idle Character with base abilities and an empty inventory.
func NewHuman(id, userID, name string, pos geom.Vec2, moveSpeed, gatherSpeed float64) (*Character, error) {
	if id == "" {
		return nil, errors.New("character id must not be empty")
	}
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return &Character{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Position:    pos,
		State:       Idle,
		Inventory:   map[resource.Type]float64{},
		MoveSpeed:   moveSpeed,
		GatherSpeed: gatherSpeed,
		Abilities:   BaseAbilities(),
	}, nil
}
