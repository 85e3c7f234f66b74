package ai

import (
	"strings"

	"github.com/google/uuid"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
)

// IDPrefix marks runtime ids of AI characters.
const IDPrefix = "ai_"

// Spawner builds new AI characters from profiles.
type Spawner struct {
	profiles   *Profiles
	src        rng.Source
	halfExtent float64
}

// NewSpawner creates a Spawner.
//
// Precondition: profiles must satisfy Validate; src must be non-nil; halfExtent > 0.
func NewSpawner(profiles *Profiles, src rng.Source, halfExtent float64) *Spawner {
	return &Spawner{profiles: profiles, src: src, halfExtent: halfExtent}
}

// PickType draws an AI type from the weighted distribution. Types with no
// weight are never drawn; an all-zero distribution yields Gatherer.
func (s *Spawner) PickType(dist map[character.AIType]int) character.AIType {
	total := 0
	for _, t := range character.AITypes {
		total += max(0, dist[t])
	}
	if total == 0 {
		return character.Gatherer
	}
	roll := s.src.Intn(total)
	for _, t := range character.AITypes {
		w := max(0, dist[t])
		if roll < w {
			return t
		}
		roll -= w
	}
	return character.Gatherer
}

// New creates an idle AI character of the given type at a random position.
//
// Postcondition: Preferences sum to 100; attributes lie within the profile bounds;
// speeds derive from dexterity.
func (s *Spawner) New(t character.AIType) *character.Character {
	storeID := uuid.NewString()
	abilities := character.ApplyModifiers(character.BaseAbilities(), s.profiles.Types[t].Modifiers)
	abilities = s.jitter(abilities).Clamp(s.profiles.AttributeMin, s.profiles.AttributeMax)

	c := &character.Character{
		ID:   IDPrefix + storeID,
		Name: s.name(),
		Position: geom.Vec2{
			X: rng.Uniform(s.src, -s.halfExtent, s.halfExtent),
			Y: rng.Uniform(s.src, -s.halfExtent, s.halfExtent),
		},
		State:     character.Idle,
		Inventory: map[resource.Type]float64{},
		Abilities: abilities,
		AI: &character.AIProfile{
			StoreID: storeID,
			Type:    t,
			Personality: character.Personality{
				Bravery:         s.src.Intn(100),
				Sociability:     s.src.Intn(100),
				Curiosity:       s.src.Intn(100),
				Industriousness: s.src.Intn(100),
			},
			Preferences:      s.preferences(),
			ExplorationRange: float64(20 + s.src.Intn(80)),
		},
	}
	ApplySpeeds(c)
	return c
}

// ApplySpeeds derives movement and gathering speed from dexterity.
func ApplySpeeds(c *character.Character) {
	dex := float64(c.Abilities.Dexterity)
	c.MoveSpeed = 5 + dex/5
	c.GatherSpeed = 1 + dex/10
}

func (s *Spawner) jitter(a character.AbilityScores) character.AbilityScores {
	j := s.profiles.Jitter
	if j == 0 {
		return a
	}
	d := func() int { return s.src.Intn(2*j+1) - j }
	a.Strength += d()
	a.Dexterity += d()
	a.Constitution += d()
	a.Intelligence += d()
	a.Wisdom += d()
	a.Charisma += d()
	return a
}

// preferences splits 100 points randomly across resource types.
func (s *Spawner) preferences() map[resource.Type]float64 {
	prefs := make(map[resource.Type]float64, len(resource.Types))
	remaining := 100
	for i, t := range resource.Types {
		if i == len(resource.Types)-1 {
			prefs[t] = float64(remaining)
			break
		}
		v := s.src.Intn(remaining + 1)
		prefs[t] = float64(v)
		remaining -= v
	}
	return prefs
}

func (s *Spawner) name() string {
	pools := s.profiles.Names
	name := pools.Names[s.src.Intn(len(pools.Names))]
	useTitle := len(pools.Titles) > 0 && (len(pools.Prefixes) == 0 || s.src.Intn(2) == 0)
	if useTitle {
		return strings.TrimSpace(name + " " + pools.Titles[s.src.Intn(len(pools.Titles))])
	}
	return pools.Prefixes[s.src.Intn(len(pools.Prefixes))] + " " + name
}
