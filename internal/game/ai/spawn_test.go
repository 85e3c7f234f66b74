package ai_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/steven-mosley/idleverse/internal/game/ai"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/rng"
)

func TestDefaultProfiles_Valid(t *testing.T) {
	require.NoError(t, ai.DefaultProfiles().Validate())
}

func TestLoadProfiles_ContentFile(t *testing.T) {
	p, err := ai.LoadProfiles("../../../content/ai/profiles.yaml")
	require.NoError(t, err)
	assert.Equal(t, ai.DefaultProfiles().Types, p.Types)
	assert.Len(t, p.Names.Names, 18)
}

func TestLoadProfiles_MissingType(t *testing.T) {
	_, err := ai.LoadProfilesFromBytes([]byte(`
jitter: 1
attribute_min: 5
attribute_max: 20
types:
  gatherer: {modifiers: {strength: 1}}
names:
  names: [Wolf]
  prefixes: [Brave]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explorer")
}

func TestLoadProfiles_BadYAML(t *testing.T) {
	_, err := ai.LoadProfilesFromBytes([]byte("types: [unclosed"))
	assert.Error(t, err)
}

func TestSpawner_PickTypeHonorsWeights(t *testing.T) {
	s := ai.NewSpawner(ai.DefaultProfiles(), rng.NewSeeded(3), 30)
	for range 200 {
		got := s.PickType(map[character.AIType]int{character.Trader: 5, character.Defender: 0})
		require.Equal(t, character.Trader, got)
	}
	assert.Equal(t, character.Gatherer, s.PickType(map[character.AIType]int{}))
}

func TestSpawner_New(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := ai.NewSpawner(ai.DefaultProfiles(), rng.NewSeeded(rapid.Uint64().Draw(rt, "seed")), 30)
		typ := character.AITypes[rapid.IntRange(0, 3).Draw(rt, "type")]
		c := s.New(typ)

		if err := c.CheckInvariants(); err != nil {
			rt.Fatalf("invariants: %v", err)
		}
		if !strings.HasPrefix(c.ID, ai.IDPrefix) || c.AI.StoreID == "" {
			rt.Fatalf("bad ids %q %q", c.ID, c.AI.StoreID)
		}
		if c.Name == "" || c.Name != strings.TrimSpace(c.Name) {
			rt.Fatalf("bad name %q", c.Name)
		}
		if c.AI.Type != typ || c.State != character.Idle {
			rt.Fatalf("unexpected type/state %s/%s", c.AI.Type, c.State)
		}
		sum := 0.0
		for _, v := range c.AI.Preferences {
			if v < 0 {
				rt.Fatalf("negative preference %v", v)
			}
			sum += v
		}
		if sum != 100 {
			rt.Fatalf("preferences sum to %v", sum)
		}
		a := c.Abilities
		for _, v := range []int{a.Strength, a.Dexterity, a.Constitution, a.Intelligence, a.Wisdom, a.Charisma} {
			if v < 5 || v > 20 {
				rt.Fatalf("attribute %d out of range", v)
			}
		}
		if c.MoveSpeed != 5+float64(a.Dexterity)/5 || c.GatherSpeed != 1+float64(a.Dexterity)/10 {
			rt.Fatalf("speeds do not follow dexterity")
		}
		if c.AI.ExplorationRange < 20 || c.AI.ExplorationRange > 99 {
			rt.Fatalf("exploration range %v", c.AI.ExplorationRange)
		}
		if c.Position.X < -30 || c.Position.X > 30 || c.Position.Y < -30 || c.Position.Y > 30 {
			rt.Fatalf("position %+v outside world", c.Position)
		}
	})
}
