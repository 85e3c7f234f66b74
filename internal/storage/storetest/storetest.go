// Package storetest is a conformance suite every storage.Store backend runs.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises the full Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PlayerNotFound", func(t *testing.T) { testPlayerNotFound(t, newStore(t)) })
	t.Run("PlayerRoundTrip", func(t *testing.T) { testPlayerRoundTrip(t, newStore(t)) })
	t.Run("PlayerStats", func(t *testing.T) { testPlayerStats(t, newStore(t)) })
	t.Run("Resources", func(t *testing.T) { testResources(t, newStore(t)) })
	t.Run("MaxResourceIDEmpty", func(t *testing.T) { testMaxResourceIDEmpty(t, newStore(t)) })
	t.Run("WorldState", func(t *testing.T) { testWorldState(t, newStore(t)) })
	t.Run("AICharacters", func(t *testing.T) { testAICharacters(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { testPing(t, newStore(t)) })
}

// SamplePlayer returns a fully populated player record.
func SamplePlayer(userID string) storage.PlayerRecord {
	return storage.PlayerRecord{
		UserID:            userID,
		Name:              "Ada",
		Position:          geom.Vec2{X: 1.5, Y: -2.25},
		Inventory:         map[resource.Type]float64{resource.Wood: 3, resource.Herbs: 1},
		Attributes:        character.AbilityScores{Strength: 12, Dexterity: 11, Constitution: 10, Intelligence: 9, Wisdom: 8, Charisma: 14},
		MoveSpeed:         8,
		GatherSpeed:       2,
		ResourcesGathered: 4,
	}
}

// SampleAI returns a fully populated AI record.
func SampleAI(storeID string, active bool) storage.AIRecord {
	return storage.AIRecord{
		StoreID:          storeID,
		Name:             "Swift Fox",
		Type:             character.Explorer,
		Position:         geom.Vec2{X: -4, Y: 7},
		Personality:      character.Personality{Bravery: 10, Sociability: 20, Curiosity: 80, Industriousness: 40},
		Preferences:      map[resource.Type]float64{resource.Wood: 40, resource.Stone: 30, resource.Food: 20, resource.Iron: 10, resource.Herbs: 0},
		ExplorationRange: 55,
		Attributes:       character.AbilityScores{Strength: 10, Dexterity: 13, Constitution: 10, Intelligence: 10, Wisdom: 12, Charisma: 10},
		Inventory:        map[resource.Type]float64{resource.Iron: 2},
		Active:           active,
	}
}

func closeStore(t *testing.T, s storage.Store) {
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
}

func testPlayerNotFound(t *testing.T, s storage.Store) {
	closeStore(t, s)
	_, err := s.LoadPlayer(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testPlayerRoundTrip(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()
	want := SamplePlayer("u1")
	require.NoError(t, s.SavePlayer(ctx, want))

	got, err := s.LoadPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())
	got.UpdatedAt = want.UpdatedAt
	assert.Equal(t, want, got)

	want.Name = "Ada Lovelace"
	want.Inventory[resource.Stone] = 9
	require.NoError(t, s.SavePlayer(ctx, want))
	got, err = s.LoadPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, 9.0, got.Inventory[resource.Stone])
}

func testPlayerStats(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()
	assert.ErrorIs(t, s.UpdatePlayerStats(ctx, "ghost", storage.StatsDelta{ResourcesGathered: 1}), storage.ErrNotFound)

	require.NoError(t, s.SavePlayer(ctx, SamplePlayer("u1")))
	require.NoError(t, s.UpdatePlayerStats(ctx, "u1", storage.StatsDelta{ResourcesGathered: 1}))
	require.NoError(t, s.UpdatePlayerStats(ctx, "u1", storage.StatsDelta{ResourcesGathered: 0.5}))

	got, err := s.LoadPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 5.5, got.ResourcesGathered, 1e-9)
}

func testResources(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()
	nodes := []resource.Node{
		{ID: 3, Type: resource.Iron, Position: geom.Vec2{X: 1, Y: 2}, Amount: 40},
		{ID: 1, Type: resource.Wood, Position: geom.Vec2{X: -3, Y: 4}, Amount: 30},
		{ID: 2, Type: resource.Food, Position: geom.Vec2{X: 5, Y: -6}, Amount: 0, Depleted: true},
	}
	for _, n := range nodes {
		require.NoError(t, s.SaveResource(ctx, n))
	}

	active, err := s.GetActiveResources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, nodes[1], active[0])
	assert.Equal(t, nodes[0], active[1])

	harvested := nodes[0]
	harvested.Amount = 0
	harvested.Depleted = true
	require.NoError(t, s.SaveResource(ctx, harvested))
	active, err = s.GetActiveResources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)

	highest, err := s.MaxResourceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), highest, "depleted nodes count toward the highest id")
}

func testMaxResourceIDEmpty(t *testing.T, s storage.Store) {
	closeStore(t, s)
	highest, err := s.MaxResourceID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, highest)
}

func testWorldState(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()
	_, err := s.LoadWorldState(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.SaveWorldState(ctx, storage.WorldRecord{Time: 10.5, NextResourceID: 21}))
	require.NoError(t, s.SaveWorldState(ctx, storage.WorldRecord{Time: 300.25, NextResourceID: 42}))
	got, err := s.LoadWorldState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 300.25, got.Time)
	assert.Equal(t, int64(42), got.NextResourceID)
}

func testAICharacters(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()
	a := SampleAI("0b7c2a4e-0000-4000-8000-000000000001", true)
	b := SampleAI("0b7c2a4e-0000-4000-8000-000000000002", true)
	require.NoError(t, s.SaveAICharacter(ctx, b))
	require.NoError(t, s.SaveAICharacter(ctx, a))

	got, err := s.LoadAICharacters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.StoreID, got[0].StoreID)
	got[0].UpdatedAt = a.UpdatedAt
	assert.Equal(t, a, got[0])

	b.Active = false
	require.NoError(t, s.SaveAICharacter(ctx, b))
	got, err = s.LoadAICharacters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.StoreID, got[0].StoreID)
}

func testPing(t *testing.T, s storage.Store) {
	closeStore(t, s)
	assert.NoError(t, s.Ping(context.Background()))
}
