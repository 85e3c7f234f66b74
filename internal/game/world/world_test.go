package world_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/world"
)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

func newWorld(t testingT, seed uint64) *world.World {
	t.Helper()
	gen := resource.NewGenerator(resource.GeneratorConfig{HalfExtent: 30, MinAmount: 30, MaxAmount: 79, Floor: 10}, rng.NewSeeded(seed))
	w, err := world.New(world.Config{HalfExtent: 30, ArrivalThreshold: 0.5, MaxManualGather: 1}, gen, zap.NewNop())
	require.NoError(t, err)
	return w
}

func join(t testingT, w *world.World, id string, pos geom.Vec2) {
	t.Helper()
	c, err := character.NewHuman(id, "", "P-"+id, pos, 8, 2)
	require.NoError(t, err)
	_, err = w.Join(c)
	require.NoError(t, err)
}

func ptr(v int64) *int64 { return &v }

func TestNew_RejectsMissingCollaborators(t *testing.T) {
	_, err := world.New(world.Config{HalfExtent: 30, ArrivalThreshold: 0.5}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestSeed_MonotonicIDs(t *testing.T) {
	w := newWorld(t, 1)
	nodes := w.Seed(20)
	require.Len(t, nodes, 20)
	for i, n := range nodes {
		assert.Equal(t, int64(i+1), n.ID)
	}
	assert.Equal(t, int64(21), w.Checkpoint().NextResourceID)
}

func TestJoin_DuplicateRejected(t *testing.T) {
	w := newWorld(t, 1)
	join(t, w, "a", geom.Vec2{})
	c, _ := character.NewHuman("a", "", "Again", geom.Vec2{}, 8, 2)
	_, err := w.Join(c)
	assert.ErrorIs(t, err, world.ErrDuplicateCharacter)
}

func TestLeave_IsIdempotent(t *testing.T) {
	w := newWorld(t, 1)
	join(t, w, "a", geom.Vec2{})
	events := w.Leave("a")
	require.Len(t, events, 1)
	assert.Equal(t, world.CharacterLeft, events[0].Kind)
	assert.Equal(t, "a", events[0].Character.ID)
	assert.Empty(t, w.Leave("a"))
}

func TestApplyUpdate_ArrivesAtZeroDistance(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{{ID: 7, Type: resource.Wood, Amount: 10}})
	join(t, w, "a", geom.Vec2{})

	events, err := w.ApplyUpdate("a", world.Update{State: character.Moving, TargetResource: ptr(7)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, world.CharacterUpdated, events[0].Kind)

	w.Step(1.0 / 30)
	c, ok := w.Character("a")
	require.True(t, ok)
	assert.Equal(t, character.Gathering, c.State)
	assert.Equal(t, 0.0, c.ActionProgress)
}

func TestStep_PartialHarvestDepletesAndIdles(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{{ID: 1, Type: resource.Herbs, Amount: 0.5}})
	join(t, w, "a", geom.Vec2{})
	_, err := w.ApplyUpdate("a", world.Update{State: character.Moving, TargetResource: ptr(1)})
	require.NoError(t, err)
	w.Step(0)

	events := w.Step(1)

	c, _ := w.Character("a")
	n, _ := w.Resource(1)
	assert.Equal(t, 0.5, c.Inventory[resource.Herbs])
	assert.Equal(t, 0.0, n.Amount)
	assert.True(t, n.Depleted)
	assert.Equal(t, character.Idle, c.State)
	assert.Nil(t, c.TargetResource)

	var harvested *world.Harvest
	for _, ev := range events {
		if ev.Kind == world.ResourceUpdated {
			harvested = ev.Harvest
		}
	}
	require.NotNil(t, harvested)
	assert.Equal(t, 0.5, harvested.Amount)
}

func TestStep_CompetitorDepletionIdlesMover(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{{ID: 1, Type: resource.Wood, Amount: 1, Position: geom.Vec2{}}})
	join(t, w, "a", geom.Vec2{})
	join(t, w, "b", geom.Vec2{X: 20})
	_, err := w.ApplyUpdate("a", world.Update{State: character.Moving, TargetResource: ptr(1)})
	require.NoError(t, err)
	_, err = w.ApplyUpdate("b", world.Update{State: character.Moving, TargetResource: ptr(1)})
	require.NoError(t, err)

	w.Step(0)   // a arrives
	w.Step(0.5) // a completes a cycle and depletes the node
	n, _ := w.Resource(1)
	require.True(t, n.Depleted)

	w.Step(0.01)
	b, _ := w.Character("b")
	assert.Equal(t, character.Idle, b.State)
	assert.Nil(t, b.TargetResource)
}

func TestApplyUpdate_ValidationErrors(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{{ID: 2, Type: resource.Food, Amount: 0, Depleted: true}})
	join(t, w, "a", geom.Vec2{})

	_, err := w.ApplyUpdate("ghost", world.Update{State: character.Idle})
	assert.ErrorIs(t, err, world.ErrUnknownCharacter)
	_, err = w.ApplyUpdate("a", world.Update{State: character.Moving})
	assert.ErrorIs(t, err, world.ErrInvalidIntent)
	_, err = w.ApplyUpdate("a", world.Update{State: character.Moving, TargetResource: ptr(99)})
	assert.ErrorIs(t, err, world.ErrInvalidIntent)
	_, err = w.ApplyUpdate("a", world.Update{State: character.Moving, TargetResource: ptr(2)})
	assert.ErrorIs(t, err, world.ErrInvalidIntent)
	assert.ErrorIs(t, err, character.ErrInvalidTarget)
	_, err = w.ApplyUpdate("a", world.Update{State: "dancing"})
	assert.ErrorIs(t, err, world.ErrInvalidIntent)

	c, _ := w.Character("a")
	assert.Equal(t, character.Idle, c.State)
}

func TestApplyUpdate_Idempotent(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{{ID: 3, Type: resource.Iron, Amount: 5, Position: geom.Vec2{X: 4}}})
	join(t, w, "a", geom.Vec2{})
	u := world.Update{State: character.Moving, TargetResource: ptr(3)}

	_, err := w.ApplyUpdate("a", u)
	require.NoError(t, err)
	once, _ := w.Character("a")
	events, err := w.ApplyUpdate("a", u)
	require.NoError(t, err)
	twice, _ := w.Character("a")

	assert.Empty(t, events)
	assert.Equal(t, once, twice)
}

func TestGather_CapsAndConserves(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{{ID: 5, Type: resource.Stone, Amount: 1.5}})
	join(t, w, "a", geom.Vec2{})

	_, err := w.Gather("a", 5, 100)
	require.NoError(t, err)
	_, err = w.Gather("a", 5, 100)
	require.NoError(t, err)

	c, _ := w.Character("a")
	n, _ := w.Resource(5)
	assert.Equal(t, 1.5, c.Inventory[resource.Stone])
	assert.True(t, n.Depleted)

	_, err = w.Gather("a", 5, 1)
	assert.ErrorIs(t, err, world.ErrInvalidIntent)
	_, err = w.Gather("a", 5, -1)
	assert.ErrorIs(t, err, world.ErrInvalidIntent)
}

func TestRenameAndChat(t *testing.T) {
	w := newWorld(t, 1)
	join(t, w, "a", geom.Vec2{})

	events, err := w.Rename("a", "  Nova ")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Nova", events[0].Character.Name)

	_, err = w.Rename("a", "")
	assert.ErrorIs(t, err, world.ErrInvalidIntent)

	events, err = w.Chat("a", " hello ")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, &world.Chat{CharacterID: "a", Name: "Nova", Message: "hello"}, events[0].Chat)

	_, err = w.Chat("a", "   ")
	assert.ErrorIs(t, err, world.ErrInvalidIntent)
}

func TestRegenerate_SpawnsExactlyOneBelowFloor(t *testing.T) {
	w := newWorld(t, 1)
	w.Seed(9)
	events := w.Regenerate()
	require.Len(t, events, 1)
	assert.Equal(t, world.ResourceSpawned, events[0].Kind)
	assert.Equal(t, int64(10), events[0].Resource.ID)

	assert.Empty(t, w.Regenerate())
}

func TestResources_KeepTombstones(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{}, []*resource.Node{
		{ID: 1, Type: resource.Wood, Amount: 0, Depleted: true},
		{ID: 2, Type: resource.Wood, Amount: 3},
	})
	assert.Len(t, w.Resources(), 2)
	assert.Len(t, w.ActiveResources(), 1)
	s := w.Stats()
	assert.Equal(t, 1, s.ActiveResources)
	assert.Equal(t, 1, s.DepletedResources)
	assert.Equal(t, 1, s.ByType[resource.Wood])
}

func TestRestore_CounterNeverBehindIDs(t *testing.T) {
	w := newWorld(t, 1)
	w.Restore(world.Checkpoint{Time: 50, NextResourceID: 3}, []*resource.Node{{ID: 10, Type: resource.Food, Amount: 4}})
	cp := w.Checkpoint()
	assert.Equal(t, int64(11), cp.NextResourceID)
	assert.Equal(t, 50.0, cp.Time)
}

func TestSnapshot_IsDetached(t *testing.T) {
	w := newWorld(t, 1)
	w.Seed(2)
	join(t, w, "a", geom.Vec2{})
	snap := w.Snapshot()
	snap.Resources[0].Amount = -100
	snap.Characters[0].Name = "mutated"

	n, _ := w.Resource(snap.Resources[0].ID)
	c, _ := w.Character("a")
	assert.NotEqual(t, -100.0, n.Amount)
	assert.Equal(t, "P-a", c.Name)
}

// TestPropertyRegistryInvariants drives random intents and ticks against a
// registry and checks the resource, character, conservation and monotonicity
// properties after every operation.
func TestPropertyRegistryInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := newWorld(t, rapid.Uint64().Draw(t, "seed"))
		w.Seed(rapid.IntRange(1, 12).Draw(t, "resources"))
		nChars := rapid.IntRange(1, 4).Draw(t, "characters")
		for i := 0; i < nChars; i++ {
			join(t, w, fmt.Sprintf("c%d", i), geom.Vec2{
				X: rapid.Float64Range(-30, 30).Draw(t, "x"),
				Y: rapid.Float64Range(-30, 30).Draw(t, "y"),
			})
		}

		total := func() float64 {
			sum := 0.0
			for _, n := range w.Resources() {
				sum += n.Amount
			}
			for _, c := range w.Characters() {
				for _, v := range c.Inventory {
					sum += v
				}
			}
			return sum
		}
		initial := total()
		lastTime, lastCounter := w.Time(), w.Checkpoint().NextResourceID

		for step := 0; step < 150; step++ {
			id := fmt.Sprintf("c%d", rapid.IntRange(0, nChars-1).Draw(t, "who"))
			maxID := w.Checkpoint().NextResourceID
			switch rapid.IntRange(0, 7).Draw(t, "op") {
			case 0:
				target := rapid.Int64Range(0, maxID).Draw(t, "target")
				_, _ = w.ApplyUpdate(id, world.Update{State: character.Moving, TargetResource: &target})
			case 1:
				_, _ = w.ApplyUpdate(id, world.Update{State: character.Idle})
			case 2:
				_, _ = w.Gather(id, rapid.Int64Range(0, maxID).Draw(t, "gather"), rapid.Float64Range(-1, 3).Draw(t, "amount"))
			case 3:
				for _, ev := range w.Regenerate() {
					initial += ev.Resource.Amount
				}
			default:
				w.Step(rapid.Float64Range(0, 0.5).Draw(t, "dt"))
			}

			for _, n := range w.Resources() {
				if n.Amount < 0 || n.Depleted != (n.Amount <= 0) {
					t.Fatalf("resource %d: amount=%v depleted=%v", n.ID, n.Amount, n.Depleted)
				}
			}
			for _, c := range w.Characters() {
				if err := c.CheckInvariants(); err != nil {
					t.Fatalf("character %s: %v", c.ID, err)
				}
				if (c.TargetResource != nil) != (c.State != character.Idle) {
					t.Fatalf("character %s: target=%v state=%s", c.ID, c.TargetResource, c.State)
				}
			}
			if w.Time() < lastTime || w.Checkpoint().NextResourceID < lastCounter {
				t.Fatalf("monotonicity violated")
			}
			lastTime, lastCounter = w.Time(), w.Checkpoint().NextResourceID
		}

		if d := total() - initial; d > 1e-6 || d < -1e-6 {
			t.Fatalf("conservation violated by %v", d)
		}
	})
}
