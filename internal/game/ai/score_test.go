package ai_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/steven-mosley/idleverse/internal/game/ai"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
)

// firstSource always picks the first option.
type firstSource struct{}

func (firstSource) Intn(int) int     { return 0 }
func (firstSource) Float64() float64 { return 0 }

type bonusHook struct{ bonus map[resource.Type]float64 }

func (h bonusHook) ScoreBonus(_, resourceType string, _, _ float64) float64 {
	return h.bonus[resource.Type(resourceType)]
}

func aiAt(pos geom.Vec2, p character.Personality, prefs map[resource.Type]float64) *character.Character {
	return &character.Character{
		ID:        "ai_test",
		Position:  pos,
		State:     character.Idle,
		Inventory: map[resource.Type]float64{},
		AI: &character.AIProfile{
			Type:        character.Gatherer,
			Personality: p,
			Preferences: prefs,
		},
	}
}

func node(id int64, t resource.Type, x, y, amount float64) resource.Node {
	return resource.Node{ID: id, Type: t, Position: geom.Vec2{X: x, Y: y}, Amount: amount}
}

func TestScore_IndustriousPrefersLargerAmount(t *testing.T) {
	c := aiAt(geom.Vec2{}, character.Personality{Industriousness: 90}, map[resource.Type]float64{resource.Wood: 40})
	big := node(1, resource.Wood, 10, 0, 90)
	small := node(2, resource.Wood, -10, 0, 10)

	assert.Greater(t, ai.Score(c, big, nil), ai.Score(c, small, nil))

	ranked := ai.Rank(c, []resource.Node{small, big}, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(1), ranked[0].Node.ID)

	picked, ok := ai.Pick(ranked, firstSource{})
	require.True(t, ok)
	assert.Equal(t, int64(1), picked.ID)
}

func TestScore_Formula(t *testing.T) {
	c := aiAt(geom.Vec2{}, character.Personality{}, map[resource.Type]float64{resource.Stone: 50})
	n := node(1, resource.Stone, 30, 40, 200)
	// distance 50 -> distanceScore 50; amountScore capped at 100.
	assert.InDelta(t, 0.4*50+0.4*50+0.2*100, ai.Score(c, n, nil), 1e-9)
}

func TestScore_CuriosityRewardsDistance(t *testing.T) {
	c := aiAt(geom.Vec2{}, character.Personality{Curiosity: 100}, nil)
	near := node(1, resource.Food, 1, 0, 50)
	far := node(2, resource.Food, 60, 0, 50)
	assert.Greater(t, ai.Score(c, far, nil), ai.Score(c, near, nil))
}

func TestScore_MissingPreferenceCountsAsZero(t *testing.T) {
	c := aiAt(geom.Vec2{}, character.Personality{}, map[resource.Type]float64{})
	n := node(1, resource.Iron, 0, 0, 50)
	assert.InDelta(t, 0.4*100+0.2*50, ai.Score(c, n, nil), 1e-9)
}

func TestScore_HookBonus(t *testing.T) {
	c := aiAt(geom.Vec2{}, character.Personality{}, nil)
	n := node(1, resource.Herbs, 0, 0, 50)
	base := ai.Score(c, n, nil)
	assert.InDelta(t, base+7, ai.Score(c, n, bonusHook{bonus: map[resource.Type]float64{resource.Herbs: 7}}), 1e-9)
	assert.InDelta(t, base, ai.Score(c, n, bonusHook{bonus: map[resource.Type]float64{resource.Herbs: math.NaN()}}), 1e-9)
}

func TestRank_SkipsDepletedAndBreaksTiesByID(t *testing.T) {
	c := aiAt(geom.Vec2{}, character.Personality{}, nil)
	a := node(5, resource.Wood, 3, 4, 20)
	b := node(2, resource.Wood, 4, 3, 20)
	gone := node(1, resource.Wood, 0, 0, 0)
	gone.Depleted = true

	ranked := ai.Rank(c, []resource.Node{a, gone, b}, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(2), ranked[0].Node.ID)
	assert.Equal(t, int64(5), ranked[1].Node.ID)
}

func TestPick_Empty(t *testing.T) {
	_, ok := ai.Pick(nil, firstSource{})
	assert.False(t, ok)
}

func TestPick_OnlyFromTopThree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		nodes := make([]resource.Node, n)
		for i := range nodes {
			nodes[i] = node(int64(i+1), resource.Types[rapid.IntRange(0, 4).Draw(rt, "type")],
				rapid.Float64Range(-30, 30).Draw(rt, "x"),
				rapid.Float64Range(-30, 30).Draw(rt, "y"),
				float64(rapid.IntRange(1, 120).Draw(rt, "amount")))
		}
		c := aiAt(geom.Vec2{}, character.Personality{
			Curiosity:       rapid.IntRange(0, 99).Draw(rt, "cur"),
			Industriousness: rapid.IntRange(0, 99).Draw(rt, "ind"),
		}, map[resource.Type]float64{resource.Wood: 100})

		ranked := ai.Rank(c, nodes, nil)
		for i := 1; i < len(ranked); i++ {
			if ranked[i-1].Score < ranked[i].Score {
				rt.Fatalf("rank not descending at %d", i)
			}
		}
		picked, ok := ai.Pick(ranked, rng.NewSeeded(rapid.Uint64().Draw(rt, "seed")))
		if !ok {
			rt.Fatal("expected a pick")
		}
		cutoff := ranked[min(ai.TopCandidates, len(ranked))-1].Score
		if ai.Score(c, picked, nil) < cutoff {
			rt.Fatalf("picked %d outside the top %d", picked.ID, ai.TopCandidates)
		}
	})
}
