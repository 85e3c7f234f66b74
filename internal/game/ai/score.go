package ai

import (
	"cmp"
	"math"
	"slices"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
)

// TopCandidates is how many of the best-scoring resources a pick is drawn from.
const TopCandidates = 3

// ScoreHook adds a scripted bonus to a resource score. Implementations must be
// deterministic for equal inputs and must not block.
type ScoreHook interface {
	ScoreBonus(aiType, resourceType string, distance, amount float64) float64
}

// Candidate is a scored resource.
type Candidate struct {
	Node  resource.Node
	Score float64
}

// Score rates a resource for an AI character. Higher is better.
//
// Precondition: c.AI must be non-nil.
func Score(c *character.Character, n resource.Node, hook ScoreHook) float64 {
	dist := geom.Distance(c.Position, n.Position)
	distanceScore := math.Max(0, 100-dist)
	amountScore := math.Min(100, n.Amount)
	pref := c.AI.Preferences[n.Type]

	score := 0.4*distanceScore + 0.4*pref + 0.2*amountScore
	p := c.AI.Personality
	if p.Industriousness > 50 {
		score += amountScore * float64(p.Industriousness-50) / 100
	}
	if p.Curiosity > 50 {
		score += (100 - distanceScore) * float64(p.Curiosity-50) / 100
	}
	if hook != nil {
		if bonus := hook.ScoreBonus(string(c.AI.Type), string(n.Type), dist, n.Amount); !math.IsNaN(bonus) && !math.IsInf(bonus, 0) {
			score += bonus
		}
	}
	return score
}

// Rank scores every non-depleted node and orders them best first. Equal
// scores are ordered by ascending resource id.
func Rank(c *character.Character, nodes []resource.Node, hook ScoreHook) []Candidate {
	out := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		if n.Depleted {
			continue
		}
		out = append(out, Candidate{Node: n, Score: Score(c, n, hook)})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Node.ID, b.Node.ID)
	})
	return out
}

// Pick draws uniformly among the first TopCandidates ranked candidates.
// Returns false when there are none.
func Pick(ranked []Candidate, src rng.Source) (resource.Node, bool) {
	if len(ranked) == 0 {
		return resource.Node{}, false
	}
	top := min(TopCandidates, len(ranked))
	return ranked[src.Intn(top)].Node, true
}
