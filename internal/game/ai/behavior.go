package ai

import (
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/world"
)

// Behavior tuning for the non-gathering AI types.
const (
	ExploreChance  = 0.7
	TraderGatherP  = 0.5
	DefenderStep   = 5.0
	DefenderRadius = 10.0
	TraderRange    = 20.0
	// ExploreRadius is the explorer reach at full curiosity.
	ExploreRadius = 60.0
)

// intent is what one decision wants to do with an idle AI character.
type intent struct {
	target   *int64
	waypoint *geom.Vec2
}

func (i intent) apply(sim world.Simulation, id string) ([]world.Event, error) {
	switch {
	case i.target != nil:
		return sim.ApplyUpdate(id, world.Update{State: character.Moving, TargetResource: i.target})
	case i.waypoint != nil:
		return sim.SetWaypoint(id, *i.waypoint)
	}
	return nil, nil
}

// decide chooses the next intent for one idle AI character. A zero intent
// means the character stays idle this pass.
func decide(c *character.Character, active []resource.Node, src rng.Source, hook ScoreHook) intent {
	switch c.AI.Type {
	case character.Explorer:
		if rng.Chance(src, ExploreChance) {
			return intent{waypoint: explorePoint(c, src)}
		}
	case character.Defender:
		return intent{waypoint: patrolPoint(c, src)}
	case character.Trader:
		if !rng.Chance(src, TraderGatherP) {
			p := geom.Vec2{
				X: rng.Uniform(src, -TraderRange, TraderRange),
				Y: rng.Uniform(src, -TraderRange, TraderRange),
			}
			return intent{waypoint: &p}
		}
	}
	node, ok := Pick(Rank(c, active, hook), src)
	if !ok {
		return intent{}
	}
	id := node.ID
	return intent{target: &id}
}

// explorePoint is a random point within a curiosity-scaled radius. The
// registry clamps it to the world square. The stored exploration range is
// carried for persistence only.
func explorePoint(c *character.Character, src rng.Source) *geom.Vec2 {
	r := float64(c.AI.Personality.Curiosity) / 100 * ExploreRadius
	p := geom.Vec2{
		X: c.Position.X + rng.Uniform(src, -r, r),
		Y: c.Position.Y + rng.Uniform(src, -r, r),
	}
	return &p
}

// patrolPoint is a short random step pulled halfway back toward the center.
func patrolPoint(c *character.Character, src rng.Source) *geom.Vec2 {
	p := geom.Vec2{
		X: (c.Position.X + rng.Uniform(src, -DefenderStep, DefenderStep)) / 2,
		Y: (c.Position.Y + rng.Uniform(src, -DefenderStep, DefenderStep)) / 2,
	}
	p = geom.Clamp(p, DefenderRadius)
	return &p
}
