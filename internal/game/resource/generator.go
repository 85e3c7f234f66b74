package resource

import (
	"math"

	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/rng"
)

// GeneratorConfig bounds the nodes a Generator produces.
type GeneratorConfig struct {
	// HalfExtent is half the side of the square nodes spawn in.
	HalfExtent float64
	// MinAmount and MaxAmount bound the integral initial amount, inclusive.
	MinAmount float64
	MaxAmount float64
	// Floor is the active-node count below which Regenerate spawns.
	Floor int
}

// Generator creates new resource nodes. The id counter is owned by the caller.
type Generator struct {
	cfg GeneratorConfig
	src rng.Source
}

// NewGenerator creates a Generator.
//
// Precondition: cfg.HalfExtent > 0 and 0 < cfg.MinAmount <= cfg.MaxAmount; src must be non-nil.
func NewGenerator(cfg GeneratorConfig, src rng.Source) *Generator {
	return &Generator{cfg: cfg, src: src}
}

// New creates a node with the given id, a uniform position inside the world
// square, a random type and a whole-number amount in [MinAmount, MaxAmount].
//
// Postcondition: The node is not depleted.
func (g *Generator) New(id int64) *Node {
	lo := math.Ceil(g.cfg.MinAmount)
	span := int(math.Floor(g.cfg.MaxAmount) - lo + 1)
	if span < 1 {
		span = 1
	}
	return &Node{
		ID:   id,
		Type: Types[g.src.Intn(len(Types))],
		Position: geom.Vec2{
			X: rng.Uniform(g.src, -g.cfg.HalfExtent, g.cfg.HalfExtent),
			Y: rng.Uniform(g.src, -g.cfg.HalfExtent, g.cfg.HalfExtent),
		},
		Amount: lo + float64(g.src.Intn(span)),
	}
}

// NeedsRegeneration reports whether active nodes have fallen below the floor.
func (g *Generator) NeedsRegeneration(active int) bool {
	return active < g.cfg.Floor
}
