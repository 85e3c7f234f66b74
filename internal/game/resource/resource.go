// Package resource implements the lifecycle of gatherable resource nodes:
// generation, harvesting and depletion. Depleted nodes are tombstones; they
// are never deleted and their ids are never reused.
package resource

import (
	"fmt"
	"math"

	"github.com/steven-mosley/idleverse/internal/game/geom"
)

// Type identifies what a node yields.
type Type string

// Resource types.
const (
	Wood  Type = "wood"
	Stone Type = "stone"
	Food  Type = "food"
	Iron  Type = "iron"
	Herbs Type = "herbs"
)

// Types lists every resource type in a stable order.
var Types = []Type{Wood, Stone, Food, Iron, Herbs}

// ParseType validates s as a resource type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// Node is a gatherable resource.
//
// Invariant: Amount >= 0 and Depleted == (Amount <= 0).
type Node struct {
	ID       int64     `json:"id"`
	Type     Type      `json:"type"`
	Position geom.Vec2 `json:"position"`
	Amount   float64   `json:"amount"`
	Depleted bool      `json:"depleted"`
}

// Harvest removes up to amount from n and reports how much was actually taken.
// A NaN or non-positive request takes nothing.
//
// Postcondition: 0 <= taken <= amount, n.Amount >= 0, and n.Depleted == (n.Amount <= 0).
func Harvest(n *Node, amount float64) float64 {
	if n.Depleted || math.IsNaN(amount) || amount <= 0 {
		return 0
	}
	taken := math.Min(amount, n.Amount)
	n.Amount -= taken
	if n.Amount <= 0 {
		n.Amount = 0
		n.Depleted = true
	}
	return taken
}

// Restore builds a node from persisted fields and re-derives the depleted flag.
func Restore(id int64, t Type, pos geom.Vec2, amount float64) *Node {
	n := &Node{ID: id, Type: t, Position: pos, Amount: math.Max(0, amount)}
	n.Depleted = n.Amount <= 0
	return n
}
