package character

import (
	"errors"
	"fmt"

	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

// ErrInvalidTarget is returned when a target resource is absent or depleted.
var ErrInvalidTarget = errors.New("target resource is absent or depleted")

// Lookup resolves a resource id to its node, or nil when unknown.
type Lookup func(id int64) *resource.Node

// StepResult describes what one tick did to a character.
type StepResult struct {
	Moved        bool
	StateChanged bool
	// LostTarget is set when the target vanished or was depleted by someone else.
	LostTarget bool
	// Harvested is the amount moved from Node into the inventory this tick.
	Harvested float64
	Node      *resource.Node
}

// SetTarget starts moving toward n. Re-issuing the current target while
// already moving toward or gathering it changes nothing.
//
// Postcondition: On success State == Moving or the character was already engaged
// with n; on ErrInvalidTarget the character is unchanged.
func (c *Character) SetTarget(n *resource.Node) (changed bool, err error) {
	if n == nil || n.Depleted {
		return false, ErrInvalidTarget
	}
	if c.TargetResource != nil && *c.TargetResource == n.ID && c.State != Idle {
		return false, nil
	}
	id := n.ID
	c.State = Moving
	c.TargetResource = &id
	c.Waypoint = nil
	c.ActionProgress = 0
	return true, nil
}

// SetWaypoint starts moving toward p without a resource target.
func (c *Character) SetWaypoint(p geom.Vec2) {
	c.State = Moving
	c.TargetResource = nil
	c.Waypoint = &p
	c.ActionProgress = 0
}

// Stop returns the character to Idle.
//
// Postcondition: State == Idle, no targets, ActionProgress == 0.
func (c *Character) Stop() (changed bool) {
	changed = c.State != Idle
	c.State = Idle
	c.TargetResource = nil
	c.Waypoint = nil
	c.ActionProgress = 0
	return changed
}

// Step advances the character by dt seconds.
//
// Precondition: dt >= 0; arrival > 0; lookup must be non-nil.
// Postcondition: CheckInvariants holds; any amount removed from a node is added
// to the inventory in the same call.
func (c *Character) Step(dt float64, lookup Lookup, arrival float64) StepResult {
	var res StepResult
	switch c.State {
	case Moving:
		if c.Waypoint != nil {
			c.stepTowards(*c.Waypoint, dt, arrival, &res, func() {
				c.Stop()
			})
			return res
		}
		node := c.target(lookup)
		if node == nil {
			res.LostTarget = true
			res.StateChanged = c.Stop()
			return res
		}
		c.stepTowards(node.Position, dt, arrival, &res, func() {
			c.State = Gathering
			c.ActionProgress = 0
		})
	case Gathering:
		node := c.target(lookup)
		if node == nil {
			res.LostTarget = true
			res.StateChanged = c.Stop()
			return res
		}
		c.ActionProgress += c.GatherSpeed * dt
		if c.ActionProgress < 1 {
			return res
		}
		taken := resource.Harvest(node, 1)
		if c.Inventory == nil {
			c.Inventory = map[resource.Type]float64{}
		}
		c.Inventory[node.Type] += taken
		c.ResourcesGathered += taken
		c.ActionProgress = 0
		res.Harvested = taken
		res.Node = node
		if node.Depleted {
			res.StateChanged = c.Stop()
		}
	}
	return res
}

func (c *Character) stepTowards(dest geom.Vec2, dt, arrival float64, res *StepResult, arrive func()) {
	if geom.Distance(c.Position, dest) < arrival {
		arrive()
		res.StateChanged = true
		return
	}
	next := geom.StepToward(c.Position, dest, c.MoveSpeed*dt)
	res.Moved = next != c.Position
	c.Position = next
}

// target resolves the current resource target, or nil if it is gone.
func (c *Character) target(lookup Lookup) *resource.Node {
	if c.TargetResource == nil {
		return nil
	}
	n := lookup(*c.TargetResource)
	if n == nil || n.Depleted {
		return nil
	}
	return n
}

// CheckInvariants reports the first violated state machine invariant.
//
//   - gathering ⇒ TargetResource set and no Waypoint
//   - moving ⇒ exactly one of TargetResource and Waypoint set
//   - idle ⇒ no targets and ActionProgress == 0
//   - 0 <= ActionProgress < 1
func (c *Character) CheckInvariants() error {
	if c.ActionProgress < 0 || c.ActionProgress >= 1 {
		return fmt.Errorf("action progress %v outside [0,1)", c.ActionProgress)
	}
	switch c.State {
	case Idle:
		if c.TargetResource != nil || c.Waypoint != nil || c.ActionProgress != 0 {
			return errors.New("idle character has a target or progress")
		}
	case Moving:
		if (c.TargetResource == nil) == (c.Waypoint == nil) {
			return errors.New("moving character must have exactly one target")
		}
	case Gathering:
		if c.TargetResource == nil || c.Waypoint != nil {
			return errors.New("gathering character must target a resource")
		}
	default:
		return fmt.Errorf("unknown state %q", c.State)
	}
	return nil
}
