// Package storage defines the durable store contract behind the persistence
// bridge and the records exchanged with it. Backends live in subpackages.
package storage

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
)

// ErrNotFound is returned by loads for records that do not exist.
var ErrNotFound = errors.New("record not found")

// PlayerRecord is the durable state of a user-backed character. Players
// always rejoin idle, so targets and progress are not stored.
type PlayerRecord struct {
	UserID            string                    `json:"userId"`
	Name              string                    `json:"name"`
	Position          geom.Vec2                 `json:"position"`
	Inventory         map[resource.Type]float64 `json:"inventory"`
	Attributes        character.AbilityScores   `json:"attributes"`
	MoveSpeed         float64                   `json:"moveSpeed"`
	GatherSpeed       float64                   `json:"gatherSpeed"`
	ResourcesGathered float64                   `json:"resourcesGathered"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}

// Clone returns a deep copy.
func (p PlayerRecord) Clone() PlayerRecord {
	p.Inventory = cloneAmounts(p.Inventory)
	return p
}

// StatsDelta is an increment applied by UpdatePlayerStats.
type StatsDelta struct {
	ResourcesGathered float64
}

// WorldRecord is the world-level checkpoint.
type WorldRecord struct {
	Time           float64   `json:"time"`
	NextResourceID int64     `json:"nextResourceId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// AIRecord is the durable state of an AI character, keyed by StoreID.
type AIRecord struct {
	StoreID           string                    `json:"storeId"`
	Name              string                    `json:"name"`
	Type              character.AIType          `json:"type"`
	Position          geom.Vec2                 `json:"position"`
	Personality       character.Personality     `json:"personality"`
	Preferences       map[resource.Type]float64 `json:"preferences"`
	ExplorationRange  float64                   `json:"explorationRange"`
	Attributes        character.AbilityScores   `json:"attributes"`
	Inventory         map[resource.Type]float64 `json:"inventory"`
	ResourcesGathered float64                   `json:"resourcesGathered"`
	Active            bool                      `json:"active"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}

// Clone returns a deep copy.
func (a AIRecord) Clone() AIRecord {
	a.Preferences = cloneAmounts(a.Preferences)
	a.Inventory = cloneAmounts(a.Inventory)
	return a
}

func cloneAmounts(m map[resource.Type]float64) map[resource.Type]float64 {
	if m == nil {
		return map[resource.Type]float64{}
	}
	return maps.Clone(m)
}

// Store is the load/save contract of the durable store. Every method may
// block on I/O and honors ctx cancellation. Implementations must be safe
// for concurrent use.
type Store interface {
	// LoadPlayer returns ErrNotFound for unknown users.
	LoadPlayer(ctx context.Context, userID string) (PlayerRecord, error)
	// SavePlayer upserts by UserID.
	SavePlayer(ctx context.Context, p PlayerRecord) error
	// UpdatePlayerStats increments counters; ErrNotFound for unknown users.
	UpdatePlayerStats(ctx context.Context, userID string, d StatsDelta) error

	// SaveResource upserts by node id.
	SaveResource(ctx context.Context, n resource.Node) error
	// GetActiveResources returns non-depleted nodes in id order.
	GetActiveResources(ctx context.Context) ([]resource.Node, error)
	// MaxResourceID returns the highest stored node id, depleted nodes
	// included, or 0 when no node was ever saved.
	MaxResourceID(ctx context.Context) (int64, error)

	SaveWorldState(ctx context.Context, w WorldRecord) error
	// LoadWorldState returns ErrNotFound on a fresh store.
	LoadWorldState(ctx context.Context) (WorldRecord, error)

	// SaveAICharacter upserts by StoreID.
	SaveAICharacter(ctx context.Context, a AIRecord) error
	// LoadAICharacters returns the active AI records ordered by StoreID.
	LoadAICharacters(ctx context.Context) ([]AIRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
