package persistence

import (
	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// Sink receives the saves the decorator derives from registry events.
// *Bridge is the production Sink.
type Sink interface {
	SaveResource(n resource.Node) error
	UpdatePlayerStats(userID string, d storage.StatsDelta) error
	SavePlayer(p storage.PlayerRecord) error
	SaveWorldState(w storage.WorldRecord) error
	SaveAIRecord(a storage.AIRecord) error
}

// World decorates a Simulation with persistence hooks. Every mutation is
// applied to the wrapped registry first; the derived saves are enqueued
// afterwards and their failures never reach the caller.
type World struct {
	world.Simulation
	sink   Sink
	logger *zap.Logger
}

var _ world.Simulation = (*World)(nil)

// NewWorld wraps sim.
//
// Precondition: sim, sink and logger must be non-nil.
func NewWorld(sim world.Simulation, sink Sink, logger *zap.Logger) *World {
	return &World{Simulation: sim, sink: sink, logger: logger}
}

// Leave removes a character and saves its final state: user-backed players
// as a player record, AI characters as an inactive AI record.
func (w *World) Leave(id string) []world.Event {
	events := w.Simulation.Leave(id)
	w.persist(events)
	return events
}

func (w *World) Gather(id string, resourceID int64, amount float64) ([]world.Event, error) {
	events, err := w.Simulation.Gather(id, resourceID, amount)
	w.persist(events)
	return events, err
}

func (w *World) Step(dt float64) []world.Event {
	events := w.Simulation.Step(dt)
	w.persist(events)
	return events
}

func (w *World) Regenerate() []world.Event {
	events := w.Simulation.Regenerate()
	w.persist(events)
	return events
}

// Checkpoint captures the world counters and enqueues them for saving.
func (w *World) Checkpoint() world.Checkpoint {
	cp := w.Simulation.Checkpoint()
	w.check(w.sink.SaveWorldState(storage.WorldRecord{Time: cp.Time, NextResourceID: cp.NextResourceID}))
	return cp
}

func (w *World) persist(events []world.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case world.ResourceUpdated, world.ResourceSpawned:
			w.check(w.sink.SaveResource(*ev.Resource))
			if h := ev.Harvest; h != nil && h.UserID != "" && h.Amount > 0 {
				w.check(w.sink.UpdatePlayerStats(h.UserID, storage.StatsDelta{ResourcesGathered: h.Amount}))
			}
		case world.CharacterLeft:
			c := ev.Character
			switch {
			case c.IsAI():
				w.check(w.sink.SaveAIRecord(AIRecordFrom(c, false)))
			case c.Persistent():
				w.check(w.sink.SavePlayer(PlayerRecordFrom(c)))
			}
		}
	}
}

// check logs enqueue failures. The bridge already logged drops, so this is
// debug level.
func (w *World) check(err error) {
	if err != nil {
		w.logger.Debug("save not enqueued", zap.Error(err))
	}
}
