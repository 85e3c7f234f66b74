package gameserver

import (
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/session"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/protocol"
)

// Hub fans registry events out to every connected session. Delivery is
// at-most-once: a session whose outbox is full is closed as a slow consumer.
//
// Publish runs on the loop goroutine; the throttle state needs no lock.
type Hub struct {
	sessions     *session.Manager
	moveInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time

	lastMove map[string]time.Time
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a Hub. CharacterMoved events for one character are sent at
// most once per moveInterval; zero disables throttling.
//
// Precondition: sessions and logger must be non-nil.
func NewHub(sessions *session.Manager, moveInterval time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:     sessions,
		moveInterval: moveInterval,
		logger:       logger,
		now:          time.Now,
		lastMove:     make(map[string]time.Time),
	}
}

// Publish encodes and broadcasts events in order.
func (h *Hub) Publish(events []world.Event) {
	now := h.now()
	for _, ev := range events {
		if !h.admit(ev, now) {
			continue
		}
		frame, ok, err := protocol.EncodeEvent(ev)
		if err != nil {
			h.logger.Error("encoding event", zap.Stringer("kind", ev.Kind), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		for _, s := range h.sessions.Broadcast(frame) {
			if s.Outbox.IsClosed() {
				continue
			}
			h.logger.Warn("closing slow session",
				zap.String("session_id", s.ID),
				zap.String("remote_addr", s.RemoteAddr),
			)
			s.Close()
		}
	}
}

func (h *Hub) admit(ev world.Event, now time.Time) bool {
	switch ev.Kind {
	case world.CharacterLeft:
		delete(h.lastMove, ev.Character.ID)
	case world.CharacterMoved:
		if h.moveInterval <= 0 {
			return true
		}
		id := ev.Character.ID
		if last, ok := h.lastMove[id]; ok && now.Sub(last) < h.moveInterval {
			return false
		}
		h.lastMove[id] = now
	}
	return true
}
