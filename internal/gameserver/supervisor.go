package gameserver

import (
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/session"
	"github.com/steven-mosley/idleverse/internal/game/world"
)

// Supervisor evicts sessions with no inbound activity inside the idle window.
type Supervisor struct {
	sessions *session.Manager
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSupervisor creates a Supervisor.
//
// Precondition: timeout > 0; sessions and logger must be non-nil.
func NewSupervisor(sessions *session.Manager, timeout time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{sessions: sessions, timeout: timeout, logger: logger, now: time.Now}
}

// Sweep closes every idle session and removes its character. It runs as a
// loop job so the removal goes through the single writer.
//
// Postcondition: No session idle longer than the timeout remains registered.
func (s *Supervisor) Sweep(sim world.Simulation) []world.Event {
	var events []world.Event
	for _, sess := range s.sessions.Idle(s.now(), s.timeout) {
		if _, ok := s.sessions.Remove(sess.ID); !ok {
			continue
		}
		s.logger.Info("evicting idle session",
			zap.String("session_id", sess.ID),
			zap.String("user_id", sess.UserID),
			zap.Duration("idle", s.now().Sub(sess.LastActive())),
		)
		sess.Close()
		events = append(events, sim.Leave(sess.ID)...)
	}
	return events
}
