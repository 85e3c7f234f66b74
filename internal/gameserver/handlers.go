package gameserver

import (
	"errors"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/session"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/protocol"
)

var pongFrame = protocol.MustEncode(protocol.TypePong, nil)

// handle routes one decoded frame. Intents become loop mutations; rejected
// intents leave the character unchanged and are never reported to the client.
func (s *Server) handle(sess *session.Session, in protocol.Inbound, logger *zap.Logger) {
	id := sess.ID
	switch in.Type {
	case protocol.TypePing:
		if err := sess.Send(pongFrame); err != nil {
			logger.Debug("pong not queued", zap.Error(err))
		}
	case protocol.TypeRequestGameState:
		if !sess.Snapshots.Allow() {
			logger.Debug("snapshot request throttled")
			return
		}
		if err := s.loop.Observe(func(r world.Reader) { s.sendSnapshot(sess, r) }); err != nil {
			logger.Debug("snapshot not queued", zap.Error(err))
		}
	case protocol.TypePlayerUpdate:
		u := world.Update{State: in.Update.State, TargetResource: in.Update.TargetResource}
		s.intent(in.Type, logger, func(sim world.Simulation) ([]world.Event, error) {
			return sim.ApplyUpdate(id, u)
		})
	case protocol.TypeGatherResource:
		g := *in.Gather
		s.intent(in.Type, logger, func(sim world.Simulation) ([]world.Event, error) {
			return sim.Gather(id, g.ResourceID, g.Amount)
		})
	case protocol.TypeChatMessage:
		text := in.Text
		s.intent(in.Type, logger, func(sim world.Simulation) ([]world.Event, error) {
			return sim.Chat(id, text)
		})
	case protocol.TypeChangeName:
		name := in.Text
		s.intent(in.Type, logger, func(sim world.Simulation) ([]world.Event, error) {
			return sim.Rename(id, name)
		})
	}
}

func (s *Server) intent(typ string, logger *zap.Logger, fn func(sim world.Simulation) ([]world.Event, error)) {
	err := s.loop.Submit(func(sim world.Simulation) []world.Event {
		events, err := fn(sim)
		if err != nil {
			level := zap.DebugLevel
			if !errors.Is(err, world.ErrInvalidIntent) && !errors.Is(err, world.ErrUnknownCharacter) {
				level = zap.WarnLevel
			}
			logger.Log(level, "intent rejected", zap.String("type", typ), zap.Error(err))
			return nil
		}
		return events
	})
	if err != nil {
		logger.Debug("intent not submitted", zap.String("type", typ), zap.Error(err))
	}
}

// sendSnapshot runs on the loop goroutine.
func (s *Server) sendSnapshot(sess *session.Session, r world.Reader) {
	frame, err := protocol.Encode(protocol.TypeGameState, protocol.BuildGameState(r.Snapshot()))
	if err != nil {
		s.logger.Error("encoding game state", zap.Error(err))
		return
	}
	if err := sess.Send(frame); err != nil {
		s.logger.Debug("snapshot not queued", zap.String("session_id", sess.ID), zap.Error(err))
	}
}
