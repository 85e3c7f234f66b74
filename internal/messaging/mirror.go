package messaging

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/protocol"
)

// MirrorStats counts mirrored events.
type MirrorStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// Mirror publishes every world event that has a client frame to
// "<subject>.<kind>", e.g. idleverse.world.events.resource_updated. The
// payload is the same JSON frame websocket clients receive.
//
// Publish never blocks on the network: the NATS client buffers writes and
// reconnects in the background.
type Mirror struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials url and returns a Mirror publishing under subject.
//
// Precondition: url and subject must be non-empty; logger must be non-nil.
func Connect(url, subject string, logger *zap.Logger) (*Mirror, error) {
	conn, err := nats.Connect(url,
		nats.Name("idleverse-world"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	logger.Info("event mirror connected", zap.String("url", conn.ConnectedUrl()), zap.String("subject", subject))
	return &Mirror{conn: conn, subject: subject, logger: logger}, nil
}

// Subject returns the subject an event kind is published on.
func (m *Mirror) Subject(kind world.EventKind) string {
	return m.subject + "." + kind.String()
}

// Publish mirrors events in order.
func (m *Mirror) Publish(events []world.Event) {
	for _, ev := range events {
		frame, ok, err := protocol.EncodeEvent(ev)
		if err != nil || !ok {
			continue
		}
		if err := m.conn.Publish(m.Subject(ev.Kind), frame); err != nil {
			if m.failed.Add(1) == 1 {
				m.logger.Warn("mirroring event failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
			}
			continue
		}
		m.published.Add(1)
	}
}

// Stats reports mirror counters.
func (m *Mirror) Stats() MirrorStats {
	return MirrorStats{Published: m.published.Load(), Failed: m.failed.Load()}
}

// Close flushes buffered events and closes the connection.
func (m *Mirror) Close() error {
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	s := m.Stats()
	m.logger.Info("event mirror closed", zap.Uint64("published", s.Published), zap.Uint64("failed", s.Failed))
	return nil
}
