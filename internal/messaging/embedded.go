// Package messaging mirrors world events onto NATS subjects so external
// consumers (analytics, bots, other services) can follow the simulation
// without holding a websocket.
package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedServer is an in-process NATS broker for single-binary deployments.
type EmbeddedServer struct {
	ns             *server.Server
	startupTimeout time.Duration
	logger         *zap.Logger
}

// EmbeddedOpt configures an EmbeddedServer.
type EmbeddedOpt func(*embeddedOpts)

type embeddedOpts struct {
	host           string
	port           int
	startupTimeout time.Duration
}

// WithHost sets the listen host. Defaults to 127.0.0.1.
func WithHost(host string) EmbeddedOpt {
	return func(o *embeddedOpts) { o.host = host }
}

// WithPort sets the listen port. Defaults to a random free port.
func WithPort(port int) EmbeddedOpt {
	return func(o *embeddedOpts) { o.port = port }
}

// WithStartTimeout bounds how long Start waits for the broker.
func WithStartTimeout(d time.Duration) EmbeddedOpt {
	return func(o *embeddedOpts) { o.startupTimeout = d }
}

// NewEmbeddedServer creates a stopped broker.
//
// Precondition: logger must be non-nil.
func NewEmbeddedServer(logger *zap.Logger, opts ...EmbeddedOpt) (*EmbeddedServer, error) {
	o := embeddedOpts{host: "127.0.0.1", port: server.RANDOM_PORT, startupTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	ns, err := server.NewServer(&server.Options{
		Host:   o.host,
		Port:   o.port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	return &EmbeddedServer{ns: ns, startupTimeout: o.startupTimeout, logger: logger}, nil
}

// Start runs the broker and waits until it accepts connections.
//
// Postcondition: ClientURL is dialable when Start returns nil.
func (e *EmbeddedServer) Start() error {
	e.ns.Start()
	if !e.ns.ReadyForConnections(e.startupTimeout) {
		e.ns.Shutdown()
		return errors.New("embedded nats server not ready for connections")
	}
	e.logger.Info("embedded nats listening", zap.String("url", e.ns.ClientURL()))
	return nil
}

// ClientURL is the nats:// URL clients dial.
func (e *EmbeddedServer) ClientURL() string { return e.ns.ClientURL() }

// Shutdown stops the broker and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
