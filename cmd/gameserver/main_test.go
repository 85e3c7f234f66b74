package main

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steven-mosley/idleverse/internal/auth"
	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/gameserver"
	"github.com/steven-mosley/idleverse/internal/messaging"
	"github.com/steven-mosley/idleverse/internal/persistence"
	"github.com/steven-mosley/idleverse/internal/storage/memory"
)

func devServices(t *testing.T) services {
	t.Helper()
	cfg, err := config.Load("../../configs/dev.yaml")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	w, err := newWorld(cfg.World, rng.NewSeeded(1), logger)
	require.NoError(t, err)
	gs := gameserver.NewServer(cfg, gameserver.Deps{
		Sim:      w,
		Verifier: auth.NewVerifier(cfg.Auth),
		Source:   rng.NewSeeded(2),
	}, logger)
	return services{cfg: cfg, gs: gs, handler: http.NewServeMux()}
}

func TestRegisterServices_MirrorStopsAfterLoop(t *testing.T) {
	svc := devServices(t)
	logger := zaptest.NewLogger(t)

	bridge := persistence.NewBridge(memory.New(), svc.cfg.Storage, logger)
	t.Cleanup(func() { _ = bridge.Close() })
	embedded, err := messaging.NewEmbeddedServer(logger)
	require.NoError(t, err)
	svc.bridge = bridge
	svc.embedded = embedded
	svc.cfg.GRPC.Enabled = true

	lc := registerServices(svc, logger)
	// Stop runs in reverse: http, grpc-health, simulation, nats, persistence.
	assert.Equal(t, []string{"persistence", "nats", "simulation", "grpc-health", "http"}, lc.Names())
}

func TestRegisterServices_MemoryOnly(t *testing.T) {
	svc := devServices(t)
	svc.cfg.GRPC.Enabled = false

	lc := registerServices(svc, zaptest.NewLogger(t))
	assert.Equal(t, []string{"simulation", "http"}, lc.Names())
}
