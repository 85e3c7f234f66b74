package gameserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/steven-mosley/idleverse/internal/auth"
	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/gameserver"
	"github.com/steven-mosley/idleverse/internal/persistence"
	"github.com/steven-mosley/idleverse/internal/protocol"
	"github.com/steven-mosley/idleverse/internal/storage"
	"github.com/steven-mosley/idleverse/internal/storage/memory"
	"github.com/steven-mosley/idleverse/internal/testutil"
)

const wait = 2 * time.Second

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0", WSPath: "/ws", ShutdownTimeout: 5 * time.Second},
		World: config.WorldConfig{
			TickInterval: 5 * time.Millisecond, MaxTickDelta: 50 * time.Millisecond,
			HalfExtent: 30, InitialResources: 5, MinAmount: 30, MaxAmount: 79,
			RegenInterval: time.Hour, ArrivalThreshold: 0.5, HumanSpawnExtent: 10,
			DefaultMoveSpeed: 8, DefaultGatherSpeed: 2, MaxManualGather: 1,
		},
		AI: config.AIConfig{DecisionInterval: time.Hour, PopulationInterval: time.Hour, SaveInterval: time.Hour},
		Session: config.SessionConfig{
			IdleTimeout: time.Minute, SweepInterval: time.Hour, OutboundBuffer: 64,
			SnapshotMinInterval: time.Hour, SnapshotBurst: 1, HandshakeTimeout: 2 * time.Second,
		},
		Storage: config.StorageConfig{Driver: "memory", Workers: 2, QueueSize: 64, OpTimeout: time.Second, AutosaveInterval: time.Hour},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", GuestNamePrefix: "Guest"},
	}
}

type harness struct {
	srv      *gameserver.Server
	http     *httptest.Server
	store    *memory.Store
	bridge   *persistence.Bridge
	verifier *auth.Verifier
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zaptest.NewLogger(t)

	gen := resource.NewGenerator(resource.GeneratorConfig{HalfExtent: 30, MinAmount: 30, MaxAmount: 79}, rng.NewSeeded(11))
	w, err := world.New(world.Config{HalfExtent: 30, ArrivalThreshold: 0.5, MaxManualGather: 1}, gen, zap.NewNop())
	require.NoError(t, err)
	w.Seed(cfg.World.InitialResources)

	store := memory.New()
	bridge := persistence.NewBridge(store, cfg.Storage, logger.Named("bridge"))
	t.Cleanup(func() { _ = bridge.Close() })

	verifier := auth.NewVerifier(cfg.Auth)
	srv := gameserver.NewServer(cfg, gameserver.Deps{
		Sim:      persistence.NewWorld(w, bridge, logger),
		Players:  bridge,
		Verifier: verifier,
		Source:   rng.NewSeeded(5),
	}, logger)
	go func() { _ = srv.Start() }()

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, srv)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return &harness{srv: srv, http: hs, store: store, bridge: bridge, verifier: verifier}
}

func (h *harness) dial(t *testing.T, query string) *testutil.WSClient {
	t.Helper()
	url := h.http.URL + "/ws"
	if query != "" {
		url += "?" + query
	}
	return testutil.NewWSClient(t, url, nil)
}

func (h *harness) token(t *testing.T, userID, name string) string {
	t.Helper()
	tok, err := h.verifier.Issue(auth.Identity{UserID: userID, Name: name}, time.Hour)
	require.NoError(t, err)
	return tok
}

func decodeState(t *testing.T, env protocol.Envelope) protocol.GameState {
	t.Helper()
	require.Equal(t, protocol.TypeGameState, env.Type)
	var gs protocol.GameState
	require.NoError(t, json.Unmarshal(env.Data, &gs))
	return gs
}

func decodePlayer(t *testing.T, env protocol.Envelope) protocol.Player {
	t.Helper()
	var p protocol.Player
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func self(t *testing.T, gs protocol.GameState, name string) protocol.Player {
	t.Helper()
	for _, p := range gs.Players {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no player named %q in %v", name, gs.Players)
	return protocol.Player{}
}

func TestServer_GuestJoinReceivesSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "name=Ada")

	gs := decodeState(t, c.Read(wait))
	assert.Len(t, gs.Players, 1)
	assert.Len(t, gs.Resources, 5)
	assert.NotEmpty(t, gs.FormattedTime)
	me := self(t, gs, "Ada")
	assert.Equal(t, character.Idle, me.State)
	assert.Nil(t, me.TargetResource)

	other := h.dial(t, "")
	gs2 := decodeState(t, other.Read(wait))
	assert.Len(t, gs2.Players, 2)

	joined := c.ReadUntil(protocol.TypePlayerJoined, wait)
	p := decodePlayer(t, joined)
	assert.True(t, strings.HasPrefix(p.Name, "Guest"), p.Name)
	assert.Equal(t, 2, h.srv.SessionCount())
}

func TestServer_AuthenticatedJoinRestoresPlayer(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.SavePlayer(context.Background(), storage.PlayerRecord{
		UserID:            "u1",
		Name:              "Stored",
		Inventory:         map[resource.Type]float64{resource.Wood: 3},
		ResourcesGathered: 3,
	}))

	c := h.dial(t, "token="+h.token(t, "u1", "Ignored"))
	ack := c.Read(wait)
	require.Equal(t, protocol.TypeAuthSuccess, ack.Type)
	var success protocol.AuthSuccess
	require.NoError(t, json.Unmarshal(ack.Data, &success))
	assert.Equal(t, "Stored", success.PlayerName)

	gs := decodeState(t, c.Read(wait))
	me := gs.Players[success.PlayerID]
	assert.Equal(t, 3.0, me.Inventory[resource.Wood])
	assert.Equal(t, character.Idle, me.State)
	assert.Equal(t, 8.0, me.MoveSpeed, "zero stored speeds fall back to defaults")
}

func TestServer_BearerHeaderAndNewUserSaved(t *testing.T) {
	h := newHarness(t, nil)
	header := http.Header{"Authorization": {"Bearer " + h.token(t, "u-new", "Newcomer")}}
	c := testutil.NewWSClient(t, h.http.URL+"/ws", header)

	require.Equal(t, protocol.TypeAuthSuccess, c.Read(wait).Type)
	decodeState(t, c.Read(wait))
	require.Eventually(t, func() bool {
		rec, err := h.store.LoadPlayer(context.Background(), "u-new")
		return err == nil && rec.Name == "Newcomer"
	}, wait, 10*time.Millisecond)
}

func TestServer_InvalidCredentialFallsBackToGuest(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "token=not-a-jwt")

	assert.Equal(t, protocol.TypeAuthError, c.Read(wait).Type)
	gs := decodeState(t, c.Read(wait))
	require.Len(t, gs.Players, 1)
	for _, p := range gs.Players {
		assert.True(t, strings.HasPrefix(p.Name, "Guest"), p.Name)
	}
}

func TestServer_IntentsReachRegistry(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "name=Ada")
	decodeState(t, c.Read(wait))

	target := int64(1)
	c.Send(protocol.TypePlayerUpdate, protocol.PlayerUpdate{State: character.Moving, TargetResource: &target})
	p := decodePlayer(t, c.ReadUntil(protocol.TypePlayerUpdated, wait))
	assert.Equal(t, character.Moving, p.State)
	require.NotNil(t, p.TargetResource)
	assert.Equal(t, target, *p.TargetResource)

	c.Send(protocol.TypeChangeName, "Grace")
	// Arrival updates may precede the rename.
	deadline := time.Now().Add(wait)
	for decodePlayer(t, c.ReadUntil(protocol.TypePlayerUpdated, wait)).Name != "Grace" {
		require.True(t, time.Now().Before(deadline), "rename never broadcast")
	}

	c.Send(protocol.TypeChatMessage, "  hello  ")
	env := c.ReadUntil(protocol.TypeChatMessage, wait)
	var relay protocol.ChatRelay
	require.NoError(t, json.Unmarshal(env.Data, &relay))
	assert.Equal(t, "hello", relay.Message)
	assert.Equal(t, "Grace", relay.PlayerName)
}

func TestServer_InvalidIntentsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "name=Ada")
	decodeState(t, c.Read(wait))

	missing := int64(999)
	c.Send(protocol.TypePlayerUpdate, protocol.PlayerUpdate{State: character.Moving, TargetResource: &missing})
	c.SendRaw([]byte(`{"type":"teleport","data":{}}`))
	c.SendRaw([]byte(`not json`))
	c.Send(protocol.TypePing, nil)
	assert.Equal(t, protocol.TypePong, c.Read(wait).Type)

	var state character.State
	require.NoError(t, h.srv.Query(context.Background(), func(r world.Reader) {
		for _, ch := range r.Characters() {
			state = ch.State
		}
	}))
	assert.Equal(t, character.Idle, state)
}

func TestServer_SnapshotRequestsAreRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "")
	decodeState(t, c.Read(wait))

	c.Send(protocol.TypeRequestGameState, nil)
	c.Send(protocol.TypeRequestGameState, nil)
	c.Send(protocol.TypePing, nil)
	first, second := c.Read(wait).Type, c.Read(wait).Type
	assert.ElementsMatch(t, []string{protocol.TypeGameState, protocol.TypePong}, []string{first, second})

	c.Send(protocol.TypePing, nil)
	assert.Equal(t, protocol.TypePong, c.Read(wait).Type, "throttled request produced no snapshot")
}

func TestServer_DisconnectSavesPlayerAndBroadcastsLeave(t *testing.T) {
	h := newHarness(t, nil)
	watcher := h.dial(t, "name=Watcher")
	decodeState(t, watcher.Read(wait))

	c := h.dial(t, "token="+h.token(t, "u2", "Leaver"))
	require.Equal(t, protocol.TypeAuthSuccess, c.Read(wait).Type)
	decodeState(t, c.Read(wait))
	c.Close()

	watcher.ReadUntil(protocol.TypePlayerLeft, wait)
	require.Eventually(t, func() bool {
		rec, err := h.store.LoadPlayer(context.Background(), "u2")
		return err == nil && rec.Name == "Leaver"
	}, wait, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.srv.SessionCount() == 1 }, wait, 10*time.Millisecond)
}

func TestServer_StopSavesPlayersAndClosesSessions(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "token="+h.token(t, "u3", "Stayer"))
	require.Equal(t, protocol.TypeAuthSuccess, c.Read(wait).Type)
	decodeState(t, c.Read(wait))

	c.Send(protocol.TypeChangeName, "Renamed")
	c.ReadUntil(protocol.TypePlayerUpdated, wait)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Stop(ctx))

	rec, err := h.store.LoadPlayer(context.Background(), "u3")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.Name)
	assert.True(t, c.Closed(wait))
	assert.ErrorIs(t, h.srv.Query(ctx, func(world.Reader) {}), gameserver.ErrLoopStopped)
}

func TestServer_StopCheckpointsWorld(t *testing.T) {
	h := newHarness(t, nil)
	require.Eventually(t, func() bool {
		var now float64
		err := h.srv.Query(context.Background(), func(r world.Reader) { now = r.Time() })
		return err == nil && now > 0
	}, wait, 10*time.Millisecond)

	_, err := h.store.LoadWorldState(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Stop(ctx))
	require.NoError(t, h.bridge.Close())

	ws, err := h.store.LoadWorldState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), ws.NextResourceID)
	assert.Greater(t, ws.Time, 0.0)
}

func TestServer_RejectsDisallowedOrigin(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://play.example"}
	})
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://play.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}
