// Package gameserver drives the simulation: the single-writer tick loop, the
// websocket transport that feeds it intents and the supervisor that evicts
// idle sessions.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/steven-mosley/idleverse/internal/auth"
	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/ai"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/session"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/persistence"
	"github.com/steven-mosley/idleverse/internal/protocol"
	"github.com/steven-mosley/idleverse/internal/storage"
)

const (
	writeWait    = 10 * time.Second
	maxPingEvery = 30 * time.Second
)

// PlayerStore loads and saves user-backed characters.
type PlayerStore interface {
	LoadPlayer(ctx context.Context, userID string) (storage.PlayerRecord, error)
	// SavePlayer queues a save without waiting for it.
	SavePlayer(rec storage.PlayerRecord) error
	SavePlayerNow(ctx context.Context, rec storage.PlayerRecord) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Sim world.Simulation
	// Engine is nil when no AI jobs should run.
	Engine *ai.Engine
	// Players is nil when the server runs without a durable store.
	Players    PlayerStore
	Verifier   *auth.Verifier
	Source     rng.Source
	Publishers []Publisher
}

// Server owns the simulation loop and every client connection.
type Server struct {
	cfg        config.Config
	sim        world.Simulation
	loop       *Loop
	sessions   *session.Manager
	hub        *Hub
	supervisor *Supervisor
	engine     *ai.Engine
	players    PlayerStore
	verifier   *auth.Verifier
	src        rng.Source
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	conns sync.WaitGroup
}

// NewServer wires the loop, hub, supervisor and periodic jobs.
//
// Precondition: cfg must be valid; deps.Sim, deps.Verifier, deps.Source and logger must be non-nil.
// Postcondition: The returned Server is stopped; Start runs the loop.
func NewServer(cfg config.Config, deps Deps, logger *zap.Logger) *Server {
	sessions := session.NewManager()
	s := &Server{
		cfg:        cfg,
		sim:        deps.Sim,
		loop:       NewLoop(deps.Sim, cfg.World.TickInterval, cfg.World.MaxTickDelta, logger.Named("loop")),
		sessions:   sessions,
		hub:        NewHub(sessions, cfg.Session.MoveBroadcastInterval, logger.Named("hub")),
		supervisor: NewSupervisor(sessions, cfg.Session.IdleTimeout, logger.Named("supervisor")),
		engine:     deps.Engine,
		players:    deps.Players,
		verifier:   deps.Verifier,
		src:        deps.Source,
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   protocol.MaxFrameBytes,
		WriteBufferSize:  16 * 1024,
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		CheckOrigin:      originChecker(cfg.Server.AllowedOrigins),
	}

	s.loop.AddPublisher(s.hub)
	for _, p := range deps.Publishers {
		s.loop.AddPublisher(p)
	}
	s.registerJobs()
	return s
}

func (s *Server) registerJobs() {
	s.loop.AddJob(Job{
		Name:     "regenerate",
		Interval: s.cfg.World.RegenInterval,
		Run:      func(sim world.Simulation) []world.Event { return sim.Regenerate() },
	})
	if e := s.engine; e != nil {
		s.loop.AddJob(Job{Name: "ai_decide", Interval: s.cfg.AI.DecisionInterval, Run: e.Decide})
		s.loop.AddJob(Job{Name: "ai_population", Interval: s.cfg.AI.PopulationInterval, Run: e.MaintainPopulation})
		s.loop.AddJob(Job{
			Name:     "ai_save",
			Interval: s.cfg.AI.SaveInterval,
			Run: func(sim world.Simulation) []world.Event {
				if n := e.Save(sim); n > 0 {
					s.logger.Debug("ai characters queued for save", zap.Int("count", n))
				}
				return nil
			},
		})
	}
	if s.cfg.Storage.Persistent() {
		s.loop.AddJob(Job{
			Name:     "checkpoint",
			Interval: s.cfg.Storage.AutosaveInterval,
			Run: func(sim world.Simulation) []world.Event {
				cp := sim.Checkpoint()
				s.logger.Debug("world checkpoint",
					zap.Float64("world_time", cp.Time),
					zap.Int64("next_resource_id", cp.NextResourceID),
				)
				return nil
			},
		})
	}
	s.loop.AddJob(Job{Name: "session_sweep", Interval: s.cfg.Session.SweepInterval, Run: s.supervisor.Sweep})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

// Start runs the simulation loop until Stop.
func (s *Server) Start() error {
	return s.loop.Start()
}

// Stop stops the loop, checkpoints the world counters, saves every remaining
// user-backed character one at a time and then closes all sessions. AI characters are left to their own
// periodic save.
//
// Postcondition: No further mutation reaches the registry.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.loop.Stop(ctx); err != nil {
		return err
	}
	cp := s.sim.Checkpoint()
	saved, failed := s.saveRemaining(ctx)
	sessions := s.sessions.All()
	for _, sess := range sessions {
		s.sessions.Remove(sess.ID)
		sess.Close()
	}
	s.logger.Info("game server stopped",
		zap.Int("players_saved", saved),
		zap.Int("players_failed", failed),
		zap.Int("sessions_closed", len(sessions)),
		zap.Float64("world_time", cp.Time),
		zap.Int64("next_resource_id", cp.NextResourceID),
	)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}
}

// saveRemaining reads the registry directly; the loop has exited.
func (s *Server) saveRemaining(ctx context.Context) (saved, failed int) {
	if s.players == nil {
		return 0, 0
	}
	for _, c := range s.sim.Characters() {
		if !c.Persistent() {
			continue
		}
		if err := s.players.SavePlayerNow(ctx, persistence.PlayerRecordFrom(c)); err != nil {
			failed++
			s.logger.Warn("saving player at shutdown",
				zap.String("character_id", c.ID),
				zap.String("user_id", c.UserID),
				zap.Error(err),
			)
			continue
		}
		saved++
	}
	return saved, failed
}

// Query runs fn against end-of-tick state.
func (s *Server) Query(ctx context.Context, fn func(r world.Reader)) error {
	return s.loop.Query(ctx, fn)
}

// LoopStats reports tick counters.
func (s *Server) LoopStats() LoopStats { return s.loop.Stats() }

// TickInterval is the configured tick period.
func (s *Server) TickInterval() time.Duration { return s.loop.Interval() }

// SessionCount reports connected sessions.
func (s *Server) SessionCount() int { return s.sessions.Count() }

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer conn.Close()
	s.serve(r, conn)
}

func (s *Server) serve(r *http.Request, conn *websocket.Conn) {
	conn.SetReadLimit(protocol.MaxFrameBytes)
	id := uuid.NewString()
	logger := s.logger.With(zap.String("session_id", id), zap.String("remote_addr", r.RemoteAddr))

	c, created, err := s.admit(r, conn, id, logger)
	if err != nil {
		logger.Debug("handshake aborted", zap.Error(err))
		return
	}

	sess := session.New(id, c.UserID, r.RemoteAddr,
		session.NewOutbox(id, s.cfg.Session.OutboundBuffer),
		s.snapshotLimiter(),
		time.Now(),
		func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		},
	)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, sess, logger)
	}()
	defer func() { <-writerDone }()

	if err := s.join(sess, c); err != nil {
		logger.Warn("join failed", zap.Error(err))
		sess.Close()
		return
	}
	logger.Info("player joined",
		zap.String("character_id", id),
		zap.String("user_id", sess.UserID),
		zap.String("name", c.Name),
	)
	if created != nil {
		if err := s.players.SavePlayer(*created); err != nil {
			logger.Warn("queueing new player save", zap.Error(err))
		}
	}

	s.readPump(conn, sess, logger)

	if _, ok := s.sessions.Remove(id); ok {
		sess.Close()
		if err := s.loop.Submit(func(sim world.Simulation) []world.Event {
			return sim.Leave(id)
		}); err != nil {
			logger.Debug("leave not submitted", zap.Error(err))
		}
		logger.Info("player left")
	}
}

// admit resolves the connection's identity and builds its character. A
// rejected credential or a failed load falls back to a guest. created is
// the record to save for a user seen for the first time.
func (s *Server) admit(r *http.Request, conn *websocket.Conn, id string, logger *zap.Logger) (c *character.Character, created *storage.PlayerRecord, err error) {
	var ident auth.Identity
	if token := credential(r); token != "" {
		ident, err = s.verifier.Verify(token)
		if err != nil {
			logger.Info("credential rejected, joining as guest", zap.Error(err))
			if err := writeFrame(conn, protocol.TypeAuthError, protocol.AuthError{Message: "invalid or expired credential"}); err != nil {
				return nil, nil, err
			}
			ident = auth.Identity{}
		}
	}

	if ident.UserID != "" {
		c, created = s.loadPlayer(id, ident, logger)
	}
	if c == nil {
		c, err = character.NewHuman(id, "", s.guestName(r.URL.Query().Get("name")), s.spawnPoint(),
			s.cfg.World.DefaultMoveSpeed, s.cfg.World.DefaultGatherSpeed)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	}
	if err := writeFrame(conn, protocol.TypeAuthSuccess, protocol.AuthSuccess{PlayerID: id, PlayerName: c.Name}); err != nil {
		return nil, nil, err
	}
	return c, created, nil
}

// loadPlayer returns nil when the stored record cannot be read.
func (s *Server) loadPlayer(id string, ident auth.Identity, logger *zap.Logger) (*character.Character, *storage.PlayerRecord) {
	newPlayer := func() *character.Character {
		name, err := character.NormalizeName(ident.Name)
		if err != nil {
			name = s.guestName("")
		}
		c, err := character.NewHuman(id, ident.UserID, name, s.spawnPoint(),
			s.cfg.World.DefaultMoveSpeed, s.cfg.World.DefaultGatherSpeed)
		if err != nil {
			logger.Error("building player", zap.Error(err))
			return nil
		}
		return c
	}
	if s.players == nil {
		return newPlayer(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.HandshakeTimeout)
	defer cancel()
	rec, err := s.players.LoadPlayer(ctx, ident.UserID)
	switch {
	case err == nil:
		return persistence.PlayerFromRecord(id, rec, s.cfg.World.DefaultMoveSpeed, s.cfg.World.DefaultGatherSpeed), nil
	case errors.Is(err, storage.ErrNotFound):
		c := newPlayer()
		if c == nil {
			return nil, nil
		}
		rec := persistence.PlayerRecordFrom(c)
		return c, &rec
	default:
		logger.Warn("loading player failed, joining as guest",
			zap.String("user_id", ident.UserID),
			zap.Error(err),
		)
		return nil, nil
	}
}

// join inserts c through the loop and, at the end of the same tick, registers
// the session and queues its snapshot. The session therefore never sees its
// own playerJoined and every later delta follows the snapshot.
func (s *Server) join(sess *session.Session, c *character.Character) error {
	result := make(chan error, 1)
	err := s.loop.Submit(func(sim world.Simulation) []world.Event {
		events, err := sim.Join(c)
		if err != nil {
			result <- err
			return nil
		}
		if err := s.loop.Observe(func(r world.Reader) {
			if err := s.sessions.Add(sess); err != nil {
				result <- err
				return
			}
			s.sendSnapshot(sess, r)
			result <- nil
		}); err != nil {
			result <- err
		}
		return events
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		if err != nil && !errors.Is(err, world.ErrDuplicateCharacter) {
			_ = s.loop.Submit(func(sim world.Simulation) []world.Event { return sim.Leave(c.ID) })
		}
		return err
	case <-s.loop.Done():
		return ErrLoopStopped
	}
}

func (s *Server) writePump(conn *websocket.Conn, sess *session.Session, logger *zap.Logger) {
	ping := s.cfg.Session.IdleTimeout / 3
	if ping <= 0 || ping > maxPingEvery {
		ping = maxPingEvery
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	frames := sess.Outbox.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("write failed", zap.Error(err))
				sess.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("ping failed", zap.Error(err))
				sess.Close()
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, sess *session.Session, logger *zap.Logger) {
	deadline := s.cfg.Session.IdleTimeout + s.cfg.Session.SweepInterval
	extend := func() {
		now := time.Now()
		sess.Touch(now)
		_ = conn.SetReadDeadline(now.Add(deadline))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		extend()
		in, err := protocol.Decode(msg)
		if err != nil {
			logger.Debug("dropping frame", zap.Error(err))
			continue
		}
		s.handle(sess, in, logger)
	}
}

func (s *Server) snapshotLimiter() *rate.Limiter {
	every := rate.Inf
	if iv := s.cfg.Session.SnapshotMinInterval; iv > 0 {
		every = rate.Every(iv)
	}
	return rate.NewLimiter(every, s.cfg.Session.SnapshotBurst)
}

func (s *Server) guestName(requested string) string {
	if requested != "" {
		if name, err := character.NormalizeName(requested); err == nil {
			return name
		}
	}
	return fmt.Sprintf("%s%04d", s.cfg.Auth.GuestNamePrefix, s.src.Intn(10000))
}

func (s *Server) spawnPoint() geom.Vec2 {
	ext := s.cfg.World.HumanSpawnExtent
	return geom.Vec2{
		X: (s.src.Float64()*2 - 1) * ext,
		Y: (s.src.Float64()*2 - 1) * ext,
	}
}

// credential reads the bearer token from the query string or the
// Authorization header.
func credential(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// writeFrame writes directly to the connection. It is only used before the
// writer goroutine starts.
func writeFrame(conn *websocket.Conn, typ string, data any) error {
	b, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
