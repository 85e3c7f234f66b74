// Package control serves the JSON control surface: health, dashboard,
// snapshot inspection and live AI population tuning.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/ai"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/gameserver"
	"github.com/steven-mosley/idleverse/internal/protocol"
)

const (
	queryTimeout = 2 * time.Second
	maxBodyBytes = 64 << 10
)

// World is the running simulation as seen by the control surface.
type World interface {
	Query(ctx context.Context, fn func(r world.Reader)) error
	LoopStats() gameserver.LoopStats
	TickInterval() time.Duration
	SessionCount() int
}

// AI is the tunable side of the AI decision engine.
type AI interface {
	Status(r world.Reader) ai.Status
	SetConfig(p ai.Patch) (ai.Config, error)
}

// StatsFunc reports a component's counters for the dashboard.
type StatsFunc func() any

// Handler serves the control routes.
type Handler struct {
	world   World
	ai      AI
	guard   *Guard
	extras  map[string]StatsFunc
	logger  *zap.Logger
	started time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithStats adds a named section to the dashboard.
func WithStats(name string, fn StatsFunc) Option {
	return func(h *Handler) { h.extras[name] = fn }
}

// NewHandler creates a Handler.
//
// Precondition: w, guard and logger must be non-nil. engine may be nil, in
// which case the AI routes answer 503.
func NewHandler(w World, engine AI, guard *Guard, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		world:   w,
		ai:      engine,
		guard:   guard,
		extras:  map[string]StatsFunc{},
		logger:  logger,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/gamestate", h.gameState)
	mux.HandleFunc("GET /api/dashboard", h.dashboard)
	mux.HandleFunc("GET /api/ai/status", h.aiStatus)
	mux.HandleFunc("POST /api/ai/toggle", h.guard.Wrap(h.aiToggle))
	mux.HandleFunc("POST /api/ai/config", h.guard.Wrap(h.aiConfig))
}

func (h *Handler) query(r *http.Request, fn func(world.Reader)) error {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()
	return h.world.Query(ctx, fn)
}

type healthResponse struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptimeSeconds"`
	Sessions int     `json:"sessions"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(h.started).Seconds(), Sessions: h.world.SessionCount()}
	if err := h.query(r, func(world.Reader) {}); err != nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) gameState(w http.ResponseWriter, r *http.Request) {
	var gs protocol.GameState
	if err := h.query(r, func(rd world.Reader) { gs = protocol.BuildGameState(rd.Snapshot()) }); err != nil {
		h.unavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// Dashboard is the operator overview.
type Dashboard struct {
	Uptime         string              `json:"uptime"`
	UptimeSeconds  float64             `json:"uptimeSeconds"`
	Ticks          uint64              `json:"ticks"`
	TickRate       float64             `json:"tickRate"`
	TargetTickRate float64             `json:"targetTickRate"`
	LastTickMillis float64             `json:"lastTickMillis"`
	Sessions       int                 `json:"sessions"`
	Players        int                 `json:"players"`
	AI             int                 `json:"ai"`
	Resources      ResourceCounts      `json:"resources"`
	WorldTime      float64             `json:"worldTime"`
	FormattedTime  string              `json:"formattedTime"`
	Phase          gameserver.DayPhase `json:"phase"`
	Components     map[string]any      `json:"components,omitempty"`
	AIStatus       *ai.Status          `json:"aiStatus,omitempty"`
}

// ResourceCounts breaks down resource nodes.
type ResourceCounts struct {
	Active   int                   `json:"active"`
	Depleted int                   `json:"depleted"`
	ByType   map[resource.Type]int `json:"byType"`
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	var (
		stats    world.Stats
		aiStatus *ai.Status
	)
	err := h.query(r, func(rd world.Reader) {
		stats = rd.Stats()
		if h.ai != nil {
			s := h.ai.Status(rd)
			aiStatus = &s
		}
	})
	if err != nil {
		h.unavailable(w, err)
		return
	}
	loop := h.world.LoopStats()
	uptime := time.Since(h.started)
	d := Dashboard{
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		Ticks:          loop.Ticks,
		TickRate:       loop.Rate,
		TargetTickRate: float64(time.Second) / float64(h.world.TickInterval()),
		LastTickMillis: float64(loop.LastDuration) / float64(time.Millisecond),
		Sessions:       h.world.SessionCount(),
		Players:        stats.Players,
		AI:             stats.AI,
		Resources: ResourceCounts{
			Active:   stats.ActiveResources,
			Depleted: stats.DepletedResources,
			ByType:   stats.ByType,
		},
		WorldTime:     stats.Time,
		FormattedTime: protocol.FormatTime(stats.Time),
		Phase:         gameserver.PhaseAt(stats.Time),
		AIStatus:      aiStatus,
	}
	if len(h.extras) > 0 {
		d.Components = make(map[string]any, len(h.extras))
		for name, fn := range h.extras {
			d.Components[name] = fn()
		}
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) aiStatus(w http.ResponseWriter, r *http.Request) {
	if h.ai == nil {
		writeError(w, http.StatusServiceUnavailable, "ai engine not configured")
		return
	}
	var s ai.Status
	if err := h.query(r, func(rd world.Reader) { s = h.ai.Status(rd) }); err != nil {
		h.unavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type configResponse struct {
	Success bool      `json:"success"`
	Config  ai.Config `json:"config"`
}

func (h *Handler) aiToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	h.applyPatch(w, ai.Patch{Enabled: req.Enabled})
}

func (h *Handler) aiConfig(w http.ResponseWriter, r *http.Request) {
	var p ai.Patch
	if !decodeBody(w, r, &p) {
		return
	}
	h.applyPatch(w, p)
}

func (h *Handler) applyPatch(w http.ResponseWriter, p ai.Patch) {
	if h.ai == nil {
		writeError(w, http.StatusServiceUnavailable, "ai engine not configured")
		return
	}
	cfg, err := h.ai.SetConfig(p)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ai.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	h.logger.Info("ai config updated",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("population", cfg.Population),
		zap.Int("max_population", cfg.MaxPopulation),
	)
	writeJSON(w, http.StatusOK, configResponse{Success: true, Config: cfg})
}

func (h *Handler) unavailable(w http.ResponseWriter, err error) {
	h.logger.Debug("control query failed", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "simulation unavailable")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
