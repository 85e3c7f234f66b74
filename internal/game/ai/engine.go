// Package ai drives the AI population: utility-scored target selection for
// idle AI characters, population maintenance toward the configured size and
// periodic snapshots through a Saver.
package ai

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/world"
)

// Population bounds enforced by SetConfig.
const (
	MaxPopulationTarget  = 50
	MaxPopulationCeiling = 100
)

// ErrInvalidConfig is returned by SetConfig for patches that cannot be applied.
var ErrInvalidConfig = errors.New("invalid ai config")

// Config is the live AI population configuration.
type Config struct {
	Enabled       bool                     `json:"enabled"`
	Population    int                      `json:"population"`
	MaxPopulation int                      `json:"maxPopulation"`
	Distribution  map[character.AIType]int `json:"distribution"`
}

func (c Config) clone() Config {
	c.Distribution = maps.Clone(c.Distribution)
	return c
}

// Patch is a partial Config update. Nil fields are left unchanged and
// Distribution entries are merged into the current weights.
type Patch struct {
	Enabled       *bool          `json:"enabled,omitempty"`
	Population    *int           `json:"population,omitempty"`
	MaxPopulation *int           `json:"maxPopulation,omitempty"`
	Distribution  map[string]int `json:"distribution,omitempty"`
}

// PopulationStatus counts live AI characters.
type PopulationStatus struct {
	Total  int                      `json:"total"`
	ByType map[character.AIType]int `json:"byType"`
}

// Status is the control-surface view of the engine.
type Status struct {
	Enabled    bool             `json:"enabled"`
	Population PopulationStatus `json:"population"`
	Config     Config           `json:"config"`
}

// Saver persists AI characters. active is false for a character being despawned.
type Saver interface {
	SaveAI(c *character.Character, active bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithScoreHook adds a scripted bonus to resource scores.
func WithScoreHook(h ScoreHook) Option {
	return func(e *Engine) { e.hook = h }
}

// WithSaver enables periodic AI snapshots through Save.
func WithSaver(s Saver) Option {
	return func(e *Engine) { e.saver = s }
}

// Engine chooses targets for idle AI characters and keeps the AI population
// at its configured size. Decide, MaintainPopulation and Save must be called
// from the goroutine that owns the simulation; SetConfig, ApplyConfig and
// Config are safe from any goroutine.
type Engine struct {
	spawner *Spawner
	src     rng.Source
	hook    ScoreHook
	saver   Saver
	logger  *zap.Logger

	mu    sync.Mutex
	cfg   Config
	dirty bool
}

// NewEngine creates an Engine from the ai configuration section.
//
// Precondition: cfg must satisfy config.ValidateAI; profiles must satisfy Validate;
// src and logger must be non-nil.
// Postcondition: The first Decide call runs a population pass.
func NewEngine(cfg config.AIConfig, profiles *Profiles, src rng.Source, halfExtent float64, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		spawner: NewSpawner(profiles, src, halfExtent),
		src:     src,
		logger:  logger,
		cfg: Config{
			Distribution: map[character.AIType]int{
				character.Gatherer: 60,
				character.Explorer: 20,
				character.Defender: 10,
				character.Trader:   10,
			},
		},
		dirty: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ApplyConfig(cfg)
	return e
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// SetConfig applies a patch. Population is clamped to [0, 50] and
// MaxPopulation to [Population, 100]. Negative weights count as zero; a patch
// leaving every weight at zero is rejected and nothing changes.
//
// Postcondition: On success the returned Config is the new configuration and
// the next Decide runs a population pass.
func (e *Engine) SetConfig(p Patch) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cfg.clone()
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.Population != nil {
		next.Population = max(0, min(MaxPopulationTarget, *p.Population))
	}
	if p.MaxPopulation != nil {
		next.MaxPopulation = *p.MaxPopulation
	}
	next.MaxPopulation = max(next.Population, min(MaxPopulationCeiling, next.MaxPopulation))

	for k, w := range p.Distribution {
		t := character.AIType(k)
		if !validType(t) {
			return e.cfg.clone(), fmt.Errorf("%w: unknown ai type %q", ErrInvalidConfig, k)
		}
		next.Distribution[t] = max(0, w)
	}
	total := 0
	for _, w := range next.Distribution {
		total += w
	}
	if total == 0 {
		return e.cfg.clone(), fmt.Errorf("%w: distribution weights are all zero", ErrInvalidConfig)
	}

	if next.Enabled != e.cfg.Enabled {
		e.logger.Info("ai system toggled", zap.Bool("enabled", next.Enabled))
	}
	e.cfg = next
	e.dirty = true
	return next.clone(), nil
}

// ApplyConfig applies a whole configuration section, as on live reload.
func (e *Engine) ApplyConfig(c config.AIConfig) Config {
	p := Patch{
		Enabled:       &c.Enabled,
		Population:    &c.Population,
		MaxPopulation: &c.MaxPopulation,
		Distribution:  c.Distribution,
	}
	cfg, err := e.SetConfig(p)
	if err != nil {
		e.logger.Warn("ai config not applied", zap.Error(err))
	}
	return cfg
}

// Status reports the configuration and the live AI population in r.
func (e *Engine) Status(r world.Reader) Status {
	cfg := e.Config()
	pop := PopulationStatus{ByType: make(map[character.AIType]int, len(character.AITypes))}
	for _, t := range character.AITypes {
		pop.ByType[t] = 0
	}
	for _, c := range r.Characters() {
		if c.IsAI() {
			pop.Total++
			pop.ByType[c.AI.Type]++
		}
	}
	return Status{Enabled: cfg.Enabled, Population: pop, Config: cfg}
}

// Decide gives every idle AI character its next target. A configuration
// change since the last pass triggers a population pass first. A character
// whose intent is rejected stays idle and the pass continues.
func (e *Engine) Decide(sim world.Simulation) []world.Event {
	e.mu.Lock()
	dirty := e.dirty
	e.dirty = false
	enabled := e.cfg.Enabled
	e.mu.Unlock()

	var events []world.Event
	if dirty {
		events = append(events, e.MaintainPopulation(sim)...)
	}
	if !enabled {
		return events
	}

	active := sim.ActiveResources()
	for _, c := range sim.Characters() {
		if !c.IsAI() || c.State != character.Idle {
			continue
		}
		evs, err := decide(c, active, e.src, e.hook).apply(sim, c.ID)
		if err != nil {
			e.logger.Debug("ai intent rejected",
				zap.String("character_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// MaintainPopulation spawns AI characters up to Population and despawns the
// newest ones above MaxPopulation. While disabled every AI character is
// despawned.
func (e *Engine) MaintainPopulation(sim world.Simulation) []world.Event {
	cfg := e.Config()

	var ais []*character.Character
	for _, c := range sim.Characters() {
		if c.IsAI() {
			ais = append(ais, c)
		}
	}

	var events []world.Event
	if !cfg.Enabled {
		for _, c := range ais {
			events = append(events, sim.Leave(c.ID)...)
		}
		if len(ais) > 0 {
			e.logger.Info("ai population removed", zap.Int("count", len(ais)))
		}
		return events
	}

	spawned := 0
	for n := len(ais); n < cfg.Population; n++ {
		c := e.spawner.New(e.spawner.PickType(cfg.Distribution))
		evs, err := sim.Join(c)
		if err != nil {
			e.logger.Warn("ai spawn failed", zap.Error(err))
			continue
		}
		spawned++
		events = append(events, evs...)
	}

	despawned := 0
	for i := len(ais) - 1; i >= 0 && len(ais)-despawned > cfg.MaxPopulation; i-- {
		events = append(events, sim.Leave(ais[i].ID)...)
		despawned++
	}

	if spawned > 0 || despawned > 0 {
		e.logger.Info("ai population adjusted",
			zap.Int("spawned", spawned),
			zap.Int("despawned", despawned),
			zap.Int("target", cfg.Population),
		)
	}
	return events
}

// Save snapshots every live AI character through the configured Saver.
//
// Postcondition: Returns the number of characters handed to the Saver.
func (e *Engine) Save(r world.Reader) int {
	if e.saver == nil {
		return 0
	}
	n := 0
	for _, c := range r.Characters() {
		if c.IsAI() {
			e.saver.SaveAI(c, true)
			n++
		}
	}
	return n
}

func validType(t character.AIType) bool {
	for _, k := range character.AITypes {
		if k == t {
			return true
		}
	}
	return false
}
