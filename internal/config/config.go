// Package config provides Viper-based configuration loading for the idleverse server.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	// Addr is the "host:port" bind address shared by the websocket and control endpoints.
	Addr string `mapstructure:"addr"`
	// WSPath is the HTTP path upgraded to the game websocket.
	WSPath string `mapstructure:"ws_path"`
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ShutdownTimeout bounds the whole shutdown sequence.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WorldConfig holds simulation tunables.
type WorldConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	MaxTickDelta       time.Duration `mapstructure:"max_tick_delta"`
	HalfExtent         float64       `mapstructure:"half_extent"`
	InitialResources   int           `mapstructure:"initial_resources"`
	MinAmount          float64       `mapstructure:"min_amount"`
	MaxAmount          float64       `mapstructure:"max_amount"`
	ResourceFloor      int           `mapstructure:"resource_floor"`
	RegenInterval      time.Duration `mapstructure:"regen_interval"`
	ArrivalThreshold   float64       `mapstructure:"arrival_threshold"`
	HumanSpawnExtent   float64       `mapstructure:"human_spawn_extent"`
	DefaultMoveSpeed   float64       `mapstructure:"default_move_speed"`
	DefaultGatherSpeed float64       `mapstructure:"default_gather_speed"`
	// MaxManualGather caps the amount a single gatherResource intent may take.
	MaxManualGather float64 `mapstructure:"max_manual_gather"`
}

// AIConfig holds AI population and cadence settings. This section is live-reloadable.
type AIConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Population    int            `mapstructure:"population"`
	MaxPopulation int            `mapstructure:"max_population"`
	Distribution  map[string]int `mapstructure:"distribution"`

	DecisionInterval   time.Duration `mapstructure:"decision_interval"`
	PopulationInterval time.Duration `mapstructure:"population_interval"`
	SaveInterval       time.Duration `mapstructure:"save_interval"`

	// ProfilesFile is the YAML file with AI type profiles and name pools; empty uses built-ins.
	ProfilesFile string `mapstructure:"profiles_file"`
	// ScriptDir holds optional Lua scoring hooks; empty disables scripting.
	ScriptDir string `mapstructure:"script_dir"`
}

// SessionConfig holds connection supervision and sync settings.
type SessionConfig struct {
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	OutboundBuffer        int           `mapstructure:"outbound_buffer"`
	SnapshotMinInterval   time.Duration `mapstructure:"snapshot_min_interval"`
	SnapshotBurst         int           `mapstructure:"snapshot_burst"`
	MoveBroadcastInterval time.Duration `mapstructure:"move_broadcast_interval"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// StorageConfig selects and tunes the durable store behind the persistence bridge.
type StorageConfig struct {
	// Driver is one of "none", "memory", "postgres", "sqlite", "file".
	Driver           string         `mapstructure:"driver"`
	Workers          int            `mapstructure:"workers"`
	QueueSize        int            `mapstructure:"queue_size"`
	OpTimeout        time.Duration  `mapstructure:"op_timeout"`
	AutosaveInterval time.Duration  `mapstructure:"autosave_interval"`
	SQLitePath       string         `mapstructure:"sqlite_path"`
	FilePath         string         `mapstructure:"file_path"`
	AutoMigrate      bool           `mapstructure:"auto_migrate"`
	Postgres         DatabaseConfig `mapstructure:"postgres"`
}

// Persistent reports whether a durable store is configured.
func (s StorageConfig) Persistent() bool {
	return s.Driver != "none"
}

// AuthConfig holds bearer credential verification settings.
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	Issuer          string `mapstructure:"issuer"`
	GuestNamePrefix string `mapstructure:"guest_name_prefix"`
}

// ControlConfig holds the HTTP control surface settings.
type ControlConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AdminTokenHash is a bcrypt hash of the admin bearer token; empty leaves mutations unguarded.
	AdminTokenHash string `mapstructure:"admin_token_hash"`
}

// NATSConfig holds the event mirror settings.
type NATSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Embedded bool   `mapstructure:"embedded"`
	Subject  string `mapstructure:"subject"`
}

// GRPCConfig holds the gRPC health endpoint settings.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	World   WorldConfig   `mapstructure:"world"`
	AI      AIConfig      `mapstructure:"ai"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Control ControlConfig `mapstructure:"control"`
	NATS    NATSConfig    `mapstructure:"nats"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error joining all violations.
func (c Config) Validate() error {
	err := errors.Join(
		validateServer(c.Server),
		validateWorld(c.World),
		ValidateAI(c.AI),
		validateSession(c.Session),
		validateStorage(c.Storage),
		validateNATS(c.NATS),
		validateGRPC(c.GRPC),
		validateLogging(c.Logging),
	)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []error
	if s.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path must start with '/', got %q", s.WSPath))
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func validateWorld(w WorldConfig) error {
	var errs []error
	if w.TickInterval <= 0 {
		errs = append(errs, errors.New("world.tick_interval must be positive"))
	}
	if w.MaxTickDelta < w.TickInterval {
		errs = append(errs, errors.New("world.max_tick_delta must be >= world.tick_interval"))
	}
	if w.HalfExtent <= 0 {
		errs = append(errs, fmt.Errorf("world.half_extent must be positive, got %v", w.HalfExtent))
	}
	if w.InitialResources < 0 {
		errs = append(errs, fmt.Errorf("world.initial_resources must be >= 0, got %d", w.InitialResources))
	}
	if w.MinAmount <= 0 || w.MaxAmount < w.MinAmount {
		errs = append(errs, fmt.Errorf("world amount range must satisfy 0 < min <= max, got [%v, %v]", w.MinAmount, w.MaxAmount))
	}
	if w.ResourceFloor < 0 {
		errs = append(errs, fmt.Errorf("world.resource_floor must be >= 0, got %d", w.ResourceFloor))
	}
	if w.RegenInterval <= 0 {
		errs = append(errs, errors.New("world.regen_interval must be positive"))
	}
	if w.ArrivalThreshold <= 0 {
		errs = append(errs, errors.New("world.arrival_threshold must be positive"))
	}
	if w.HumanSpawnExtent < 0 || w.HumanSpawnExtent > w.HalfExtent {
		errs = append(errs, errors.New("world.human_spawn_extent must be within [0, half_extent]"))
	}
	if w.DefaultMoveSpeed <= 0 || w.DefaultGatherSpeed <= 0 {
		errs = append(errs, errors.New("world default speeds must be positive"))
	}
	if w.MaxManualGather <= 0 || math.IsInf(w.MaxManualGather, 0) {
		errs = append(errs, errors.New("world.max_manual_gather must be a positive finite number"))
	}
	return errors.Join(errs...)
}

// ValidAITypes lists the accepted keys of ai.distribution.
var ValidAITypes = []string{"gatherer", "explorer", "defender", "trader"}

// ValidateAI checks the AI section on its own so live reloads can reuse it.
//
// Postcondition: Returns nil if the section is valid.
func ValidateAI(a AIConfig) error {
	var errs []error
	if a.Population < 0 {
		errs = append(errs, fmt.Errorf("ai.population must be >= 0, got %d", a.Population))
	}
	if a.MaxPopulation < a.Population {
		errs = append(errs, fmt.Errorf("ai.max_population must be >= ai.population, got %d", a.MaxPopulation))
	}
	total := 0
	for k, w := range a.Distribution {
		known := false
		for _, t := range ValidAITypes {
			if k == t {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("ai.distribution has unknown type %q", k))
		}
		if w < 0 {
			errs = append(errs, fmt.Errorf("ai.distribution.%s must be >= 0, got %d", k, w))
		}
		total += w
	}
	if len(a.Distribution) > 0 && total == 0 {
		errs = append(errs, errors.New("ai.distribution weights must not all be zero"))
	}
	if a.DecisionInterval <= 0 || a.PopulationInterval <= 0 || a.SaveInterval <= 0 {
		errs = append(errs, errors.New("ai intervals must be positive"))
	}
	return errors.Join(errs...)
}

func validateSession(s SessionConfig) error {
	var errs []error
	if s.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}
	if s.OutboundBuffer < 1 {
		errs = append(errs, fmt.Errorf("session.outbound_buffer must be >= 1, got %d", s.OutboundBuffer))
	}
	if s.SnapshotMinInterval < 0 || s.SnapshotBurst < 1 {
		errs = append(errs, errors.New("session snapshot limit requires interval >= 0 and burst >= 1"))
	}
	if s.MoveBroadcastInterval < 0 {
		errs = append(errs, errors.New("session.move_broadcast_interval must not be negative"))
	}
	if s.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("session.handshake_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) error {
	var errs []error
	switch s.Driver {
	case "none", "memory":
	case "postgres":
		errs = append(errs, validateDatabase(s.Postgres))
	case "sqlite":
		if s.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path must not be empty"))
		}
	case "file":
		if s.FilePath == "" {
			errs = append(errs, errors.New("storage.file_path must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be one of [none, memory, postgres, sqlite, file], got %q", s.Driver))
	}
	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("storage.workers must be >= 1, got %d", s.Workers))
	}
	if s.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("storage.queue_size must be >= 1, got %d", s.QueueSize))
	}
	if s.OpTimeout <= 0 || s.AutosaveInterval <= 0 {
		errs = append(errs, errors.New("storage timeouts and intervals must be positive"))
	}
	return errors.Join(errs...)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []error
	if d.Host == "" {
		errs = append(errs, errors.New("storage.postgres.host must not be empty"))
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("storage.postgres.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, errors.New("storage.postgres.user must not be empty"))
	}
	if d.Name == "" {
		errs = append(errs, errors.New("storage.postgres.name must not be empty"))
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Errorf("storage.postgres.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("storage.postgres.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, errors.New("storage.postgres.min_conns must be within [0, max_conns]"))
	}
	return errors.Join(errs...)
}

func validateNATS(n NATSConfig) error {
	if !n.Enabled {
		return nil
	}
	var errs []error
	if n.URL == "" && !n.Embedded {
		errs = append(errs, errors.New("nats.url must be set unless nats.embedded is true"))
	}
	if n.Subject == "" {
		errs = append(errs, errors.New("nats.subject must not be empty"))
	}
	return errors.Join(errs...)
}

func validateGRPC(g GRPCConfig) error {
	if g.Enabled && g.Addr == "" {
		return errors.New("grpc.addr must not be empty when grpc is enabled")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with IDLEVERSE_ prefix
	v.SetEnvPrefix("IDLEVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:3001")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("world.tick_interval", "33ms")
	v.SetDefault("world.max_tick_delta", "250ms")
	v.SetDefault("world.half_extent", 30.0)
	v.SetDefault("world.initial_resources", 20)
	v.SetDefault("world.min_amount", 30.0)
	v.SetDefault("world.max_amount", 79.0)
	v.SetDefault("world.resource_floor", 10)
	v.SetDefault("world.regen_interval", "30s")
	v.SetDefault("world.arrival_threshold", 0.5)
	v.SetDefault("world.human_spawn_extent", 10.0)
	v.SetDefault("world.default_move_speed", 8.0)
	v.SetDefault("world.default_gather_speed", 2.0)
	v.SetDefault("world.max_manual_gather", 1.0)

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.population", 10)
	v.SetDefault("ai.max_population", 50)
	v.SetDefault("ai.distribution", map[string]int{
		"gatherer": 60,
		"explorer": 20,
		"defender": 10,
		"trader":   10,
	})
	v.SetDefault("ai.decision_interval", "1s")
	v.SetDefault("ai.population_interval", "60s")
	v.SetDefault("ai.save_interval", "30s")
	v.SetDefault("ai.profiles_file", "")
	v.SetDefault("ai.script_dir", "")

	v.SetDefault("session.idle_timeout", "60s")
	v.SetDefault("session.sweep_interval", "30s")
	v.SetDefault("session.outbound_buffer", 256)
	v.SetDefault("session.snapshot_min_interval", "2s")
	v.SetDefault("session.snapshot_burst", 2)
	v.SetDefault("session.move_broadcast_interval", "100ms")
	v.SetDefault("session.handshake_timeout", "5s")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.workers", 4)
	v.SetDefault("storage.queue_size", 4096)
	v.SetDefault("storage.op_timeout", "5s")
	v.SetDefault("storage.autosave_interval", "5m")
	v.SetDefault("storage.sqlite_path", "data/idleverse.db")
	v.SetDefault("storage.file_path", "data/world.json.zst")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "idleverse")
	v.SetDefault("storage.postgres.password", "idleverse")
	v.SetDefault("storage.postgres.name", "idleverse")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 2)
	v.SetDefault("storage.postgres.max_conn_lifetime", "1h")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.guest_name_prefix", "Guest")

	v.SetDefault("control.enabled", true)
	v.SetDefault("control.admin_token_hash", "")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.subject", "idleverse.world.events")

	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.addr", "0.0.0.0:50051")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
