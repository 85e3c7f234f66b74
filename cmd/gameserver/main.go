// Package main provides the idleverse world server: the simulation loop, the
// websocket endpoint and the JSON control surface on one HTTP listener, plus
// optional NATS event mirroring and a gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/auth"
	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/control"
	"github.com/steven-mosley/idleverse/internal/game/ai"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/gameserver"
	"github.com/steven-mosley/idleverse/internal/messaging"
	"github.com/steven-mosley/idleverse/internal/observability"
	"github.com/steven-mosley/idleverse/internal/persistence"
	"github.com/steven-mosley/idleverse/internal/scripting"
	"github.com/steven-mosley/idleverse/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	// The watcher logs through the logger the file itself configures.
	boot, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(boot.Logging, "gameserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var engineRef atomic.Pointer[ai.Engine]
	cfg, _, err := config.LoadAndWatch(*configPath, logger.Named("config"), func(a config.AIConfig) {
		if e := engineRef.Load(); e != nil {
			e.ApplyConfig(a)
		}
	})
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}

	ctx := context.Background()
	src := rng.NewCryptoSource()

	logger.Info("starting world server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Duration("tick_interval", cfg.World.TickInterval),
	)

	opened, err := persistence.OpenWorld(ctx, cfg.Storage, cfg.World.InitialResources, func() (*world.World, error) {
		return newWorld(cfg.World, src, logger)
	}, logger)
	if err != nil {
		logger.Fatal("creating world", zap.Error(err))
	}
	if !opened.Persistent() {
		cfg.Storage.Driver = "none"
	}
	bridge, sim := opened.Bridge, opened.Sim

	engine, scripts := newEngine(cfg, src, bridge, logger)
	engineRef.Store(engine)

	var (
		publishers []gameserver.Publisher
		embedded   *messaging.EmbeddedServer
		mirror     *messaging.Mirror
	)
	if cfg.NATS.Enabled {
		embedded, mirror = startMirror(cfg.NATS, logger)
		if mirror != nil {
			publishers = append(publishers, mirror)
		}
	}

	deps := gameserver.Deps{
		Sim:        sim,
		Engine:     engine,
		Verifier:   auth.NewVerifier(cfg.Auth),
		Source:     src,
		Publishers: publishers,
	}
	if bridge != nil {
		deps.Players = bridge
	}
	gs := gameserver.NewServer(cfg, deps, logger.Named("gameserver"))

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, gs)
	if cfg.Control.Enabled {
		opts := []control.Option{}
		if bridge != nil {
			opts = append(opts, control.WithStats("persistence", func() any { return bridge.Stats() }))
		}
		if mirror != nil {
			opts = append(opts, control.WithStats("mirror", func() any { return mirror.Stats() }))
		}
		ctl := control.NewHandler(gs, engine, control.NewGuard(cfg.Control.AdminTokenHash, logger.Named("control")), logger.Named("control"), opts...)
		ctl.Register(mux)
	}

	lifecycle := registerServices(services{
		cfg:      cfg,
		bridge:   bridge,
		gs:       gs,
		scripts:  scripts,
		embedded: embedded,
		mirror:   mirror,
		handler:  mux,
	}, logger)

	logger.Info("world server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("persistent", bridge != nil),
		zap.Bool("nats", mirror != nil),
		zap.Strings("services", lifecycle.Names()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// services are the long-running parts main hands to the lifecycle.
type services struct {
	cfg      config.Config
	bridge   *persistence.Bridge
	gs       *gameserver.Server
	scripts  *scripting.Manager
	embedded *messaging.EmbeddedServer
	mirror   *messaging.Mirror
	handler  http.Handler
}

// registerServices adds the services in start order. Stop runs in reverse,
// so persistence drains last and the mirror outlives the loop.
func registerServices(svc services, logger *zap.Logger) *server.Lifecycle {
	lc := server.NewLifecycle(logger, svc.cfg.Server.ShutdownTimeout)

	if svc.bridge != nil {
		lc.Add("persistence", &server.FuncService{
			StopFn: func(context.Context) error { return svc.bridge.Close() },
		})
	}
	if svc.embedded != nil || svc.mirror != nil {
		lc.Add("nats", &server.FuncService{
			StopFn: func(context.Context) error {
				var err error
				if svc.mirror != nil {
					err = svc.mirror.Close()
				}
				if svc.embedded != nil {
					svc.embedded.Shutdown()
				}
				return err
			},
		})
	}
	lc.Add("simulation", &server.FuncService{
		StartFn: svc.gs.Start,
		StopFn: func(ctx context.Context) error {
			err := svc.gs.Stop(ctx)
			if svc.scripts != nil {
				svc.scripts.Close()
			}
			return err
		},
	})
	if svc.cfg.GRPC.Enabled {
		probe := func(ctx context.Context) error {
			if svc.bridge != nil {
				if err := svc.bridge.Ping(ctx); err != nil {
					return err
				}
			}
			return svc.gs.Query(ctx, func(world.Reader) {})
		}
		lc.Add("grpc-health", server.NewHealthService(svc.cfg.GRPC.Addr, probe, 10*time.Second, logger.Named("health")))
	}
	lc.Add("http", server.NewHTTPService(svc.cfg.Server.Addr, svc.handler, logger.Named("http")))
	return lc
}

func newWorld(cfg config.WorldConfig, src rng.Source, logger *zap.Logger) (*world.World, error) {
	gen := resource.NewGenerator(resource.GeneratorConfig{
		HalfExtent: cfg.HalfExtent,
		MinAmount:  cfg.MinAmount,
		MaxAmount:  cfg.MaxAmount,
		Floor:      cfg.ResourceFloor,
	}, src)
	return world.New(world.Config{
		HalfExtent:       cfg.HalfExtent,
		ArrivalThreshold: cfg.ArrivalThreshold,
		MaxManualGather:  cfg.MaxManualGather,
	}, gen, logger.Named("world"))
}

// newEngine builds the AI engine. Profile or script failures fall back to the
// built-in profiles and unscripted scoring.
func newEngine(cfg config.Config, src rng.Source, bridge *persistence.Bridge, logger *zap.Logger) (*ai.Engine, *scripting.Manager) {
	profiles := ai.DefaultProfiles()
	if cfg.AI.ProfilesFile != "" {
		p, err := ai.LoadProfiles(cfg.AI.ProfilesFile)
		if err != nil {
			logger.Warn("using built-in ai profiles", zap.String("file", cfg.AI.ProfilesFile), zap.Error(err))
		} else {
			profiles = p
		}
	}

	var (
		opts    []ai.Option
		scripts *scripting.Manager
	)
	if cfg.AI.ScriptDir != "" {
		scripts = scripting.NewManager(logger.Named("scripting"))
		if err := scripts.Load(scripting.ScopeAI, cfg.AI.ScriptDir, scripting.DefaultInstructionLimit); err != nil {
			logger.Warn("ai scripts not loaded", zap.String("dir", cfg.AI.ScriptDir), zap.Error(err))
			scripts.Close()
			scripts = nil
		} else {
			opts = append(opts, ai.WithScoreHook(scripting.NewScoreHook(scripts)))
		}
	}
	if bridge != nil {
		opts = append(opts, ai.WithSaver(bridge))
	}
	return ai.NewEngine(cfg.AI, profiles, src, cfg.World.HalfExtent, logger.Named("ai"), opts...), scripts
}

// startMirror connects the event mirror, starting an embedded broker first
// when configured. A broker that cannot be reached disables mirroring.
func startMirror(cfg config.NATSConfig, logger *zap.Logger) (*messaging.EmbeddedServer, *messaging.Mirror) {
	nlog := logger.Named("nats")
	url := cfg.URL
	var embedded *messaging.EmbeddedServer
	if cfg.Embedded {
		es, err := messaging.NewEmbeddedServer(nlog)
		if err == nil {
			err = es.Start()
		}
		if err != nil {
			nlog.Error("embedded nats unavailable, mirroring disabled", zap.Error(err))
			return nil, nil
		}
		embedded = es
		url = es.ClientURL()
	}
	mirror, err := messaging.Connect(url, cfg.Subject, nlog)
	if err != nil {
		nlog.Error("event mirroring disabled", zap.Error(err))
		return embedded, nil
	}
	return embedded, mirror
}
