// Command rla2a runs the agent-to-agent coordination core.
//
// The process wires the runtime components (registry, manifests, routers,
// protocol engines, HITL gate, RL engine) against the configured storage
// backend and exposes them to an injectable serving layer. The transport
// itself (HTTP/WebSocket) is out of scope here.
//
// # Configuration
//
// Environment variables (see runtime/config for the full surface):
//
//	SERVER_HOST, SERVER_PORT       - serving-layer binding
//	MAX_AGENTS, MAX_CONNECTIONS    - hard caps
//	RATE_LIMIT_PER_MINUTE          - per-identifier request budget
//	MAX_MESSAGE_SIZE               - encoded content bound in bytes
//	HITL_ENABLED                   - approval gate toggle
//	HITL_TIMEOUT_SECONDS           - default approval deadline (0 = none)
//	FRL_ENABLED                    - federated aggregation toggle
//	FRL_AGGREGATION_INTERVAL       - min seconds between aggregations
//	STORAGE_BACKEND                - memory | file | redis | mongo
//	REDIS_URL, MONGO_URL           - backend connections
//	LOG_LEVEL, LOG_FILE            - log emission
//
// # Exit codes
//
//	0   normal shutdown
//	1   fatal configuration or bootstrap error
//	130 shutdown via external signal
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	pulsesink "github.com/KunjShah01/RL-A2A/features/events/pulse"
	mongostore "github.com/KunjShah01/RL-A2A/features/storage/mongo"
	redisstore "github.com/KunjShah01/RL-A2A/features/storage/redis"
	"github.com/KunjShah01/RL-A2A/runtime/a2a"
	"github.com/KunjShah01/RL-A2A/runtime/admin"
	"github.com/KunjShah01/RL-A2A/runtime/config"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/hitl"
	"github.com/KunjShah01/RL-A2A/runtime/jsonrpc"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/middleware"
	"github.com/KunjShah01/RL-A2A/runtime/protocol"
	"github.com/KunjShah01/RL-A2A/runtime/registry"
	"github.com/KunjShah01/RL-A2A/runtime/rl"
	"github.com/KunjShah01/RL-A2A/runtime/routing"
	"github.com/KunjShah01/RL-A2A/runtime/storage"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
	"github.com/KunjShah01/RL-A2A/runtime/workflow"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitSignal = 130
)

// Core aggregates the wired surfaces a serving layer needs: the
// administrative operations, the A2A task engine (JSON-RPC frames go
// through Tasks.RPC().Handle), the protocol router, and the workflow
// engine.
type Core struct {
	Admin     *admin.Service
	Tasks     *a2a.Engine
	Protocols *protocol.Router
	Workflows *workflow.Engine
}

func main() {
	os.Exit(run())
}

func run() int {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "configuration error"})
		return exitFatal
	}
	if cfg.LogLevel == "debug" {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "opening log file"})
			return exitFatal
		}
		defer f.Close()
		ctx = log.Context(ctx, log.WithOutput(f))
	}

	code, err := bootstrap(ctx, cfg)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "bootstrap error"})
		return exitFatal
	}
	return code
}

// bootstrap builds the component graph and blocks until a shutdown signal.
func bootstrap(ctx context.Context, cfg config.Config) (int, error) {
	clueLog := telemetry.ClueLogger{}
	bus := events.NewBus()

	store, redisClient, mongoClient, err := buildStore(ctx, cfg)
	if err != nil {
		return exitFatal, err
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Printf(ctx, "close redis: %v", err)
			}
		}
		if mongoClient != nil {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				log.Printf(ctx, "close mongo: %v", err)
			}
		}
	}()

	// Optional Pulse sink mirrors bus events onto Redis streams.
	if redisClient != nil {
		pulseClient, err := pulsesink.NewClient(pulsesink.ClientOptions{Redis: redisClient})
		if err != nil {
			return exitFatal, err
		}
		sink, err := pulsesink.NewSink(pulseClient, clueLog.Named("pulse"))
		if err != nil {
			return exitFatal, err
		}
		sink.Attach(bus)
		defer sink.Detach(bus)
	}

	reg := registry.New(
		registry.WithEventBus(bus),
		registry.WithLogger(clueLog.Named("registry")),
		registry.WithMaxAgents(cfg.MaxAgents),
	)
	manifests := manifest.NewService(store,
		manifest.WithEventBus(bus),
		manifest.WithLogger(clueLog.Named("manifest")),
	)
	costAware := routing.NewCostAwareRouter(manifests, clueLog.Named("routing"))

	queue := hitl.NewQueue(cfg.HITLTimeout)
	gate := hitl.NewMiddleware(queue,
		hitl.WithEventBus(bus),
		hitl.WithLogger(clueLog.Named("hitl")),
		hitl.WithEnabled(cfg.HITLEnabled),
	)

	router := routing.NewMessageRouter(reg, costAware,
		routing.WithRouterEventBus(bus),
		routing.WithRouterLogger(clueLog.Named("routing")),
	)

	rpc := jsonrpc.NewEngine(jsonrpc.WithLogger(clueLog.Named("jsonrpc")))
	tasks, err := a2a.NewEngine(rpc,
		a2a.WithRouter(router),
		a2a.WithStore(store),
		a2a.WithEventBus(bus),
		a2a.WithLogger(clueLog.Named("a2a")),
	)
	if err != nil {
		return exitFatal, err
	}

	protocols := protocol.NewRouter(protocol.WithLogger(clueLog.Named("protocol")))
	rpcHandler := protocol.NewEngineHandler(rpc)
	protocols.RegisterHandler(protocol.TypeJSONRPC, rpcHandler)
	protocols.RegisterHandler(protocol.TypeA2A, rpcHandler)

	var rlOpts []rl.EngineOption
	rlOpts = append(rlOpts,
		rl.WithEngineEventBus(bus),
		rl.WithEngineLogger(clueLog.Named("rl")),
	)
	if cfg.FRLEnabled {
		rlOpts = append(rlOpts, rl.WithFederation(rl.NewAggregator(), cfg.FRLAggregationInterval))
	}
	learner := rl.NewEngine(manifests, rlOpts...)

	workflows := workflow.NewEngine(
		workflow.NewExecutor(router, clueLog.Named("workflow")),
		workflow.WithStore(store),
		workflow.WithEventBus(bus),
		workflow.WithLogger(clueLog.Named("workflow")),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gate.StartSweeper(runCtx, hitl.DefaultSweepInterval)
	if cfg.FRLEnabled {
		startAggregationLoop(runCtx, learner, reg, cfg.FRLAggregationInterval)
	}

	admins := admin.NewService(admin.Options{
		Registry:  reg,
		Manifests: manifests,
		Router:    router,
		Gate:      gate,
		Learner:   learner,
		Limiter:   middleware.NewRateLimiter(cfg.RateLimitPerMinute),
		Validator: middleware.NewValidator(cfg.MaxMessageSize),
	})

	// The serving layer (out of scope here) mounts these surfaces on its
	// transport of choice.
	core := Core{
		Admin:     admins,
		Tasks:     tasks,
		Protocols: protocols,
		Workflows: workflows,
	}
	_ = core

	log.Print(ctx, log.KV{K: "msg", V: "rla2a core started"},
		log.KV{K: "storage", V: cfg.StorageBackend},
		log.KV{K: "hitl", V: cfg.HITLEnabled},
		log.KV{K: "frl", V: cfg.FRLEnabled},
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf(ctx, "exiting (%v)", received)
	return exitSignal, nil
}

// buildStore constructs the configured storage backend, returning any
// backing connections so the caller can close them.
func buildStore(ctx context.Context, cfg config.Config) (storage.Store, *goredis.Client, *mongodriver.Client, error) {
	switch cfg.StorageBackend {
	case "memory":
		return storage.NewMemory(), nil, nil, nil

	case "file":
		store, err := storage.NewFile(cfg.StoragePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("file storage: %w", err)
		}
		return store, nil, nil, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		store, err := redisstore.New(redisstore.Options{Client: client})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, client, nil, nil

	case "mongo":
		client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		store, err := mongostore.New(mongostore.Options{Client: client, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, client, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// startAggregationLoop periodically applies federated updates for every
// registered agent.
func startAggregationLoop(ctx context.Context, learner *rl.Engine, reg *registry.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, a := range reg.List("") {
					learner.ApplyFederatedUpdate(ctx, a.ID)
				}
			}
		}
	}()
}
