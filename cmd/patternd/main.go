// Patternd serves the pattern cache and recovery engine over HTTP.
//
// It opens the SQLite pattern store, rebuilds the similarity index from it,
// and starts the prune scheduler and the HTTP API. The confidence threshold
// and strategy statistics live in Redis when enabled so several instances
// share them; otherwise they are kept in process memory.
//
// Usage:
//
//	# Start with ~/.config/patternd/config.yaml and defaults
//	patternd
//
//	# Use another config file and override the port
//	PATTERND_SERVER_HTTP_PORT=9300 patternd --config /etc/patternd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/embeddings"
	"github.com/fyrsmithlabs/patternd/internal/events"
	httpapi "github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/patternsearch"
	"github.com/fyrsmithlabs/patternd/internal/pruner"
	"github.com/fyrsmithlabs/patternd/internal/redisstore"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/sqlitestore"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/patternd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  patternd [--config path]   Start the patternd daemon\n")
			fmt.Fprintf(os.Stderr, "  patternd version           Show version information\n")
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "patternd: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "patternd: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("patternd exited with error", zap.Error(err))
		_ = logging.Sync(logger)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
	_ = logging.Sync(logger)
}

func printVersion() {
	fmt.Printf("patternd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and serves until ctx is cancelled.
//
//  1. Installs trace export when enabled
//  2. Opens the pattern store and the embedding provider
//  3. Rebuilds the similarity index from the store
//  4. Connects Redis and NATS when enabled
//  5. Starts the prune scheduler
//  6. Serves the HTTP API until shutdown
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting patternd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	tel, err := telemetry.New(ctx, cfg.TracingConfig(version), logger.Named("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	scrubber, err := secrets.New(cfg.ScrubberConfig())
	if err != nil {
		return fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	engine := decision.NewEngine(cfg.EngineConfig())
	controller := confidence.NewController(deps.thresholds, cfg.ControllerConfig(), logger.Named("confidence"))
	selector := strategy.NewSelector(deps.stats, logger.Named("strategy"))

	pruneOpts := []pruner.Option{
		pruner.WithLogger(logger.Named("pruner")),
		pruner.WithPublisher(deps.publisher),
	}
	if sw, ok := deps.stats.(strategy.Sweeper); ok {
		pruneOpts = append(pruneOpts, pruner.WithStatSweeper(sw))
	}
	p, err := pruner.New(deps.store, cfg.PruningPolicy(), pruneOpts...)
	if err != nil {
		return fmt.Errorf("failed to create pruner: %w", err)
	}

	var scheduler *pruner.Scheduler
	if cfg.Pruner.Enabled {
		scheduler, err = pruner.NewScheduler(p, cfg.Pruner.Schedule, logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("failed to create prune scheduler: %w", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start prune scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	srv, err := httpapi.NewServer(httpapi.Deps{
		Store:     deps.store,
		Searcher:  deps.index,
		Engine:    engine,
		Threshold: controller,
		Selector:  selector,
		Pruner:    p,
		Scheduler: scheduler,
		Index:     deps.index,
		Scrubber:  scrubber,
		Publisher: deps.publisher,
		TopK:      cfg.Search.TopK,
		Version:   version,
	}, logger.Named("http"), &httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("pruner_enabled", cfg.Pruner.Enabled))

	return srv.Start(ctx)
}

// dependencies holds the infrastructure components.
type dependencies struct {
	sqlite     *sqlitestore.Store
	store      *patternsearch.IndexedStore
	index      *patternsearch.Index
	embedder   embeddings.Provider
	redis      *redis.Client
	natsConn   *nats.Conn
	thresholds confidence.ThresholdStore
	stats      strategy.StatStore
	publisher  events.Publisher
	logger     *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if nc := d.natsConn; nc != nil {
		if err := nc.FlushTimeout(time.Second); err != nil {
			d.logger.Warn("failed to flush nats connection", zap.Error(err))
		}
		nc.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn("failed to close embedding provider", zap.Error(err))
		}
	}
	if d.sqlite != nil {
		if err := d.sqlite.Close(); err != nil {
			d.logger.Warn("failed to close pattern store", zap.Error(err))
		}
	}
}

// initDependencies opens stores and connections. On error everything opened
// so far is closed.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{logger: logger, publisher: events.Nop{}}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	deps.sqlite, err = sqlitestore.Open(ctx, config.ExpandHome(cfg.Storage.Path), logger.Named("sqlite"))
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern store: %w", err)
	}

	deps.embedder, err = embeddings.NewProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Search.Embeddings.Provider),
		zap.Int("dimension", deps.embedder.Dimension()))

	deps.index, err = patternsearch.NewIndex(cfg.IndexConfig(), deps.embedder, deps.sqlite, logger.Named("search"))
	if err != nil {
		return nil, fmt.Errorf("failed to create similarity index: %w", err)
	}
	n, err := deps.index.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild similarity index: %w", err)
	}
	logger.Info("similarity index rebuilt", zap.Int("patterns", n))
	deps.store = patternsearch.NewIndexedStore(deps.sqlite, deps.index, logger.Named("search"))

	if cfg.Redis.Enabled {
		deps.redis, err = redisstore.NewClient(ctx, cfg.RedisClientConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.thresholds = redisstore.NewThresholdStore(deps.redis, cfg.Redis.KeyPrefix)
		deps.stats = redisstore.NewStatStore(deps.redis, cfg.Redis.KeyPrefix, cfg.Strategy.StatTTL.Duration())
		logger.Info("using redis for threshold and strategy stats", zap.String("key_prefix", cfg.Redis.KeyPrefix))
	} else {
		deps.thresholds = confidence.NewInMemoryStore()
		deps.stats = strategy.NewInMemoryStatStore(cfg.Strategy.StatTTL.Duration())
	}

	if cfg.NATS.Enabled {
		deps.natsConn, err = events.Connect(cfg.NATS.URL, logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		pub, err := events.NewNATSPublisher(deps.natsConn, cfg.NATS.SubjectPrefix, logger.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		deps.publisher = pub
		logger.Info("publishing events to nats", zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	return deps, nil
}
