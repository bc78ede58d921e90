// Package control wires configuration, storage, RPC, and the
// per-chain pipelines into a runnable application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/affiliate-indexer/internal/core/checkpoint"
	"github.com/vietddude/affiliate-indexer/internal/core/config"
	"github.com/vietddude/affiliate-indexer/internal/core/worker"
	"github.com/vietddude/affiliate-indexer/internal/indexing/health"
	"github.com/vietddude/affiliate-indexer/internal/indexing/normalize"
	"github.com/vietddude/affiliate-indexer/internal/indexing/orchestrator"
	"github.com/vietddude/affiliate-indexer/internal/indexing/planner"
	"github.com/vietddude/affiliate-indexer/internal/indexing/reorg"
	"github.com/vietddude/affiliate-indexer/internal/indexing/scanner"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain/evm"
	redisclient "github.com/vietddude/affiliate-indexer/internal/infra/redis"
	"github.com/vietddude/affiliate-indexer/internal/infra/rpc"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage/memory"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage/postgres"
)

// MigrationsDir is where goose migrations live relative to the
// working directory.
const MigrationsDir = "migrations"

// App owns every long-lived component of the indexer process.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	db    *postgres.DB        // nil when running on memory storage
	redis *redisclient.Client // nil when not configured

	monitor       *health.Monitor
	server        *health.Server
	orchestrators []*orchestrator.Orchestrator
	pruners       []*worker.Pruner
	providers     []rpc.Provider
	retention     worker.RetentionStore
}

// NewApp builds the application from config. Postgres is used when a
// database URL is configured, with schema migrations applied up
// front; otherwise everything runs on in-memory storage.
func NewApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		monitor: health.NewMonitor(),
	}

	checkpoints, sink, deadLetters, err := a.buildStorage(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.URL != "" {
		rds, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.closeInfra()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = rds
	}

	cpManager := checkpoint.NewManager(checkpoints)
	for _, chainCfg := range cfg.Chains {
		a.buildChain(chainCfg, cpManager, sink, deadLetters)
	}

	a.server = health.NewServer(cfg.Server.Port, a.monitor, log)
	return a, nil
}

func (a *App) buildStorage(ctx context.Context) (storage.CheckpointRepository, storage.EventSink, storage.DeadLetterRepository, error) {
	if a.cfg.Database.URL == "" {
		a.log.Warn("no database configured, using in-memory storage")
		store := memory.NewMemoryStorage()
		a.retention = store
		return memory.NewCheckpointRepo(store), memory.NewEventSink(store), memory.NewDeadLetterRepo(store), nil
	}

	db, err := postgres.NewDB(ctx, a.cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(MigrationsDir); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.db = db
	a.retention = postgres.NewRetentionRepo(db)
	return postgres.NewCheckpointRepo(db), postgres.NewEventRepo(db), postgres.NewDeadLetterRepo(db), nil
}

func (a *App) buildChain(
	chainCfg config.ChainConfig,
	checkpoints checkpoint.Manager,
	sink storage.EventSink,
	deadLetters storage.DeadLetterRepository,
) {
	target := chainCfg.Target()

	limiter := rpc.NewRateLimiter(10, 20)
	mgr := rpc.NewManager(target.ChainID, limiter, rpc.DefaultManagerConfig)
	for _, p := range chainCfg.Providers {
		provider := rpc.NewHTTPProvider(p.Name, p.URL, p.Timeout)
		if p.RateLimit > 0 {
			limiter.Configure(p.Name, p.RateLimit, p.Burst)
		}
		mgr.AddProvider(provider)
		a.providers = append(a.providers, provider)
	}

	reader := evm.NewClient(target.ChainID, mgr)

	// Typed-nil guard: only hand the redis client over when it exists.
	var seen normalize.SeenCache
	var notifier reorg.InvalidationNotifier
	if a.redis != nil {
		seen = a.redis
		notifier = a.redis
	}

	pl := planner.New(target, checkpoints, reader)
	sc := scanner.New(target, reader)
	nm := normalize.New(sink, seen, normalize.TransferDecoder, deadLetters, a.log)
	guard := reorg.NewGuard(target, reader, checkpoints, sink, notifier, a.log)

	orch := orchestrator.New(
		target, pl, sc, nm, guard,
		checkpoints, sink, deadLetters, seen, reader,
		orchestrator.DefaultConfig(), a.log,
	)
	a.orchestrators = append(a.orchestrators, orch)
	a.monitor.Register(target.ChainID, orch, mgr)

	if chainCfg.RetentionPeriod > 0 {
		a.pruners = append(a.pruners,
			worker.NewPruner(target.ChainID, chainCfg.RetentionPeriod, a.retention, a.log))
	}
}

// Run starts the health server and every chain loop and blocks until
// the context is cancelled. A halted chain is reported through health
// but does not stop the other chains.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	for _, p := range a.pruners {
		p := p
		g.Go(func() error {
			p.Start(gctx)
			return nil
		})
	}

	for _, orch := range a.orchestrators {
		orch := orch
		g.Go(func() error {
			err := orch.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("chain loop stopped", "error", err)
			}
			// Chain independence: only cancellation propagates.
			return nil
		})
	}

	err := g.Wait()
	a.closeInfra()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) closeInfra() {
	for _, p := range a.providers {
		p.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
}
