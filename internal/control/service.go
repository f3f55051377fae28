// Package control assembles the application: storage, snapshot cache,
// the upstream client, the rate-limit chain, the refresh loop, and the
// monitoring console, and manages their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trminhdn/signalflow/internal/core/config"
	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/core/worker"
	"github.com/trminhdn/signalflow/internal/infra/analysis"
	redisclient "github.com/trminhdn/signalflow/internal/infra/redis"
	"github.com/trminhdn/signalflow/internal/infra/storage"
	"github.com/trminhdn/signalflow/internal/infra/storage/memory"
	"github.com/trminhdn/signalflow/internal/infra/storage/postgres"
	"github.com/trminhdn/signalflow/internal/metrics"
	"github.com/trminhdn/signalflow/internal/monitoring"
	"github.com/trminhdn/signalflow/internal/ratelimit"
	"github.com/trminhdn/signalflow/internal/signals"
)

// Service is the main application struct. It owns every component and
// starts and stops them as a unit.
type Service struct {
	cfg *config.AppConfig

	client  *analysis.Client
	gate    *ratelimit.Gate
	queue   *ratelimit.Queue
	budget  *ratelimit.Budget
	orch    *signals.Orchestrator
	runner  *signals.Runner
	pruner  *worker.Pruner
	monitor *monitoring.Monitor
	console *monitoring.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewService creates a Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	log := slog.Default()

	// 1. Initialize History Storage
	var (
		runRepo      storage.RunRepository
		signalRepo   storage.SignalRepository
		store        *memory.MemoryStorage
		db           *postgres.DB
		storageCheck monitoring.HealthChecker
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		runRepo = postgres.NewRunRepo(db)
		signalRepo = postgres.NewSignalRepo(db)
		storageCheck = db
		slog.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewMemoryStorage()
		runRepo = memory.NewRunRepo(store)
		signalRepo = memory.NewSignalRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Snapshot Cache
	var (
		cache      storage.SnapshotStore
		redisCli   *redisclient.Client
		cacheCheck monitoring.HealthChecker
	)
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, falling back to memory snapshots", "error", err)
		} else {
			redisCli = rc
			cache = redisclient.NewSnapshotStore(rc, redisclient.DefaultSnapshotTTL)
			cacheCheck = monitoring.HealthCheckerFunc(rc.Ping)
			slog.Info("Using Redis snapshot cache")
		}
	}
	if cache == nil {
		if store == nil {
			store = memory.NewMemoryStorage()
		}
		cache = memory.NewSnapshotStore(store)
		slog.Info("Using Memory snapshot cache")
	}

	// 3. Initialize Upstream Client and Budget
	budget := ratelimit.NewBudget(cfg.Upstream.DailyQuota)
	client := analysis.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.RequestTimeout.Std())
	client.Budget = budget

	// 4. Initialize Rate-Limit Chain
	gate := ratelimit.NewGate(cfg.Upstream.MinRequestInterval.Std())
	policy := ratelimit.Policy{
		MaxRetries: cfg.Upstream.MaxRetries,
		BaseDelay:  cfg.Upstream.RetryBaseDelay.Std(),
		MaxDelay:   cfg.Upstream.RetryMaxDelay.Std(),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues(ratelimit.Classify(err).Kind.String()).Inc()
			slog.Warn("Retrying upstream call", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	requester := ratelimit.NewRequester(gate, policy)
	requester.OnWait = func(d time.Duration) {
		metrics.ThrottleWaitSeconds.Observe(d.Seconds())
	}
	queue := ratelimit.NewQueue(requester)
	queue.OnSupersede = func(key string) {
		metrics.QueueSupersededTotal.WithLabelValues(key).Inc()
		slog.Debug("Request superseded", "key", key)
	}

	// 5. Initialize Orchestrator and Runner
	orch := signals.NewOrchestrator(client, queue, signals.Timings{
		MinRefreshInterval: cfg.Refresh.MinRefreshInterval.Std(),
		InterStepDelay:     cfg.Refresh.InterStepDelay.Std(),
		RateLimitCooldown:  cfg.Refresh.RateLimitCooldown.Std(),
	}, log)

	portfolio := cfg.Portfolio.PortfolioContext()

	runner := signals.NewRunner(signals.RunnerConfig{
		Symbols:      cfg.Refresh.Symbols,
		Portfolio:    portfolio,
		PollInterval: cfg.Refresh.PollInterval.Std(),
		Quotes:       client,
		Refresher:    orch,
		Queue:        queue,
		Budget:       budget,
		Runs:         runRepo,
		Signals:      signalRepo,
		Cache:        cache,
		Logger:       log,
	})

	// 6. Initialize Pruner
	pruner := worker.NewPruner(cfg.History.Retention.Std(), runRepo, signalRepo, log)

	// 7. Initialize Monitoring Console
	monitor := monitoring.NewMonitor(monitoring.MonitorConfig{
		Upstream:     client.Monitor,
		Gate:         gate,
		Queue:        queue,
		Orchestrator: orch,
		Budget:       budget,
		Storage:      storageCheck,
		Cache:        cacheCheck,
	})
	console := monitoring.NewServer(monitoring.ServerConfig{
		Port:    cfg.Server.Port,
		Monitor: monitor,
		Cache:   cache,
		Runs:    runRepo,
		Signals: signalRepo,
		Symbols: cfg.Refresh.Symbols,
		TriggerRefresh: func(ctx context.Context) (*domain.RunReport, error) {
			// Manual refreshes reuse cached quotes rather than spending
			// budget on a fresh fetch.
			market, err := cache.Quotes(ctx, cfg.Refresh.Symbols)
			if err != nil {
				slog.Warn("Manual refresh without cached quotes", "error", err)
				market = nil
			}
			return orch.Refresh(ctx, cfg.Refresh.Symbols, market, portfolio)
		},
	})

	return &Service{
		cfg:         cfg,
		client:      client,
		gate:        gate,
		queue:       queue,
		budget:      budget,
		orch:        orch,
		runner:      runner,
		pruner:      pruner,
		monitor:     monitor,
		console:     console,
		db:          db,
		redisClient: redisCli,
		log:         log,
	}, nil
}

// Start launches the console server, the refresh loop, the pruner, and
// the metrics updater.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error {
		if err := s.console.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.runner.Start(ctx)
	})

	g.Go(func() error {
		s.pruner.Start(ctx)
		return nil
	})

	g.Go(func() error {
		s.runMetricsUpdater(ctx)
		return nil
	})

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	s.log.Info("Service started",
		"port", s.cfg.Server.Port,
		"symbols", s.cfg.Refresh.Symbols)
	return nil
}

// Stop shuts every component down and waits for the background
// goroutines to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	s.runner.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	if err := s.console.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("console server: %w", err))
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	return errors.Join(errs...)
}

// runMetricsUpdater refreshes gauges that have no natural event to hang
// off, currently just the remaining-budget gauge.
func (s *Service) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage := s.budget.Usage()
			if usage.DailyQuota > 0 {
				metrics.BudgetRemainingCalls.Set(float64(usage.RemainingCalls))
			}
		}
	}
}
