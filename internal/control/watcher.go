// Package control wires the monitor's components together and owns their
// lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/dropwatch/internal/api"
	"github.com/vietddude/dropwatch/internal/control/monitor"
	"github.com/vietddude/dropwatch/internal/core/config"
	"github.com/vietddude/dropwatch/internal/core/cursor"
	"github.com/vietddude/dropwatch/internal/core/worker"
	"github.com/vietddude/dropwatch/internal/indexing/classify"
	"github.com/vietddude/dropwatch/internal/indexing/dedup"
	"github.com/vietddude/dropwatch/internal/indexing/emitter"
	"github.com/vietddude/dropwatch/internal/indexing/filter"
	"github.com/vietddude/dropwatch/internal/indexing/health"
	"github.com/vietddude/dropwatch/internal/indexing/metrics"
	"github.com/vietddude/dropwatch/internal/indexing/notify"
	"github.com/vietddude/dropwatch/internal/indexing/recovery"
	"github.com/vietddude/dropwatch/internal/indexing/registry"
	"github.com/vietddude/dropwatch/internal/indexing/scheduler"
	"github.com/vietddude/dropwatch/internal/indexing/significance"
	"github.com/vietddude/dropwatch/internal/infra/chain"
	"github.com/vietddude/dropwatch/internal/infra/chain/evm"
	"github.com/vietddude/dropwatch/internal/infra/chain/explorer"
	"github.com/vietddude/dropwatch/internal/infra/chain/stream"
	redisclient "github.com/vietddude/dropwatch/internal/infra/redis"
	"github.com/vietddude/dropwatch/internal/infra/rpc"
	"github.com/vietddude/dropwatch/internal/infra/storage"
	"github.com/vietddude/dropwatch/internal/infra/storage/memory"
	"github.com/vietddude/dropwatch/internal/infra/storage/postgres"
)

const headCacheTTL = 2 * time.Second

// Watcher is the main application struct that manages the monitor lifecycle.
type Watcher struct {
	cfg *config.AppConfig
	log *slog.Logger

	db          *postgres.DB
	redisClient *redisclient.Client
	clients     []*rpc.Client
	routers     map[string]rpc.Router
	emitter     emitter.Emitter

	registry  *registry.Registry
	service   *monitor.Service
	scheduler *scheduler.Scheduler
	heads     *stream.HeadSubscriber
	pruner    *worker.Pruner
	summary   *worker.Summary

	handler      http.Handler
	apiServer    *api.Server
	healthServer *health.Server
}

type stores struct {
	subscriptions storage.SubscriptionStore
	channels      storage.ChannelStore
	cursors       storage.CursorStore
}

// NewWatcher creates a new Watcher with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig) (*Watcher, error) {
	w := &Watcher{
		cfg:     cfg,
		log:     slog.Default(),
		routers: make(map[string]rpc.Router),
	}

	// 1. Storage
	st, err := w.initStorage(ctx)
	if err != nil {
		return nil, err
	}
	pingers := make(map[string]storage.Pinger)
	if w.db != nil {
		pingers["postgres"] = w.db
	}

	if cfg.Redis.Enabled() {
		w.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			if cfg.Dedup.Backend == "redis" {
				return nil, err
			}
			w.log.Warn("Failed to connect to Redis", "error", err)
		} else {
			pingers["redis"] = w.redisClient
		}
	}

	// 2. Chain data sources
	budgetTracker := rpc.NewBudgetTracker(cfg.Budget.DailyQuota, budgetAllocation(cfg))
	heads := make(map[string]health.HeadReader)

	var rpcSource, explorerSource chain.Source
	if len(cfg.Base.RPCURLs) > 0 {
		router := rpc.NewRouter()
		for i, url := range cfg.Base.RPCURLs {
			router.AddProvider(rpc.NewHTTPProvider(fmt.Sprintf("%s-%d", cfg.Base.ProviderName, i), url, cfg.Monitor.CallTimeout))
		}
		client := rpc.NewClient(rpc.SourceRPC, router, budgetTracker,
			rpc.WithLimiter(rpc.NewLimiter(cfg.Base.RatePerSec, burst(cfg.Base.RatePerSec))))
		w.clients = append(w.clients, client)
		w.routers[rpc.SourceRPC] = router

		src := evm.NewSource(client, cfg.Monitor.MaxBlockRange, cfg.Monitor.CallTimeout)
		rpcSource = src
		heads[rpc.SourceRPC] = src
	}
	if cfg.Explorer.APIKey != "" {
		router := rpc.NewRouter()
		router.AddProvider(rpc.NewHTTPProvider(rpc.SourceExplorer, cfg.Explorer.URL, cfg.Monitor.CallTimeout))
		client := rpc.NewClient(rpc.SourceExplorer, router, budgetTracker,
			rpc.WithLimiter(rpc.NewLimiter(cfg.Explorer.RatePerSec, burst(cfg.Explorer.RatePerSec))))
		w.clients = append(w.clients, client)
		w.routers[rpc.SourceExplorer] = router

		src := explorer.NewSource(client, cfg.Explorer.APIKey, cfg.Base.ChainID, cfg.Monitor.MaxBlockRange, cfg.Monitor.CallTimeout)
		explorerSource = src
		heads[rpc.SourceExplorer] = src
	}

	var source chain.Source
	switch {
	case explorerSource != nil:
		source = chain.NewFallback(explorerSource, rpcSource)
	case rpcSource != nil:
		source = chain.NewFallback(rpcSource, nil)
	default:
		return nil, errors.New("no chain data source configured")
	}
	headCache := chain.NewHeadCache(source, headCacheTTL)

	// 3. Subscriptions
	cursorMgr := cursor.NewManager(st.cursors)
	w.registry = registry.New(st.subscriptions, filter.NewMemoryFilter(), cursorMgr, headCache,
		registry.Config{LookbackBlocks: cfg.Monitor.LookbackBlocks})
	if err := w.registry.Load(ctx); err != nil {
		return nil, err
	}

	// 4. Classification and dedup
	classifier := classify.New(significance.NewPriceTable(significance.DefaultPrices))
	sigFilter := significance.NewFilter(cfg.Monitor.SignificanceUSD)

	var ledger dedup.Ledger
	if cfg.Dedup.Backend == "redis" && w.redisClient != nil {
		ledger = redisclient.NewDedupLedger(w.redisClient, cfg.Dedup.Window)
		w.log.Info("Using Redis dedup ledger")
	} else {
		mem := dedup.NewMemoryLedger(dedup.Config{
			Window:        cfg.Dedup.Window,
			MaxPerChannel: cfg.Dedup.MaxPerChannel,
		})
		ledger = mem
		w.pruner = worker.NewPruner(mem, cfg.Dedup.Window)
	}

	// 5. Delivery
	emitters := emitter.Multi{emitter.NewLogEmitter(slog.Default())}
	if cfg.Kafka.Enabled() {
		kafka, err := emitter.NewKafkaEmitter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			w.log.Warn("Kafka emitter disabled", "error", err)
		} else {
			emitters = append(emitters, kafka)
		}
	}
	w.emitter = emitters

	dispatcher := notify.NewDispatcher(notify.Config{
		Timeout:       cfg.Notify.Timeout,
		RetryAttempts: cfg.Notify.RetryAttempts,
	}, st.channels, notify.WithEmitter(emitters))

	// 6. Service and scheduler
	w.service = monitor.NewService(monitor.Config{
		AppURL:                 cfg.Notify.AppURL,
		ActivityLookbackBlocks: cfg.Monitor.ActivityLookbackBlocks,
		CallTimeout:            cfg.Monitor.CallTimeout,
	}, monitor.Deps{
		Registry:   w.registry,
		Channels:   st.channels,
		Source:     source,
		Head:       headCache,
		Classifier: classifier,
		Dispatcher: dispatcher,
	})

	backoff := &recovery.ExponentialBackoff{
		InitialDelay: cfg.Monitor.BackoffInitial,
		MaxDelay:     cfg.Monitor.BackoffMax,
		MaxAttempts:  cfg.Monitor.BackoffMaxAttempts,
		Jitter:       0.2,
		Classifier:   recovery.DefaultClassifier,
	}

	w.scheduler = scheduler.New(scheduler.Config{
		Interval:       cfg.Monitor.PollInterval,
		Concurrency:    cfg.Monitor.Concurrency,
		LookbackBlocks: cfg.Monitor.LookbackBlocks,
		CallTimeout:    cfg.Monitor.CallTimeout,
		AppURL:         cfg.Notify.AppURL,
	}, scheduler.Deps{
		Registry:     w.registry,
		Cursors:      cursorMgr,
		Source:       source,
		Head:         headCache,
		Classifier:   classifier,
		Significance: sigFilter,
		Ledger:       ledger,
		Dispatcher:   dispatcher,
		Channels:     st.channels,
		Observer:     w.service,
	}, backoff, nil)
	w.service.SetTrigger(w.scheduler.Trigger)

	if cfg.Base.WSURL != "" {
		w.heads = stream.NewHeadSubscriber(cfg.Base.WSURL, func(number uint64) {
			headCache.Observe(number)
			w.scheduler.Trigger()
		}, backoff)
	}

	// 7. Servers and workers
	healthMon := health.NewMonitor(heads, st.cursors, pingers, budgetTracker, []string{rpc.SourceRPC, rpc.SourceExplorer})
	w.healthServer = health.NewServer(healthMon, cfg.Server.MetricsPort)

	w.handler = api.NewRouter(w.service, w.scheduler)
	w.apiServer = api.NewServer(fmt.Sprintf(":%d", cfg.Server.Port), w.handler)
	w.summary = worker.NewSummary(w.service, cfg.Notify.SummaryInterval)

	w.log.Info("Watcher initialized",
		"source", source.Name(),
		"watched", len(w.registry.Watched()),
		"dedup", cfg.Dedup.Backend,
	)
	return w, nil
}

func (w *Watcher) initStorage(ctx context.Context) (stores, error) {
	if w.cfg.Database.Enabled() {
		db, err := postgres.NewDB(ctx, w.cfg.Database)
		if err != nil {
			return stores{}, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("failed to migrate db: %w", err)
		}
		w.db = db
		w.log.Info("Using PostgreSQL storage")
		return stores{
			subscriptions: postgres.NewSubscriptionRepo(db),
			channels:      postgres.NewChannelRepo(db),
			cursors:       postgres.NewCursorRepo(db),
		}, nil
	}

	store := memory.NewMemoryStorage()
	w.log.Info("Using Memory storage")
	return stores{
		subscriptions: memory.NewSubscriptionRepo(store),
		channels:      memory.NewChannelRepo(store),
		cursors:       memory.NewCursorRepo(store),
	}, nil
}

// budgetAllocation splits the daily quota across the configured sources.
func budgetAllocation(cfg *config.AppConfig) map[string]float64 {
	var sources []string
	if len(cfg.Base.RPCURLs) > 0 {
		sources = append(sources, rpc.SourceRPC)
	}
	if cfg.Explorer.APIKey != "" {
		sources = append(sources, rpc.SourceExplorer)
	}
	allocation := make(map[string]float64, len(sources))
	for _, s := range sources {
		allocation[s] = 1.0 / float64(len(sources))
	}
	return allocation
}

func burst(ratePerSec float64) int {
	return max(int(ratePerSec), 1)
}

// Start starts all components. It returns once they are running.
func (w *Watcher) Start(ctx context.Context) error {
	go w.serve("API server", w.apiServer.Start)
	go w.serve("Health server", w.healthServer.Start)

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	go func() {
		if err := w.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("Scheduler failed", "error", err)
		}
	}()

	if w.heads != nil {
		go func() {
			if err := w.heads.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("Head subscription failed", "error", err)
			}
		}()
	}

	if w.pruner != nil {
		go w.pruner.Start(ctx)
	}
	go w.summary.Start(ctx)
	go w.runMetricsUpdater(ctx)

	w.log.Info("Watcher started", "port", w.cfg.Server.Port, "metrics_port", w.cfg.Server.MetricsPort)
	return nil
}

func (w *Watcher) serve(name string, start func() error) {
	if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.log.Error(name+" failed", "error", err)
	}
}

// Stop shuts the servers down and releases connections.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	var errs []error
	if err := w.apiServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}
	if err := w.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}
	if err := w.emitter.Close(); err != nil {
		w.log.Warn("Failed to close emitters", "error", err)
	}
	for _, c := range w.clients {
		_ = c.Close()
	}
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for source, router := range w.routers {
				for _, p := range router.GetAllProviders() {
					v := 0.0
					if p.IsAvailable() {
						v = 1
					}
					metrics.ProviderAvailable.WithLabelValues(source, p.GetName()).Set(v)
				}
			}
		}
	}
}
