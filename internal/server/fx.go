// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/api"
	"github.com/JakeFAU/marketplace-insignia/internal/clock/system"
	"github.com/JakeFAU/marketplace-insignia/internal/config"
	"github.com/JakeFAU/marketplace-insignia/internal/dispatcher"
	"github.com/JakeFAU/marketplace-insignia/internal/id/uuid"
	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/logging"
	"github.com/JakeFAU/marketplace-insignia/internal/marketplace"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
	"github.com/JakeFAU/marketplace-insignia/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/marketplace-insignia/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/marketplace-insignia/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/marketplace-insignia/internal/queue/memory"
	"github.com/JakeFAU/marketplace-insignia/internal/session"
	gcsstorage "github.com/JakeFAU/marketplace-insignia/internal/storage/gcs"
	localstorage "github.com/JakeFAU/marketplace-insignia/internal/storage/local"
	memoryStorage "github.com/JakeFAU/marketplace-insignia/internal/storage/memory"
	pgstore "github.com/JakeFAU/marketplace-insignia/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/marketplace-insignia/internal/storage/sqlite"
	"github.com/JakeFAU/marketplace-insignia/internal/sweeper"
	"github.com/JakeFAU/marketplace-insignia/internal/web"
	"github.com/JakeFAU/marketplace-insignia/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	clock        insights.Clock
	apiServer    *api.Server
	service      *session.Service
	dispatch     *dispatcher.Dispatcher
	sweeper      *sweeper.Sweeper
	queue        *queueMemory.Queue
	store        insights.Store
	pubsubClient *pubsub.Client
	pubsubTopic  *gcppublisher.Publisher
	storage      *storage.Client
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_backend", cfg.Database.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSubEnabled()),
		zap.Bool("sweeper", cfg.Sweeper.Enabled),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}, nil
}

// Service exposes the session service for CLI commands.
func (a *App) Service() *session.Service {
	return a.service
}

// Store exposes the configured session store.
func (a *App) Store() insights.Store {
	return a.store
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	// Every unfinished session before the HTTP server starts belongs to a previous process.
	recovered, err := a.service.Recover(ctx)
	if err != nil {
		a.logger.Error("session recovery incomplete", zap.Error(err))
	}
	a.logger.Info("session recovery finished",
		zap.Int("requeued", recovered.Requeued),
		zap.Int("failed", recovered.Failed),
	)

	if a.sweeper != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := a.sweeper.Run(ctx); err != nil {
				a.logger.Error("sweeper stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	background.Wait()

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

// NewLogger builds the process logger from configuration and installs it globally.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	if err = setupStore(ctx, app); err != nil {
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	app.dispatch = setupDispatcher(app, publisher)

	app.service = session.NewService(
		app.store,
		app.dispatch,
		blobStore,
		uuid.New(),
		app.clock,
		session.Config{ExportPrefix: cfg.Storage.Prefix},
		logger.Named("session"),
	)

	if cfg.Sweeper.Enabled {
		app.sweeper = sweeper.New(app.store, app.service, app.clock, sweeper.Config{
			Schedule: cfg.Sweeper.Schedule,
			TTL:      cfg.Sweeper.TTL,
		}, logger.Named("sweeper"))
	}

	app.apiServer = api.NewServer(
		app.service,
		web.Handler(),
		app.clock,
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

// OpenStore opens the configured session store without the rest of the application.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (insights.Store, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := setupStore(ctx, app); err != nil {
		return nil, err
	}
	return app.store, nil
}

// Migrator is implemented by stores whose schema can be applied on demand.
type Migrator interface {
	Migrate(ctx context.Context) error
}

func setupStore(ctx context.Context, app *App) error {
	dbCfg := app.cfg.Database
	switch dbCfg.Backend {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             dbCfg.DSN,
			MaxConns:        dbCfg.MaxConns,
			MinConns:        dbCfg.MinConns,
			MaxConnLifetime: dbCfg.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		if dbCfg.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
			app.logger.Info("postgres schema applied")
		}
		app.store = pg
		app.logger.Info("using postgres store", zap.Int32("max_conns", dbCfg.MaxConns))
	case config.BackendSQLite:
		lite, err := sqlitestore.Open(ctx, dbCfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.store = lite
		app.logger.Info("using sqlite store", zap.String("path", dbCfg.SQLitePath))
	default:
		app.store = memoryStorage.NewStore()
		app.logger.Warn("using in-memory store, sessions are lost on restart")
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (insights.BlobStore, error) {
	var blobStore insights.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(ctx, app.storage, gcsstorage.Config{
			Bucket:       app.cfg.Storage.GCSBucket,
			VerifyBucket: app.cfg.Storage.VerifyBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupPublisher(ctx context.Context, app *App) (insights.Publisher, error) {
	if !app.cfg.PubSubEnabled() {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubTopic = gcppublisher.New(app.pubsubClient.Topic(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubTopic, nil
}

func setupDispatcher(app *App, publisher insights.Publisher) *dispatcher.Dispatcher {
	pcfg := app.cfg.Pipeline
	mockOpts := marketplace.MockOptions{Seed: pcfg.Seed, Now: app.clock.Now}
	adapters := marketplace.NewMockRegistry(mockOpts)
	if pcfg.RatePerSecond > 0 {
		limiter := ratelimit.New(ratelimit.Config{RatePerSecond: pcfg.RatePerSecond, Burst: pcfg.RateBurst})
		mocks := make([]marketplace.Adapter, 0, len(insights.Platforms))
		for _, p := range insights.Platforms {
			mocks = append(mocks, marketplace.NewMockAdapter(p, mockOpts))
		}
		adapters = marketplace.NewThrottledRegistry(limiter, mocks...)
	}
	workerCfg := worker.Config{
		StageDelay:          pcfg.StageDelay,
		ProductsPerPlatform: pcfg.ProductsPerPlatform,
		ReviewsPerProduct:   pcfg.ReviewsPerProduct,
		MaxKeywords:         pcfg.MaxKeywords,
		MaxAttempts:         pcfg.MaxAttempts,
		RetryBackoff:        pcfg.RetryBackoff,
		JobTimeout:          pcfg.JobTimeout,
	}
	app.logger.Info("worker config",
		zap.Duration("stage_delay", workerCfg.StageDelay),
		zap.Int("products_per_platform", workerCfg.ProductsPerPlatform),
		zap.Int("reviews_per_product", workerCfg.ReviewsPerProduct),
		zap.Int("max_keywords", workerCfg.MaxKeywords),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Float64("rate_per_second", pcfg.RatePerSecond),
	)

	workers := make([]dispatcher.Runner, 0, pcfg.Concurrency)
	for i := 0; i < pcfg.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.store,
			adapters,
			publisher,
			app.clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers...)
}
