// Package app initializes and holds the long-lived harvester services,
// acting as the composition root for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/api"
	"github.com/courtdata/judgment-harvester/internal/captcha"
	"github.com/courtdata/judgment-harvester/internal/config"
	"github.com/courtdata/judgment-harvester/internal/database"
	"github.com/courtdata/judgment-harvester/internal/events"
	"github.com/courtdata/judgment-harvester/internal/harvest"
	"github.com/courtdata/judgment-harvester/internal/hash/sha256"
	"github.com/courtdata/judgment-harvester/internal/logging"
	"github.com/courtdata/judgment-harvester/internal/portal"
	"github.com/courtdata/judgment-harvester/internal/progress"
	"github.com/courtdata/judgment-harvester/internal/queue"
	queuememory "github.com/courtdata/judgment-harvester/internal/queue/memory"
	"github.com/courtdata/judgment-harvester/internal/storage"
	"github.com/courtdata/judgment-harvester/internal/storage/cache"
	storagememory "github.com/courtdata/judgment-harvester/internal/storage/memory"
)

// App holds the shared, long-lived services. It is built once per command
// invocation and closed in reverse order of construction.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	snapshots *progress.Store
	cache     *cache.Cache
	storage   storage.Provider
	database  database.Provider
	queue     queue.Provider
	portal    harvest.Portal
	solver    *captcha.Solver
	closers   []io.Closer
	hub       *events.Hub
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Snapshots exposes the progress store for the stats and reset commands.
func (a *App) Snapshots() *progress.Store { return a.snapshots }

// Database exposes the metadata provider for the stats command.
func (a *App) Database() database.Provider { return a.database }

// Solver exposes the CAPTCHA chain for the captcha command.
func (a *App) Solver() *captcha.Solver { return a.solver }

// Portal exposes the portal client for the captcha command.
func (a *App) Portal() harvest.Portal { return a.portal }

// Build constructs every service the configuration asks for, failing fast
// when a critical dependency cannot be reached.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.Init(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.snapshots, err = progress.NewStore(cfg.Progress.SnapshotPath, logger.Named("progress"))
	if err != nil {
		return nil, fmt.Errorf("initialize progress store: %w", err)
	}

	a.cache, err = cache.New(cfg.Storage.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("initialize document cache: %w", err)
	}

	switch cfg.Storage.Provider {
	case "gcs":
		logger.Info("using GCS object storage", zap.String("bucket", cfg.Storage.GCSBucket))
		a.storage, err = storage.NewGCSProvider(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("initialize object storage: %w", err)
		}
	case "memory":
		logger.Info("using in-memory object storage; documents are not durably archived")
		a.storage = storagememory.NewBlobStore()
	}

	switch cfg.Database.Provider {
	case "postgres":
		logger.Info("connecting to PostgreSQL")
		a.database, err = database.NewPostgresProvider(ctx, database.PostgresConfig{
			DSN:             cfg.Database.DSN,
			JudgmentsTable:  cfg.Database.JudgmentsTable,
			RunsTable:       cfg.Database.RunsTable,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: time.Duration(cfg.Database.ConnLifetime) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
	case "noop":
		logger.Info("using no-op database provider; metadata is discarded")
		a.database = &database.NoOpProvider{}
	}

	switch cfg.Queue.Provider {
	case "pubsub":
		logger.Info("connecting to Pub/Sub", zap.String("topic", cfg.Queue.TopicName))
		a.queue, err = queue.NewPubSubProvider(ctx, cfg.Queue.ProjectID, cfg.Queue.TopicName)
		if err != nil {
			return nil, fmt.Errorf("initialize queue: %w", err)
		}
	case "memory":
		logger.Info("using in-memory queue provider; notifications are recorded but not delivered")
		a.queue = queuememory.NewRecorder()
	case "noop":
		logger.Info("using no-op queue provider; no notifications are sent")
		a.queue = &queue.NoOpProvider{}
	}

	switch cfg.Portal.Driver {
	case "chromedp":
		a.portal, err = portal.NewClient(portalConfig(cfg), logger.Named("portal"))
		if err != nil {
			return nil, fmt.Errorf("initialize portal session: %w", err)
		}
	case "noop":
		logger.Info("using no-op portal driver; queries return no records")
		a.portal = portal.NewNoOpClient()
	}

	a.solver, a.closers, err = buildSolver(ctx, cfg.Captcha, logger.Named("captcha"))
	if err != nil {
		return nil, fmt.Errorf("initialize captcha solver: %w", err)
	}

	a.hub = events.NewHub(events.Config{
		BaseContext: ctx,
		Logger:      logger.Named("events"),
	}, events.NewLogSink(logger.Named("events")), events.NewMetricsSink())

	ok = true
	return a, nil
}

// Run executes one campaign run with graceful shutdown on SIGINT/SIGTERM and
// serves the status API alongside it.
func (a *App) Run(ctx context.Context) (harvest.RunResult, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// After the first signal cancels the run, restore default handling so a
	// second signal terminates the process immediately.
	go func() {
		<-ctx.Done()
		stop()
	}()

	var apiServer *http.Server
	if a.cfg.API.Enabled {
		srv := api.NewServer(a.snapshots, a.logger.Named("api"))
		apiServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.API.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("status API listening", zap.String("addr", apiServer.Addr))
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status API failed", zap.Error(err))
			}
		}()
	}

	runner, err := harvest.NewRunner(harvest.RunnerConfig{
		Campaign:         a.cfg.CampaignInfo(),
		WindowAttemptCap: a.cfg.Campaign.WindowAttemptCap,
		WindowDelay:      a.cfg.WindowDelay(),
	}, harvest.RunnerDeps{
		Portal:    a.portal,
		Gate:      a.solver,
		Snapshots: a.snapshots,
		Ledger:    database.NewLedger(a.database),
		Logger:    a.logger.Named("runner"),
		Emitter:   a.hub,
		Reconciler: harvest.ReconcilerDeps{
			Portal:   a.portal,
			Cache:    a.cache,
			Metadata: a.database,
			Objects:  a.storage,
			Notifier: a.queue,
			Hasher:   sha256.New(),
			Backoff: harvest.NewBackoffPolicy(
				a.cfg.Retry.MaxAttempts,
				time.Duration(a.cfg.Retry.BaseDelayMs)*time.Millisecond,
				time.Duration(a.cfg.Retry.MaxDelayMs)*time.Millisecond,
			),
			Logger:  a.logger.Named("reconciler"),
			Emitter: a.hub,
			Court: harvest.Court{
				Type:         a.cfg.Court.Type,
				Level:        a.cfg.Court.Level,
				Name:         a.cfg.Court.Name,
				Jurisdiction: a.cfg.Court.Jurisdiction,
			},
			ObjectBucket: a.cfg.Storage.GCSBucket,
			ObjectPrefix: a.cfg.Storage.Prefix,
			RemoveCached: a.cfg.Storage.RemoveCached,
		},
	})
	if err != nil {
		return harvest.RunResult{}, err
	}

	result, runErr := runner.Run(ctx)

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status API shutdown failed", zap.Error(err))
		}
	}
	return result, runErr
}

// Close shuts the services down in reverse order of construction. It is safe
// to call on a partially built App.
func (a *App) Close() {
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("closing events hub failed", zap.Error(err))
		}
		cancel()
	}
	if a.portal != nil {
		if err := a.portal.Close(); err != nil {
			a.logger.Warn("closing portal session failed", zap.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing captcha strategy failed", zap.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("closing queue failed", zap.Error(err))
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.logger.Warn("closing database failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("closing object storage failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func portalConfig(cfg config.Config) portal.Config {
	return portal.Config{
		BaseURL:          cfg.Portal.BaseURL,
		UserAgent:        cfg.Portal.UserAgent,
		Headless:         cfg.Portal.Headless,
		NavTimeout:       time.Duration(cfg.Portal.NavTimeoutSec) * time.Second,
		SubmitTimeout:    time.Duration(cfg.Portal.SubmitTimeoutSec) * time.Second,
		DownloadTimeout:  time.Duration(cfg.Portal.DownloadTimeout) * time.Second,
		QueriesPerMinute: cfg.Portal.QueriesPerMinute,
		MaxResultPages:   cfg.Portal.MaxResultPages,
		MaxDocumentBytes: int64(cfg.Portal.MaxDocumentMB) * 1024 * 1024,
	}
}

// buildSolver assembles the strategy chain in the configured order. The
// returned closers release strategies that hold remote clients.
func buildSolver(ctx context.Context, cfg config.CaptchaConfig, logger *zap.Logger) (*captcha.Solver, []io.Closer, error) {
	strategies := make([]captcha.Strategy, 0, len(cfg.Strategies))
	var closers []io.Closer
	for _, name := range cfg.Strategies {
		switch name {
		case "ocr":
			strategies = append(strategies, captcha.NewTesseractStrategy(cfg.TesseractBinary, cfg.TesseractWhitelist, logger))
		case "gemini":
			if cfg.GeminiProjectID == "" {
				return nil, closers, fmt.Errorf("captcha.gemini_project_id is required for the gemini strategy")
			}
			gemini, err := captcha.NewGeminiStrategy(ctx, cfg.GeminiProjectID, cfg.GeminiLocation, cfg.GeminiModel, logger)
			if err != nil {
				return nil, closers, fmt.Errorf("initialize gemini strategy: %w", err)
			}
			strategies = append(strategies, gemini)
			closers = append(closers, gemini)
		case "manual":
			strategies = append(strategies, captcha.NewManualStrategy(os.Stdin, os.Stderr, cfg.ManualSpoolDir, logger))
		default:
			return nil, closers, fmt.Errorf("unknown captcha strategy %q", name)
		}
	}
	solver, err := captcha.NewSolver(captcha.Config{
		ConfidenceThreshold:    cfg.ConfidenceThreshold,
		MaxAttemptsPerStrategy: cfg.MaxAttemptsPerStrategy,
		MaxTotalAttempts:       cfg.MaxTotalAttempts,
		MinTextLength:          cfg.MinTextLength,
		DecodeTimeout:          time.Duration(cfg.DecodeTimeoutSec) * time.Second,
	}, strategies, logger)
	return solver, closers, err
}
