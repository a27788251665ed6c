// Package bootstrap assembles the detection core from configuration:
// stores, engines, escalation, ingress and background maintenance.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sentinel/baseline"
	"sentinel/config"
	"sentinel/core"
	"sentinel/detect"
	"sentinel/escalate"
	"sentinel/ingest"
	"sentinel/intel"
	"sentinel/notify"
	"sentinel/pubsub"
	"sentinel/respond"
	"sentinel/storage"
	"sentinel/util/goroutine"
	"sentinel/window"
)

// intelConfigSource is the source name of the block list embedded in
// configuration.
const intelConfigSource = "config_blacklist"

// App owns every long-lived component and their shutdown order.
type App struct {
	Config *config.Config
	Logger *zap.SugaredLogger

	Buffer     *core.EventBuffer
	Windows    *window.Store
	Baselines  *baseline.Store
	Intel      *intel.Set
	Engine     *detect.Engine
	Correlator *detect.Correlator
	Bus        *pubsub.Bus
	Stores     storage.Stores
	Escalator  *escalate.Escalator
	Pipeline   *ingest.Pipeline

	mongo         *storage.MongoStore
	metricsServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLogger builds the application logger for the configured level.
func NewLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// New wires the application. In strict startup mode any initialization
// failure aborts; in graceful mode optional subsystems (persistence,
// intel files) degrade with a warning.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	strict := cfg.StartupMode == config.StartupModeStrict

	app := &App{
		Config: cfg,
		Logger: logger,
		Buffer: core.NewEventBuffer(cfg.Buffer.MaxEvents),
		Bus:    pubsub.NewBus(logger),
	}

	app.Windows = window.NewStore(window.Config{
		MaxPerKey:     cfg.Window.MaxPerKey,
		SweepInterval: time.Duration(cfg.Window.SweepIntervalSeconds) * time.Second,
	}, logger)
	app.Baselines = baseline.NewStore(baseline.Config{
		MaxSamples: cfg.Baseline.MaxSamples,
		MinSamples: cfg.Baseline.MinSamples,
	}, logger)

	app.Intel = intel.NewSet(logger)
	if len(cfg.Intel.BlacklistedIPs) > 0 {
		app.Intel.LoadSource(intelConfigSource, cfg.Intel.BlacklistedIPs)
	}
	for name, path := range cfg.Intel.SourceFiles {
		if err := app.Intel.LoadFile(name, path); err != nil {
			if strict {
				return nil, fmt.Errorf("load intel source %q: %w", name, err)
			}
			logger.Warnw("skipping unreadable intel source", "source", name, "path", path, "error", err)
		}
	}

	app.Engine = detect.NewEngine(app.Windows, app.Baselines, app.Intel, app.Buffer, logger)
	if err := app.Engine.ResetToDefaults(); err != nil {
		return nil, fmt.Errorf("load default rules: %w", err)
	}
	app.Correlator = detect.NewCorrelator(app.Windows, logger)
	if err := app.Correlator.ResetToDefaults(); err != nil {
		return nil, fmt.Errorf("load default correlation rules: %w", err)
	}

	if cfg.MongoDB.Enabled {
		mongo, err := storage.NewMongoStore(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database,
			time.Duration(cfg.MongoDB.TimeoutSeconds)*time.Second, logger)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("mongodb: %w", err)
			}
			logger.Warnw("starting without persistence", "error", err)
		} else {
			app.mongo = mongo
			app.Stores = storage.Stores{Events: mongo, Alerts: mongo, Incidents: mongo}
		}
	}

	var notifier *notify.Notifier
	if cfg.Notifications.Enabled {
		sender := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Notifications.SMTP.Host,
			Port:     cfg.Notifications.SMTP.Port,
			From:     cfg.Notifications.SMTP.From,
			Username: cfg.Notifications.SMTP.Username,
			Password: cfg.Notifications.SMTP.Password,
		})
		notifier = notify.NewNotifier(sender,
			core.Severity(cfg.Notifications.MinSeverity),
			cfg.Notifications.Recipients,
			cfg.Notifications.RatePerMinute,
			logger)
	}

	dispatcher := respond.NewDispatcher(respond.NewLogOnlyEnforcer(logger), cfg.Containment.Enabled, logger)
	app.Escalator = escalate.New(app.Bus, app.Stores, notifier, dispatcher, logger)
	app.Pipeline = ingest.New(app.Buffer, app.Windows, app.Baselines,
		app.Engine, app.Correlator, app.Escalator, app.Bus, app.Stores.Events, logger)

	return app, nil
}

// Start launches background maintenance and the metrics listener.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Stores.Events != nil {
		a.wg.Add(1)
		go a.retentionLoop(ctx)
	}

	if addr := a.Config.Metrics.ListenAddress; addr != "" {
		a.metricsServer = &http.Server{Addr: addr, Handler: promhttp.Handler()}
		goroutine.Go("metrics-listener", a.Logger, func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Errorw("metrics listener failed", "addr", addr, "error", err)
			}
		})
	}

	a.Logger.Infow("detection core started",
		"rules", len(a.Engine.GetRules()),
		"correlation_rules", len(a.Correlator.GetRules()),
		"intel_sources", a.Intel.Sources(),
		"persistence", a.Stores.Events != nil)
}

// retentionLoop periodically purges persisted events past the retention
// horizon.
func (a *App) retentionLoop(ctx context.Context) {
	defer a.wg.Done()
	defer goroutine.Recover("retention-purge", a.Logger)

	interval := time.Duration(a.Config.Retention.PurgeIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.Config.Retention.Days)
			deleted, err := a.Stores.Events.DeleteEventsBefore(ctx, cutoff)
			if err != nil {
				a.Logger.Errorw("retention purge failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.Logger.Infow("retention purge completed", "deleted", deleted, "cutoff", cutoff)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops maintenance, the metrics listener and the stores, in
// reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Logger.Warnw("metrics listener shutdown", "error", err)
		}
	}
	a.Windows.Stop()
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			a.Logger.Warnw("mongodb disconnect", "error", err)
		}
	}
	a.Logger.Info("detection core stopped")
	_ = a.Logger.Sync()
}
