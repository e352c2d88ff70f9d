package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/skinscan/internal/analytics"
	"github.com/roach88/skinscan/internal/api"
	"github.com/roach88/skinscan/internal/classifier"
	"github.com/roach88/skinscan/internal/config"
	"github.com/roach88/skinscan/internal/engine"
	"github.com/roach88/skinscan/internal/observability"
	"github.com/roach88/skinscan/internal/publish"
	"github.com/roach88/skinscan/internal/scan"
	"github.com/roach88/skinscan/internal/store"
)

// mongoConnectTimeout bounds the initial connection and ping.
const mongoConnectTimeout = 10 * time.Second

// App is the wired service: store, executor, coordinator and queries.
type App struct {
	Config      *config.Config
	Store       store.RecordStore
	Pool        *engine.Pool
	Coordinator *engine.Coordinator
	Analytics   *analytics.Service
	Metrics     *observability.Metrics

	publisher *publish.Kafka
	logger    *slog.Logger
}

// NewApp builds every component from cfg. reg may be nil to skip metrics.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	labels, err := cfg.LabelSet()
	if err != nil {
		return nil, fmt.Errorf("label set: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, logger: logger}
	if reg != nil {
		app.Metrics = observability.NewMetrics(reg)
	}

	app.Store, err = openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	logger.Info("record store ready", "driver", cfg.Store.Driver)

	clf, err := newClassifier(cfg, labels)
	if err != nil {
		_ = app.Store.Close()
		return nil, err
	}

	app.Pool, err = engine.NewPool(clf, cfg.Workers,
		engine.WithPoolMetrics(app.Metrics),
		engine.WithPoolLogger(logger))
	if err != nil {
		_ = app.Store.Close()
		return nil, err
	}
	logger.Info("inference pool started", "workers", cfg.Workers, "classifier", cfg.Classifier.Mode)

	opts := []engine.CoordinatorOption{
		engine.WithLogger(logger),
		engine.WithMetrics(app.Metrics),
	}
	if cfg.KafkaEnabled() {
		app.publisher, err = publish.NewKafka(publish.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		if err != nil {
			app.Pool.Close()
			_ = app.Store.Close()
			return nil, err
		}
		opts = append(opts, engine.WithPublisher(app.publisher))
		logger.Info("publishing scan events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	app.Coordinator = engine.NewCoordinator(app.Pool, app.Store, labels, opts...)
	app.Analytics = analytics.NewService(app.Store,
		analytics.WithLocation(loc),
		analytics.WithLogger(logger))

	return app, nil
}

// Router returns the HTTP handler for the app. gatherer may be nil.
func (a *App) Router(gatherer prometheus.Gatherer) *gin.Engine {
	return api.NewServer(api.Deps{
		Ingester:       a.Coordinator,
		Queries:        a.Analytics,
		Metrics:        a.Metrics,
		Gatherer:       gatherer,
		Ping:           a.ping,
		PoolStats:      a.Pool.Stats,
		MaxUploadBytes: a.Config.MaxUploadBytes,
		Logger:         a.logger,
	}).Router()
}

// Close drains the pool, then closes the publisher and the store.
func (a *App) Close() error {
	a.Pool.Close()

	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}

func (a *App) ping(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := a.Store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.RecordStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.DriverMongo:
		cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
		defer cancel()
		st, err := store.OpenMongo(cctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return st, nil
	case config.DriverMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newClassifier(cfg *config.Config, labels *scan.LabelSet) (engine.Classifier, error) {
	switch cfg.Classifier.Mode {
	case config.ClassifierLocal:
		return classifier.NewLocal(labels, cfg.Classifier.Delay), nil
	case config.ClassifierHTTP:
		return classifier.NewHTTP(cfg.Classifier.URL, cfg.Classifier.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Classifier.Mode)
	}
}

// loadConfig reads the config named by the root flags and applies -v.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the process-wide slog handler on w.
func setupLogging(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
