package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/audit"
	"github.com/catastro-enricher/internal/catastro"
	"github.com/catastro-enricher/internal/config"
	"github.com/catastro-enricher/internal/db"
	"github.com/catastro-enricher/internal/etl"
	"github.com/catastro-enricher/internal/logging"
	"github.com/catastro-enricher/internal/metrics"
)

// globalOptions are the persistent flags
type globalOptions struct {
	configFile string
	logFile    string
	logLevel   string
}

// lookupFlags override lookup settings for one invocation
type lookupFlags struct {
	delay     time.Duration
	timeout   time.Duration
	refcatKey string
}

func (f *lookupFlags) apply(cfg *config.Config, changed func(string) bool) {
	if changed("delay") {
		cfg.Lookup.Delay = f.delay
	}
	if changed("timeout") {
		cfg.Lookup.Timeout = f.timeout
	}
	if changed("refcat-key") {
		cfg.GeoJSON.RefCatKey = f.refcatKey
	}
}

// app holds everything a command needs
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	client   *catastro.Client
	tracker  *audit.Tracker // nil when no database is configured
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pipeline *etl.Pipeline

	closers []func() error
}

// newApp loads configuration and wires the pipeline. adjust runs after the
// config is loaded and before it is validated again.
func newApp(ctx context.Context, opts *globalOptions, adjust func(*config.Config)) (*app, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	a := &app{cfg: cfg, log: log, closers: []func() error{closeLog}}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)

	a.client = catastro.NewClient(catastro.Config{
		Endpoint:  cfg.Lookup.Endpoint,
		Param:     cfg.Lookup.Param,
		Timeout:   cfg.Lookup.Timeout,
		UserAgent: cfg.Lookup.UserAgent,
	}, log)

	pipeOpts := []etl.Option{
		etl.WithDelay(cfg.Lookup.Delay),
		etl.WithMetrics(a.metrics),
	}

	if cfg.Database.URL != "" {
		conn, err := db.NewConnection(ctx, cfg.Database.URL)
		if err != nil {
			// the audit trail is optional, a run goes ahead without it
			log.Warn("Auditoría desactivada", zap.Error(err))
		} else {
			a.closers = append(a.closers, conn.Close)
			tracker := audit.NewTracker(conn.DB, log)
			if err := tracker.EnsureSchema(ctx); err != nil {
				log.Warn("Auditoría desactivada", zap.Error(err))
			} else {
				a.tracker = tracker
				pipeOpts = append(pipeOpts, etl.WithTracker(tracker))
			}
		}
	}

	a.pipeline = etl.NewPipeline(log, a.client, pipeOpts...)
	return a, nil
}

// Close releases the database and flushes the log, in reverse order.
// Failures are reported on stderr, since the log may be the thing failing.
func (a *app) Close() {
	a.closeTo(os.Stderr)
}

func (a *app) closeTo(w io.Writer) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintln(w, "Error al cerrar:", err)
		}
	}
}
