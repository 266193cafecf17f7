package etl

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/catastro"
	"github.com/catastro-enricher/internal/logging"
	"github.com/catastro-enricher/internal/metrics"
	"github.com/catastro-enricher/internal/normalize"
	"github.com/catastro-enricher/internal/recovery"
	"github.com/catastro-enricher/internal/refcat"
)

// Run kinds, used in logs, audit rows and metrics
const (
	KindProcess      = "process"
	KindMergeGeoJSON = "merge-geojson"
	KindUpdateJSON   = "update-json"
	KindLookup       = "lookup"
)

// DefaultDelay is the pause between two successive remote lookups
const DefaultDelay = 500 * time.Millisecond

// Tracker receives the audit trail of a run. *audit.Tracker implements it.
type Tracker interface {
	StartRun(ctx context.Context, kind, input string) (uuid.UUID, error)
	RecordLookup(ctx context.Context, runID uuid.UUID, code refcat.Code, rec refcat.Record, outcome string) error
	FinishRun(ctx context.Context, runID uuid.UUID, summary map[string]int, runErr error) error
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pipeline wires the stages together. Rows and features are handled one at
// a time in source order.
type Pipeline struct {
	log      *zap.Logger
	resolver catastro.Resolver
	delay    time.Duration
	sleep    SleepFunc
	tracker  Tracker
	metrics  *metrics.Metrics
	decoder  *recovery.Decoder
	now      func() time.Time
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithDelay sets the pause between remote lookups
func WithDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.delay = d }
}

// WithSleep replaces the wait used for throttling
func WithSleep(fn SleepFunc) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// WithTracker enables the audit trail
func WithTracker(t Tracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithDecoder replaces the document decoder
func WithDecoder(d *recovery.Decoder) Option {
	return func(p *Pipeline) { p.decoder = d }
}

// NewPipeline creates a pipeline. resolver may be nil when only the
// merge operations are used.
func NewPipeline(log *zap.Logger, resolver catastro.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:      log,
		resolver: resolver,
		delay:    DefaultDelay,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.decoder == nil {
		p.decoder = recovery.NewDecoder(log)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessStats counts what happened during one enrichment run
type ProcessStats struct {
	Rows       int // data rows read
	Written    int // rows written to the output
	Resolved   int // rows written with a known year
	Lookups    int // remote calls made
	Failed     int // remote calls that failed
	Multiple   int // remote calls answered with several sub-properties
	Cached     int // rows answered from an earlier lookup of the same code
	Empty      int // rows with an empty reference code
	Short      int // rows too short to hold the reference code
	Unreadable int // rows the CSV reader rejected
}

// Summary flattens the counters for the audit trail
func (s *ProcessStats) Summary() map[string]int {
	return map[string]int{
		"rows":       s.Rows,
		"written":    s.Written,
		"resolved":   s.Resolved,
		"lookups":    s.Lookups,
		"failed":     s.Failed,
		"multiple":   s.Multiple,
		"cached":     s.Cached,
		"empty":      s.Empty,
		"short":      s.Short,
		"unreadable": s.Unreadable,
	}
}

// Process enriches every row of in with the construction year and address
// of its reference code and writes the result to out. The output header is
// the input header plus AnnoConstruccion and Direccion.
func (p *Pipeline) Process(ctx context.Context, in io.Reader, out io.Writer) (*ProcessStats, error) {
	return p.process(ctx, "-", in, out)
}

func (p *Pipeline) process(ctx context.Context, name string, in io.Reader, out io.Writer) (stats *ProcessStats, err error) {
	if p.resolver == nil {
		return nil, errors.New("pipeline has no resolver")
	}

	stats = &ProcessStats{}
	run := p.startRun(ctx, KindProcess, name)
	defer func() { p.finishRun(ctx, run, stats.Summary(), err) }()
	log := run.log

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return stats, refcat.E(refcat.KindMissingColumn, "etl.process", errors.New("empty file, no header row"))
		}
		return stats, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = normalize.Field(header[i])
	}

	refIdx := -1
	for i, h := range header {
		if h == refcat.ColumnRefCat {
			refIdx = i
			break
		}
	}
	if refIdx < 0 {
		log.Error("El archivo CSV debe contener una columna 'RefCat'")
		return stats, refcat.E(refcat.KindMissingColumn, "etl.process", fmt.Errorf("column %q not found", refcat.ColumnRefCat))
	}

	writer := csv.NewWriter(out)
	outHeader := append(append([]string{}, header...), refcat.ColumnYear, refcat.ColumnAddress)
	if err := writer.Write(outHeader); err != nil {
		return stats, refcat.E(refcat.KindEncode, "etl.process", err)
	}

	memo := make(map[refcat.Code]refcat.Record)
	for {
		if err := ctx.Err(); err != nil {
			writer.Flush()
			log.Warn("Procesamiento cancelado", zap.Int("rows", stats.Rows))
			return stats, err
		}

		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		stats.Rows++
		if readErr != nil {
			log.Warn("Error leyendo fila", zap.Int("row", stats.Rows), zap.Error(readErr))
			stats.Unreadable++
			continue
		}

		if len(row) <= refIdx {
			log.Warn("Fila sin columna RefCat", zap.Int("row", stats.Rows))
			stats.Short++
			continue
		}

		code := refcat.ParseCode(row[refIdx])
		var rec refcat.Record
		switch {
		case code.Empty():
			log.Info("RefCat vacía", zap.Int("row", stats.Rows))
			stats.Empty++

		default:
			cached, seen := memo[code]
			if seen {
				stats.Cached++
				p.metrics.ObserveLookup(OutcomeCached, 0)
				rec = cached
				break
			}
			if err := p.throttle(ctx, stats); err != nil {
				writer.Flush()
				return stats, err
			}
			rec, _ = p.lookup(ctx, run, code, stats)
			memo[code] = rec
		}

		if rec.Known() {
			stats.Resolved++
		}
		if err := writer.Write(append(row, rec.YearString(), rec.Address)); err != nil {
			return stats, refcat.E(refcat.KindEncode, "etl.process", err)
		}
		stats.Written++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return stats, refcat.E(refcat.KindEncode, "etl.process", err)
	}

	log.Info("Procesamiento completado",
		zap.Int("rows", stats.Rows),
		zap.Int("resolved", stats.Resolved),
		zap.Int("multiple", stats.Multiple),
		zap.Int("failed", stats.Failed),
		zap.Int("cached", stats.Cached))
	return stats, nil
}

// throttle waits the configured delay when a remote call was already made
// in this run
func (p *Pipeline) throttle(ctx context.Context, stats *ProcessStats) error {
	if stats.Lookups == 0 || p.delay <= 0 {
		return nil
	}
	return p.sleep(ctx, p.delay)
}

// lookup performs one remote call and records its outcome
func (p *Pipeline) lookup(ctx context.Context, run *runState, code refcat.Code, stats *ProcessStats) (refcat.Record, string) {
	run.log.Info("Consultando", zap.String("refcat", code.String()))
	start := p.now()
	result := p.resolver.Query(ctx, code)
	elapsed := p.now().Sub(start)
	rec := p.resolver.Reduce(code, result)

	stats.Lookups++
	switch result.(type) {
	case catastro.Multiple:
		stats.Multiple++
	case catastro.Failure:
		stats.Failed++
	}

	outcome := catastro.Outcome(result)
	p.metrics.ObserveLookup(outcome, elapsed)
	if run.audited {
		if err := p.tracker.RecordLookup(ctx, run.id, code, rec, outcome); err != nil {
			run.log.Warn("No se pudo registrar la consulta", zap.String("refcat", code.String()), zap.Error(err))
		}
	}
	return rec, outcome
}

// runState is the bookkeeping of one run
type runState struct {
	id      uuid.UUID
	kind    string
	audited bool
	log     *zap.Logger
	done    func()
}

func (p *Pipeline) startRun(ctx context.Context, kind, input string) *runState {
	run := &runState{id: uuid.New(), kind: kind}
	if p.tracker != nil {
		id, err := p.tracker.StartRun(ctx, kind, input)
		if err != nil {
			p.log.Warn("No se pudo registrar el inicio de la ejecución", zap.Error(err))
		} else {
			run.id = id
			run.audited = true
		}
	}
	run.log = p.log.With(zap.String("run_id", run.id.String()), zap.String("kind", kind))
	run.log.Info("Inicio del proceso", zap.String("input", input))
	run.done = logging.Timing(run.log, kind)
	return run
}

func (p *Pipeline) finishRun(ctx context.Context, run *runState, summary map[string]int, runErr error) {
	run.done()
	p.metrics.ObserveRun(run.kind, runErr)
	if runErr != nil {
		run.log.Error("Proceso terminado con error", zap.Error(runErr))
	}
	if !run.audited {
		return
	}
	// a cancelled run is still recorded
	if err := p.tracker.FinishRun(context.WithoutCancel(ctx), run.id, summary, runErr); err != nil {
		run.log.Warn("No se pudo registrar el fin de la ejecución", zap.Error(err))
	}
}
