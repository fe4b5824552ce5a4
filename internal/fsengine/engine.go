// Package fsengine implements the filesystem service's POSIX-flavored
// operation surface over the Metadata Store and Blob Store, with explicit
// transaction boundaries and an orphan blob cleanup scheduler.
//
// Grounded on the teacher's internal/app.Service (orchestration without
// I/O, a struct of injected ports) and internal/store.Store (tier decision
// and index/blob composition, reused here almost verbatim for cleanup and
// reconciliation).
package fsengine

import (
	"context"
	"database/sql"
	"log/slog"
	"path"
	"time"

	"github.com/dot-do/fsx/internal/blobstore"
	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/metastore"
	"github.com/dot-do/fsx/internal/pathsafe"
)

// MaxSymlinkHops bounds symlink resolution, per spec.md §4.4.
const MaxSymlinkHops = 40

// EventSink receives change events as mutations occur. The Watch
// Broadcaster implements it; the engine never delivers events itself, only
// queues them, per spec.md §4.6.
type EventSink interface {
	QueueEvent(e domain.ChangeEvent)
}

// noopSink discards events when no sink is configured.
type noopSink struct{}

func (noopSink) QueueEvent(domain.ChangeEvent) {}

// Metrics is the minimal counter/summary/histogram interface the engine
// depends on, implemented by *metrics.Manager without importing that
// package, per the teacher's internal/app.Service.Metrics port. Every
// observation carries a label set (nil for unlabeled metrics) so the
// engine can tag fs_ops_total and fs_op_duration_ms by operation name
// instead of faking a label via a name suffix.
type Metrics interface {
	Inc(name string, labels map[string]string, delta int64)
	Observe(name string, labels map[string]string, value int64)
	ObserveDuration(name string, labels map[string]string, d time.Duration)
}

// noopMetrics discards counter events when no sink is configured.
type noopMetrics struct{}

func (noopMetrics) Inc(string, map[string]string, int64)                    {}
func (noopMetrics) Observe(string, map[string]string, int64)                {}
func (noopMetrics) ObserveDuration(string, map[string]string, time.Duration) {}

// Engine is the single-writer filesystem actor. All Metadata Store
// mutations run through its exported methods, each of which opens its own
// transaction per spec.md §5; nested internal helpers share that
// transaction rather than opening savepoints (see begin).
type Engine struct {
	meta    *metastore.Store
	blobs   *blobstore.Store
	root    string
	sink    EventSink
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time

	cleanup    *OrphanCleaner
	cleanupCfg *CleanupConfig
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithEventSink wires the Watch Broadcaster (or a test double) as the
// destination for queued change events.
func WithEventSink(sink EventSink) Option { return func(e *Engine) { e.sink = sink } }

// WithMetrics wires a counter sink (the metrics.Manager, or a test double).
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithCleanupConfig overrides the orphan cleanup scheduler's defaults.
func WithCleanupConfig(cfg CleanupConfig) Option {
	return func(e *Engine) { e.cleanupCfg = &cfg }
}

// New returns an Engine rooted at root (the jail boundary every path is
// validated against via pathsafe).
func New(meta *metastore.Store, blobs *blobstore.Store, root string, opts ...Option) *Engine {
	e := &Engine{
		meta: meta, blobs: blobs, root: root,
		sink: noopSink{}, metrics: noopMetrics{}, log: slog.Default(), now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	cleanupCfg := DefaultCleanupConfig()
	if e.cleanupCfg != nil {
		cleanupCfg = *e.cleanupCfg
	}
	e.cleanup = NewOrphanCleaner(e, cleanupCfg)
	return e
}

// Cleanup returns the engine's orphan cleanup scheduler.
func (e *Engine) Cleanup() *OrphanCleaner { return e.cleanup }

func (e *Engine) nowMs() int64 { return e.now().UnixMilli() }

// validate resolves rel against the engine's jail root.
func (e *Engine) validate(rel string) (string, error) {
	return pathsafe.Validate(rel, e.root)
}

// tx wraps a single top-level transaction for one engine operation.
type tx struct {
	*sql.Tx
	ctx context.Context
}

// begin starts a transaction scoped to one public Engine method. Nested
// internal helpers take the same *tx rather than opening a new one, which
// is the engine's reading of "savepoint nesting" for multi-step mutations
// (rename subtree rewrite, recursive copy/rm, batch write): the outermost
// call owns the *sql.Tx and commits or rolls it back; nested helpers never
// do either.
func (e *Engine) begin(ctx context.Context) (*tx, error) {
	sqlTx, err := e.meta.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{Tx: sqlTx, ctx: ctx}, nil
}

func (t *tx) commit() error   { return t.Tx.Commit() }
func (t *tx) rollback() error { return t.Tx.Rollback() }

// counterFsOpsTotal and histogramFsOpDurationMs mirror
// metrics.CounterFsOpsTotal / metrics.HistogramFsOpDurationMs's string
// values without importing that package, per the port-isolation pattern
// this file already uses for the Metrics interface itself.
const (
	counterFsOpsTotal       = "fs_ops_total"
	histogramFsOpDurationMs = "fs_op_duration_ms"
)

// recordOp increments fs_ops_total and observes fs_op_duration_ms for op,
// both labeled {"op": op}; called once per successful public Engine
// method, per SPEC_FULL.md's ambient metrics section.
func (e *Engine) recordOp(op string, start time.Time) {
	labels := map[string]string{"op": op}
	e.metrics.Inc(counterFsOpsTotal, labels, 1)
	e.metrics.ObserveDuration(histogramFsOpDurationMs, labels, e.now().Sub(start))
}

func dirname(p string) string {
	d := path.Dir(p)
	return d
}

func basename(p string) string { return path.Base(p) }

func clampNLink(n int32) int32 {
	if n < 0 {
		return 0
	}
	return n
}
