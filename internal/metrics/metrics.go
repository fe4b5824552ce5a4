// Package metrics provides a lightweight persistent metrics manager for
// the filesystem service. It batches in-memory counter, summary, and
// histogram observations and periodically flushes them to the service's
// own SQLite database.
//
// Grounded on the teacher's internal/metrics package: the same
// channel-fed aggregator goroutine (an events channel drained by a single
// loop, a flush ticker, stop/done shutdown) and upsert-on-flush SQLite
// persistence. Generalized here with a label dimension on every
// observation and a real histogram aggregate, since the Filesystem
// Engine's per-operation counters and latencies (fs_ops_total tagged by
// op, fs_op_duration_ms bucketed by op) need more than the teacher's bare
// counter/summary pair to be useful.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Labels tags a metric observation along one or more dimensions, e.g.
// {"op": "write"} for a per-operation fs_ops_total increment.
type Labels map[string]string

// encodeKey canonicalizes a metric name and its labels into the single
// string this package uses as a storage/map key, sorting label names so
// the same label set always encodes identically regardless of the order
// the caller built the map in.
func encodeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Counter names used by the filesystem service. fs_ops_total is observed
// once per Filesystem Engine operation, labeled by op (e.g. {"op":
// "write"}); watch and blob counters carry no labels.
const (
	CounterFsOpsTotal           = "fs_ops_total"
	CounterWatchEventsDelivered = "watch_events_delivered_total"
	CounterWatchRateLimited     = "watch_rate_limited_total"
	CounterOrphanBlobsDeleted   = "orphan_blobs_deleted_total"
	CounterBlobDedupHits        = "blob_dedup_hits_total"
)

// Summary names (count/sum/min/max aggregates).
const (
	SummaryOrphanCleanupDurationMs = "orphan_cleanup_duration_ms"
	SummaryBlobDedupRatio          = "blob_dedup_ratio"
)

// Histogram names.
const (
	HistogramFsOpDurationMs = "fs_op_duration_ms"
)

// DefaultDurationBucketsMs are the bucket upper bounds (milliseconds,
// inclusive) every histogram observation is classified against, spanning
// sub-millisecond metadata lookups up to multi-second cold-tier reads.
var DefaultDurationBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started bool

	// in-memory deltas (protected by mu)
	mu         sync.Mutex
	counters   map[string]int64
	summaries  map[string]*summaryAgg
	histograms map[string]*histogramAgg
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
	eventHistogram
)

type event struct {
	kind eventKind
	key  string
	v    int64
	vf   float64
}

type summaryAgg struct {
	count int64
	sum   int64
	min   int64
	max   int64
}

// histogramAgg tracks exclusive per-bucket counts against a fixed set of
// upper bounds, plus the running count/sum needed to report an average.
// Exclusive counts are converted to Prometheus-style cumulative ("le")
// counts only when reported via HistogramSnapshot.
type histogramAgg struct {
	bounds  []float64
	buckets []int64 // len(bounds)+1; buckets[len(bounds)] is the overflow (+Inf) bucket
	count   int64
	sum     float64
}

func newHistogramAgg(bounds []float64) *histogramAgg {
	return &histogramAgg{bounds: bounds, buckets: make([]int64, len(bounds)+1)}
}

func (h *histogramAgg) observe(v float64) {
	h.count++
	h.sum += v
	for i, bound := range h.bounds {
		if v <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

func (h *histogramAgg) mergeFrom(o *histogramAgg) {
	h.count += o.count
	h.sum += o.sum
	for i, c := range o.buckets {
		h.buckets[i] += c
	}
}

// HistogramSnapshot reports a histogram's bucket counts as cumulative
// ("le") counts, Prometheus-style: Buckets[i] counts every observation
// <= Bounds[i], and the final, implicit +Inf bucket equals Count.
type HistogramSnapshot struct {
	Bounds  []float64
	Buckets []int64
	Count   int64
	Sum     float64
}

func (h *histogramAgg) snapshot() HistogramSnapshot {
	cumulative := make([]int64, len(h.bounds))
	var running int64
	for i := range h.bounds {
		running += h.buckets[i]
		cumulative[i] = running
	}
	return HistogramSnapshot{Bounds: append([]float64(nil), h.bounds...), Buckets: cumulative, Count: h.count, Sum: h.sum}
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		cfg:        cfg,
		db:         db,
		events:     make(chan event, 1024),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		counters:   make(map[string]int64),
		summaries:  make(map[string]*summaryAgg),
		histograms: make(map[string]*histogramAgg),
	}
	return m
}

// InitSchema ensures metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS metrics_counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_summaries (
			name TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			sum INTEGER NOT NULL,
			min INTEGER NOT NULL,
			max INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_histogram_buckets (
			name TEXT NOT NULL,
			bucket_idx INTEGER NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY(name, bucket_idx)
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_histogram_totals (
			name TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			sum REAL NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the background flush loop.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop signals flush loop to exit and performs a final flush.
func (m *Manager) Stop(ctx context.Context) {
	if !m.started {
		// No loop running; just flush any deltas.
		_ = m.flush(ctx)
		return
	}
	close(m.stop)
	<-m.done
	_ = m.flush(ctx)
}

// Inc increments a counter by delta (>=1), tagged with labels (nil for
// an unlabeled counter).
func (m *Manager) Inc(name string, labels map[string]string, delta int64) {
	if delta <= 0 {
		return
	}
	select {
	case m.events <- event{kind: eventInc, key: encodeKey(name, labels), v: delta}:
	default:
		// channel full; best-effort drop (could add a dropped counter later)
	}
}

// Observe records a summary observation, tagged with labels.
func (m *Manager) Observe(name string, labels map[string]string, value int64) {
	select {
	case m.events <- event{kind: eventObserve, key: encodeKey(name, labels), v: value}:
	default:
	}
}

// ObserveDuration records d (converted to milliseconds) into the named
// histogram, tagged with labels, bucketed against DefaultDurationBucketsMs.
func (m *Manager) ObserveDuration(name string, labels map[string]string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	select {
	case m.events <- event{kind: eventHistogram, key: encodeKey(name, labels), vf: ms}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.key] += ev.v
	case eventObserve:
		agg := m.summaries[ev.key]
		if agg == nil {
			agg = &summaryAgg{count: 1, sum: ev.v, min: ev.v, max: ev.v}
			m.summaries[ev.key] = agg
			return
		}
		agg.count++
		agg.sum += ev.v
		if ev.v < agg.min {
			agg.min = ev.v
		}
		if ev.v > agg.max {
			agg.max = ev.v
		}
	case eventHistogram:
		agg := m.histograms[ev.key]
		if agg == nil {
			agg = newHistogramAgg(DefaultDurationBucketsMs)
			m.histograms[ev.key] = agg
		}
		agg.observe(ev.vf)
	}
}

// Snapshot returns current (persisted + in-memory deltas) counters,
// summaries, and histograms by reading persisted state and layering
// deltas on top.
func (m *Manager) Snapshot(ctx context.Context) (counters map[string]int64, summaries map[string]summaryAgg, histograms map[string]HistogramSnapshot, err error) {
	counters = make(map[string]int64)
	summaries = make(map[string]summaryAgg)
	hists := make(map[string]*histogramAgg)

	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return nil, nil, nil, err
	}
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			rows.Close()
			return nil, nil, nil, err
		}
		counters[n] = v
	}
	rows.Close()

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return nil, nil, nil, err
	}
	for srows.Next() {
		var n string
		var c, s, mn, mx int64
		if err := srows.Scan(&n, &c, &s, &mn, &mx); err != nil {
			srows.Close()
			return nil, nil, nil, err
		}
		summaries[n] = summaryAgg{count: c, sum: s, min: mn, max: mx}
	}
	srows.Close()

	trows, err := m.db.QueryContext(ctx, `SELECT name, count, sum FROM metrics_histogram_totals`)
	if err != nil {
		return nil, nil, nil, err
	}
	for trows.Next() {
		var n string
		var c int64
		var s float64
		if err := trows.Scan(&n, &c, &s); err != nil {
			trows.Close()
			return nil, nil, nil, err
		}
		agg := newHistogramAgg(DefaultDurationBucketsMs)
		agg.count, agg.sum = c, s
		hists[n] = agg
	}
	trows.Close()

	brows, err := m.db.QueryContext(ctx, `SELECT name, bucket_idx, count FROM metrics_histogram_buckets`)
	if err != nil {
		return nil, nil, nil, err
	}
	for brows.Next() {
		var n string
		var idx int
		var c int64
		if err := brows.Scan(&n, &idx, &c); err != nil {
			brows.Close()
			return nil, nil, nil, err
		}
		agg := hists[n]
		if agg == nil {
			agg = newHistogramAgg(DefaultDurationBucketsMs)
			hists[n] = agg
		}
		if idx >= 0 && idx < len(agg.buckets) {
			agg.buckets[idx] = c
		}
	}
	brows.Close()

	m.mu.Lock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, agg := range m.summaries {
		cur := summaries[n]
		if cur.count == 0 {
			summaries[n] = *agg
			continue
		}
		cur.count += agg.count
		cur.sum += agg.sum
		if agg.min < cur.min {
			cur.min = agg.min
		}
		if agg.max > cur.max {
			cur.max = agg.max
		}
		summaries[n] = cur
	}
	for n, agg := range m.histograms {
		cur := hists[n]
		if cur == nil {
			cur = newHistogramAgg(DefaultDurationBucketsMs)
			hists[n] = cur
		}
		cur.mergeFrom(agg)
	}
	m.mu.Unlock()

	histograms = make(map[string]HistogramSnapshot, len(hists))
	for n, agg := range hists {
		histograms[n] = agg.snapshot()
	}
	return counters, summaries, histograms, nil
}

// flush writes in-memory deltas to SQLite in a single transaction and resets them.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if len(m.counters) == 0 && len(m.summaries) == 0 && len(m.histograms) == 0 {
		m.mu.Unlock()
		return nil
	}
	cCopy := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		cCopy[k] = v
	}
	sCopy := make(map[string]*summaryAgg, len(m.summaries))
	for k, v := range m.summaries {
		cp := *v
		sCopy[k] = &cp
	}
	hCopy := make(map[string]*histogramAgg, len(m.histograms))
	for k, v := range m.histograms {
		cp := *v
		cp.buckets = append([]int64(nil), v.buckets...)
		hCopy[k] = &cp
	}
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]*summaryAgg)
	m.histograms = make(map[string]*histogramAgg)
	m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for name, delta := range cCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			tx.Rollback()
			return err
		}
	}
	for name, agg := range sCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?) ON CONFLICT(name) DO UPDATE SET count = metrics_summaries.count + excluded.count, sum = metrics_summaries.sum + excluded.sum, min = MIN(metrics_summaries.min, excluded.min), max = MAX(metrics_summaries.max, excluded.max)`, name, agg.count, agg.sum, agg.min, agg.max); err != nil {
			tx.Rollback()
			return err
		}
	}
	for name, agg := range hCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_histogram_totals(name,count,sum) VALUES(?,?,?) ON CONFLICT(name) DO UPDATE SET count = metrics_histogram_totals.count + excluded.count, sum = metrics_histogram_totals.sum + excluded.sum`, name, agg.count, agg.sum); err != nil {
			tx.Rollback()
			return err
		}
		for idx, c := range agg.buckets {
			if c == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_histogram_buckets(name,bucket_idx,count) VALUES(?,?,?) ON CONFLICT(name,bucket_idx) DO UPDATE SET count = metrics_histogram_buckets.count + excluded.count`, name, idx, c); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}
