package fsengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CleanupConfig holds the orphan cleanup scheduler's tunables, per
// spec.md §4.4's parameter table.
type CleanupConfig struct {
	MinOrphanCount int
	MinOrphanAgeMs int64
	BatchSize      int
	Async          bool
}

// DefaultCleanupConfig returns the spec's documented defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MinOrphanCount: 10,
		MinOrphanAgeMs: 60_000,
		BatchSize:      100,
		Async:          true,
	}
}

// OrphanCleaner implements the orphan blob cleanup scheduler described in
// spec.md §4.4: shouldRun/RunOnce plus lastCleanup/cleanupCount/
// totalCleaned bookkeeping.
//
// Grounded on the teacher's internal/store.Store.Reconcile (diff orphan
// blobs against the index, delete best-effort) composed with
// internal/janitor's running/metrics bookkeeping style.
type OrphanCleaner struct {
	engine *Engine
	cfg    CleanupConfig

	running      atomic.Bool
	mu           sync.Mutex
	lastCleanup  int64
	cleanupCount int64
	totalCleaned int64
}

// NewOrphanCleaner returns a cleaner bound to engine.
func NewOrphanCleaner(engine *Engine, cfg CleanupConfig) *OrphanCleaner {
	return &OrphanCleaner{engine: engine, cfg: cfg}
}

// ShouldRun reports whether a cleanup pass should start: not already
// running, and the orphan count meets the configured threshold.
func (c *OrphanCleaner) ShouldRun(ctx context.Context) (bool, error) {
	if c.running.Load() {
		return false, nil
	}
	count, err := c.engine.meta.CountOrphans(ctx)
	if err != nil {
		return false, err
	}
	return count >= c.cfg.MinOrphanCount, nil
}

// Stats is a read-only snapshot of the scheduler's bookkeeping.
type Stats struct {
	LastCleanupMs int64
	CleanupCount  int64
	TotalCleaned  int64
}

// Snapshot returns the scheduler's current bookkeeping.
func (c *OrphanCleaner) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{LastCleanupMs: c.lastCleanup, CleanupCount: c.cleanupCount, TotalCleaned: c.totalCleaned}
}

// MaybeRunBackground triggers RunOnce if ShouldRun and Async are both
// true; any mutation path may call this opportunistically, per spec.md
// §4.4. Errors are swallowed here (logged by RunOnce's caller when run
// synchronously via Run).
func (c *OrphanCleaner) MaybeRunBackground(ctx context.Context) {
	if !c.cfg.Async {
		return
	}
	should, err := c.ShouldRun(ctx)
	if err != nil || !should {
		return
	}
	go func() {
		_, _ = c.RunOnce(context.Background())
	}()
}

// Run runs a cleanup pass if ShouldRun reports true, regardless of the
// Async setting; callers that want synchronous control (a CLI command, a
// test) use this instead of MaybeRunBackground.
func (c *OrphanCleaner) Run(ctx context.Context) (int, error) {
	should, err := c.ShouldRun(ctx)
	if err != nil || !should {
		return 0, err
	}
	return c.RunOnce(ctx)
}

// RunOnce selects up to BatchSize zero-refcount blobs older than
// MinOrphanAgeMs, deletes each (row plus warm/cold object), and updates
// the scheduler's bookkeeping. It does not check ShouldRun itself, so
// tests can force a pass regardless of threshold.
func (c *OrphanCleaner) RunOnce(ctx context.Context) (int, error) {
	if !c.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer c.running.Store(false)

	start := time.Now()
	defer func() {
		c.engine.metrics.Observe("orphan_cleanup_duration_ms", nil, time.Since(start).Milliseconds())
	}()

	cutoff := c.engine.nowMs() - c.cfg.MinOrphanAgeMs
	rows, err := c.engine.meta.OrphanBlobs(ctx, cutoff, c.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, row := range rows {
		t, err := c.engine.begin(ctx)
		if err != nil {
			return cleaned, err
		}
		// Re-check under transaction: a blob may have gained a reference
		// since selection.
		current, err := c.engine.meta.GetBlob(ctx, t.Tx, row.ID)
		if err != nil {
			t.rollback()
			return cleaned, err
		}
		if current == nil || current.RefCount != 0 {
			t.rollback()
			continue
		}
		if err := c.engine.blobs.DecRef(ctx, t.Tx, row.ID, row.Tier); err != nil {
			t.rollback()
			return cleaned, err
		}
		if err := t.commit(); err != nil {
			return cleaned, err
		}
		cleaned++
	}

	c.mu.Lock()
	c.lastCleanup = c.engine.nowMs()
	c.cleanupCount++
	c.totalCleaned += int64(cleaned)
	c.mu.Unlock()

	if cleaned > 0 {
		c.engine.metrics.Inc("orphan_blobs_deleted_total", nil, int64(cleaned))
	}

	return cleaned, nil
}
