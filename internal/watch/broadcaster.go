package watch

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dot-do/fsx/internal/domain"
)

// Defaults for batching, per spec.md §4.6.
const (
	DefaultBatchWindowMs = 10
	DefaultMaxBatchSize  = 50
)

// Metrics is the minimal counter interface the broadcaster depends on,
// implemented by *metrics.Manager without importing that package, mirroring
// fsengine.Metrics.
type Metrics interface {
	Inc(name string, labels map[string]string, delta int64)
}

// noopMetrics discards counter events when no sink is configured.
type noopMetrics struct{}

func (noopMetrics) Inc(string, map[string]string, int64) {}

// Config tunes a Broadcaster away from the spec defaults; zero values fall
// back to the defaults.
type Config struct {
	BatchWindowMs       int64
	MaxBatchSize        int
	WindowMs            int64
	MaxMessages         int
	BurstWindowMs       int64
	BurstMaxMessages    int
	HeartbeatIntervalMs int64
	MaxMissedPongs      int
	IdleTimeoutMs       int64
	MaxSubscribers      int
	Logger              *slog.Logger
	Now                 func() int64
	Metrics             Metrics
}

// Broadcaster coalesces, batches, and delivers change events to
// subscribers registered in an Index, applying per-subscriber rate
// limiting and heartbeat-based liveness management.
//
// Grounded on the teacher's goroutine-owns-its-state idiom
// (internal/metrics.Manager.loop, internal/janitor.Janitor.loop): a single
// goroutine selects over an events channel, a batch-flush ticker, and a
// heartbeat ticker, guarded by stop/done channels and sync.Once.
type Broadcaster struct {
	index   *Index
	limiter *limiter
	cfg     Config
	log     *slog.Logger

	events chan domain.ChangeEvent
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending map[string]domain.ChangeEvent // path -> coalesced event
	subs    map[string]*subscriber
}

// New returns a Broadcaster wired to index. Call Start to launch its loop.
func New(index *Index, cfg Config) *Broadcaster {
	if cfg.BatchWindowMs <= 0 {
		cfg.BatchWindowMs = DefaultBatchWindowMs
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.HeartbeatIntervalMs <= 0 {
		cfg.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = DefaultMaxMissedPongs
	}
	if cfg.IdleTimeoutMs <= 0 {
		cfg.IdleTimeoutMs = DefaultIdleTimeoutMs
	}
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = domain.DefaultMaxSubscribers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Broadcaster{
		index:   index,
		limiter: newLimiter(cfg.WindowMs, cfg.MaxMessages, cfg.BurstWindowMs, cfg.BurstMaxMessages),
		cfg:     cfg,
		log:     cfg.Logger.With("component", "watch"),
		events:  make(chan domain.ChangeEvent, 256),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[string]domain.ChangeEvent),
		subs:    make(map[string]*subscriber),
	}
}

// Start launches the broadcaster's event loop in a new goroutine.
func (b *Broadcaster) Start() { go b.loop() }

// Stop signals the loop to exit and waits for it to drain.
func (b *Broadcaster) Stop() {
	b.once.Do(func() { close(b.stop) })
	<-b.done
}

// QueueEvent enqueues e for coalescing and eventual delivery. Mutations in
// the filesystem engine call this instead of delivering directly, per
// spec.md §4.6's "queues rather than delivers" contract.
func (b *Broadcaster) QueueEvent(e domain.ChangeEvent) {
	select {
	case b.events <- e:
	default:
		b.log.Warn("event queue full, dropping event", "path", e.Path)
	}
}

// welcomeMsg is sent to a subscriber on acceptance, per spec.md §4.6.
type welcomeMsg struct {
	Type                string `json:"type"`
	ConnectionID        string `json:"connectionId"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
	ConnectionTimeoutMs int64  `json:"connectionTimeoutMs"`
}

// Accept registers a new subscriber connection, enforcing the
// per-broadcaster cap. On success, a welcome message is sent immediately.
func (b *Broadcaster) Accept(id string, conn Conn) error {
	b.mu.Lock()
	if len(b.subs) >= b.cfg.MaxSubscribers {
		b.mu.Unlock()
		return domain.NewError(domain.CodeUnavailable, "broadcaster at capacity")
	}
	now := b.cfg.Now()
	b.subs[id] = &subscriber{
		id: id, conn: conn, state: StateOpen,
		connectedAtMs: now, lastActivityMs: now,
	}
	b.mu.Unlock()

	msg, _ := json.Marshal(welcomeMsg{
		Type: "welcome", ConnectionID: id,
		HeartbeatIntervalMs: b.cfg.HeartbeatIntervalMs,
		ConnectionTimeoutMs: b.cfg.IdleTimeoutMs,
	})
	return conn.Send(msg)
}

// Touch records activity from sub (any incoming frame), resetting the idle
// clock. A pong frame should also call ResetMissedPongs.
func (b *Broadcaster) Touch(sub string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[sub]; ok {
		s.lastActivityMs = b.cfg.Now()
	}
}

// ResetMissedPongs clears sub's missed-pong count on an incoming pong.
func (b *Broadcaster) ResetMissedPongs(sub string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[sub]; ok {
		s.missedPongs = 0
		s.lastActivityMs = b.cfg.Now()
	}
}

// Remove closes and forgets sub, called on connection close or error.
func (b *Broadcaster) Remove(sub string) {
	b.mu.Lock()
	s, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
	b.index.UnsubscribeAll(sub)
	b.limiter.Forget(sub)
}

func (b *Broadcaster) loop() {
	batchTicker := time.NewTicker(time.Duration(b.cfg.BatchWindowMs) * time.Millisecond)
	heartbeatTicker := time.NewTicker(time.Duration(b.cfg.HeartbeatIntervalMs) * time.Millisecond)
	defer func() {
		batchTicker.Stop()
		heartbeatTicker.Stop()
		close(b.done)
	}()
	for {
		select {
		case <-b.stop:
			return
		case e := <-b.events:
			b.coalesce(e)
		case <-batchTicker.C:
			b.flush()
		case <-heartbeatTicker.C:
			b.sweepHeartbeats()
		}
	}
}

func (b *Broadcaster) coalesce(e domain.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.pending[e.Path]; ok {
		b.pending[e.Path] = domain.Coalesce(existing, e)
	} else {
		b.pending[e.Path] = e
	}
	if len(b.pending) >= b.cfg.MaxBatchSize {
		go b.flush()
	}
}

func (b *Broadcaster) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := make([]domain.ChangeEvent, 0, len(b.pending))
	for _, e := range b.pending {
		batch = append(batch, e)
	}
	b.pending = make(map[string]domain.ChangeEvent)
	b.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Type.Priority() < batch[j].Type.Priority()
	})

	for _, e := range batch {
		b.deliver(e)
	}
}

// eventMsg is the wire shape of a watch frame, matching spec.md §6.3's
// event table: {type, path, oldPath?, size?, mtime?, isDirectory?}.
// OldPath/Size/Mtime/IsDirectory are omitted entirely (rather than sent
// as zero values) when the underlying ChangeEvent doesn't carry them, so
// a subscriber can distinguish "this modify had no known size" from
// "this file is now zero bytes".
type eventMsg struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	OldPath     string `json:"oldPath,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	MtimeMs     *int64 `json:"mtime,omitempty"`
	IsDirectory bool   `json:"isDirectory,omitempty"`
}

func (b *Broadcaster) deliver(e domain.ChangeEvent) {
	msg := eventMsg{Type: string(e.Type), Path: e.Path, OldPath: e.OldPath, IsDirectory: e.IsDirectory}
	if e.HasSize {
		msg.Size = &e.Size
	}
	if e.EmittedAtMs != 0 {
		msg.MtimeMs = &e.EmittedAtMs
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("marshal event", "error", err)
		return
	}
	now := b.cfg.Now()
	for _, sub := range b.index.SubscribersForPath(e.Path) {
		d := b.limiter.Allow(sub, now)
		if !d.Allowed {
			b.cfg.Metrics.Inc("watch_rate_limited_total", nil, 1)
			continue
		}
		b.mu.Lock()
		s, ok := b.subs[sub]
		b.mu.Unlock()
		if !ok || s.state != StateOpen {
			continue
		}
		if err := s.conn.Send(frame); err != nil {
			// Send failure: subscriber is gone. Cleanup happens on the
			// close/error path, not here, per spec.md §4.6.
			continue
		}
		b.cfg.Metrics.Inc("watch_events_delivered_total", nil, 1)
	}
}

type pingMsg struct {
	Type string `json:"type"`
}

// staleErrorMsg is sent to a subscriber immediately before it is closed for
// missing too many heartbeat pongs, per spec.md §4.6.
type staleErrorMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

func (b *Broadcaster) sweepHeartbeats() {
	now := b.cfg.Now()
	var stale []string
	b.mu.Lock()
	for id, s := range b.subs {
		if s.state != StateOpen {
			continue
		}
		if s.missedPongs >= b.cfg.MaxMissedPongs || now-s.lastActivityMs > b.cfg.IdleTimeoutMs {
			frame, _ := json.Marshal(staleErrorMsg{Type: "error", Code: "CONNECTION_STALE"})
			_ = s.conn.Send(frame)
			stale = append(stale, id)
			continue
		}
		frame, _ := json.Marshal(pingMsg{Type: "ping"})
		if err := s.conn.Send(frame); err != nil {
			stale = append(stale, id)
			continue
		}
		s.lastPingSentMs = now
		s.missedPongs++
	}
	b.mu.Unlock()

	for _, id := range stale {
		b.Remove(id)
	}
}
