package watch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dot-do/fsx/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   bool
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.NewError(domain.CodeUnavailable, "conn closed")
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *Index) {
	t.Helper()
	ix := NewIndex(0)
	b := New(ix, Config{BatchWindowMs: 5, MaxBatchSize: 50})
	b.Start()
	t.Cleanup(b.Stop)
	return b, ix
}

func TestAcceptSendsWelcome(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	conn := &fakeConn{}
	if err := b.Accept("c1", conn); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if conn.count() != 1 {
		t.Fatalf("expected welcome frame sent, got %d frames", conn.count())
	}
	var msg welcomeMsg
	if err := json.Unmarshal(conn.last(), &msg); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if msg.Type != "welcome" || msg.ConnectionID != "c1" {
		t.Fatalf("unexpected welcome: %+v", msg)
	}
}

func TestAcceptRejectsOverCapacity(t *testing.T) {
	ix := NewIndex(0)
	b := New(ix, Config{MaxSubscribers: 1})
	b.Start()
	defer b.Stop()
	if err := b.Accept("c1", &fakeConn{}); err != nil {
		t.Fatalf("Accept c1: %v", err)
	}
	err := b.Accept("c2", &fakeConn{})
	if code, ok := domain.CodeOf(err); !ok || code != domain.CodeUnavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestDeliveryToMatchingSubscriber(t *testing.T) {
	b, ix := newTestBroadcaster(t)
	conn := &fakeConn{}
	b.Accept("c1", conn)
	if err := ix.Subscribe("c1", "/a/b.txt", false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.QueueEvent(domain.ChangeEvent{Type: domain.EventModify, Path: "/a/b.txt"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if conn.count() >= 2 { // welcome + event
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if conn.count() < 2 {
		t.Fatalf("expected event delivered, got %d frames", conn.count())
	}
	var msg eventMsg
	if err := json.Unmarshal(conn.last(), &msg); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if msg.Type != "modify" || msg.Path != "/a/b.txt" {
		t.Fatalf("unexpected event: %+v", msg)
	}
}

func TestSweepHeartbeatsEvictsStaleConnectionWithErrorFrame(t *testing.T) {
	ix := NewIndex(0)
	clockMs := int64(0)
	b := New(ix, Config{
		BatchWindowMs:       5,
		HeartbeatIntervalMs: 5,
		MaxMissedPongs:      3,
		IdleTimeoutMs:       1_000_000,
		Now:                 func() int64 { return clockMs },
	})
	conn := &fakeConn{}
	if err := b.Accept("c1", conn); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	b.mu.Lock()
	b.subs["c1"].missedPongs = 3
	b.mu.Unlock()

	b.sweepHeartbeats()

	if !conn.closed {
		t.Fatalf("expected stale connection to be closed")
	}
	var msg staleErrorMsg
	if err := json.Unmarshal(conn.last(), &msg); err != nil {
		t.Fatalf("unmarshal stale error: %v", err)
	}
	if msg.Type != "error" || msg.Code != "CONNECTION_STALE" {
		t.Fatalf("unexpected stale frame: %+v", msg)
	}
	if got := ix.SubscribersForPath("/a"); len(got) != 0 {
		t.Fatalf("expected subscriptions removed, got %v", got)
	}
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *fakeMetrics) Inc(name string, labels map[string]string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[name] += delta
}

func (m *fakeMetrics) get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func TestDeliverRecordsDeliveredAndRateLimitedCounters(t *testing.T) {
	ix := NewIndex(0)
	fm := &fakeMetrics{}
	b := New(ix, Config{
		BatchWindowMs:    5,
		WindowMs:         1_000,
		MaxMessages:      1,
		BurstWindowMs:    1_000,
		BurstMaxMessages: 1,
		Metrics:          fm,
	})
	b.Start()
	t.Cleanup(b.Stop)

	conn := &fakeConn{}
	if err := b.Accept("c1", conn); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := ix.Subscribe("c1", "/*", false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.QueueEvent(domain.ChangeEvent{Type: domain.EventModify, Path: "/a.txt"})
	b.QueueEvent(domain.ChangeEvent{Type: domain.EventModify, Path: "/b.txt"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fm.get("watch_rate_limited_total") > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if fm.get("watch_events_delivered_total") < 1 {
		t.Fatalf("expected at least one delivered event counted")
	}
	if fm.get("watch_rate_limited_total") < 1 {
		t.Fatalf("expected at least one rate-limited event counted")
	}
}

func TestRemoveUnsubscribesAndCloses(t *testing.T) {
	b, ix := newTestBroadcaster(t)
	conn := &fakeConn{}
	b.Accept("c1", conn)
	ix.Subscribe("c1", "/a", false)
	b.Remove("c1")
	if !conn.closed {
		t.Fatalf("expected connection closed")
	}
	if got := ix.SubscribersForPath("/a"); len(got) != 0 {
		t.Fatalf("expected subscription removed, got %v", got)
	}
}
