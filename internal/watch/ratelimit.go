package watch

import "sync"

// RateLimitDefaults from spec.md §4.6.
const (
	DefaultWindowMs          = 1000
	DefaultMaxMessages       = 100
	DefaultBurstWindowMs     = 100
	DefaultBurstMaxMessages  = 20
)

// limiter is a dual sliding-window rate limiter keyed per subscriber: a
// long window (default 1000ms / 100 msgs) and a short burst window
// (default 100ms / 20 msgs). Hand-rolled rather than golang.org/x/time/rate
// because the spec's two independent windows with independent caps is not
// what a single token bucket models; x/time/rate is used instead at the
// rpcx HTTP ingress layer, where a token bucket is the right shape.
type limiter struct {
	windowMs         int64
	maxMessages      int
	burstWindowMs    int64
	burstMaxMessages int

	mu        sync.Mutex
	stamps    map[string][]int64 // subscriber -> recent send timestamps (ms), ascending
}

// newLimiter returns a limiter using the spec defaults unless overridden.
func newLimiter(windowMs int64, maxMessages int, burstWindowMs int64, burstMaxMessages int) *limiter {
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if burstWindowMs <= 0 {
		burstWindowMs = DefaultBurstWindowMs
	}
	if burstMaxMessages <= 0 {
		burstMaxMessages = DefaultBurstMaxMessages
	}
	return &limiter{
		windowMs: windowMs, maxMessages: maxMessages,
		burstWindowMs: burstWindowMs, burstMaxMessages: burstMaxMessages,
		stamps: make(map[string][]int64),
	}
}

// decision reports whether a send is allowed, and if not, the suggested
// retry-after delay and whether the burst window (rather than the long
// window) was the one that tripped.
type decision struct {
	Allowed      bool
	RetryAfterMs int64
	BurstTripped bool
}

// Allow records an attempted send at nowMs for sub and reports whether it
// may proceed.
func (l *limiter) Allow(sub string, nowMs int64) decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.stamps[sub]
	stamps = prune(stamps, nowMs-l.windowMs)
	burstCount := countSince(stamps, nowMs-l.burstWindowMs)

	if burstCount >= l.burstMaxMessages {
		oldest := stamps[len(stamps)-burstCount]
		l.stamps[sub] = stamps
		return decision{Allowed: false, RetryAfterMs: oldest + l.burstWindowMs - nowMs, BurstTripped: true}
	}
	if len(stamps) >= l.maxMessages {
		oldest := stamps[0]
		l.stamps[sub] = stamps
		return decision{Allowed: false, RetryAfterMs: oldest + l.windowMs - nowMs, BurstTripped: false}
	}

	stamps = append(stamps, nowMs)
	l.stamps[sub] = stamps
	return decision{Allowed: true}
}

// Forget discards a subscriber's rate-limit history, called on disconnect.
func (l *limiter) Forget(sub string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.stamps, sub)
}

func prune(stamps []int64, cutoff int64) []int64 {
	i := 0
	for i < len(stamps) && stamps[i] < cutoff {
		i++
	}
	return stamps[i:]
}

func countSince(stamps []int64, cutoff int64) int {
	i := 0
	for i < len(stamps) && stamps[i] < cutoff {
		i++
	}
	return len(stamps) - i
}
