// Package watch implements the Subscription Index and Watch Broadcaster:
// the filesystem service's pub/sub layer over change events.
//
// Grounded on the teacher's goroutine-owns-its-state idiom
// (internal/janitor and internal/metrics): a ticker-driven loop behind
// stop/done channels and sync.Once, here adapted to broadcaster lifecycle
// instead of periodic cleanup.
package watch

import (
	"strings"
	"sync"

	glob "github.com/ryanuber/go-glob"

	"github.com/dot-do/fsx/internal/domain"
)

// DefaultMaxPatternsPerSubscriber bounds subscriptions per connection, per
// spec.md §4.5.
const DefaultMaxPatternsPerSubscriber = domain.DefaultMaxPatternsPerSubscriber

// Index maps subscriber handles to the glob patterns they watch, and
// answers SubscribersForPath queries in the event-delivery hot path.
//
// ryanuber/go-glob handles "*" matching (held to one segment by a segment
// count check in matchPattern) and basename matching; the
// "dir/**" recursive suffix is not a shape go-glob models directly, so it
// is peeled off and handled by a plain prefix check below.
type Index struct {
	mu sync.RWMutex
	// subscriber -> set of patterns
	bySubscriber map[string]map[string]struct{}
	// pattern -> set of subscribers, for fast fan-out
	byPattern map[string]map[string]struct{}

	maxPatterns int
}

// NewIndex returns an empty Index. maxPatterns <= 0 uses the default cap.
func NewIndex(maxPatterns int) *Index {
	if maxPatterns <= 0 {
		maxPatterns = DefaultMaxPatternsPerSubscriber
	}
	return &Index{
		bySubscriber: make(map[string]map[string]struct{}),
		byPattern:    make(map[string]map[string]struct{}),
		maxPatterns:  maxPatterns,
	}
}

// Subscribe registers pattern for sub. If recursive is true and pattern has
// no glob metacharacters, it is silently rewritten to "pattern/**", per
// spec.md §4.5.
func (ix *Index) Subscribe(sub, pattern string, recursive bool) error {
	if recursive && !strings.ContainsAny(pattern, "*") {
		pattern = strings.TrimSuffix(pattern, "/") + "/**"
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	existing := ix.bySubscriber[sub]
	if existing == nil {
		existing = make(map[string]struct{})
		ix.bySubscriber[sub] = existing
	}
	if _, already := existing[pattern]; !already && len(existing) >= ix.maxPatterns {
		return domain.NewError(domain.CodeResourceExhausted, "subscription pattern cap reached")
	}
	existing[pattern] = struct{}{}

	subs := ix.byPattern[pattern]
	if subs == nil {
		subs = make(map[string]struct{})
		ix.byPattern[pattern] = subs
	}
	subs[sub] = struct{}{}
	return nil
}

// Unsubscribe removes pattern from sub's subscription set.
func (ix *Index) Unsubscribe(sub, pattern string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(sub, pattern)
}

// UnsubscribeAll removes every pattern sub holds, used on connection close.
func (ix *Index) UnsubscribeAll(sub string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for pattern := range ix.bySubscriber[sub] {
		ix.removeLocked(sub, pattern)
	}
}

func (ix *Index) removeLocked(sub, pattern string) {
	if patterns, ok := ix.bySubscriber[sub]; ok {
		delete(patterns, pattern)
		if len(patterns) == 0 {
			delete(ix.bySubscriber, sub)
		}
	}
	if subs, ok := ix.byPattern[pattern]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(ix.byPattern, pattern)
		}
	}
}

// SubscribersForPath returns the set of subscriber handles whose patterns
// match path, per spec.md §4.5's pattern semantics.
func (ix *Index) SubscribersForPath(path string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for pattern, subs := range ix.byPattern {
		if !matchPattern(pattern, path) {
			continue
		}
		for sub := range subs {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// PatternCount reports how many patterns sub currently holds.
func (ix *Index) PatternCount(sub string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.bySubscriber[sub])
}

// matchPattern implements the four pattern shapes from spec.md §4.5: exact
// match, "dir/**" recursive match, "*"-in-segment via go-glob, and basename
// match for patterns like "*.log".
func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		return path == dir || strings.HasPrefix(path, dir+"/")
	}
	// go-glob's "*" also matches "/", so a full-path match must span the same
	// number of segments to keep "*" within one segment.
	if strings.Count(pattern, "/") == strings.Count(path, "/") && glob.Glob(pattern, path) {
		return true
	}
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	return glob.Glob(pattern, base)
}
