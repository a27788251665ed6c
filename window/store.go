// Package window maintains per-(event type, group, time window) rolling
// occurrence counts. It is the foundational structure for threshold
// rules, cardinality rules and correlation sequencing.
package window

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/util/goroutine"
)

// SupportedWindows are the trailing window sizes, in minutes, a rule may
// count over.
var SupportedWindows = []int{1, 5, 15, 30, 60}

// maxWindow is the largest supported window; entries older than this are
// unreachable by any rule and reclaimed.
const maxWindow = 60 * time.Minute

// IsSupportedWindow reports whether a window size is one of the fixed set.
func IsSupportedWindow(minutes int) bool {
	for _, w := range SupportedWindows {
		if w == minutes {
			return true
		}
	}
	return false
}

// GroupKey builds the group value used to scope counters to an actor
// dimension, e.g. GroupKey("userId", "u1") -> "userId=u1". An empty
// value yields the global (ungrouped) key.
func GroupKey(field, value string) string {
	if value == "" {
		return ""
	}
	return field + "=" + value
}

type occurrence struct {
	ts     time.Time
	fields map[string]interface{} // event metadata, shared and immutable
}

type entryList struct {
	occurrences []occurrence // ordered by timestamp
}

// Store is the windowed counter store. Occurrences are kept ordered per
// key; stale entries are pruned lazily on read and write, with a
// periodic sweep reclaiming memory for idle keys.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entryList
	maxPerKey int

	now    func() time.Time
	logger *zap.SugaredLogger

	sweepCancel context.CancelFunc
	sweepWg     sync.WaitGroup
}

// Config tunes the store. Zero values take defaults.
type Config struct {
	// MaxPerKey bounds occurrences retained per key (default 10000).
	MaxPerKey int
	// SweepInterval is the period of the background reclaim sweep
	// (default 1m; <0 disables the sweep).
	SweepInterval time.Duration
}

// NewStore creates a counter store and starts its reclaim sweep.
func NewStore(cfg Config, logger *zap.SugaredLogger) *Store {
	if cfg.MaxPerKey <= 0 {
		cfg.MaxPerKey = 10000
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	s := &Store{
		entries:   make(map[string]*entryList),
		maxPerKey: cfg.MaxPerKey,
		now:       time.Now,
		logger:    logger,
	}
	if cfg.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.sweepCancel = cancel
		s.sweepWg.Add(1)
		go s.sweepLoop(ctx, cfg.SweepInterval)
	}
	return s
}

// SetNow overrides the store's clock. Intended for tests.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func key(eventType, group string) string {
	return eventType + "\x00" + group
}

// Record appends an occurrence of eventType under the given group. The
// fields map is retained by reference and must not be mutated by the
// caller; event metadata satisfies this because events are immutable.
func (s *Store) Record(eventType, group string, ts time.Time, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(eventType, group)
	list := s.entries[k]
	if list == nil {
		list = &entryList{}
		s.entries[k] = list
	}

	// Insert preserving timestamp order; out-of-order submission is
	// tolerated because window membership is timestamp-driven.
	occ := occurrence{ts: ts, fields: fields}
	idx := sort.Search(len(list.occurrences), func(i int) bool {
		return list.occurrences[i].ts.After(ts)
	})
	list.occurrences = append(list.occurrences, occurrence{})
	copy(list.occurrences[idx+1:], list.occurrences[idx:])
	list.occurrences[idx] = occ

	s.pruneLocked(list, s.now().Add(-maxWindow))

	if len(list.occurrences) > s.maxPerKey {
		drop := len(list.occurrences) - s.maxPerKey
		list.occurrences = list.occurrences[drop:]
	}
}

// Count returns the number of occurrences of eventType under group
// within the trailing window. Unsupported window sizes count zero.
func (s *Store) Count(eventType, group string, windowMinutes int) int {
	if !IsSupportedWindow(windowMinutes) {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[key(eventType, group)]
	if list == nil {
		return 0
	}
	cutoff := s.now().Add(-time.Duration(windowMinutes) * time.Minute)
	s.pruneLocked(list, s.now().Add(-maxWindow))
	return len(list.occurrences) - s.firstAtOrAfterLocked(list, cutoff)
}

// UniqueValues returns the distinct values of a metadata field across
// occurrences of eventType under group within the window.
func (s *Store) UniqueValues(eventType, group, fieldPath string, windowMinutes int) []string {
	if !IsSupportedWindow(windowMinutes) {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[key(eventType, group)]
	if list == nil {
		return nil
	}
	cutoff := s.now().Add(-time.Duration(windowMinutes) * time.Minute)
	seen := make(map[string]struct{})
	for i := s.firstAtOrAfterLocked(list, cutoff); i < len(list.occurrences); i++ {
		raw, ok := core.LookupPath(list.occurrences[i].fields, fieldPath)
		if !ok {
			continue
		}
		if v, ok := core.CoerceString(raw); ok {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Span reports the earliest and latest occurrence timestamps of
// eventType under group within the window, and the occurrence count.
// The correlation engine uses this for sequence ordering.
func (s *Store) Span(eventType, group string, windowMinutes int) (earliest, latest time.Time, n int) {
	if !IsSupportedWindow(windowMinutes) {
		return time.Time{}, time.Time{}, 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[key(eventType, group)]
	if list == nil {
		return time.Time{}, time.Time{}, 0
	}
	cutoff := s.now().Add(-time.Duration(windowMinutes) * time.Minute)
	start := s.firstAtOrAfterLocked(list, cutoff)
	n = len(list.occurrences) - start
	if n == 0 {
		return time.Time{}, time.Time{}, 0
	}
	return list.occurrences[start].ts, list.occurrences[len(list.occurrences)-1].ts, n
}

// firstAtOrAfterLocked returns the index of the first occurrence at or
// after the cutoff. Caller must hold at least the read lock.
func (s *Store) firstAtOrAfterLocked(list *entryList, cutoff time.Time) int {
	return sort.Search(len(list.occurrences), func(i int) bool {
		return !list.occurrences[i].ts.Before(cutoff)
	})
}

// pruneLocked drops occurrences older than the cutoff. Caller must hold
// the write lock.
func (s *Store) pruneLocked(list *entryList, cutoff time.Time) {
	idx := s.firstAtOrAfterLocked(list, cutoff)
	if idx > 0 {
		list.occurrences = list.occurrences[idx:]
	}
}

// Stats summarizes store occupancy.
type Stats struct {
	Keys        int
	Occurrences int
}

// GetStats returns current store occupancy.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Keys: len(s.entries)}
	for _, list := range s.entries {
		st.Occurrences += len(list.occurrences)
	}
	return st
}

// Stop cancels the reclaim sweep and waits for it to exit.
func (s *Store) Stop() {
	if s.sweepCancel == nil {
		return
	}
	s.sweepCancel()

	done := make(chan struct{})
	go func() {
		s.sweepWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if s.logger != nil {
			s.logger.Warn("window sweep goroutine did not stop within 5s")
		}
	}
}

// sweepLoop periodically reclaims memory held by stale keys. Lazy
// pruning already keeps counts correct; the sweep exists purely so idle
// keys do not pin memory forever.
func (s *Store) sweepLoop(ctx context.Context, interval time.Duration) {
	defer s.sweepWg.Done()
	defer goroutine.Recover("window-sweep", s.logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxWindow)
	removedKeys := 0
	for k, list := range s.entries {
		s.pruneLocked(list, cutoff)
		if len(list.occurrences) == 0 {
			delete(s.entries, k)
			removedKeys++
		}
	}
	if removedKeys > 0 && s.logger != nil {
		s.logger.Debugw("swept idle counter keys",
			"removed", removedKeys,
			"remaining", len(s.entries))
	}
}

// ValidateWindow returns an error naming the supported set when the
// window size is not one of them. Rule validation uses this to reject
// configurations the store would silently count as zero.
func ValidateWindow(minutes int) error {
	if IsSupportedWindow(minutes) {
		return nil
	}
	return fmt.Errorf("window of %d minutes is not supported (choose one of %v)", minutes, SupportedWindows)
}
