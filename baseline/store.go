// Package baseline maintains per-actor running statistics over numeric
// event attributes. The anomaly mechanism scores incoming values as
// z-scores against these profiles.
package baseline

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultMaxSamples is the bounded sample window per profile (K).
	DefaultMaxSamples = 100
	// DefaultMinSamples is the observation count below which no
	// judgment is made (cold-start safety).
	DefaultMinSamples = 10
)

// Profile is a read-only snapshot of one actor/event/field baseline.
type Profile struct {
	Mean    float64
	StdDev  float64
	Samples int
}

// profile holds the bounded sample ring plus incrementally maintained
// sums. Evicting the oldest sample subtracts it from the sums, so mean
// and standard deviation stay O(1) per observation.
type profile struct {
	samples []float64
	head    int
	count   int
	sum     float64
	sumSq   float64
}

// Store is the behavioral baseline store. Profiles are created lazily
// on first observation and never explicitly deleted; memory stays
// bounded through the fixed per-profile sample window.
type Store struct {
	mu         sync.RWMutex
	profiles   map[string]*profile
	maxSamples int
	minSamples int
	logger     *zap.SugaredLogger
}

// Config tunes the store. Zero values take the defaults above.
type Config struct {
	MaxSamples int
	MinSamples int
}

// NewStore creates a baseline store.
func NewStore(cfg Config, logger *zap.SugaredLogger) *Store {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &Store{
		profiles:   make(map[string]*profile),
		maxSamples: cfg.MaxSamples,
		minSamples: cfg.MinSamples,
		logger:     logger,
	}
}

func profileKey(userID, eventType, fieldPath string) string {
	return userID + "\x00" + eventType + "\x00" + fieldPath
}

// Observe records a numeric observation for an actor/event/field,
// dropping the oldest sample once the window is full.
func (s *Store) Observe(userID, eventType, fieldPath string, value float64) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := profileKey(userID, eventType, fieldPath)
	p := s.profiles[k]
	if p == nil {
		p = &profile{samples: make([]float64, s.maxSamples)}
		s.profiles[k] = p
	}

	if p.count == len(p.samples) {
		evicted := p.samples[p.head]
		p.sum -= evicted
		p.sumSq -= evicted * evicted
		p.samples[p.head] = value
		p.head = (p.head + 1) % len(p.samples)
	} else {
		p.samples[(p.head+p.count)%len(p.samples)] = value
		p.count++
	}
	p.sum += value
	p.sumSq += value * value
}

// Baseline returns the profile snapshot for an actor/event/field. ok is
// false when fewer than the minimum sample count has been observed.
func (s *Store) Baseline(userID, eventType, fieldPath string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.profiles[profileKey(userID, eventType, fieldPath)]
	if p == nil || p.count < s.minSamples {
		return Profile{}, false
	}
	return p.snapshot(), true
}

// ZScore returns how many standard deviations a value lies from the
// actor's baseline mean. ok is false with insufficient samples or a
// zero standard deviation.
func (s *Store) ZScore(userID, eventType, fieldPath string, value float64) (float64, bool) {
	b, ok := s.Baseline(userID, eventType, fieldPath)
	if !ok || b.StdDev == 0 {
		return 0, false
	}
	return (value - b.Mean) / b.StdDev, true
}

// IsAnomaly reports whether a value deviates from a baseline by more
// than the threshold in standard deviations. A zero standard deviation
// is never anomalous, avoiding division by zero on constant profiles.
func IsAnomaly(value float64, b Profile, deviationThreshold float64) bool {
	if b.StdDev == 0 {
		return false
	}
	return math.Abs(value-b.Mean)/b.StdDev > deviationThreshold
}

func (p *profile) snapshot() Profile {
	mean := p.sum / float64(p.count)
	variance := p.sumSq/float64(p.count) - mean*mean
	if variance < 0 {
		// Floating point noise on near-constant samples.
		variance = 0
	}
	return Profile{
		Mean:    mean,
		StdDev:  math.Sqrt(variance),
		Samples: p.count,
	}
}

// Stats summarizes store occupancy.
type Stats struct {
	Profiles int
	Samples  int
}

// GetStats returns current store occupancy.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Profiles: len(s.profiles)}
	for _, p := range s.profiles {
		st.Samples += p.count
	}
	return st
}
