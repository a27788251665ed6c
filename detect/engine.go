// Package detect implements the rule engine and the correlation engine.
// The rule engine evaluates every enabled detection rule against each
// incoming event using one of five mechanisms; the correlation engine
// matches multi-event-type attack sequences over the windowed counters.
package detect

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sentinel/baseline"
	"sentinel/core"
	"sentinel/intel"
	"sentinel/window"
)

// ErrRuleNotFound is returned by mutations addressing an unknown rule id.
var ErrRuleNotFound = errors.New("rule not found")

// Detection pairs a threat with the response policy of the rule that
// produced it, so escalation does not need to re-resolve rules that may
// have been mutated since evaluation.
type Detection struct {
	Threat   *core.Threat
	Response core.ResponsePolicy
}

// Engine holds the ordered, mutable detection rule set and evaluates it
// against incoming events. The rule slice is replaced copy-on-write on
// mutation, so an in-flight evaluation pass keeps a consistent view.
type Engine struct {
	mu    sync.RWMutex
	rules []core.DetectionRule

	windows   *window.Store
	baselines *baseline.Store
	intel     *intel.Set
	buffer    *core.EventBuffer
	logger    *zap.SugaredLogger

	eventsEvaluated atomic.Uint64
	threatsEmitted  atomic.Uint64
}

// NewEngine creates a rule engine bound to the shared stores. The rule
// set starts empty; call ResetToDefaults or AddRule to populate it.
func NewEngine(windows *window.Store, baselines *baseline.Store, intelSet *intel.Set, buffer *core.EventBuffer, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		windows:   windows,
		baselines: baselines,
		intel:     intelSet,
		buffer:    buffer,
		logger:    logger,
	}
}

// Evaluate runs every enabled rule against the event in registration
// order. All rules are evaluated; there is no short-circuiting, so one
// event may yield multiple detections. Mechanism errors (malformed
// paths, missing baselines) are logged at debug level and treated as
// non-matches.
func (e *Engine) Evaluate(event *core.Event) []Detection {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	e.eventsEvaluated.Add(1)

	var detections []Detection
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if rule.EventType != "" && rule.EventType != event.Type {
			continue
		}
		meta, matched, err := e.dispatch(rule, event)
		if err != nil {
			e.logger.Debugw("rule evaluation error treated as non-match",
				"rule", rule.ID, "mechanism", rule.Mechanism, "event", event.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}
		e.threatsEmitted.Add(1)
		detections = append(detections, Detection{
			Threat:   core.NewThreat(rule, event, meta),
			Response: rule.Response,
		})
	}
	return detections
}

func (e *Engine) dispatch(rule *core.DetectionRule, event *core.Event) (map[string]interface{}, bool, error) {
	switch rule.Mechanism {
	case core.MechanismThreshold:
		return e.evaluateThreshold(rule, event)
	case core.MechanismBehavioral:
		return e.evaluateBehavioral(rule, event)
	case core.MechanismAnomaly:
		return e.evaluateAnomaly(rule, event)
	case core.MechanismThreatIntel:
		return e.evaluateIntel(rule, event)
	case core.MechanismRuleTree:
		return e.evaluateRuleTree(rule, event)
	default:
		return nil, false, fmt.Errorf("unknown mechanism %q", rule.Mechanism)
	}
}

// AddRule inserts a rule, or replaces the existing rule with the same
// id in place, preserving its evaluation position (last write wins).
func (e *Engine) AddRule(rule core.DetectionRule) error {
	if err := validateRule(&rule); err != nil {
		return err
	}
	now := time.Now().UTC()
	rule.UpdatedAt = now

	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]core.DetectionRule, len(e.rules))
	copy(next, e.rules)
	for i := range next {
		if next[i].ID == rule.ID {
			rule.CreatedAt = next[i].CreatedAt
			next[i] = rule
			e.rules = next
			return nil
		}
	}
	rule.CreatedAt = now
	e.rules = append(next, rule)
	return nil
}

// UpdateRule replaces the rule with the given id. Unlike AddRule it
// fails with ErrRuleNotFound when the id is unknown.
func (e *Engine) UpdateRule(id string, rule core.DetectionRule) error {
	rule.ID = id
	if err := validateRule(&rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			next := make([]core.DetectionRule, len(e.rules))
			copy(next, e.rules)
			rule.CreatedAt = next[i].CreatedAt
			rule.UpdatedAt = time.Now().UTC()
			next[i] = rule
			e.rules = next
			return nil
		}
	}
	return fmt.Errorf("update rule %q: %w", id, ErrRuleNotFound)
}

// DeleteRule removes the rule with the given id. Deleting an unknown id
// is a no-op returning ErrRuleNotFound.
func (e *Engine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			next := make([]core.DetectionRule, 0, len(e.rules)-1)
			next = append(next, e.rules[:i]...)
			next = append(next, e.rules[i+1:]...)
			e.rules = next
			return nil
		}
	}
	return fmt.Errorf("delete rule %q: %w", id, ErrRuleNotFound)
}

// GetRules returns a copy of the rule set in evaluation order.
func (e *Engine) GetRules() []core.DetectionRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.DetectionRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// GetRule returns the rule with the given id.
func (e *Engine) GetRule(id string) (*core.DetectionRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			rule := e.rules[i]
			return &rule, nil
		}
	}
	return nil, fmt.Errorf("get rule %q: %w", id, ErrRuleNotFound)
}

// ResetToDefaults replaces the rule set with the embedded default
// catalog.
func (e *Engine) ResetToDefaults() error {
	defaults, err := DefaultRules()
	if err != nil {
		return err
	}
	e.setRules(defaults)
	e.logger.Infow("rule set reset to defaults", "rules", len(defaults))
	return nil
}

func (e *Engine) setRules(rules []core.DetectionRule) {
	now := time.Now().UTC()
	for i := range rules {
		if rules[i].CreatedAt.IsZero() {
			rules[i].CreatedAt = now
		}
		rules[i].UpdatedAt = now
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// validateRule combines structural rule validation with the window
// sizes the counter store actually supports.
func validateRule(rule *core.DetectionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Threshold != nil {
		if err := window.ValidateWindow(rule.Threshold.WindowMinutes); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	if rule.Behavior != nil {
		if err := window.ValidateWindow(rule.Behavior.WindowMinutes); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	return nil
}

// Stats is a point-in-time engine counters snapshot.
type Stats struct {
	RulesLoaded     int
	RulesEnabled    int
	EventsEvaluated uint64
	ThreatsEmitted  uint64
}

// GetStats returns evaluation statistics.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{
		RulesLoaded:     len(e.rules),
		EventsEvaluated: e.eventsEvaluated.Load(),
		ThreatsEmitted:  e.threatsEmitted.Load(),
	}
	for i := range e.rules {
		if e.rules[i].Enabled {
			st.RulesEnabled++
		}
	}
	return st
}
