package detect

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/window"
)

// ErrCorrelationRuleNotFound is returned by mutations addressing an
// unknown correlation rule id.
var ErrCorrelationRuleNotFound = errors.New("correlation rule not found")

// CorrelationCondition is one per-event-type requirement of a
// correlation rule. After names another condition's event type whose
// latest occurrence must precede this condition's earliest one.
type CorrelationCondition struct {
	MinCount      int    `json:"min_count" bson:"min_count" yaml:"minCount"`
	WindowMinutes int    `json:"window_minutes" bson:"window_minutes" yaml:"windowMinutes"`
	After         string `json:"after,omitempty" bson:"after,omitempty" yaml:"after,omitempty"`
}

// CorrelationRule describes a staged multi-event-type attack pattern.
// It fires only when every declared condition holds simultaneously
// relative to the incoming event.
type CorrelationRule struct {
	ID          string                          `json:"id" bson:"_id" yaml:"id"`
	Name        string                          `json:"name" bson:"name" yaml:"name"`
	Description string                          `json:"description,omitempty" bson:"description,omitempty" yaml:"description,omitempty"`
	Category    string                          `json:"type" bson:"type" yaml:"type"`
	Severity    core.Severity                   `json:"severity" bson:"severity" yaml:"severity"`
	Enabled     bool                            `json:"enabled" bson:"enabled" yaml:"enabled"`
	GroupBy     string                          `json:"group_by,omitempty" bson:"group_by,omitempty" yaml:"groupBy,omitempty"`
	Conditions  map[string]CorrelationCondition `json:"conditions" bson:"conditions" yaml:"conditions"`
	Response    core.ResponsePolicy             `json:"response" bson:"response" yaml:"response"`
}

// Validate checks a correlation rule's structural validity.
func (r *CorrelationRule) Validate() error {
	if r.ID == "" || r.Name == "" {
		return fmt.Errorf("correlation rule needs id and name")
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("correlation rule %q has unknown severity %q", r.ID, r.Severity)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("correlation rule %q declares no conditions", r.ID)
	}
	for eventType, cond := range r.Conditions {
		if cond.MinCount < 1 {
			return fmt.Errorf("correlation rule %q: condition %q needs min count of at least 1", r.ID, eventType)
		}
		if err := window.ValidateWindow(cond.WindowMinutes); err != nil {
			return fmt.Errorf("correlation rule %q: condition %q: %w", r.ID, eventType, err)
		}
		if cond.After != "" {
			if _, ok := r.Conditions[cond.After]; !ok {
				return fmt.Errorf("correlation rule %q: condition %q refers to undeclared type %q", r.ID, eventType, cond.After)
			}
			if cond.After == eventType {
				return fmt.Errorf("correlation rule %q: condition %q cannot follow itself", r.ID, eventType)
			}
		}
	}
	return nil
}

// Correlator is the cross-event-type pattern matcher. It reads the same
// windowed counter store the rule engine thresholds against.
type Correlator struct {
	mu      sync.RWMutex
	rules   []CorrelationRule
	windows *window.Store
	logger  *zap.SugaredLogger
}

// NewCorrelator creates a correlation engine over the counter store.
func NewCorrelator(windows *window.Store, logger *zap.SugaredLogger) *Correlator {
	return &Correlator{windows: windows, logger: logger}
}

// Correlate evaluates every enabled correlation rule whose conditions
// mention the incoming event's type. A rule fires only when all of its
// conditions are satisfied simultaneously, including declared ordering.
func (c *Correlator) Correlate(event *core.Event) []Detection {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	var detections []Detection
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if _, ok := rule.Conditions[event.Type]; !ok {
			continue
		}
		meta, matched := c.match(rule, event)
		if !matched {
			continue
		}
		detections = append(detections, Detection{
			Threat: &core.Threat{
				ID:            uuid.New().String(),
				RuleID:        rule.ID,
				RuleName:      rule.Name,
				Description:   rule.Description,
				Category:      rule.Category,
				Mechanism:     core.MechanismCorrelation,
				Severity:      rule.Severity,
				Actor:         event.UserID(),
				SourceEventID: event.ID,
				Timestamp:     time.Now().UTC(),
				Metadata:      meta,
			},
			Response: rule.Response,
		})
	}
	return detections
}

type conditionSpan struct {
	earliest time.Time
	latest   time.Time
	count    int
}

func (c *Correlator) match(rule *CorrelationRule, event *core.Event) (map[string]interface{}, bool) {
	group := ""
	if rule.GroupBy != "" {
		value, ok := event.StringField("metadata." + rule.GroupBy)
		if !ok {
			return nil, false
		}
		group = window.GroupKey(rule.GroupBy, value)
	}

	spans := make(map[string]conditionSpan, len(rule.Conditions))
	for eventType, cond := range rule.Conditions {
		earliest, latest, n := c.windows.Span(eventType, group, cond.WindowMinutes)
		if n < cond.MinCount {
			return nil, false
		}
		spans[eventType] = conditionSpan{earliest: earliest, latest: latest, count: n}
	}

	// Ordering: the predecessor stage must be complete before the
	// current stage begins.
	for eventType, cond := range rule.Conditions {
		if cond.After == "" {
			continue
		}
		if !spans[cond.After].latest.Before(spans[eventType].earliest) {
			return nil, false
		}
	}

	counts := make(map[string]interface{}, len(spans))
	types := make([]string, 0, len(spans))
	for eventType, span := range spans {
		counts[eventType] = span.count
		types = append(types, eventType)
	}
	sort.Strings(types)
	meta := map[string]interface{}{
		"conditionCounts": counts,
		"eventTypes":      types,
	}
	if rule.GroupBy != "" {
		meta[rule.GroupBy], _ = event.StringField("metadata." + rule.GroupBy)
	}
	return meta, true
}

// AddRule inserts a correlation rule or replaces one with the same id.
func (c *Correlator) AddRule(rule CorrelationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]CorrelationRule, len(c.rules))
	copy(next, c.rules)
	for i := range next {
		if next[i].ID == rule.ID {
			next[i] = rule
			c.rules = next
			return nil
		}
	}
	c.rules = append(next, rule)
	return nil
}

// DeleteRule removes a correlation rule by id.
func (c *Correlator) DeleteRule(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].ID == id {
			next := make([]CorrelationRule, 0, len(c.rules)-1)
			next = append(next, c.rules[:i]...)
			next = append(next, c.rules[i+1:]...)
			c.rules = next
			return nil
		}
	}
	return fmt.Errorf("delete correlation rule %q: %w", id, ErrCorrelationRuleNotFound)
}

// GetRules returns a copy of the correlation rule set.
func (c *Correlator) GetRules() []CorrelationRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CorrelationRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// ResetToDefaults replaces the correlation rules with the embedded
// default catalog.
func (c *Correlator) ResetToDefaults() error {
	defaults, err := DefaultCorrelationRules()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = defaults
	c.mu.Unlock()
	c.logger.Infow("correlation rules reset to defaults", "rules", len(defaults))
	return nil
}
