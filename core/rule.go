package core

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Mechanism identifies which detection strategy a rule uses. Exactly one
// parameter block matching the mechanism must be populated.
type Mechanism string

const (
	// MechanismThreshold fires when a windowed event count reaches a limit.
	MechanismThreshold Mechanism = "pattern_threshold"
	// MechanismBehavioral checks event-type sequences or value cardinality.
	MechanismBehavioral Mechanism = "behavioral"
	// MechanismAnomaly scores a numeric field against a per-actor baseline.
	MechanismAnomaly Mechanism = "anomaly"
	// MechanismThreatIntel matches an indicator field against block lists.
	MechanismThreatIntel Mechanism = "threat_intel"
	// MechanismRuleTree evaluates a boolean condition tree over fields.
	MechanismRuleTree Mechanism = "rule_based"
	// MechanismCorrelation marks threats emitted by the correlation engine.
	MechanismCorrelation Mechanism = "correlation"
)

// IsValid reports whether the mechanism is one a DetectionRule may declare.
func (m Mechanism) IsValid() bool {
	switch m {
	case MechanismThreshold, MechanismBehavioral, MechanismAnomaly,
		MechanismThreatIntel, MechanismRuleTree:
		return true
	default:
		return false
	}
}

// ThresholdParams configures MechanismThreshold.
type ThresholdParams struct {
	// Count is the occurrence count at which the rule fires (>=).
	Count int `json:"count" bson:"count" yaml:"count" validate:"min=1"`
	// WindowMinutes must be one of the supported window sizes.
	WindowMinutes int `json:"window_minutes" bson:"window_minutes" yaml:"windowMinutes" validate:"min=1"`
	// GroupBy optionally scopes counting to a metadata key (userId, ipAddress).
	GroupBy string `json:"group_by,omitempty" bson:"group_by,omitempty" yaml:"groupBy,omitempty"`
	// CountKey names the threat metadata key carrying the observed count.
	// Defaults to "count".
	CountKey string `json:"count_key,omitempty" bson:"count_key,omitempty" yaml:"countKey,omitempty"`
}

// BehaviorParams configures MechanismBehavioral. Either Sequence or
// UniqueField must be set: Sequence declares an ordered containment of
// event types inside the window, UniqueField thresholds on the number of
// distinct values observed for a metadata field.
type BehaviorParams struct {
	Sequence        []string `json:"sequence,omitempty" bson:"sequence,omitempty" yaml:"sequence,omitempty"`
	UniqueField     string   `json:"unique_field,omitempty" bson:"unique_field,omitempty" yaml:"uniqueField,omitempty"`
	UniqueThreshold int      `json:"unique_threshold,omitempty" bson:"unique_threshold,omitempty" yaml:"uniqueThreshold,omitempty"`
	WindowMinutes   int      `json:"window_minutes" bson:"window_minutes" yaml:"windowMinutes" validate:"min=1"`
	// GroupBy scopes the check to a metadata key, defaulting to userId.
	GroupBy string `json:"group_by,omitempty" bson:"group_by,omitempty" yaml:"groupBy,omitempty"`
}

// AnomalyParams configures MechanismAnomaly.
type AnomalyParams struct {
	// BaselineField is the dot-path of the numeric field being profiled.
	BaselineField string `json:"baseline_field" bson:"baseline_field" yaml:"baselineField" validate:"required"`
	// DeviationThreshold is the z-score above which the value is anomalous.
	DeviationThreshold float64 `json:"deviation_threshold" bson:"deviation_threshold" yaml:"deviationThreshold" validate:"gt=0"`
}

// IntelParams configures MechanismThreatIntel.
type IntelParams struct {
	// IndicatorField is the dot-path of the indicator value (IP, domain, ...).
	IndicatorField string `json:"indicator_field" bson:"indicator_field" yaml:"indicatorField" validate:"required"`
	// Sources restricts the lookup to the named indicator sources; empty
	// means all loaded sources.
	Sources []string `json:"sources,omitempty" bson:"sources,omitempty" yaml:"sources,omitempty"`
}

// ResponsePolicy declares what happens when a rule fires.
type ResponsePolicy struct {
	CreateAlert       bool   `json:"create_alert" bson:"create_alert" yaml:"createAlert"`
	CreateIncident    bool   `json:"create_incident" bson:"create_incident" yaml:"createIncident"`
	AutoContainment   bool   `json:"auto_containment" bson:"auto_containment" yaml:"autoContainment"`
	ContainmentAction string `json:"containment_action,omitempty" bson:"containment_action,omitempty" yaml:"containmentAction,omitempty"`
}

// DetectionRule is a configuration entity evaluated against every
// ingested event. Rules are mutable at runtime and evaluated in
// registration order; multiple rules may fire for one event.
type DetectionRule struct {
	ID          string   `json:"id" bson:"_id" yaml:"id" validate:"required"`
	Name        string   `json:"name" bson:"name" yaml:"name" validate:"required"`
	Description string   `json:"description,omitempty" bson:"description,omitempty" yaml:"description,omitempty"`
	Type        string   `json:"type" bson:"type" yaml:"type" validate:"required"`
	Severity    Severity `json:"severity" bson:"severity" yaml:"severity"`
	Enabled     bool     `json:"enabled" bson:"enabled" yaml:"enabled"`
	// EventType restricts the rule to events of one type; empty matches all.
	EventType string    `json:"event_type,omitempty" bson:"event_type,omitempty" yaml:"eventType,omitempty"`
	Mechanism Mechanism `json:"mechanism" bson:"mechanism" yaml:"mechanism"`

	Threshold *ThresholdParams `json:"threshold,omitempty" bson:"threshold,omitempty" yaml:"threshold,omitempty"`
	Behavior  *BehaviorParams  `json:"behavior,omitempty" bson:"behavior,omitempty" yaml:"behavior,omitempty"`
	Anomaly   *AnomalyParams   `json:"anomaly,omitempty" bson:"anomaly,omitempty" yaml:"anomaly,omitempty"`
	Intel     *IntelParams     `json:"intel,omitempty" bson:"intel,omitempty" yaml:"intel,omitempty"`
	Condition *ConditionNode   `json:"condition,omitempty" bson:"condition,omitempty" yaml:"condition,omitempty"`

	Response ResponsePolicy `json:"response" bson:"response" yaml:"response"`

	CreatedAt time.Time `json:"created_at" bson:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" yaml:"-"`
}

var ruleValidator = validator.New()

// Validate checks structural validity: required identity fields, a known
// severity and mechanism, and exactly the parameter block the mechanism
// needs.
func (r *DetectionRule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("rule %q failed validation: %w", r.ID, err)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("rule %q has unknown severity %q", r.ID, r.Severity)
	}
	if !r.Mechanism.IsValid() {
		return fmt.Errorf("rule %q has unknown mechanism %q", r.ID, r.Mechanism)
	}
	switch r.Mechanism {
	case MechanismThreshold:
		if r.Threshold == nil {
			return fmt.Errorf("rule %q: mechanism %s requires threshold parameters", r.ID, r.Mechanism)
		}
	case MechanismBehavioral:
		if r.Behavior == nil {
			return fmt.Errorf("rule %q: mechanism %s requires behavior parameters", r.ID, r.Mechanism)
		}
		if len(r.Behavior.Sequence) == 0 && r.Behavior.UniqueField == "" {
			return fmt.Errorf("rule %q: behavior parameters need a sequence or a unique field", r.ID)
		}
		if r.Behavior.UniqueField != "" && r.Behavior.UniqueThreshold < 1 {
			return fmt.Errorf("rule %q: unique-value rules need a threshold of at least 1", r.ID)
		}
	case MechanismAnomaly:
		if r.Anomaly == nil {
			return fmt.Errorf("rule %q: mechanism %s requires anomaly parameters", r.ID, r.Mechanism)
		}
	case MechanismThreatIntel:
		if r.Intel == nil {
			return fmt.Errorf("rule %q: mechanism %s requires intel parameters", r.ID, r.Mechanism)
		}
	case MechanismRuleTree:
		if r.Condition == nil {
			return fmt.Errorf("rule %q: mechanism %s requires a condition tree", r.ID, r.Mechanism)
		}
	}
	if r.Response.AutoContainment && r.Response.ContainmentAction == "" {
		return fmt.Errorf("rule %q: auto containment requires a containment action", r.ID)
	}
	return nil
}
