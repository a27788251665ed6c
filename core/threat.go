package core

import (
	"time"

	"github.com/google/uuid"
)

// Threat is the internal record emitted whenever a detection mechanism
// matches. It drives alert creation and, when policy demands it,
// containment.
type Threat struct {
	ID          string    `json:"threat_id" bson:"threat_id"`
	RuleID      string    `json:"rule_id" bson:"rule_id"`
	RuleName    string    `json:"rule_name" bson:"rule_name"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Category    string    `json:"category" bson:"category"`
	Mechanism   Mechanism `json:"mechanism" bson:"mechanism"`
	Severity    Severity  `json:"severity" bson:"severity"`
	// Actor is the acting user of the source event, when it carries one.
	// Escalation keys incident deduplication on it.
	Actor         string                 `json:"actor,omitempty" bson:"actor,omitempty"`
	SourceEventID string                 `json:"source_event_id" bson:"source_event_id"`
	Timestamp     time.Time              `json:"timestamp" bson:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NewThreat builds a threat for a rule match against the given event.
func NewThreat(rule *DetectionRule, event *Event, metadata map[string]interface{}) *Threat {
	return &Threat{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Description:   rule.Description,
		Category:      rule.Type,
		Mechanism:     rule.Mechanism,
		Severity:      rule.Severity,
		Actor:         event.UserID(),
		SourceEventID: event.ID,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}
}

// AlertStatus tracks the review state of an alert.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusClosed       AlertStatus = "closed"
)

// Alert is a detection result surfaced for review. Alerts are created by
// the escalation component from threats, never directly by ingress.
type Alert struct {
	ID              string                 `json:"alert_id" bson:"alert_id"`
	Name            string                 `json:"name" bson:"name"`
	Description     string                 `json:"description,omitempty" bson:"description,omitempty"`
	Severity        Severity               `json:"severity" bson:"severity"`
	Status          AlertStatus            `json:"status" bson:"status"`
	Timestamp       time.Time              `json:"timestamp" bson:"timestamp"`
	RuleID          string                 `json:"rule_id" bson:"rule_id"`
	Mechanism       Mechanism              `json:"mechanism" bson:"mechanism"`
	CorrelationRule string                 `json:"correlation_rule,omitempty" bson:"correlation_rule,omitempty"`
	SourceEventID   string                 `json:"source_event_id" bson:"source_event_id"`
	RelatedEvents   []string               `json:"related_events,omitempty" bson:"related_events,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// IncidentStatus tracks the case state of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen   IncidentStatus = "open"
	IncidentStatusClosed IncidentStatus = "closed"
)

// TimelineEntry is one append-only step in an incident's history.
type TimelineEntry struct {
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	Action      string    `json:"action" bson:"action"`
	Description string    `json:"description" bson:"description"`
	Actor       string    `json:"actor" bson:"actor"`
}

// Incident is an escalated, tracked case derived from an alert. Closure
// and assignment workflows belong to the external case-management
// surface; this core only creates incidents.
type Incident struct {
	ID        string          `json:"incident_id" bson:"incident_id"`
	Title     string          `json:"title" bson:"title"`
	Severity  Severity        `json:"severity" bson:"severity"`
	Status    IncidentStatus  `json:"status" bson:"status"`
	AlertID   string          `json:"alert_id" bson:"alert_id"`
	RuleID    string          `json:"rule_id" bson:"rule_id"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	Timeline  []TimelineEntry `json:"timeline" bson:"timeline"`
}
