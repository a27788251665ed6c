package core

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies events, threats and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering of a severity, higher means more severe.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// IsValid checks whether the severity is one of the known levels.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// String returns the string representation.
func (s Severity) String() string {
	return string(s)
}

// Common metadata keys shared by event producers.
const (
	MetaUserID     = "userId"
	MetaIPAddress  = "ipAddress"
	MetaDataSize   = "dataSize"
	MetaResourceID = "resourceId"
	MetaCountry    = "country"
	MetaHourOfDay  = "hourOfDay"
)

// Event is an immutable record of a security-relevant occurrence.
// It is created once by the ingress pipeline and never mutated afterwards.
type Event struct {
	ID        string                 `json:"event_id" bson:"event_id" yaml:"id"`
	Type      string                 `json:"event_type" bson:"event_type" yaml:"type"`
	Severity  Severity               `json:"severity" bson:"severity" yaml:"severity"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp" yaml:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata" bson:"metadata" yaml:"metadata"`
}

// NewEvent creates an Event of the given type with a generated UUID,
// the current UTC timestamp and an empty metadata map.
func NewEvent(eventType string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  SeverityLow,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
}

// UserID returns the acting user recorded in metadata, if any.
func (e *Event) UserID() string {
	s, _ := e.StringField("metadata." + MetaUserID)
	return s
}

// IPAddress returns the source address recorded in metadata, if any.
func (e *Event) IPAddress() string {
	s, _ := e.StringField("metadata." + MetaIPAddress)
	return s
}
