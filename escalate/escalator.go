// Package escalate turns detected threats into alerts and, when policy
// or severity demands it, incidents and containment actions.
package escalate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/detect"
	"sentinel/metrics"
	"sentinel/notify"
	"sentinel/pubsub"
	"sentinel/respond"
	"sentinel/storage"
	"sentinel/util/goroutine"
)

// Escalator owns the threat-to-alert-to-incident flow. Persistence and
// notification run fire-and-forget so a slow store or mail relay never
// stalls the event pipeline.
type Escalator struct {
	bus        *pubsub.Bus
	stores     storage.Stores
	notifier   *notify.Notifier
	dispatcher *respond.Dispatcher
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	open map[string]string // (ruleID, actor) -> open incident id
}

// New creates an escalator. notifier may be nil when notifications are
// disabled.
func New(bus *pubsub.Bus, stores storage.Stores, notifier *notify.Notifier, dispatcher *respond.Dispatcher, logger *zap.SugaredLogger) *Escalator {
	return &Escalator{
		bus:        bus,
		stores:     stores,
		notifier:   notifier,
		dispatcher: dispatcher,
		logger:     logger,
		open:       make(map[string]string),
	}
}

// HandleThreat applies the detection's response policy: alert creation,
// incident escalation and automatic containment. It never blocks; all
// downstream IO runs on guarded goroutines. The threat itself has
// already been published by the pipeline.
func (e *Escalator) HandleThreat(detection detect.Detection) {
	threat := detection.Threat
	policy := detection.Response

	var alert *core.Alert
	if policy.CreateAlert {
		alert = e.createAlert(threat)
	}

	if policy.CreateIncident || threat.Severity == core.SeverityCritical {
		e.escalateIncident(threat, alert)
	}

	if policy.AutoContainment {
		action := policy.ContainmentAction
		goroutine.Go("containment:"+action, e.logger, func() {
			if err := e.dispatcher.Dispatch(context.Background(), action, threat); err != nil {
				e.logger.Errorw("containment dispatch failed",
					"action", action, "threat", threat.ID, "error", err)
			}
		})
	}
}

func (e *Escalator) createAlert(threat *core.Threat) *core.Alert {
	alert := &core.Alert{
		ID:            uuid.New().String(),
		Name:          threat.RuleName,
		Description:   threat.Description,
		Severity:      threat.Severity,
		Status:        core.AlertStatusOpen,
		Timestamp:     time.Now().UTC(),
		RuleID:        threat.RuleID,
		Mechanism:     threat.Mechanism,
		SourceEventID: threat.SourceEventID,
		Metadata:      threat.Metadata,
	}
	if threat.Mechanism == core.MechanismCorrelation {
		alert.CorrelationRule = threat.RuleID
	}
	if related, ok := threat.Metadata["matchedEvents"].([]string); ok {
		alert.RelatedEvents = related
	}

	metrics.AlertsGenerated.WithLabelValues(string(alert.Severity)).Inc()
	e.logger.Infow("alert generated",
		"alert", alert.ID, "rule", alert.RuleID,
		"severity", alert.Severity, "mechanism", alert.Mechanism)

	e.bus.Publish(pubsub.TopicAlert, alert)

	if e.stores.Alerts != nil {
		goroutine.Go("persist-alert", e.logger, func() {
			if err := e.stores.Alerts.SaveAlert(context.Background(), alert); err != nil {
				metrics.PersistenceFailures.WithLabelValues("alert").Inc()
				e.logger.Errorw("alert persistence failed", "alert", alert.ID, "error", err)
			}
		})
	}
	if e.notifier != nil {
		goroutine.Go("notify-alert", e.logger, func() {
			e.notifier.Notify(context.Background(), alert)
		})
	}
	return alert
}

// escalateIncident opens an incident for the threat unless one is
// already open for the same rule and actor. Actorless threats fall back
// to the source event id, so they never share a dedupe slot.
func (e *Escalator) escalateIncident(threat *core.Threat, alert *core.Alert) {
	actor := threat.Actor
	if actor == "" {
		actor = threat.SourceEventID
	}
	key := threat.RuleID + "\x00" + actor

	e.mu.Lock()
	if existing, ok := e.open[key]; ok {
		e.mu.Unlock()
		e.logger.Debugw("incident already open, not re-escalating",
			"incident", existing, "rule", threat.RuleID, "actor", actor)
		return
	}
	incident := &core.Incident{
		ID:        uuid.New().String(),
		Title:     fmt.Sprintf("%s (%s)", threat.RuleName, threat.Severity),
		Severity:  threat.Severity,
		Status:    core.IncidentStatusOpen,
		RuleID:    threat.RuleID,
		CreatedAt: time.Now().UTC(),
	}
	if alert != nil {
		incident.AlertID = alert.ID
	}
	incident.Timeline = append(incident.Timeline, core.TimelineEntry{
		Timestamp:   incident.CreatedAt,
		Action:      "CREATED",
		Description: fmt.Sprintf("escalated from threat %s via rule %s", threat.ID, threat.RuleID),
		Actor:       "system",
	})
	e.open[key] = incident.ID
	e.mu.Unlock()

	metrics.IncidentsCreated.Inc()
	e.logger.Warnw("incident created",
		"incident", incident.ID, "rule", incident.RuleID, "severity", incident.Severity)

	e.bus.Publish(pubsub.TopicIncident, incident)

	if e.stores.Incidents != nil {
		goroutine.Go("persist-incident", e.logger, func() {
			if err := e.stores.Incidents.SaveIncident(context.Background(), incident); err != nil {
				metrics.PersistenceFailures.WithLabelValues("incident").Inc()
				e.logger.Errorw("incident persistence failed", "incident", incident.ID, "error", err)
			}
		})
	}
}

// CloseIncident releases the dedupe slot for a resolved incident so the
// same rule/actor pair can escalate again.
func (e *Escalator) CloseIncident(incidentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, id := range e.open {
		if id == incidentID {
			delete(e.open, key)
			return true
		}
	}
	return false
}

// OpenIncidents returns how many incidents are currently tracked open.
func (e *Escalator) OpenIncidents() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}
