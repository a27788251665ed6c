package escalate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/detect"
	"sentinel/notify"
	"sentinel/pubsub"
	"sentinel/respond"
	"sentinel/storage"
)

type escalatorEnv struct {
	escalator *Escalator
	bus       *pubsub.Bus
	alerts    *storage.MockAlertStore
	incidents *storage.MockIncidentStore
	sender    *notify.MockSender
}

func newEscalatorEnv(t *testing.T) *escalatorEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()
	stores, _, alerts, incidents := storage.NewMockStores()
	sender := notify.NewMockSender()
	notifier := notify.NewNotifier(sender, core.SeverityHigh,
		map[string][]string{"high": {"soc@example.com"}, "critical": {"soc@example.com"}},
		60, logger)
	dispatcher := respond.NewDispatcher(respond.NewLogOnlyEnforcer(logger), true, logger)
	bus := pubsub.NewBus(logger)
	return &escalatorEnv{
		escalator: New(bus, stores, notifier, dispatcher, logger),
		bus:       bus,
		alerts:    alerts,
		incidents: incidents,
		sender:    sender,
	}
}

func detection(severity core.Severity, policy core.ResponsePolicy) detect.Detection {
	return detect.Detection{
		Threat: &core.Threat{
			ID:            "t1",
			RuleID:        "rule1",
			RuleName:      "Test rule",
			Category:      "BRUTE_FORCE",
			Mechanism:     core.MechanismThreshold,
			Severity:      severity,
			Actor:         "u1",
			SourceEventID: "e1",
			Timestamp:     time.Now().UTC(),
			Metadata:      map[string]interface{}{core.MetaUserID: "u1", "failureCount": 5},
		},
		Response: policy,
	}
}

func TestHandleThreatCreatesAlert(t *testing.T) {
	env := newEscalatorEnv(t)

	var published []*core.Alert
	env.bus.Subscribe(pubsub.TopicAlert, func(_ string, payload interface{}) {
		published = append(published, payload.(*core.Alert))
	})

	env.escalator.HandleThreat(detection(core.SeverityHigh, core.ResponsePolicy{CreateAlert: true}))

	require.Len(t, published, 1)
	alert := published[0]
	assert.Equal(t, "Test rule", alert.Name)
	assert.Equal(t, core.AlertStatusOpen, alert.Status)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.Equal(t, "rule1", alert.RuleID)
	assert.Equal(t, "e1", alert.SourceEventID)
	assert.Empty(t, alert.CorrelationRule)
	assert.Equal(t, 5, alert.Metadata["failureCount"])

	require.Eventually(t, func() bool { return len(env.alerts.Alerts()) == 1 },
		time.Second, 5*time.Millisecond, "alert persisted in the background")
	require.Eventually(t, func() bool { return len(env.sender.Sent()) == 1 },
		time.Second, 5*time.Millisecond, "notification delivered in the background")

	assert.Zero(t, env.escalator.OpenIncidents(), "high severity alone does not escalate")
}

func TestHandleThreatCorrelationAlert(t *testing.T) {
	env := newEscalatorEnv(t)

	var published []*core.Alert
	env.bus.Subscribe(pubsub.TopicAlert, func(_ string, payload interface{}) {
		published = append(published, payload.(*core.Alert))
	})

	d := detection(core.SeverityHigh, core.ResponsePolicy{CreateAlert: true})
	d.Threat.Mechanism = core.MechanismCorrelation
	env.escalator.HandleThreat(d)

	require.Len(t, published, 1)
	assert.Equal(t, "rule1", published[0].CorrelationRule)
}

func TestCriticalSeverityEscalates(t *testing.T) {
	env := newEscalatorEnv(t)

	var incidents []*core.Incident
	env.bus.Subscribe(pubsub.TopicIncident, func(_ string, payload interface{}) {
		incidents = append(incidents, payload.(*core.Incident))
	})

	env.escalator.HandleThreat(detection(core.SeverityCritical, core.ResponsePolicy{CreateAlert: true}))

	require.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, core.IncidentStatusOpen, incident.Status)
	assert.Equal(t, core.SeverityCritical, incident.Severity)
	assert.NotEmpty(t, incident.AlertID, "incident links back to its alert")
	require.Len(t, incident.Timeline, 1)
	assert.Equal(t, "CREATED", incident.Timeline[0].Action)

	require.Eventually(t, func() bool { return len(env.incidents.Incidents()) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestPolicyEscalatesBelowCritical(t *testing.T) {
	env := newEscalatorEnv(t)

	env.escalator.HandleThreat(detection(core.SeverityMedium,
		core.ResponsePolicy{CreateAlert: true, CreateIncident: true}))
	assert.Equal(t, 1, env.escalator.OpenIncidents())
}

func TestIncidentDeduplication(t *testing.T) {
	env := newEscalatorEnv(t)

	d := detection(core.SeverityCritical, core.ResponsePolicy{CreateAlert: true})
	env.escalator.HandleThreat(d)
	env.escalator.HandleThreat(d)
	assert.Equal(t, 1, env.escalator.OpenIncidents(),
		"repeat threats for the same rule and actor reuse the open incident")

	// A different actor gets its own incident.
	other := detection(core.SeverityCritical, core.ResponsePolicy{CreateAlert: true})
	other.Threat.Actor = "u2"
	env.escalator.HandleThreat(other)
	assert.Equal(t, 2, env.escalator.OpenIncidents())
}

func TestIncidentDedupeUsesThreatActor(t *testing.T) {
	env := newEscalatorEnv(t)

	// Sequence-style threats carry no userId in their metadata; the
	// actor travels on the threat itself.
	sequenceThreat := func(actor, eventID string) detect.Detection {
		return detect.Detection{
			Threat: &core.Threat{
				ID:            "t-" + actor,
				RuleID:        "priv_esc",
				RuleName:      "Privilege escalation",
				Mechanism:     core.MechanismBehavioral,
				Severity:      core.SeverityCritical,
				Actor:         actor,
				SourceEventID: eventID,
				Timestamp:     time.Now().UTC(),
				Metadata: map[string]interface{}{
					"sequence":      []string{"authz:denied", "role:change"},
					"matchedEvents": []string{eventID},
				},
			},
			Response: core.ResponsePolicy{CreateAlert: true, CreateIncident: true},
		}
	}

	env.escalator.HandleThreat(sequenceThreat("userA", "e1"))
	env.escalator.HandleThreat(sequenceThreat("userB", "e2"))
	assert.Equal(t, 2, env.escalator.OpenIncidents(),
		"each victim gets an incident even without userId metadata")

	env.escalator.HandleThreat(sequenceThreat("userA", "e3"))
	assert.Equal(t, 2, env.escalator.OpenIncidents(),
		"the same victim still deduplicates")
}

func TestIncidentDedupeActorlessThreats(t *testing.T) {
	env := newEscalatorEnv(t)

	actorless := func(eventID string) detect.Detection {
		return detect.Detection{
			Threat: &core.Threat{
				ID:            "t-" + eventID,
				RuleID:        "blacklisted",
				RuleName:      "Blacklisted source",
				Mechanism:     core.MechanismThreatIntel,
				Severity:      core.SeverityCritical,
				SourceEventID: eventID,
				Timestamp:     time.Now().UTC(),
				Metadata:      map[string]interface{}{"indicator": "203.0.113.7"},
			},
			Response: core.ResponsePolicy{CreateAlert: true},
		}
	}

	env.escalator.HandleThreat(actorless("e1"))
	env.escalator.HandleThreat(actorless("e2"))
	assert.Equal(t, 2, env.escalator.OpenIncidents(),
		"threats without an actor never share a dedupe slot")
}

func TestCloseIncidentReleasesDedupe(t *testing.T) {
	env := newEscalatorEnv(t)

	var incidents []*core.Incident
	env.bus.Subscribe(pubsub.TopicIncident, func(_ string, payload interface{}) {
		incidents = append(incidents, payload.(*core.Incident))
	})

	d := detection(core.SeverityCritical, core.ResponsePolicy{CreateAlert: true})
	env.escalator.HandleThreat(d)
	require.Len(t, incidents, 1)

	assert.True(t, env.escalator.CloseIncident(incidents[0].ID))
	assert.False(t, env.escalator.CloseIncident(incidents[0].ID))

	env.escalator.HandleThreat(d)
	assert.Len(t, incidents, 2, "closing reopens the escalation path")
}

func TestNoAlertWithoutPolicy(t *testing.T) {
	env := newEscalatorEnv(t)

	var published int
	env.bus.Subscribe(pubsub.TopicAlert, func(string, interface{}) { published++ })

	env.escalator.HandleThreat(detection(core.SeverityHigh, core.ResponsePolicy{}))
	assert.Zero(t, published)
}

func TestPersistenceFailureDoesNotPropagate(t *testing.T) {
	env := newEscalatorEnv(t)
	env.alerts.FailWrites = true

	assert.NotPanics(t, func() {
		env.escalator.HandleThreat(detection(core.SeverityHigh, core.ResponsePolicy{CreateAlert: true}))
	})
}
