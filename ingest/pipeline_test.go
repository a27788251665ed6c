package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinel/baseline"
	"sentinel/core"
	"sentinel/detect"
	"sentinel/escalate"
	"sentinel/intel"
	"sentinel/notify"
	"sentinel/pubsub"
	"sentinel/respond"
	"sentinel/storage"
	"sentinel/window"
)

type pipelineEnv struct {
	pipeline  *Pipeline
	bus       *pubsub.Bus
	engine    *detect.Engine
	events    *storage.MockEventStore
	incidents *storage.MockIncidentStore
	alerts    []*core.Alert
}

// newPipelineEnv assembles the full ingress-to-escalation path with the
// embedded default rule catalog, mirroring production wiring.
func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	buffer := core.NewEventBuffer(1000)
	windows := window.NewStore(window.Config{SweepInterval: -1}, logger)
	t.Cleanup(windows.Stop)
	baselines := baseline.NewStore(baseline.Config{}, logger)
	intelSet := intel.NewSet(logger)
	intelSet.LoadSource("config_blacklist", []string{"203.0.113.66"})

	engine := detect.NewEngine(windows, baselines, intelSet, buffer, logger)
	require.NoError(t, engine.ResetToDefaults())
	correlator := detect.NewCorrelator(windows, logger)
	require.NoError(t, correlator.ResetToDefaults())

	stores, events, _, incidents := storage.NewMockStores()
	dispatcher := respond.NewDispatcher(respond.NewLogOnlyEnforcer(logger), true, logger)
	notifier := notify.NewNotifier(notify.NewMockSender(), core.SeverityHigh, nil, 60, logger)
	bus := pubsub.NewBus(logger)
	escalator := escalate.New(bus, stores, notifier, dispatcher, logger)

	env := &pipelineEnv{
		pipeline:  New(buffer, windows, baselines, engine, correlator, escalator, bus, stores.Events, logger),
		bus:       bus,
		engine:    engine,
		events:    events,
		incidents: incidents,
	}
	bus.Subscribe(pubsub.TopicAlert, func(_ string, payload interface{}) {
		env.alerts = append(env.alerts, payload.(*core.Alert))
	})
	return env
}

func TestSubmitRejectsInvalid(t *testing.T) {
	env := newPipelineEnv(t)

	_, err := env.pipeline.Submit(context.Background(), RawEvent{})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = env.pipeline.Submit(context.Background(), RawEvent{Type: "auth:failure", Severity: "urgent"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	assert.Zero(t, env.pipeline.Processed())
}

func TestSubmitNormalizesDefaults(t *testing.T) {
	env := newPipelineEnv(t)

	before := time.Now().UTC()
	event, err := env.pipeline.Submit(context.Background(), RawEvent{Type: "data:access"})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, core.SeverityLow, event.Severity)
	assert.False(t, event.Timestamp.Before(before))
	assert.NotNil(t, event.Metadata)
	assert.Equal(t, uint64(1), env.pipeline.Processed())
}

func TestBruteForceEndToEnd(t *testing.T) {
	env := newPipelineEnv(t)

	meta := map[string]interface{}{core.MetaUserID: "u1"}
	for i := 0; i < 4; i++ {
		_, err := env.pipeline.Submit(context.Background(), RawEvent{Type: "auth:failure", Metadata: meta})
		require.NoError(t, err)
	}
	require.Empty(t, env.alerts, "four failures stay quiet")

	_, err := env.pipeline.Submit(context.Background(), RawEvent{Type: "auth:failure", Metadata: meta})
	require.NoError(t, err)

	require.Len(t, env.alerts, 1)
	alert := env.alerts[0]
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.Equal(t, "brute_force_login", alert.RuleID)
	assert.Equal(t, 5, alert.Metadata["failureCount"])

	// Each further failure keeps the alarm ringing.
	_, err = env.pipeline.Submit(context.Background(), RawEvent{Type: "auth:failure", Metadata: meta})
	require.NoError(t, err)
	require.Len(t, env.alerts, 2)
	assert.Equal(t, 6, env.alerts[1].Metadata["failureCount"])
}

func TestDataExfiltrationEndToEnd(t *testing.T) {
	env := newPipelineEnv(t)

	_, err := env.pipeline.Submit(context.Background(), RawEvent{
		Type:     "data:access",
		Metadata: map[string]interface{}{core.MetaUserID: "u1", "dataSize": 15000000},
	})
	require.NoError(t, err)
	require.Len(t, env.alerts, 1)
	assert.Equal(t, "data_exfiltration_size", env.alerts[0].RuleID)
	assert.Equal(t, core.SeverityHigh, env.alerts[0].Severity)

	_, err = env.pipeline.Submit(context.Background(), RawEvent{
		Type:     "data:access",
		Metadata: map[string]interface{}{core.MetaUserID: "u1", "dataSize": 5000000},
	})
	require.NoError(t, err)
	assert.Len(t, env.alerts, 1, "below the ceiling nothing fires")
}

func TestBlacklistedSourceEscalates(t *testing.T) {
	env := newPipelineEnv(t)

	var incidents int
	env.bus.Subscribe(pubsub.TopicIncident, func(string, interface{}) { incidents++ })

	_, err := env.pipeline.Submit(context.Background(), RawEvent{
		Type:     "auth:success",
		Metadata: map[string]interface{}{core.MetaUserID: "u1", core.MetaIPAddress: "203.0.113.66"},
	})
	require.NoError(t, err)

	require.Len(t, env.alerts, 1)
	assert.Equal(t, core.SeverityCritical, env.alerts[0].Severity)
	assert.Equal(t, "blacklisted_source", env.alerts[0].RuleID)
	assert.Equal(t, 1, incidents, "critical threats escalate to incidents")
}

func TestAccountTakeoverCorrelation(t *testing.T) {
	env := newPipelineEnv(t)
	// Drop the point rules so only the correlation chain fires alerts.
	for _, r := range env.engine.GetRules() {
		require.NoError(t, env.engine.DeleteRule(r.ID))
	}

	now := time.Now().UTC()
	meta := map[string]interface{}{core.MetaUserID: "victim"}
	submit := func(eventType string, age time.Duration) {
		_, err := env.pipeline.Submit(context.Background(), RawEvent{
			Type: eventType, Timestamp: now.Add(-age), Metadata: meta,
		})
		require.NoError(t, err)
	}

	submit("auth:failure", 20*time.Minute)
	submit("auth:failure", 19*time.Minute)
	submit("auth:failure", 18*time.Minute)
	submit("auth:success", 4*time.Minute)
	require.Empty(t, env.alerts, "the chain is incomplete without the privilege change")

	submit("role:change", time.Minute)
	require.Len(t, env.alerts, 1)
	assert.Equal(t, "account_takeover_chain", env.alerts[0].RuleID)
	assert.Equal(t, core.MechanismCorrelation, env.alerts[0].Mechanism)
	assert.Equal(t, "account_takeover_chain", env.alerts[0].CorrelationRule)
}

func TestEventsPublishedAndPersisted(t *testing.T) {
	env := newPipelineEnv(t)

	var all, typed int
	env.bus.Subscribe(pubsub.TopicEvent, func(string, interface{}) { all++ })
	env.bus.Subscribe("auth:success", func(string, interface{}) { typed++ })

	_, err := env.pipeline.Submit(context.Background(), RawEvent{Type: "auth:success"})
	require.NoError(t, err)
	_, err = env.pipeline.Submit(context.Background(), RawEvent{Type: "data:access"})
	require.NoError(t, err)

	assert.Equal(t, 2, all)
	assert.Equal(t, 1, typed, "events are also published under their own type")

	require.Eventually(t, func() bool { return len(env.events.Events()) == 2 },
		time.Second, 5*time.Millisecond, "events persisted in the background")
}

func TestBaselineLearnedThroughIngress(t *testing.T) {
	env := newPipelineEnv(t)

	// Teach the default anomaly rule a profile: mean 10, stddev 2.
	for _, v := range []float64{8, 8, 8, 8, 8, 12, 12, 12, 12, 12} {
		_, err := env.pipeline.Submit(context.Background(), RawEvent{
			Type:     "data:access",
			Metadata: map[string]interface{}{core.MetaUserID: "u1", "dataSize": v},
		})
		require.NoError(t, err)
	}
	require.Empty(t, env.alerts)

	_, err := env.pipeline.Submit(context.Background(), RawEvent{
		Type:     "data:access",
		Metadata: map[string]interface{}{core.MetaUserID: "u1", "dataSize": 17.0},
	})
	require.NoError(t, err)

	require.Len(t, env.alerts, 1)
	assert.Equal(t, "anomalous_transfer_volume", env.alerts[0].RuleID)
	assert.InDelta(t, 3.5, env.alerts[0].Metadata["zScore"].(float64), 0.5)
}
