// Package ingest is the single entry point for security events. It
// validates and normalizes raw submissions, updates the rolling buffer,
// counters and baselines, runs detection, and fans results out to
// escalation, persistence and subscribers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/baseline"
	"sentinel/core"
	"sentinel/detect"
	"sentinel/escalate"
	"sentinel/metrics"
	"sentinel/pubsub"
	"sentinel/storage"
	"sentinel/util/goroutine"
	"sentinel/window"
)

// ErrInvalidEvent is returned when a raw submission fails validation.
var ErrInvalidEvent = errors.New("invalid event")

// RawEvent is an external event submission before normalization.
// Severity and Timestamp are optional; Metadata may be nil.
type RawEvent struct {
	Type      string                 `json:"event_type"`
	Severity  core.Severity          `json:"severity,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Pipeline wires ingress to the detection and escalation machinery.
type Pipeline struct {
	buffer     *core.EventBuffer
	windows    *window.Store
	baselines  *baseline.Store
	engine     *detect.Engine
	correlator *detect.Correlator
	escalator  *escalate.Escalator
	bus        *pubsub.Bus
	events     storage.EventStore
	logger     *zap.SugaredLogger

	processed atomic.Uint64
}

// New assembles the pipeline. events may be nil to disable persistence.
func New(
	buffer *core.EventBuffer,
	windows *window.Store,
	baselines *baseline.Store,
	engine *detect.Engine,
	correlator *detect.Correlator,
	escalator *escalate.Escalator,
	bus *pubsub.Bus,
	events storage.EventStore,
	logger *zap.SugaredLogger,
) *Pipeline {
	return &Pipeline{
		buffer:     buffer,
		windows:    windows,
		baselines:  baselines,
		engine:     engine,
		correlator: correlator,
		escalator:  escalator,
		bus:        bus,
		events:     events,
		logger:     logger,
	}
}

// Submit ingests one raw event. It validates and normalizes the
// submission, then runs the full detection pass synchronously and
// returns the normalized event. Persistence and escalation IO happen on
// guarded background goroutines.
func (p *Pipeline) Submit(ctx context.Context, raw RawEvent) (*core.Event, error) {
	event, err := p.normalize(raw)
	if err != nil {
		metrics.EventsRejected.Inc()
		return nil, err
	}

	p.buffer.Append(event)
	p.recordCounters(event)

	start := time.Now()
	detections := p.engine.Evaluate(event)
	detections = append(detections, p.correlator.Correlate(event)...)
	metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())

	// Learn only after scoring, so an outlier cannot soften the very
	// baseline it is judged against.
	p.observeBaselines(event)

	for _, d := range detections {
		metrics.ThreatsDetected.WithLabelValues(string(d.Threat.Mechanism)).Inc()
		p.logger.Infow("threat detected",
			"threat", d.Threat.ID,
			"rule", d.Threat.RuleID,
			"mechanism", d.Threat.Mechanism,
			"severity", d.Threat.Severity,
			"event", event.ID)
		p.bus.Publish(pubsub.TopicThreat, d.Threat)
		p.escalator.HandleThreat(d)
	}

	p.bus.Publish(pubsub.TopicEvent, event)
	p.bus.Publish(event.Type, event)

	if p.events != nil {
		goroutine.Go("persist-event", p.logger, func() {
			if err := p.events.SaveEvent(context.Background(), event); err != nil {
				metrics.PersistenceFailures.WithLabelValues("event").Inc()
				p.logger.Errorw("event persistence failed", "event", event.ID, "error", err)
			}
		})
	}

	p.processed.Add(1)
	metrics.EventsIngested.WithLabelValues(event.Type).Inc()
	return event, nil
}

// normalize validates the submission and fills defaults: a generated id,
// the current UTC time when no timestamp is given, and low severity when
// none is given. A declared but unknown severity is rejected rather than
// silently downgraded.
func (p *Pipeline) normalize(raw RawEvent) (*core.Event, error) {
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	severity := raw.Severity
	if severity == "" {
		severity = core.SeverityLow
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, raw.Severity)
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	metadata := raw.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &core.Event{
		ID:        uuid.New().String(),
		Type:      raw.Type,
		Severity:  severity,
		Timestamp: ts,
		Metadata:  metadata,
	}, nil
}

// recordCounters registers the occurrence globally and under each actor
// dimension carried by the event, so both ungrouped and grouped rules
// can count it.
func (p *Pipeline) recordCounters(event *core.Event) {
	p.windows.Record(event.Type, "", event.Timestamp, event.Metadata)
	if user := event.UserID(); user != "" {
		p.windows.Record(event.Type, window.GroupKey(core.MetaUserID, user), event.Timestamp, event.Metadata)
	}
	if ip := event.IPAddress(); ip != "" {
		p.windows.Record(event.Type, window.GroupKey(core.MetaIPAddress, ip), event.Timestamp, event.Metadata)
	}
}

// observeBaselines feeds every numeric metadata attribute, plus the
// derived hour of day, into the actor's behavioral profiles. Numeric
// strings are deliberately not profiled; only genuinely numeric
// attributes describe magnitudes.
func (p *Pipeline) observeBaselines(event *core.Event) {
	user := event.UserID()
	if user == "" {
		return
	}
	for field, raw := range event.Metadata {
		switch raw.(type) {
		case float64, float32, int, int32, int64, uint, uint64:
		default:
			continue
		}
		value, _ := core.CoerceFloat(raw)
		p.baselines.Observe(user, event.Type, field, value)
	}
	p.baselines.Observe(user, event.Type, core.MetaHourOfDay, float64(event.Timestamp.Hour()))
}

// Processed returns how many events ingress has accepted.
func (p *Pipeline) Processed() uint64 {
	return p.processed.Load()
}
