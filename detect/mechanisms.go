package detect

import (
	"fmt"
	"strings"
	"time"

	"sentinel/baseline"
	"sentinel/core"
	"sentinel/window"
)

// groupScope resolves a rule's GroupBy metadata key against the event,
// returning the counter-store group value. ok is false when the event
// does not carry the grouping field at all.
func groupScope(groupBy string, event *core.Event) (string, bool) {
	if groupBy == "" {
		return "", true
	}
	value, ok := event.StringField("metadata." + groupBy)
	if !ok {
		return "", false
	}
	return window.GroupKey(groupBy, value), true
}

func (e *Engine) evaluateThreshold(rule *core.DetectionRule, event *core.Event) (map[string]interface{}, bool, error) {
	params := rule.Threshold
	group, ok := groupScope(params.GroupBy, event)
	if !ok {
		return nil, false, nil
	}
	eventType := rule.EventType
	if eventType == "" {
		eventType = event.Type
	}
	n := e.windows.Count(eventType, group, params.WindowMinutes)
	if n < params.Count {
		return nil, false, nil
	}
	countKey := params.CountKey
	if countKey == "" {
		countKey = "count"
	}
	meta := map[string]interface{}{
		countKey:        n,
		"windowMinutes": params.WindowMinutes,
	}
	if params.GroupBy != "" {
		meta[params.GroupBy], _ = event.StringField("metadata." + params.GroupBy)
	}
	return meta, true, nil
}

func (e *Engine) evaluateBehavioral(rule *core.DetectionRule, event *core.Event) (map[string]interface{}, bool, error) {
	params := rule.Behavior
	groupBy := params.GroupBy
	if groupBy == "" {
		groupBy = core.MetaUserID
	}

	if params.UniqueField != "" {
		group, ok := groupScope(groupBy, event)
		if !ok {
			return nil, false, nil
		}
		eventType := rule.EventType
		if eventType == "" {
			eventType = event.Type
		}
		values := e.windows.UniqueValues(eventType, group, params.UniqueField, params.WindowMinutes)
		if len(values) < params.UniqueThreshold {
			return nil, false, nil
		}
		return map[string]interface{}{
			"uniqueField":   params.UniqueField,
			"uniqueCount":   len(values),
			"values":        values,
			"windowMinutes": params.WindowMinutes,
		}, true, nil
	}

	return e.evaluateSequence(rule, event, groupBy)
}

// evaluateSequence checks that the declared event types all occurred for
// this actor inside the window, in order: each later type must have an
// occurrence not preceding the earlier type's matched occurrence.
// Containment, not strict adjacency — unrelated events in between do
// not break the sequence.
func (e *Engine) evaluateSequence(rule *core.DetectionRule, event *core.Event, groupBy string) (map[string]interface{}, bool, error) {
	params := rule.Behavior
	actor, ok := event.StringField("metadata." + groupBy)
	if !ok {
		return nil, false, nil
	}

	cutoff := event.Timestamp.Add(-time.Duration(params.WindowMinutes) * time.Minute)
	candidates := e.buffer.Since(cutoff)

	matched := make([]string, 0, len(params.Sequence))
	cursor := time.Time{}
	idx := 0
	for _, candidate := range candidates {
		if idx >= len(params.Sequence) {
			break
		}
		if candidate.Type != params.Sequence[idx] {
			continue
		}
		who, _ := candidate.StringField("metadata." + groupBy)
		if who != actor {
			continue
		}
		if candidate.Timestamp.Before(cursor) {
			continue
		}
		matched = append(matched, candidate.ID)
		cursor = candidate.Timestamp
		idx++
	}
	if idx < len(params.Sequence) {
		return nil, false, nil
	}
	return map[string]interface{}{
		"sequence":      params.Sequence,
		"matchedEvents": matched,
		"windowMinutes": params.WindowMinutes,
	}, true, nil
}

func (e *Engine) evaluateAnomaly(rule *core.DetectionRule, event *core.Event) (map[string]interface{}, bool, error) {
	params := rule.Anomaly

	value, ok := event.NumericField(params.BaselineField)
	if !ok {
		// Hour-of-day is derived from the event timestamp rather than
		// carried as metadata by producers.
		if strings.TrimPrefix(params.BaselineField, "metadata.") == core.MetaHourOfDay {
			value = float64(event.Timestamp.Hour())
		} else {
			return nil, false, fmt.Errorf("baseline field %q missing or not numeric", params.BaselineField)
		}
	}

	actor := event.UserID()
	if actor == "" {
		return nil, false, nil
	}
	fieldKey := strings.TrimPrefix(params.BaselineField, "metadata.")
	prof, ok := e.baselines.Baseline(actor, event.Type, fieldKey)
	if !ok {
		// Fewer than the minimum samples: cold-start safe, never fires.
		return nil, false, nil
	}
	if !baseline.IsAnomaly(value, prof, params.DeviationThreshold) {
		return nil, false, nil
	}
	z := (value - prof.Mean) / prof.StdDev
	return map[string]interface{}{
		"baselineField": params.BaselineField,
		"value":         value,
		"mean":          prof.Mean,
		"stdDev":        prof.StdDev,
		"zScore":        z,
		"threshold":     params.DeviationThreshold,
	}, true, nil
}

func (e *Engine) evaluateIntel(rule *core.DetectionRule, event *core.Event) (map[string]interface{}, bool, error) {
	params := rule.Intel
	indicator, ok := event.StringField(params.IndicatorField)
	if !ok {
		return nil, false, fmt.Errorf("indicator field %q missing", params.IndicatorField)
	}
	source, hit := e.intel.Match(indicator, params.Sources)
	if !hit {
		return nil, false, nil
	}
	return map[string]interface{}{
		"indicator": indicator,
		"source":    source,
	}, true, nil
}

func (e *Engine) evaluateRuleTree(rule *core.DetectionRule, event *core.Event) (map[string]interface{}, bool, error) {
	matched, err := rule.Condition.Evaluate(event)
	if err != nil {
		return nil, false, err
	}
	return nil, matched, nil
}
