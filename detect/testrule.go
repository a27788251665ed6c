package detect

import (
	"sentinel/core"
)

// Report summarizes a dry run of a candidate rule over the retained
// event buffer.
type Report struct {
	RuleID          string  `json:"rule_id"`
	EventsProcessed int     `json:"events_processed"`
	Detections      int     `json:"detections"`
	FalsePositives  int     `json:"false_positives"`
	Effectiveness   float64 `json:"effectiveness"`
}

// TestRule replays the buffered events through a candidate rule without
// touching the live rule set or emitting threats. Detections on
// low-severity events are counted as probable false positives;
// effectiveness is the remaining fraction.
func (e *Engine) TestRule(rule core.DetectionRule) (*Report, error) {
	if err := validateRule(&rule); err != nil {
		return nil, err
	}

	report := &Report{RuleID: rule.ID}
	for _, event := range e.buffer.Snapshot() {
		if rule.EventType != "" && rule.EventType != event.Type {
			continue
		}
		report.EventsProcessed++
		_, matched, err := e.dispatch(&rule, event)
		if err != nil || !matched {
			continue
		}
		report.Detections++
		if event.Severity == core.SeverityLow {
			report.FalsePositives++
		}
	}
	if report.Detections > 0 {
		report.Effectiveness = float64(report.Detections-report.FalsePositives) / float64(report.Detections)
	}
	return report, nil
}
