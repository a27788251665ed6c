package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinel/core"
)

func alertWith(severity core.Severity) *core.Alert {
	return &core.Alert{
		ID:       "a1",
		Name:     "Brute force",
		Severity: severity,
		Status:   core.AlertStatusOpen,
		RuleID:   "brute_force",
	}
}

func recipients() map[string][]string {
	return map[string][]string{
		"high":     {"soc@example.com"},
		"critical": {"soc@example.com", "oncall@example.com"},
	}
}

func TestNotifyFiltersBySeverity(t *testing.T) {
	sender := NewMockSender()
	n := NewNotifier(sender, core.SeverityHigh, recipients(), 60, zap.NewNop().Sugar())

	n.Notify(context.Background(), alertWith(core.SeverityLow))
	n.Notify(context.Background(), alertWith(core.SeverityMedium))
	assert.Empty(t, sender.Sent())

	n.Notify(context.Background(), alertWith(core.SeverityHigh))
	n.Notify(context.Background(), alertWith(core.SeverityCritical))
	assert.Len(t, sender.Sent(), 2)
}

func TestNotifySkipsTiersWithoutRecipients(t *testing.T) {
	sender := NewMockSender()
	n := NewNotifier(sender, core.SeverityLow, recipients(), 60, zap.NewNop().Sugar())

	n.Notify(context.Background(), alertWith(core.SeverityMedium))
	assert.Empty(t, sender.Sent(), "medium has no recipient list configured")
}

func TestNotifyRateLimit(t *testing.T) {
	sender := NewMockSender()
	// One token per minute: the burst allows a single send.
	n := NewNotifier(sender, core.SeverityLow, recipients(), 1, zap.NewNop().Sugar())

	n.Notify(context.Background(), alertWith(core.SeverityCritical))
	n.Notify(context.Background(), alertWith(core.SeverityCritical))
	n.Notify(context.Background(), alertWith(core.SeverityCritical))

	assert.Len(t, sender.Sent(), 1, "excess notifications are dropped, not queued")
}

func TestNotifyDeliveryFailure(t *testing.T) {
	sender := NewMockSender()
	sender.FailNext = true
	n := NewNotifier(sender, core.SeverityLow, recipients(), 60, zap.NewNop().Sugar())

	n.Notify(context.Background(), alertWith(core.SeverityCritical))
	require.Empty(t, sender.Sent())

	// The notifier keeps working after a failed delivery.
	n.Notify(context.Background(), alertWith(core.SeverityCritical))
	assert.Len(t, sender.Sent(), 1)
}
