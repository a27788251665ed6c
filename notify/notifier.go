// Package notify delivers alert notifications to severity-tiered
// recipient lists, rate limited so a detection storm does not flood the
// mail system.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sentinel/core"
	"sentinel/metrics"
)

// Sender delivers one alert notification. Implementations must be safe
// for concurrent use.
type Sender interface {
	SendAlertEmail(ctx context.Context, recipients []string, alert *core.Alert) error
}

// Notifier filters alerts by severity, resolves the recipient tier and
// hands delivery to the sender under a token-bucket rate limit.
type Notifier struct {
	sender      Sender
	minSeverity core.Severity
	recipients  map[string][]string
	limiter     *rate.Limiter
	logger      *zap.SugaredLogger
}

// NewNotifier builds a notifier. ratePerMinute bounds deliveries;
// recipients maps severity names to address lists.
func NewNotifier(sender Sender, minSeverity core.Severity, recipients map[string][]string, ratePerMinute int, logger *zap.SugaredLogger) *Notifier {
	if ratePerMinute < 1 {
		ratePerMinute = 1
	}
	return &Notifier{
		sender:      sender,
		minSeverity: minSeverity,
		recipients:  recipients,
		limiter:     rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
		logger:      logger,
	}
}

// Notify delivers the alert to its severity tier. Alerts below the
// minimum severity and tiers with no recipients are skipped silently;
// rate-limited and failed deliveries are counted and logged but never
// propagate to the caller's pipeline.
func (n *Notifier) Notify(ctx context.Context, alert *core.Alert) {
	if alert.Severity.Rank() < n.minSeverity.Rank() {
		return
	}
	recipients := n.recipients[string(alert.Severity)]
	if len(recipients) == 0 {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warnw("notification rate limit exceeded, dropping",
			"alert", alert.ID, "severity", alert.Severity)
		metrics.NotificationFailures.Inc()
		return
	}
	if err := n.sender.SendAlertEmail(ctx, recipients, alert); err != nil {
		n.logger.Errorw("notification delivery failed",
			"alert", alert.ID, "recipients", len(recipients), "error", err)
		metrics.NotificationFailures.Inc()
		return
	}
	n.logger.Debugw("alert notification sent",
		"alert", alert.ID, "severity", alert.Severity, "recipients", len(recipients))
}

// SMTPConfig carries the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// SMTPSender delivers alert mail through a single SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// SendAlertEmail formats and sends one alert message.
func (s *SMTPSender) SendAlertEmail(_ context.Context, recipients []string, alert *core.Alert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Name)
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n\r\n", subject)
	fmt.Fprintf(&body, "Alert:       %s\r\n", alert.ID)
	fmt.Fprintf(&body, "Rule:        %s\r\n", alert.RuleID)
	fmt.Fprintf(&body, "Mechanism:   %s\r\n", alert.Mechanism)
	fmt.Fprintf(&body, "Severity:    %s\r\n", alert.Severity)
	fmt.Fprintf(&body, "Detected at: %s\r\n", alert.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if alert.Description != "" {
		fmt.Fprintf(&body, "\r\n%s\r\n", alert.Description)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, recipients, []byte(body.String())); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}

// MockSender records sent notifications for tests.
type MockSender struct {
	mu       sync.Mutex
	sent     []*core.Alert
	FailNext bool
}

// NewMockSender creates an empty recording sender.
func NewMockSender() *MockSender { return &MockSender{} }

// SendAlertEmail records the alert, or fails once when FailNext is set.
func (m *MockSender) SendAlertEmail(_ context.Context, _ []string, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return fmt.Errorf("mock delivery failure")
	}
	m.sent = append(m.sent, alert)
	return nil
}

// Sent returns a copy of the delivered alerts.
func (m *MockSender) Sent() []*core.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Alert, len(m.sent))
	copy(out, m.sent)
	return out
}
