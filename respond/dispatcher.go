// Package respond dispatches automated containment actions for rules
// whose response policy demands them.
package respond

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/metrics"
)

// Containment action tokens accepted by rule response policies.
const (
	ActionLockAccount   = "LOCK_ACCOUNT"
	ActionRevokeSession = "REVOKE_SESSION"
	ActionRequireMFA    = "REQUIRE_MFA"
)

// ErrUnknownAction is returned when a policy names an action no
// enforcer understands.
var ErrUnknownAction = errors.New("unknown containment action")

// KnownAction reports whether the token is a dispatchable action.
func KnownAction(action string) bool {
	switch action {
	case ActionLockAccount, ActionRevokeSession, ActionRequireMFA:
		return true
	default:
		return false
	}
}

// Enforcer carries a containment action out against the identity
// systems. Implementations must be safe for concurrent use.
type Enforcer interface {
	Enforce(ctx context.Context, action string, threat *core.Threat) error
}

// Dispatcher validates and routes containment requests to the enforcer,
// recording every dispatch.
type Dispatcher struct {
	enforcer Enforcer
	enabled  bool
	logger   *zap.SugaredLogger
}

// NewDispatcher wires a dispatcher to an enforcer. When disabled,
// Dispatch logs the intent and does nothing else.
func NewDispatcher(enforcer Enforcer, enabled bool, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{enforcer: enforcer, enabled: enabled, logger: logger}
}

// Dispatch carries out the containment action for a threat. The intent
// is always logged at high level before enforcement, so the audit trail
// survives an enforcer failure.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, threat *core.Threat) error {
	if !KnownAction(action) {
		return fmt.Errorf("dispatch %q for threat %s: %w", action, threat.ID, ErrUnknownAction)
	}
	d.logger.Warnw("containment requested",
		"action", action,
		"threat", threat.ID,
		"rule", threat.RuleID,
		"severity", threat.Severity)
	if !d.enabled {
		d.logger.Infow("containment disabled, skipping action",
			"action", action, "threat", threat.ID)
		return nil
	}
	if err := d.enforcer.Enforce(ctx, action, threat); err != nil {
		return fmt.Errorf("enforce %s for threat %s: %w", action, threat.ID, err)
	}
	metrics.ContainmentActions.WithLabelValues(action).Inc()
	return nil
}

// LogOnlyEnforcer records actions without touching any external system.
// It is the default enforcer until a real identity integration is
// configured.
type LogOnlyEnforcer struct {
	logger *zap.SugaredLogger
}

// NewLogOnlyEnforcer creates an enforcer that only logs.
func NewLogOnlyEnforcer(logger *zap.SugaredLogger) *LogOnlyEnforcer {
	return &LogOnlyEnforcer{logger: logger}
}

// Enforce logs the action with the threat context.
func (l *LogOnlyEnforcer) Enforce(_ context.Context, action string, threat *core.Threat) error {
	l.logger.Infow("containment action applied",
		"action", action,
		"threat", threat.ID,
		"rule", threat.RuleID,
		"user", threat.Actor)
	return nil
}
