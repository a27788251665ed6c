package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinel/baseline"
	"sentinel/core"
	"sentinel/intel"
	"sentinel/window"
)

func TestDefaultRulesParseAndValidate(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	ids := make(map[string]bool, len(rules))
	for _, r := range rules {
		assert.False(t, ids[r.ID], "duplicate rule id %q", r.ID)
		ids[r.ID] = true
		assert.True(t, r.Enabled, "default rules ship enabled: %s", r.ID)
	}
	assert.True(t, ids["brute_force_login"])
	assert.True(t, ids["multi_country_access"])
	assert.True(t, ids["data_exfiltration_size"])
	assert.True(t, ids["blacklisted_source"])
	assert.True(t, ids["privilege_escalation_chain"])
}

func TestDefaultBruteForceShape(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)

	var bf *core.DetectionRule
	for i := range rules {
		if rules[i].ID == "brute_force_login" {
			bf = &rules[i]
		}
	}
	require.NotNil(t, bf)
	assert.Equal(t, core.MechanismThreshold, bf.Mechanism)
	assert.Equal(t, core.SeverityHigh, bf.Severity)
	assert.Equal(t, "auth:failure", bf.EventType)
	require.NotNil(t, bf.Threshold)
	assert.Equal(t, 5, bf.Threshold.Count)
	assert.Equal(t, 5, bf.Threshold.WindowMinutes)
	assert.Equal(t, "failureCount", bf.Threshold.CountKey)
	assert.True(t, bf.Response.AutoContainment)
	assert.Equal(t, "LOCK_ACCOUNT", bf.Response.ContainmentAction)
}

func TestDefaultCorrelationRules(t *testing.T) {
	rules, err := DefaultCorrelationRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)

	chain := rules[0]
	assert.Equal(t, "account_takeover_chain", chain.ID)
	assert.Equal(t, core.SeverityCritical, chain.Severity)
	assert.Len(t, chain.Conditions, 3)
	assert.Equal(t, "auth:failure", chain.Conditions["auth:success"].After)
	assert.Equal(t, "auth:success", chain.Conditions["role:change"].After)
}

func TestResetToDefaults(t *testing.T) {
	logger := zap.NewNop().Sugar()
	windows := window.NewStore(window.Config{SweepInterval: -1}, logger)
	defer windows.Stop()
	engine := NewEngine(windows,
		baseline.NewStore(baseline.Config{}, logger),
		intel.NewSet(logger),
		core.NewEventBuffer(10), logger)

	require.NoError(t, engine.ResetToDefaults())
	loaded := len(engine.GetRules())
	require.NotZero(t, loaded)

	require.NoError(t, engine.DeleteRule("brute_force_login"))
	require.NoError(t, engine.ResetToDefaults())
	assert.Len(t, engine.GetRules(), loaded)

	c := NewCorrelator(windows, logger)
	require.NoError(t, c.ResetToDefaults())
	assert.NotEmpty(t, c.GetRules())
}
