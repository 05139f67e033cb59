package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "HOST", "API_KEY", "ALLOWED_ORIGINS", "BROKER_KIND", "ALPACA_BASE_URL",
		"ALPACA_KEY_ID", "ALPACA_SECRET_KEY", "ANALYZE_MODE", "STATE_PATH", "LEDGER_PATH",
		"STRATEGY_CONFIG_PATH", "ENABLED_STRATEGIES", "CHECK_INTERVAL", "MAX_OPEN_POSITIONS",
		"MAX_QUEUE_SIZE", "COOLDOWN_DURATION", "SIGNAL_CACHE_TTL", "LOG_LEVEL", "SHUTDOWN_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}

func TestConfig_DefaultsValidate(t *testing.T) {
	clearEnv(t)
	cfg := fromEnv()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, BrokerPaper, cfg.BrokerKind)
	assert.Equal(t, []string{"momentum", "breakout", "mean_reversion"}, cfg.EnabledStrategies)
}

func TestConfig_RejectsUnknownStrategy(t *testing.T) {
	clearEnv(t)
	os.Setenv("ENABLED_STRATEGIES", "momentum,not_a_strategy")
	t.Cleanup(func() { os.Unsetenv("ENABLED_STRATEGIES") })

	cfg := fromEnv()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_a_strategy")
}

func TestConfig_AlpacaRequiresCredentials(t *testing.T) {
	clearEnv(t)
	os.Setenv("BROKER_KIND", "alpaca")
	t.Cleanup(func() { os.Unsetenv("BROKER_KIND") })

	cfg := fromEnv()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALPACA_KEY_ID")
	assert.Contains(t, err.Error(), "ALPACA_SECRET_KEY")
}

func TestConfig_InvalidPortRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "99999")
	t.Cleanup(func() { os.Unsetenv("PORT") })

	cfg := fromEnv()
	assert.Error(t, cfg.Validate())
}

func TestConfig_SetAnalyzeMode(t *testing.T) {
	clearEnv(t)
	cfg := fromEnv()
	assert.False(t, cfg.IsAnalyzeMode())
	cfg.SetAnalyzeMode(true)
	assert.True(t, cfg.IsAnalyzeMode())
}

func TestConfig_ReloadDetectsRestartRequiredChange(t *testing.T) {
	clearEnv(t)
	cfg := fromEnv()
	require.NoError(t, cfg.Validate())

	os.Setenv("BROKER_KIND", "paper")
	os.Setenv("PORT", "9999")
	t.Cleanup(func() {
		os.Unsetenv("BROKER_KIND")
		os.Unsetenv("PORT")
	})

	result, err := cfg.Reload()
	require.NoError(t, err)
	assert.True(t, result.RequiresRestart)
}

func TestConfig_ReloadAppliesLogLevel(t *testing.T) {
	clearEnv(t)
	cfg := fromEnv()
	require.NoError(t, cfg.Validate())

	os.Setenv("LOG_LEVEL", "debug")
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	result, err := cfg.Reload()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	found := false
	for _, c := range result.Changes {
		if c.Field == "LogLevel" {
			found = true
			assert.True(t, c.Applied)
		}
	}
	assert.True(t, found)
}
