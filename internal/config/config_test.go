package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.EqualValues(t, 100_000_000, cfg.MinIntervalNanos)
	assert.EqualValues(t, 500_000_000, cfg.MaxIntervalNanos)
	assert.Equal(t, DefaultControlAddr, cfg.ControlAddr)
}

func TestParseOptionsStringOverridesDefaults(t *testing.T) {
	cfg, err := Parse("min_interval_ms=50,control_addr=127.0.0.1:6000,log_level=debug")
	require.NoError(t, err)
	assert.EqualValues(t, 50_000_000, cfg.MinIntervalNanos)
	assert.Equal(t, "127.0.0.1:6000", cfg.ControlAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseEnvVarOverridesDefaults(t *testing.T) {
	t.Setenv("JPROFILER_LOG_LEVEL", "warn")
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseOptionsStringOverridesEnv(t *testing.T) {
	t.Setenv("JPROFILER_LOG_LEVEL", "warn")
	cfg, err := Parse("log_level=error")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestSplitOptionsStringIgnoresMalformedPairs(t *testing.T) {
	args := splitOptionsString("a=1,garbage,=novalue,b=2")
	assert.Equal(t, []string{"--a", "1", "--b", "2"}, args)
}
