package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("CORAL_PROFILER_ENDPOINT", "http://10.0.0.2:9010")
	t.Setenv("CORAL_PROFILER_POLL_INTERVAL", "250ms")
	t.Setenv("CORAL_PROFILER_LOG_PRETTY", "false")
	t.Setenv("CORAL_PROFILER_PREFERRED_PROCESS", "com.example.app")
	t.Setenv("CORAL_PROFILER_PREFERRED_STARTED_AFTER_NS", "1700000000")
	t.Setenv("CORAL_PROFILER_AGENT_SAMPLING_RATE", " 10 ")
	t.Setenv("CORAL_PROFILER_FEED_LISTEN", "")

	cfg := Default()
	applied, err := ApplyEnv(cfg)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:9010", cfg.Endpoint)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.Logging.Pretty)
	assert.Equal(t, "com.example.app", cfg.Preferred.Process)
	assert.Equal(t, int64(1700000000), cfg.Preferred.StartedAfterNs)
	assert.Equal(t, int32(10), cfg.Agent.SamplingRate)

	// Empty variables are skipped.
	assert.Empty(t, cfg.Feed.Listen)
	assert.NotContains(t, applied, "CORAL_PROFILER_FEED_LISTEN")
	assert.Len(t, applied, 6)
}

func TestApplyEnv_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad duration", key: "CORAL_PROFILER_POLL_INTERVAL", value: "soon"},
		{name: "bad bool", key: "CORAL_PROFILER_ENERGY", value: "maybe"},
		{name: "int32 overflow", key: "CORAL_PROFILER_AGENT_SAMPLING_RATE", value: "4294967296"},
		{name: "bad int", key: "CORAL_PROFILER_PREFERRED_STARTED_AFTER_NS", value: "1e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := ApplyEnv(Default())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestApplyEnv_Kinds(t *testing.T) {
	type nested struct {
		Ratio float64 `env:"TEST_RATIO"`
	}
	type target struct {
		Count  uint16   `env:"TEST_COUNT"`
		Hosts  []string `env:"TEST_HOSTS"`
		Nested nested
		hidden string `env:"TEST_HIDDEN"`
	}

	t.Setenv("TEST_COUNT", "42")
	t.Setenv("TEST_HOSTS", "a, b ,c")
	t.Setenv("TEST_RATIO", "0.25")
	t.Setenv("TEST_HIDDEN", "x")

	var cfg target
	_, err := ApplyEnv(&cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), cfg.Count)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Hosts)
	assert.Equal(t, 0.25, cfg.Nested.Ratio)
	assert.Empty(t, cfg.hidden)

	var nilCfg *target
	_, err = ApplyEnv(nilCfg)
	assert.NoError(t, err)
}
