package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults"},
		{name: "empty endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: "endpoint is required"},
		{name: "endpoint without scheme", mutate: func(c *Config) { c.Endpoint = "127.0.0.1:9010" }, wantErr: "must be an http or https URL"},
		{name: "negative cleanup", mutate: func(c *Config) { c.CleanupInterval = -1 }, wantErr: "cleanup_interval"},
		{name: "unknown level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "device without process", mutate: func(c *Config) { c.Preferred.Device = "Pixel" }, wantErr: "preferred.device requires"},
		{name: "negative sampling", mutate: func(c *Config) { c.Agent.SamplingRate = -1 }, wantErr: "agent.sampling_rate"},
		{name: "bad feed address", mutate: func(c *Config) { c.Feed.Listen = "localhost" }, wantErr: "feed.listen"},
		{name: "missing simulator listen", mutate: func(c *Config) { c.Simulator.Listen = "" }, wantErr: "simulator.listen is required"},
		{name: "host without refresh", mutate: func(c *Config) {
			c.Simulator.Host = true
			c.Simulator.HostRefresh = 0
		}, wantErr: "simulator.host_refresh"},
		{name: "feed on port", mutate: func(c *Config) { c.Feed.Listen = ":9020" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = ""
	cfg.PollInterval = 0

	err := cfg.Validate()
	assert.ErrorContains(t, err, "endpoint is required")
	assert.ErrorContains(t, err, "poll_interval must be positive")
}
