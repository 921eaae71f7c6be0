// Package config loads the profiler configuration from a YAML file with
// environment overrides.
package config

import "time"

// Config is the complete profiler configuration.
//
// Fields tagged with `env` may be overridden by the named environment
// variable after the file is read.
type Config struct {
	// Endpoint is the base URL of the transport service.
	Endpoint string `yaml:"endpoint" env:"CORAL_PROFILER_ENDPOINT"`
	// Token is sent as a bearer token when set.
	Token string `yaml:"token,omitempty" env:"CORAL_PROFILER_TOKEN"`

	PollInterval    time.Duration `yaml:"poll_interval" env:"CORAL_PROFILER_POLL_INTERVAL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CORAL_PROFILER_CLEANUP_INTERVAL"`

	Logging   LoggingConfig   `yaml:"logging"`
	Preferred PreferredConfig `yaml:"preferred"`
	Agent     AgentConfig     `yaml:"agent"`
	Features  FeaturesConfig  `yaml:"features"`
	Feed      FeedConfig      `yaml:"feed"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CORAL_PROFILER_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"CORAL_PROFILER_LOG_PRETTY"`
}

// PreferredConfig names a process to attach to once it appears. An empty
// Process disables preferred matching.
type PreferredConfig struct {
	Device  string `yaml:"device,omitempty" env:"CORAL_PROFILER_PREFERRED_DEVICE"`
	Process string `yaml:"process,omitempty" env:"CORAL_PROFILER_PREFERRED_PROCESS"`
	// StartedAfterNs only accepts processes that started after this device
	// timestamp. Zero accepts any.
	StartedAfterNs int64 `yaml:"started_after_ns,omitempty" env:"CORAL_PROFILER_PREFERRED_STARTED_AFTER_NS"`
}

// AgentConfig is sent with every new session.
type AgentConfig struct {
	Attach         bool  `yaml:"attach" env:"CORAL_PROFILER_AGENT_ATTACH"`
	LiveAllocation bool  `yaml:"live_allocation" env:"CORAL_PROFILER_AGENT_LIVE_ALLOCATION"`
	SamplingRate   int32 `yaml:"sampling_rate" env:"CORAL_PROFILER_AGENT_SAMPLING_RATE"`
}

// FeaturesConfig toggles optional stages.
type FeaturesConfig struct {
	EnergyProfiler bool `yaml:"energy_profiler" env:"CORAL_PROFILER_ENERGY"`
}

// FeedConfig configures the websocket notification feed. Empty disables it.
type FeedConfig struct {
	Listen string `yaml:"listen,omitempty" env:"CORAL_PROFILER_FEED_LISTEN"`
}

// MetricsConfig configures the Prometheus endpoint. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty" env:"CORAL_PROFILER_METRICS_LISTEN"`
}

// SimulatorConfig configures the `simulate` command.
type SimulatorConfig struct {
	Listen string `yaml:"listen" env:"CORAL_PROFILER_SIMULATOR_LISTEN"`
	// Host mirrors the local machine's processes as a simulated device.
	Host        bool          `yaml:"host" env:"CORAL_PROFILER_SIMULATOR_HOST"`
	HostRefresh time.Duration `yaml:"host_refresh" env:"CORAL_PROFILER_SIMULATOR_HOST_REFRESH"`
}
