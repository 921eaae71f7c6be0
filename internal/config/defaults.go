package config

import "time"

// Default values.
const (
	DefaultEndpoint        = "http://127.0.0.1:9010"
	DefaultSimulatorListen = "127.0.0.1:9010"
	DefaultPollInterval    = time.Second
	DefaultCleanupInterval = time.Minute
	DefaultHostRefresh     = 2 * time.Second
	DefaultSamplingRate    = 1
)

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Endpoint:        DefaultEndpoint,
		PollInterval:    DefaultPollInterval,
		CleanupInterval: DefaultCleanupInterval,
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Agent: AgentConfig{
			Attach:       true,
			SamplingRate: DefaultSamplingRate,
		},
		Simulator: SimulatorConfig{
			Listen:      DefaultSimulatorListen,
			HostRefresh: DefaultHostRefresh,
		},
	}
}
