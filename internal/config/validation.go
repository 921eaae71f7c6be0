package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks every field and joins all problems found.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if u, err := url.Parse(c.Endpoint); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("endpoint %q must be an http or https URL", c.Endpoint))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("cleanup_interval must be positive, got %s", c.CleanupInterval))
	}

	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level %q must be one of trace, debug, info, warn, error", c.Logging.Level))
	}

	if c.Preferred.Device != "" && c.Preferred.Process == "" {
		errs = append(errs, errors.New("preferred.device requires preferred.process"))
	}
	if c.Preferred.StartedAfterNs < 0 {
		errs = append(errs, errors.New("preferred.started_after_ns must not be negative"))
	}

	if c.Agent.SamplingRate < 0 {
		errs = append(errs, fmt.Errorf("agent.sampling_rate must not be negative, got %d", c.Agent.SamplingRate))
	}

	errs = appendListenErr(errs, "feed.listen", c.Feed.Listen, false)
	errs = appendListenErr(errs, "metrics.listen", c.Metrics.Listen, false)
	errs = appendListenErr(errs, "simulator.listen", c.Simulator.Listen, true)

	if c.Simulator.Host && c.Simulator.HostRefresh <= 0 {
		errs = append(errs, errors.New("simulator.host_refresh must be positive when simulator.host is set"))
	}

	return errors.Join(errs...)
}

func appendListenErr(errs []error, key, addr string, required bool) []error {
	if addr == "" {
		if required {
			return append(errs, fmt.Errorf("%s is required", key))
		}
		return errs
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return append(errs, fmt.Errorf("%s %q: %w", key, addr, err))
	}
	return errs
}
