package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/cli/helpers"
	"github.com/coral-mesh/coral-profiler/internal/config"
	errs "github.com/coral-mesh/coral-profiler/internal/errors"
	"github.com/coral-mesh/coral-profiler/internal/feed"
	"github.com/coral-mesh/coral-profiler/internal/metrics"
	"github.com/coral-mesh/coral-profiler/internal/poller"
	"github.com/coral-mesh/coral-profiler/internal/profiler"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/notify"
	"github.com/coral-mesh/coral-profiler/internal/profiler/preferred"
	"github.com/coral-mesh/coral-profiler/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow devices and processes and keep a session on the selected one",
		Long: `Poll the transport service, auto-select a device and process and keep a
profiling session bound to it. Every change is printed as it happens.

The preferred flags target a process by name; it is attached to as soon as
it appears on a matching device.

Example:
  coral-profiler watch
  coral-profiler watch --preferred-process com.example.app --metrics-listen 127.0.0.1:9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			helpers.OverrideString(flags, "preferred-device", &cfg.Preferred.Device)
			helpers.OverrideString(flags, "preferred-process", &cfg.Preferred.Process)
			helpers.OverrideString(flags, "feed-listen", &cfg.Feed.Listen)
			helpers.OverrideString(flags, "metrics-listen", &cfg.Metrics.Listen)
			helpers.OverrideBool(flags, "energy", &cfg.Features.EnergyProfiler)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			return runWatch(ctx, cfg, newClient(cfg, logger), logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("preferred-device", "", "Device name or serial the preferred process must run on")
	cmd.Flags().String("preferred-process", "", "Process name to attach to once it appears")
	cmd.Flags().String("feed-listen", "", "Serve a websocket notification feed on this address")
	cmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Bool("energy", false, "Enable the energy profiler stage")
	return cmd
}

// runWatch drives a controller until ctx is done.
func runWatch(ctx context.Context, cfg *config.Config, client profiler.Client, logger zerolog.Logger, out io.Writer) error {
	clock := poller.New(ctx, poller.Config{
		Name:            "profiler_poller",
		PollInterval:    cfg.PollInterval,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logger,
	})

	var observer profiler.Observer
	var recorder *metrics.Recorder
	if cfg.Metrics.Listen != "" {
		recorder = metrics.NewRecorder()
		observer = recorder
	}

	c := profiler.New(client, controllerConfig(cfg, logger, clock, observer))

	printer := &eventPrinter{out: out, src: c}
	unsubscribe := c.Subscribe(notify.All, printer.print)
	defer unsubscribe()

	var servers []*transport.Server
	defer func() {
		for _, srv := range servers {
			errs.DeferShutdown(logger, srv.Stop, shutdownTimeout, "Failed to stop server")
		}
	}()

	if cfg.Feed.Listen != "" {
		b := feed.NewBroadcaster(c, logger)
		defer b.Close()
		srv := transport.NewServer("feed_server", cfg.Feed.Listen, b, logger)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start feed: %w", err)
		}
		servers = append(servers, srv)
	}
	if recorder != nil {
		srv := transport.NewServer("metrics_server", cfg.Metrics.Listen, recorder.Handler(), logger)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics: %w", err)
		}
		servers = append(servers, srv)
	}

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("controller_id", c.ID()).
		Str("preferred_process", cfg.Preferred.Process).
		Msg("Watching")

	clock.Start(c)
	<-ctx.Done()

	logger.Info().Msg("Shutting down")
	errs.DeferShutdown(logger, c.Shutdown, shutdownTimeout, "Failed to shut down controller")
	return nil
}

func controllerConfig(cfg *config.Config, logger zerolog.Logger, clock profiler.Clock, observer profiler.Observer) profiler.Config {
	pc := profiler.Config{
		Logger: logger,
		AgentConfig: model.AgentConfig{
			AttachAgent:            cfg.Agent.Attach,
			LiveAllocation:         cfg.Agent.LiveAllocation,
			AllocationSamplingRate: cfg.Agent.SamplingRate,
		},
		EnergyProfilerEnabled: cfg.Features.EnergyProfiler,
		Clock:                 clock,
		Observer:              observer,
	}

	if cfg.Preferred.Process != "" {
		spec := &preferred.Spec{
			DeviceName:  cfg.Preferred.Device,
			ProcessName: cfg.Preferred.Process,
		}
		if cfg.Preferred.StartedAfterNs > 0 {
			spec.Filter = preferred.StartedAfter(cfg.Preferred.StartedAfterNs)
		}
		pc.Preferred = spec
	}
	return pc
}

// eventPrinter writes one line per notification.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
	src feed.Source
}

func (p *eventPrinter) print(f notify.Facet) {
	line := describe(f, feed.TakeSnapshot(p.src))

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "%-8s %s\n", f, line)
}

func describe(f notify.Facet, s feed.Snapshot) string {
	switch f {
	case notify.Device:
		if s.Device == nil {
			return "none"
		}
		return fmt.Sprintf("%s [%s]", model.BuildDeviceName(*s.Device), s.Device.State)
	case notify.Process:
		if s.Process == nil {
			return "none"
		}
		return fmt.Sprintf("%s pid=%d [%s]", s.Process.Name, s.Process.PID, s.Process.State)
	case notify.Session:
		if s.Session == nil {
			return "none"
		}
		state := "ended"
		if s.Session.Ongoing() {
			state = "ongoing"
		}
		return fmt.Sprintf("#%d %s [%s]", s.Session.ID, s.SessionName, state)
	case notify.Agent:
		return s.Agent.String()
	case notify.Stage:
		if s.Capture != "" {
			return fmt.Sprintf("%s capture=%q", s.Stage, s.Capture)
		}
		return s.Stage
	case notify.Mode:
		return s.Mode
	case notify.Capture:
		return fmt.Sprintf("%q loaded=%t", s.Capture, s.CaptureLoaded)
	default:
		return ""
	}
}
