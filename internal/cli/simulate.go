package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/cli/helpers"
	"github.com/coral-mesh/coral-profiler/internal/config"
	errs "github.com/coral-mesh/coral-profiler/internal/errors"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/simulator"
	"github.com/coral-mesh/coral-profiler/internal/transport"
)

func newSimulateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve an in-memory transport service",
		Long: `Serve a simulated transport service for trying the profiler without a
device. By default one emulator device with a few processes is exposed;
with --host the local machine is exposed instead and its processes are
refreshed periodically.

Example:
  coral-profiler simulate
  coral-profiler simulate --host --listen 127.0.0.1:9010`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			helpers.OverrideString(flags, "listen", &cfg.Simulator.Listen)
			helpers.OverrideBool(flags, "host", &cfg.Simulator.Host)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			srv, err := startSimulator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer errs.DeferShutdown(logger, srv.Stop, shutdownTimeout, "Failed to stop simulator")

			cmd.Printf("Simulator listening on http://%s\n", srv.Addr())
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().String("listen", "", "Listen address (overrides simulator.listen)")
	cmd.Flags().Bool("host", false, "Expose the local host's processes as a device")
	return cmd
}

// startSimulator builds and serves a simulator. Background work ends with ctx.
func startSimulator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*transport.Server, error) {
	svc := simulator.New()

	if cfg.Simulator.Host {
		hostSync := simulator.NewHostSync(svc, simulator.HostSyncConfig{
			FeatureLevel: 26,
			Interval:     cfg.Simulator.HostRefresh,
			Logger:       logger,
		})
		go func() { _ = hostSync.Start(ctx) }()
	} else {
		seedDemo(svc)
		go advanceClock(ctx, svc, time.Second)
	}

	interceptors := []connect.Interceptor{transport.NewLoggingInterceptor(logger)}
	if cfg.Token != "" {
		interceptors = append(interceptors, transport.NewAuthInterceptor(cfg.Token))
	}
	path, handler := transport.NewHandler(svc, connect.WithInterceptors(interceptors...))

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := transport.NewServer("simulator_server", cfg.Simulator.Listen, mux, logger)
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start simulator: %w", err)
	}
	return srv, nil
}

func seedDemo(svc *simulator.Service) {
	now := time.Now()
	svc.SetEpochMs(now.UnixMilli())
	svc.SetTimestamp(int64(time.Hour))

	svc.AddDevice(model.Device{
		ID:           1,
		Serial:       "emulator-5554",
		Manufacturer: "Google",
		Model:        "sdk_gphone64",
		FeatureLevel: 34,
		State:        model.DeviceOnline,
	})
	svc.AddProcess(model.Process{DeviceID: 1, PID: 4242, Name: "com.example.app", State: model.ProcessAlive, StartTimestampNs: int64(30 * time.Minute)})
	svc.AddProcess(model.Process{DeviceID: 1, PID: 512, Name: "system_server", State: model.ProcessAlive, StartTimestampNs: int64(time.Minute)})
	svc.AddProcess(model.Process{DeviceID: 1, PID: 3001, Name: "com.android.launcher", State: model.ProcessAlive, StartTimestampNs: int64(2 * time.Minute)})
	svc.SetAgentStatus(1, 4242, model.AgentAttached)
}

// advanceClock moves the simulated device clock with the wall clock.
func advanceClock(ctx context.Context, svc *simulator.Service, step time.Duration) {
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.Advance(int64(step))
			svc.SetEpochMs(time.Now().UnixMilli())
		}
	}
}
