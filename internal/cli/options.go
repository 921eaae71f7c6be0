package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/cli/helpers"
	"github.com/coral-mesh/coral-profiler/internal/config"
	"github.com/coral-mesh/coral-profiler/internal/logging"
	"github.com/coral-mesh/coral-profiler/internal/transport"
	"github.com/coral-mesh/coral-profiler/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	endpoint   string
	token      string
	logLevel   string
	logJSON    bool
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "Config file (default ~/.coral/profiler.yaml)")
	flags.StringVar(&o.endpoint, "endpoint", "", "Transport service URL (overrides config)")
	flags.StringVar(&o.token, "token", "", "Bearer token for the transport service")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.BoolVar(&o.logJSON, "log-json", false, "Log JSON lines instead of console output")
}

// load resolves the configuration and applies the flags the user set.
func (o *globalOptions) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	res, err := config.NewLoader().Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg := res.Config

	flags := cmd.Flags()
	helpers.OverrideString(flags, "endpoint", &cfg.Endpoint)
	helpers.OverrideString(flags, "token", &cfg.Token)
	helpers.OverrideString(flags, "log-level", &cfg.Logging.Level)
	if o.logJSON {
		cfg.Logging.Pretty = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	logger.Debug().
		Str("config_path", res.Path).
		Strs("env_overrides", res.EnvOverrides).
		Msg("Configuration loaded")
	return cfg, logger, nil
}

// newClient connects to the configured transport service.
func newClient(cfg *config.Config, logger zerolog.Logger) *transport.Client {
	opts := []transport.ClientOption{
		transport.WithLogger(logger),
		transport.WithUserAgent(version.UserAgent()),
	}
	if cfg.Token != "" {
		opts = append(opts, transport.WithBearerToken(cfg.Token))
	}
	return transport.NewClient(transport.NewHTTPClient(cfg.Endpoint), cfg.Endpoint, opts...)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
