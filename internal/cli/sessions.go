package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/cli/helpers"
	"github.com/coral-mesh/coral-profiler/internal/profiler"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
)

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and import profiling sessions",
	}
	cmd.AddCommand(newSessionsListCmd(opts))
	cmd.AddCommand(newSessionsImportCmd(opts))
	return cmd
}

// sessionRow is one line of `sessions list`.
type sessionRow struct {
	ID       int64  `header:"ID" json:"id"`
	Name     string `header:"NAME" json:"name"`
	DeviceID int64  `header:"DEVICE" json:"device_id"`
	PID      int32  `header:"PID" json:"pid"`
	Type     string `header:"TYPE" json:"type"`
	State    string `header:"STATE" json:"state"`
	Duration string `header:"DURATION" json:"duration,omitempty"`
	Started  string `header:"STARTED" json:"started,omitempty"`

	Process      string `json:"process,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`

	StartTimestamp int64 `json:"start_timestamp"`
	EndTimestamp   int64 `json:"end_timestamp"`
}

// sessionLister is the part of the transport client `sessions list` uses.
type sessionLister interface {
	GetDevices(ctx context.Context) ([]model.Device, error)
	GetSessions(ctx context.Context) ([]model.Session, error)
	GetSessionMetaData(ctx context.Context, sessionID int64) (model.SessionMetaData, error)
}

func newSessionsListCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions known to the transport service",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := helpers.ValidateFormat(format)
			if err != nil {
				return err
			}
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return listSessions(cmd.Context(), newClient(cfg, logger), logger, cmd.OutOrStdout(), outFormat)
		},
	}
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)
	return cmd
}

func listSessions(ctx context.Context, client sessionLister, logger zerolog.Logger, out io.Writer, format helpers.OutputFormat) error {
	sessions, err := client.GetSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	devices, err := client.GetDevices(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("Listing sessions without device names")
	}

	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		row := sessionRow{
			ID:             s.ID,
			DeviceID:       s.DeviceID,
			PID:            s.PID,
			State:          "ended",
			StartTimestamp: s.StartTimestamp,
			EndTimestamp:   s.EndTimestamp,
		}
		if s.Ongoing() {
			row.State = "ongoing"
		} else {
			row.Duration = time.Duration(s.EndTimestamp - s.StartTimestamp).String()
		}

		meta, err := client.GetSessionMetaData(ctx, s.ID)
		switch {
		case err == nil:
			row.Name = meta.SessionName
			if process, manufacturer, m, err := model.ParseSessionName(meta.SessionName, devices...); err == nil {
				row.Process, row.Manufacturer, row.Model = process, manufacturer, m
			}
			row.Type = meta.Type.String()
			if meta.StartTimestampEpochMs > 0 {
				row.Started = time.UnixMilli(meta.StartTimestampEpochMs).UTC().Format(time.RFC3339)
			}
		case errors.Is(err, model.ErrNotFound):
			logger.Debug().Int64("session_id", s.ID).Msg("Session has no metadata")
		default:
			return fmt.Errorf("failed to read metadata of session %d: %w", s.ID, err)
		}
		rows = append(rows, row)
	}

	return helpers.Write(out, format, rows)
}

func newSessionsImportCmd(opts *globalOptions) *cobra.Command {
	var (
		session model.Session
		name    string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Register a finished session recorded elsewhere",
		Long: `Register a finished session with the transport service so it can be
browsed like a live one. Timestamps are device nanoseconds.

Example:
  coral-profiler sessions import --id 7 --device 1 --pid 4242 \
    --name "com.example.app (Google Pixel)" --start 1000000 --end 9000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if session.EndTimestamp <= session.StartTimestamp {
				return errors.New("--end must be after --start")
			}
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}

			c := profiler.New(newClient(cfg, logger), profiler.Config{Logger: logger})
			defer func() { _ = c.Shutdown(context.Background()) }()

			if err := c.ImportSession(cmd.Context(), session, name); err != nil {
				return err
			}
			cmd.Printf("Imported session %d (%s)\n", session.ID, name)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&session.ID, "id", 0, "Session ID")
	flags.Int64Var(&session.DeviceID, "device", 0, "Device ID the session was recorded on")
	flags.Int32Var(&session.PID, "pid", 0, "Process ID the session was recorded on")
	flags.Int64Var(&session.StartTimestamp, "start", 0, "Start timestamp (ns)")
	flags.Int64Var(&session.EndTimestamp, "end", 0, "End timestamp (ns)")
	flags.StringVar(&name, "name", "", "Session name, e.g. \"app (Manufacturer Model)\"")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}
