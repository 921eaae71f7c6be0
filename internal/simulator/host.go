package simulator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/transport"
)

var _ transport.Service = (*Service)(nil)

// HostProcess is one process read from the host.
type HostProcess struct {
	PID          int32
	Name         string
	CreateTimeMs int64
}

// HostSource reads the local host.
type HostSource interface {
	Info(ctx context.Context) (*host.InfoStat, error)
	Processes(ctx context.Context) ([]HostProcess, error)
}

// LocalHost reads the machine this binary runs on through gopsutil.
type LocalHost struct{}

func (LocalHost) Info(ctx context.Context) (*host.InfoStat, error) {
	return host.InfoWithContext(ctx)
}

func (LocalHost) Processes(ctx context.Context) ([]HostProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]HostProcess, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			// Exited between listing and inspection, or not readable.
			continue
		}
		created, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			created = 0
		}
		out = append(out, HostProcess{PID: p.Pid, Name: name, CreateTimeMs: created})
	}
	return out, nil
}

// HostSyncConfig configures a HostSync.
type HostSyncConfig struct {
	DeviceID     int64
	FeatureLevel int32
	Interval     time.Duration
	Source       HostSource
	Logger       zerolog.Logger
}

// HostSync mirrors the local host into a Service as one device. Host
// processes become ALIVE processes; a process that exits stays listed as
// DEAD. The service clock follows the wall clock.
type HostSync struct {
	svc      *Service
	deviceID int64
	level    int32
	interval time.Duration
	source   HostSource
	logger   zerolog.Logger

	known map[int32]model.Process
}

// NewHostSync creates a HostSync writing into svc.
func NewHostSync(svc *Service, cfg HostSyncConfig) *HostSync {
	if cfg.DeviceID == 0 {
		cfg.DeviceID = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Source == nil {
		cfg.Source = LocalHost{}
	}
	return &HostSync{
		svc:      svc,
		deviceID: cfg.DeviceID,
		level:    cfg.FeatureLevel,
		interval: cfg.Interval,
		source:   cfg.Source,
		logger:   cfg.Logger.With().Str("component", "host_sync").Logger(),
		known:    make(map[int32]model.Process),
	}
}

// Start syncs immediately and then on every interval until ctx is done.
func (h *HostSync) Start(ctx context.Context) error {
	h.logger.Info().Int64("device_id", h.deviceID).Dur("interval", h.interval).Msg("Starting host sync")

	if err := h.Sync(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Initial host sync failed")
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Stopping host sync")
			return ctx.Err()
		case <-ticker.C:
			if err := h.Sync(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("Host sync failed")
			}
		}
	}
}

// Sync reads the host once and updates the service.
func (h *HostSync) Sync(ctx context.Context) error {
	info, err := h.source.Info(ctx)
	if err != nil {
		return fmt.Errorf("read host info: %w", err)
	}
	procs, err := h.source.Processes(ctx)
	if err != nil {
		return fmt.Errorf("list host processes: %w", err)
	}

	now := time.Now()
	h.svc.SetTimestamp(now.UnixNano())
	h.svc.SetEpochMs(now.UnixMilli())
	h.svc.AddDevice(model.Device{
		ID:           h.deviceID,
		Serial:       info.Hostname,
		Manufacturer: info.OS,
		Model:        strings.TrimSpace(info.Platform + " " + info.PlatformVersion),
		FeatureLevel: h.level,
		State:        model.DeviceOnline,
	})

	seen := make(map[int32]struct{}, len(procs))
	for _, hp := range procs {
		seen[hp.PID] = struct{}{}
		p := model.Process{
			DeviceID:         h.deviceID,
			PID:              hp.PID,
			Name:             hp.Name,
			State:            model.ProcessAlive,
			StartTimestampNs: hp.CreateTimeMs * int64(time.Millisecond),
		}
		if old, ok := h.known[hp.PID]; ok && old.Name != hp.Name {
			h.logger.Debug().Int32("pid", hp.PID).Str("from", old.Name).Str("to", hp.Name).Msg("Pid reused")
		}
		h.known[hp.PID] = p
	}

	exited := 0
	for pid, p := range h.known {
		if _, ok := seen[pid]; !ok && p.Alive() {
			p.State = model.ProcessDead
			h.known[pid] = p
			exited++
		}
	}

	list := make([]model.Process, 0, len(h.known))
	for _, p := range h.known {
		list = append(list, p)
	}
	slices.SortFunc(list, func(a, b model.Process) int { return int(a.PID) - int(b.PID) })
	h.svc.SetProcesses(h.deviceID, list)

	h.logger.Debug().Int("processes", len(procs)).Int("exited", exited).Msg("Host synced")
	return nil
}
