// Package profiler implements the host-side controller that discovers
// devices and processes, binds a session to the selected process and drives
// the profiler stages.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/profiler/agent"
	"github.com/coral-mesh/coral-profiler/internal/profiler/capture"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/notify"
	"github.com/coral-mesh/coral-profiler/internal/profiler/preferred"
	"github.com/coral-mesh/coral-profiler/internal/profiler/session"
	"github.com/coral-mesh/coral-profiler/internal/profiler/stage"
	"github.com/coral-mesh/coral-profiler/internal/profiler/timeline"
)

// ErrStopped is returned by every operation after Shutdown.
var ErrStopped = errors.New("profiler controller stopped")

// energyFeatureLevel is the first device feature level with energy
// profiling support.
const energyFeatureLevel = 26

// Client is the profiler service as seen by the controller.
type Client interface {
	GetDevices(ctx context.Context) ([]model.Device, error)
	GetProcesses(ctx context.Context, deviceID int64) ([]model.Process, error)
	session.Client
	agent.Client
}

// Clock produces ticks. The controller stops it on Shutdown.
type Clock interface {
	Stop()
}

// Observer receives controller events for instrumentation.
type Observer interface {
	TickCompleted(elapsed time.Duration, err error)
	SessionBegun()
	SessionEnded()
	CaptureLoaded(kind stage.Kind, outcome stage.Outcome)
}

type noopObserver struct{}

func (noopObserver) TickCompleted(time.Duration, error)      {}
func (noopObserver) SessionBegun()                           {}
func (noopObserver) SessionEnded()                           {}
func (noopObserver) CaptureLoaded(stage.Kind, stage.Outcome) {}

// SessionChangeListener picks the stage to enter when a session of a given
// type becomes current.
type SessionChangeListener func(s model.Session, meta model.SessionMetaData) stage.Kind

// Config configures a Controller.
type Config struct {
	Logger      zerolog.Logger
	AgentConfig model.AgentConfig

	// Preferred, when set, auto-selects the named process once it appears.
	Preferred *preferred.Spec

	EnergyProfilerEnabled bool

	Clock     Clock
	Observer  Observer
	NewLoader func() *capture.Loader
}

// Controller is safe for concurrent use. Notifications are delivered after
// the operation that caused them has released the controller, so handlers
// may call getters but must not call operations synchronously.
type Controller struct {
	id       string
	client   Client
	logger   zerolog.Logger
	bus      *notify.Bus
	timeline *timeline.Timeline
	observer Observer
	energy   bool

	mu       sync.Mutex
	clock    Clock
	sessions *session.Manager
	agents   *agent.Tracker
	matcher  *preferred.Matcher
	stages   *stage.Controller

	devices   []model.Device
	processes map[int64][]model.Process
	device    *model.Device
	process   *model.Process

	// devicePinned and processPinned record explicit user selections, which
	// preferred matching never overrides.
	devicePinned  bool
	processPinned bool
	// suppressAuto keeps a cleared selection cleared across ticks.
	suppressAuto bool
	// pendingBegin retries a session that failed to begin.
	pendingBegin bool

	listeners map[model.SessionType]SessionChangeListener
	pending   notify.Set
	stopped   bool
}

// New creates a controller. Nothing is fetched until the first PollOnce.
func New(client Client, cfg Config) *Controller {
	id := uuid.New().String()
	logger := cfg.Logger.With().Str("component", "profiler").Str("controller_id", id).Logger()

	c := &Controller{
		id:        id,
		client:    client,
		logger:    logger,
		bus:       notify.NewBus(),
		timeline:  timeline.New(),
		observer:  cfg.Observer,
		energy:    cfg.EnergyProfilerEnabled,
		clock:     cfg.Clock,
		processes: make(map[int64][]model.Process),
		listeners: make(map[model.SessionType]SessionChangeListener),
	}
	if c.observer == nil {
		c.observer = noopObserver{}
	}

	c.sessions = session.NewManager(client, c.timeline, session.Config{
		Logger:      cfg.Logger,
		AgentConfig: cfg.AgentConfig,
	})
	c.agents = agent.NewTracker(client, cfg.Logger)
	c.matcher = preferred.NewMatcher()
	c.matcher.Set(cfg.Preferred)
	c.stages = stage.NewController(stage.Config{
		Logger:        cfg.Logger,
		Timeline:      c.timeline,
		NewLoader:     cfg.NewLoader,
		Join:          c.join,
		OnLoadOutcome: c.observer.CaptureLoaded,
	})

	monitor := func(model.Session, model.SessionMetaData) stage.Kind { return stage.KindMonitor }
	c.listeners[model.SessionFull] = monitor
	c.listeners[model.SessionImported] = monitor

	return c
}

// ID identifies this controller instance in logs.
func (c *Controller) ID() string {
	return c.id
}

// SetClock sets the clock stopped by Shutdown.
func (c *Controller) SetClock(clock Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// Subscribe registers fn for the facets in set.
func (c *Controller) Subscribe(set notify.Set, fn notify.Handler) (unsubscribe func()) {
	return c.bus.Subscribe(set, fn)
}

// RegisterSessionChangeListener sets the stage chooser for sessions of typ.
func (c *Controller) RegisterSessionChangeListener(typ model.SessionType, fn SessionChangeListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[typ] = fn
}

// do runs fn under the controller lock and publishes the facets it changed
// once the lock is released.
func (c *Controller) do(fn func() error) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	err := fn()
	set := c.pending
	c.pending = 0
	c.mu.Unlock()

	c.bus.Publish(set)
	return err
}

// join applies an asynchronous stage update.
func (c *Controller) join(apply func() notify.Set) {
	c.mu.Lock()
	c.pending |= apply()
	set := c.pending
	c.pending = 0
	c.mu.Unlock()

	c.bus.Publish(set)
}

func (c *Controller) mark(facets ...notify.Facet) {
	c.pending |= notify.Of(facets...)
}

// PollOnce runs one discovery and reconciliation tick. A failed fetch leaves
// every facet unchanged.
func (c *Controller) PollOnce(ctx context.Context) error {
	start := time.Now()
	err := c.do(func() error {
		return c.tickLocked(ctx)
	})
	if errors.Is(err, ErrStopped) {
		return err
	}

	c.observer.TickCompleted(time.Since(start), err)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Poll failed, retrying on next tick")
	}
	return err
}

// RunCleanup forgets cached view ranges of sessions the service dropped.
func (c *Controller) RunCleanup(ctx context.Context) error {
	return c.do(func() error {
		dropped, err := c.sessions.Prune(ctx)
		if err != nil {
			return err
		}
		if dropped > 0 {
			c.logger.Debug().Int("dropped", dropped).Msg("Pruned session view ranges")
		}
		return nil
	})
}

// Shutdown cancels capture loads, clears the session and selection and stops
// the clock. Calling it again is a no-op.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	clock := c.clock
	c.mu.Unlock()

	if clock != nil {
		clock.Stop()
	}

	c.mu.Lock()
	c.pending |= c.stages.Enter(stage.KindNull)
	c.endSessionLocked(ctx)
	c.sessions.Clear()
	c.device, c.process = nil, nil
	c.devicePinned, c.processPinned, c.pendingBegin = false, false, false
	c.agents.Reset()
	c.mark(notify.Device, notify.Process, notify.Session, notify.Stage, notify.Mode)
	set := c.pending
	c.pending = 0
	c.mu.Unlock()

	c.bus.Publish(set)
	c.logger.Info().Msg("Profiler controller stopped")
	return nil
}

// Stopped reports whether Shutdown was called.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Devices returns the last fetched devices.
func (c *Controller) Devices() []model.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.devices)
}

// Processes returns the alive processes of the selected device, plus the
// selected process whatever its state.
func (c *Controller) Processes() []model.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	return c.visibleProcessesLocked(c.device.ID)
}

func (c *Controller) visibleProcessesLocked(deviceID int64) []model.Process {
	var selected int32
	if c.process != nil && c.process.DeviceID == deviceID {
		selected = c.process.PID
	}
	var out []model.Process
	for _, p := range c.processes[deviceID] {
		if p.Alive() || (selected != 0 && p.PID == selected) {
			out = append(out, p)
		}
	}
	return out
}

// Device returns the selected device, or nil.
func (c *Controller) Device() *model.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	d := *c.device
	return &d
}

// Process returns the selected process, or nil.
func (c *Controller) Process() *model.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == nil {
		return nil
	}
	p := *c.process
	return &p
}

// Session returns the current session; the zero Session when there is none.
func (c *Controller) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Current()
}

// SessionMetaData returns the metadata of the current session.
func (c *Controller) SessionMetaData() model.SessionMetaData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.MetaData()
}

// SessionDisplayName returns the name of the current session, or "" without
// one.
func (c *Controller) SessionDisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions.Current().IsZero() {
		return ""
	}
	return c.sessions.MetaData().SessionName
}

// AgentStatus returns the agent status of the selected process.
func (c *Controller) AgentStatus() model.AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents.Status()
}

// Stage returns the current stage.
func (c *Controller) Stage() stage.Stage {
	return c.stages.Current()
}

// Mode returns the layout of the current stage.
func (c *Controller) Mode() stage.Mode {
	return c.stages.Mode()
}

// Timeline returns the timeline of the current session.
func (c *Controller) Timeline() *timeline.Timeline {
	return c.timeline
}

// PreferredProcess returns the active preferred-process spec.
func (c *Controller) PreferredProcess() (preferred.Spec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matcher.Spec()
}

func (c *Controller) findDeviceLocked(id int64) (model.Device, bool) {
	for _, d := range c.devices {
		if d.ID == id {
			return d, true
		}
	}
	return model.Device{}, false
}

func (c *Controller) findProcessLocked(p model.Process) (model.Process, error) {
	if c.device == nil || p.DeviceID != c.device.ID {
		return model.Process{}, fmt.Errorf("process %d is not on the selected device: %w", p.PID, model.ErrNotFound)
	}
	for _, fresh := range c.processes[p.DeviceID] {
		if fresh.PID == p.PID && (p.Name == "" || fresh.Name == p.Name) {
			return fresh, nil
		}
	}
	return model.Process{}, fmt.Errorf("process %d: %w", p.PID, model.ErrNotFound)
}
