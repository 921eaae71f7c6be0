package profiler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/notify"
	"github.com/coral-mesh/coral-profiler/internal/profiler/preferred"
	"github.com/coral-mesh/coral-profiler/internal/profiler/stage"
)

// SetDevice selects a device. A non-nil device wins over preferred matching
// until cleared; nil clears device and process but keeps the last session
// visible, and nothing is re-selected automatically afterwards unless a
// preferred process appears.
func (c *Controller) SetDevice(ctx context.Context, d *model.Device) error {
	return c.do(func() error {
		if d == nil {
			c.devicePinned, c.processPinned = false, false
			c.suppressAuto = true
			c.applyDeviceLocked(ctx, nil)
			return nil
		}

		fresh, ok := c.findDeviceLocked(d.ID)
		if !ok {
			return fmt.Errorf("device %d: %w", d.ID, model.ErrNotFound)
		}
		c.devicePinned = true
		c.suppressAuto = false
		c.applyDeviceLocked(ctx, &fresh)
		c.applyProcessLocked(ctx, c.resolveProcessLocked())
		c.updateAgentLocked(ctx)
		return nil
	})
}

// SetProcess selects a process on the selected device and begins profiling
// it. Re-selecting the current live process is a no-op; re-selecting it
// after it restarted under the same pid begins a new session. nil lets the
// controller choose: the preferred process, else the current one, else the
// first alive one.
func (c *Controller) SetProcess(ctx context.Context, p *model.Process) error {
	return c.do(func() error {
		if c.device == nil {
			if p == nil {
				return nil
			}
			return fmt.Errorf("set process %d: no device selected", p.PID)
		}
		if p == nil {
			c.processPinned, c.suppressAuto = false, false
			c.applyProcessLocked(ctx, c.resolveProcessLocked())
			c.updateAgentLocked(ctx)
			return nil
		}

		fresh, err := c.findProcessLocked(*p)
		if err != nil {
			return err
		}
		c.devicePinned, c.processPinned = true, true
		c.suppressAuto = false

		if !model.SameProcess(c.process, &fresh) {
			c.applyProcessLocked(ctx, &fresh)
			c.updateAgentLocked(ctx)
			return nil
		}

		if *c.process != fresh {
			c.process = &fresh
			c.mark(notify.Process)
		}
		if fresh.Alive() && c.device.Online() && !c.sessions.Current().Covers(fresh) {
			c.beginLocked(ctx)
		}
		c.updateAgentLocked(ctx)
		return nil
	})
}

// SetPreferredProcess replaces the preferred-process spec and re-resolves the
// selection immediately, overriding explicit selections. nil disables
// preferred matching.
func (c *Controller) SetPreferredProcess(ctx context.Context, spec *preferred.Spec) error {
	return c.do(func() error {
		c.matcher.Set(spec)
		c.devicePinned, c.processPinned, c.suppressAuto = false, false, false
		if s, ok := c.matcher.Spec(); ok {
			c.logger.Info().Str("device", s.DeviceName).Str("process", s.ProcessName).Msg("Preferred process set")
		}
		c.reselectLocked(ctx)
		c.reconcileSessionLocked(ctx)
		return nil
	})
}

func (c *Controller) tickLocked(ctx context.Context) error {
	devices, err := c.client.GetDevices(ctx)
	if err != nil {
		return fmt.Errorf("get devices: %w", err)
	}

	procs := make(map[int64][]model.Process, len(devices))
	for _, d := range devices {
		ps, err := c.client.GetProcesses(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("get processes of device %d: %w", d.ID, err)
		}
		procs[d.ID] = ps
	}

	c.observeLocked(devices, procs)
	c.reselectLocked(ctx)
	c.reconcileSessionLocked(ctx)
	c.updateAgentLocked(ctx)
	if err := c.sessions.Refresh(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to advance timeline")
	}
	return nil
}

// observeLocked installs a fresh snapshot of devices and processes.
func (c *Controller) observeLocked(devices []model.Device, procs map[int64][]model.Process) {
	c.matcher.Observe(devices)

	if !slices.Equal(c.devices, devices) {
		c.logDeviceDiffLocked(devices)
		c.mark(notify.Device)
	}
	if !maps.EqualFunc(c.processes, procs, slices.Equal[[]model.Process]) {
		c.mark(notify.Process)
	}

	c.devices = devices
	c.processes = procs
}

func (c *Controller) logDeviceDiffLocked(devices []model.Device) {
	prev := make(map[int64]model.Device, len(c.devices))
	for _, d := range c.devices {
		prev[d.ID] = d
	}
	for _, d := range devices {
		old, ok := prev[d.ID]
		switch {
		case !ok:
			c.logger.Debug().Int64("device_id", d.ID).Str("serial", d.Serial).Stringer("state", d.State).Msg("Device added")
		case old.State != d.State:
			c.logger.Debug().Int64("device_id", d.ID).Stringer("from", old.State).Stringer("to", d.State).Msg("Device state changed")
		}
		delete(prev, d.ID)
	}
	for id := range prev {
		c.logger.Debug().Int64("device_id", id).Msg("Device removed")
	}
}

func (c *Controller) reselectLocked(ctx context.Context) {
	c.applyDeviceLocked(ctx, c.resolveDeviceLocked())
	c.applyProcessLocked(ctx, c.resolveProcessLocked())
}

// resolveDeviceLocked picks the device the selection should point at after a
// refresh.
func (c *Controller) resolveDeviceLocked() *model.Device {
	var current *model.Device
	if c.device != nil {
		if fresh, ok := c.findDeviceLocked(c.device.ID); ok {
			current = &fresh
		}
	}

	spec, active := c.matcher.Spec()
	if active && !c.devicePinned {
		currentMatches := current != nil && current.Online() && spec.MatchesDevice(*current)
		if currentMatches {
			if _, ok := c.matcher.MatchProcess(c.processes[current.ID]); ok {
				return current
			}
		}
		if d, _, ok := c.matcher.Match(c.devices, c.processes); ok {
			c.logger.Info().Int64("device_id", d.ID).Str("process", spec.ProcessName).Msg("Preferred process found")
			return &d
		}
		if currentMatches {
			return current
		}
		if spec.DeviceName != "" {
			if cands := c.matcher.Candidates(c.devices); len(cands) > 0 {
				return &cands[0]
			}
		}
	}

	if current != nil {
		return current
	}
	if c.suppressAuto || (active && spec.DeviceName != "") {
		return nil
	}

	for _, d := range c.devices {
		if d.Online() && slices.ContainsFunc(c.processes[d.ID], model.Process.Alive) {
			return &d
		}
	}
	if len(c.devices) > 0 {
		d := c.devices[0]
		return &d
	}
	return nil
}

// resolveProcessLocked picks the process on the selected device.
func (c *Controller) resolveProcessLocked() *model.Process {
	if c.device == nil {
		return nil
	}
	procs := c.processes[c.device.ID]

	spec, active := c.matcher.Spec()
	waiting := active && !c.processPinned && spec.MatchesDevice(*c.device)
	if waiting {
		for _, p := range procs {
			if isSelected(c.process, &p) && spec.MatchesProcess(p) {
				return &p
			}
		}
		if p, ok := c.matcher.MatchProcess(procs); ok {
			return &p
		}
	}

	for _, p := range procs {
		if isSelected(c.process, &p) {
			return &p
		}
	}

	if waiting || c.suppressAuto {
		return nil
	}
	for _, p := range procs {
		if p.Alive() {
			return &p
		}
	}
	return nil
}

// isSelected reports whether p is the selected process or a restart of it.
func isSelected(selected, p *model.Process) bool {
	return model.SameProcess(selected, p) || model.Restarted(selected, p)
}

// applyDeviceLocked points the selection at d. Switching devices ends the
// current session and drops the process.
func (c *Controller) applyDeviceLocked(ctx context.Context, d *model.Device) {
	switch {
	case d == nil && c.device == nil:
		return
	case d != nil && c.device != nil && d.ID == c.device.ID:
		if *d != *c.device {
			c.device = d
			c.mark(notify.Device)
		}
		return
	}

	c.endSessionLocked(ctx)
	if d != nil {
		if s := c.sessions.Current(); !s.IsZero() && s.DeviceID != d.ID {
			c.clearSessionLocked()
		}
		c.logger.Info().Int64("device_id", d.ID).Str("name", model.BuildDeviceName(*d)).Msg("Device selected")
	}

	c.device = d
	c.processPinned = false
	c.mark(notify.Device)

	if c.process != nil {
		c.process = nil
		c.agents.Reset()
		c.mark(notify.Process)
	}
}

// applyProcessLocked points the selection at p. A different alive process,
// including a restart of the same pid, gets a new session; the same process
// in a new state only refreshes the snapshot, so a dead process keeps its
// ended session and stage.
func (c *Controller) applyProcessLocked(ctx context.Context, p *model.Process) {
	switch {
	case p == nil && c.process == nil:
		return
	case model.SameProcess(p, c.process):
		if *p != *c.process {
			c.process = p
			c.mark(notify.Process)
		}
		return
	}

	c.endSessionLocked(ctx)
	prev := c.process
	c.process = p
	c.pendingBegin = false
	c.agents.Reset()
	c.mark(notify.Process)

	if p == nil || !p.Alive() {
		if c.device != nil {
			c.clearSessionLocked()
		}
		return
	}

	if model.Restarted(prev, p) {
		c.logger.Info().Int32("pid", p.PID).Int64("start_ns", p.StartTimestampNs).Msg("Process restarted")
	}
	c.logger.Info().Int32("pid", p.PID).Str("name", p.Name).Msg("Process selected")
	if c.device.Online() {
		c.beginLocked(ctx)
	}
}

// beginLocked begins a session for the selected process and enters the stage
// chosen for the new session.
func (c *Controller) beginLocked(ctx context.Context) {
	began, err := c.sessions.BeginIfNeeded(ctx, *c.device, *c.process)
	if err != nil {
		c.logger.Warn().Err(err).Int32("pid", c.process.PID).Msg("Failed to begin session, retrying on next tick")
		c.pendingBegin = true
		return
	}
	c.pendingBegin = false
	if !began {
		return
	}

	c.mark(notify.Session)
	c.observer.SessionBegun()
	c.sessionChangedLocked()
}

func (c *Controller) endSessionLocked(ctx context.Context) {
	ended, err := c.sessions.End(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to end session")
		return
	}
	if ended {
		c.mark(notify.Session)
		c.observer.SessionEnded()
	}
}

// clearSessionLocked drops the current session and parks the stage.
func (c *Controller) clearSessionLocked() {
	if c.sessions.Clear() {
		c.mark(notify.Session)
	}
	c.pending |= c.stages.Enter(stage.KindNull)
}

// sessionChangedLocked enters the stage registered for the type of the new
// current session.
func (c *Controller) sessionChangedLocked() {
	s := c.sessions.Current()
	if s.IsZero() {
		c.pending |= c.stages.Enter(stage.KindNull)
		return
	}

	meta := c.sessions.MetaData()
	kind := stage.KindMonitor
	if fn, ok := c.listeners[meta.Type]; ok {
		kind = fn(s, meta)
	}
	if kind == stage.KindNull {
		kind = stage.KindMonitor
	}
	c.pending |= c.stages.Enter(kind)
}

// reconcileSessionLocked ends a session whose process died or whose device
// went away, and retries a session that failed to begin.
func (c *Controller) reconcileSessionLocked(ctx context.Context) {
	s := c.sessions.Current()
	if s.Ongoing() {
		bound := c.device != nil && c.process != nil && s.DeviceID == c.process.DeviceID && s.PID == c.process.PID
		if !bound || !c.process.Alive() || !c.device.Online() {
			c.endSessionLocked(ctx)
		}
	}

	if c.pendingBegin {
		if c.device == nil || c.process == nil || !c.process.Alive() {
			c.pendingBegin = false
			return
		}
		if c.device.Online() {
			c.beginLocked(ctx)
		}
	}
}

func (c *Controller) updateAgentLocked(ctx context.Context) {
	if c.process == nil {
		c.agents.Reset()
		return
	}
	changed, err := c.agents.Update(ctx, c.process)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn().Err(err).Msg("Failed to fetch agent status")
		}
		return
	}
	if changed {
		c.mark(notify.Agent)
	}
}
