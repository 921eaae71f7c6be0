// Package preferred auto-selects a device and process once one matching a
// configured target appears.
package preferred

import (
	"cmp"
	"slices"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
)

// Predicate filters candidate processes.
type Predicate func(model.Process) bool

// StartedAfter accepts processes that started strictly after ts.
func StartedAfter(ts int64) Predicate {
	return func(p model.Process) bool {
		return p.StartTimestampNs > ts
	}
}

// Spec names the target. An empty DeviceName matches any device.
type Spec struct {
	DeviceName  string
	ProcessName string
	Filter      Predicate
}

// MatchesDevice reports whether d is an acceptable device. DeviceName is
// compared against both the display name and the serial.
func (s Spec) MatchesDevice(d model.Device) bool {
	if s.DeviceName == "" {
		return true
	}
	return s.DeviceName == model.BuildDeviceName(d) || s.DeviceName == d.Serial
}

// MatchesProcess reports whether p is an alive process with the target name
// that passes the filter.
func (s Spec) MatchesProcess(p model.Process) bool {
	if !p.Alive() || p.Name != s.ProcessName {
		return false
	}
	return s.Filter == nil || s.Filter(p)
}

// Matcher holds the active Spec and remembers when each device last came
// online, which breaks ties between matching devices. It is not safe for
// concurrent use.
type Matcher struct {
	spec *Spec

	seq      uint64
	onlineAt map[int64]uint64
	states   map[int64]model.DeviceState
}

// NewMatcher returns a matcher with no spec.
func NewMatcher() *Matcher {
	return &Matcher{
		onlineAt: make(map[int64]uint64),
		states:   make(map[int64]model.DeviceState),
	}
}

// Set replaces the spec. A nil spec or one without a process name disables
// matching.
func (m *Matcher) Set(spec *Spec) {
	if spec == nil || spec.ProcessName == "" {
		m.spec = nil
		return
	}
	cp := *spec
	m.spec = &cp
}

// Spec returns the active spec.
func (m *Matcher) Spec() (Spec, bool) {
	if m.spec == nil {
		return Spec{}, false
	}
	return *m.spec, true
}

// Observe records the latest device snapshot. Devices that transitioned to
// online since the previous call are stamped as the most recently connected.
func (m *Matcher) Observe(devices []model.Device) {
	seen := make(map[int64]struct{}, len(devices))
	for _, d := range devices {
		seen[d.ID] = struct{}{}
		prev, known := m.states[d.ID]
		if d.Online() && (!known || prev != model.DeviceOnline) {
			m.seq++
			m.onlineAt[d.ID] = m.seq
		}
		m.states[d.ID] = d.State
	}
	for id := range m.states {
		if _, ok := seen[id]; !ok {
			delete(m.states, id)
			delete(m.onlineAt, id)
		}
	}
}

// Candidates returns the online devices accepted by the spec, most recently
// connected first.
func (m *Matcher) Candidates(devices []model.Device) []model.Device {
	if m.spec == nil {
		return nil
	}
	var out []model.Device
	for _, d := range devices {
		if d.Online() && m.spec.MatchesDevice(d) {
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Device) int {
		if c := cmp.Compare(m.onlineAt[b.ID], m.onlineAt[a.ID]); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// MatchProcess returns the matching process that started last.
func (m *Matcher) MatchProcess(processes []model.Process) (model.Process, bool) {
	if m.spec == nil {
		return model.Process{}, false
	}
	var (
		best  model.Process
		found bool
	)
	for _, p := range processes {
		if !m.spec.MatchesProcess(p) {
			continue
		}
		if !found || p.StartTimestampNs > best.StartTimestampNs ||
			(p.StartTimestampNs == best.StartTimestampNs && p.PID > best.PID) {
			best, found = p, true
		}
	}
	return best, found
}

// Match scans every candidate device for a matching process and returns the
// first hit in candidate order.
func (m *Matcher) Match(devices []model.Device, processes map[int64][]model.Process) (model.Device, model.Process, bool) {
	for _, d := range m.Candidates(devices) {
		if p, ok := m.MatchProcess(processes[d.ID]); ok {
			return d, p, true
		}
	}
	return model.Device{}, model.Process{}, false
}
