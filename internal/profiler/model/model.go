// Package model defines the immutable snapshots exchanged with the profiler
// service: devices, processes, sessions and agent status.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// OngoingTimestamp is the end timestamp of a session that has not ended yet.
const OngoingTimestamp int64 = math.MaxInt64

var (
	// ErrUnavailable reports a transient failure talking to the profiler service.
	ErrUnavailable = errors.New("profiler service unavailable")

	// ErrNotFound reports a device, process or session unknown to the service.
	ErrNotFound = errors.New("not found")
)

// DeviceState is the connection state of a device.
type DeviceState int

const (
	DeviceStateUnspecified DeviceState = iota
	DeviceOnline
	DeviceOffline
	DeviceDisconnected
)

var deviceStateNames = map[DeviceState]string{
	DeviceStateUnspecified: "UNSPECIFIED",
	DeviceOnline:           "ONLINE",
	DeviceOffline:          "OFFLINE",
	DeviceDisconnected:     "DISCONNECTED",
}

func (s DeviceState) String() string {
	if name, ok := deviceStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DeviceState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s DeviceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DeviceState) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), deviceStateNames)
	if err != nil {
		return fmt.Errorf("device state: %w", err)
	}
	*s = v
	return nil
}

// ProcessState is the liveness of a process.
type ProcessState int

const (
	ProcessStateUnspecified ProcessState = iota
	ProcessAlive
	ProcessDead
)

var processStateNames = map[ProcessState]string{
	ProcessStateUnspecified: "UNSPECIFIED",
	ProcessAlive:            "ALIVE",
	ProcessDead:             "DEAD",
}

func (s ProcessState) String() string {
	if name, ok := processStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ProcessState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ProcessState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProcessState) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), processStateNames)
	if err != nil {
		return fmt.Errorf("process state: %w", err)
	}
	*s = v
	return nil
}

// SessionType distinguishes live sessions from imported ones.
type SessionType int

const (
	SessionFull SessionType = iota
	SessionImported
)

var sessionTypeNames = map[SessionType]string{
	SessionFull:     "FULL",
	SessionImported: "IMPORTED",
}

func (t SessionType) String() string {
	if name, ok := sessionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SessionType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t SessionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SessionType) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), sessionTypeNames)
	if err != nil {
		return fmt.Errorf("session type: %w", err)
	}
	*t = v
	return nil
}

// AgentStatus is the attach state of the in-process agent.
type AgentStatus int

const (
	AgentUnspecified AgentStatus = iota
	AgentAttached
	AgentUnattachable
	AgentDetached
)

var agentStatusNames = map[AgentStatus]string{
	AgentUnspecified:  "UNSPECIFIED",
	AgentAttached:     "ATTACHED",
	AgentUnattachable: "UNATTACHABLE",
	AgentDetached:     "DETACHED",
}

func (s AgentStatus) String() string {
	if name, ok := agentStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("AgentStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s AgentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AgentStatus) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), agentStatusNames)
	if err != nil {
		return fmt.Errorf("agent status: %w", err)
	}
	*s = v
	return nil
}

func parseEnum[T comparable](text string, names map[T]string) (T, error) {
	for v, name := range names {
		if strings.EqualFold(name, text) {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown value %q", text)
}

// Device is a snapshot of a connected device. A state change produces a new
// snapshot with the same ID.
type Device struct {
	ID           int64       `json:"id"`
	Serial       string      `json:"serial"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
	FeatureLevel int32       `json:"feature_level"`
	State        DeviceState `json:"state"`
}

// Online reports whether the device can be profiled.
func (d Device) Online() bool {
	return d.State == DeviceOnline
}

// Process is a snapshot of a process running on a device.
type Process struct {
	DeviceID         int64        `json:"device_id"`
	PID              int32        `json:"pid"`
	Name             string       `json:"name"`
	State            ProcessState `json:"state"`
	StartTimestampNs int64        `json:"start_timestamp_ns"`
}

// Alive reports whether the process is running.
func (p Process) Alive() bool {
	return p.State == ProcessAlive
}

// SameProcess reports whether a and b describe the same process instance,
// possibly in different states. Known start timestamps must agree; a zero
// timestamp matches any.
func SameProcess(a, b *Process) bool {
	return samePID(a, b) && !startsDiffer(a, b)
}

// Restarted reports whether b is a new instance of a: same device, pid and
// name but a different known start timestamp.
func Restarted(a, b *Process) bool {
	return samePID(a, b) && startsDiffer(a, b)
}

func samePID(a, b *Process) bool {
	return a != nil && b != nil &&
		a.DeviceID == b.DeviceID && a.PID == b.PID && a.Name == b.Name
}

func startsDiffer(a, b *Process) bool {
	return a.StartTimestampNs != 0 && b.StartTimestampNs != 0 && a.StartTimestampNs != b.StartTimestampNs
}

// Session is a recording bound to one device and process. The zero Session
// means "no session".
type Session struct {
	ID             int64 `json:"id"`
	DeviceID       int64 `json:"device_id"`
	PID            int32 `json:"pid"`
	StartTimestamp int64 `json:"start_timestamp"`
	EndTimestamp   int64 `json:"end_timestamp"`
}

// IsZero reports whether s is the "no session" sentinel.
func (s Session) IsZero() bool {
	return s == Session{}
}

// Ongoing reports whether the session is still recording.
func (s Session) Ongoing() bool {
	return !s.IsZero() && s.EndTimestamp == OngoingTimestamp
}

// Covers reports whether s is an ongoing session bound to p.
func (s Session) Covers(p Process) bool {
	return s.Ongoing() && s.DeviceID == p.DeviceID && s.PID == p.PID
}

// SessionMetaData describes a session.
type SessionMetaData struct {
	SessionID             int64       `json:"session_id"`
	SessionName           string      `json:"session_name"`
	StartTimestampEpochMs int64       `json:"start_timestamp_epoch_ms"`
	AgentEnabled          bool        `json:"agent_enabled"`
	LiveAllocationEnabled bool        `json:"live_allocation_enabled"`
	Type                  SessionType `json:"type"`
}

// AgentConfig is sent when a session begins and controls agent attachment.
type AgentConfig struct {
	AttachAgent            bool  `json:"attach_agent"`
	LiveAllocation         bool  `json:"live_allocation"`
	AllocationSamplingRate int32 `json:"allocation_sampling_rate"`
}
