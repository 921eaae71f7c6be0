// Package simulator provides an in-memory profiler service. It backs the
// controller tests and the `coral-profiler simulate` command.
package simulator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
)

// Method names a service call, for failure injection and call counting.
type Method string

const (
	MethodGetDevices         Method = "GetDevices"
	MethodGetProcesses       Method = "GetProcesses"
	MethodBeginSession       Method = "BeginSession"
	MethodEndSession         Method = "EndSession"
	MethodGetSessions        Method = "GetSessions"
	MethodGetSessionMetaData Method = "GetSessionMetaData"
	MethodImportSession      Method = "ImportSession"
	MethodGetAgentStatus     Method = "GetAgentStatus"
	MethodGetCurrentTime     Method = "GetCurrentTime"
)

type processKey struct {
	deviceID int64
	pid      int32
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	devices   []model.Device
	processes map[int64][]model.Process
	agents    map[processKey]model.AgentStatus

	sessions      []model.Session
	meta          map[int64]model.SessionMetaData
	nextSessionID int64

	timestampNs int64
	epochMs     int64

	failures map[Method]error
	calls    map[Method]int
}

// New returns an empty service whose clock reads zero.
func New() *Service {
	return &Service{
		processes:     make(map[int64][]model.Process),
		agents:        make(map[processKey]model.AgentStatus),
		meta:          make(map[int64]model.SessionMetaData),
		nextSessionID: 1,
		failures:      make(map[Method]error),
		calls:         make(map[Method]int),
	}
}

// AddDevice adds a device or replaces the snapshot with the same ID.
func (s *Service) AddDevice(d model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.devices {
		if s.devices[i].ID == d.ID {
			s.devices[i] = d
			return
		}
	}
	s.devices = append(s.devices, d)
}

// UpdateDevice retires the previous snapshot of d and installs d.
func (s *Service) UpdateDevice(d model.Device) {
	s.AddDevice(d)
}

// RemoveDevice forgets a device and its processes.
func (s *Service) RemoveDevice(deviceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = slices.DeleteFunc(s.devices, func(d model.Device) bool { return d.ID == deviceID })
	delete(s.processes, deviceID)
}

// AddProcess adds a process or replaces the snapshot with the same pid.
func (s *Service) AddProcess(p model.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()

	procs := s.processes[p.DeviceID]
	for i := range procs {
		if procs[i].PID == p.PID {
			procs[i] = p
			return
		}
	}
	s.processes[p.DeviceID] = append(procs, p)
}

// UpdateProcess replaces the snapshot of p.
func (s *Service) UpdateProcess(p model.Process) {
	s.AddProcess(p)
}

// RemoveProcess forgets a process.
func (s *Service) RemoveProcess(deviceID int64, pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processes[deviceID] = slices.DeleteFunc(s.processes[deviceID], func(p model.Process) bool { return p.PID == pid })
	delete(s.agents, processKey{deviceID, pid})
}

// SetProcesses replaces every process of a device.
func (s *Service) SetProcesses(deviceID int64, procs []model.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[deviceID] = slices.Clone(procs)
}

// SetAgentStatus sets the status reported for a process.
func (s *Service) SetAgentStatus(deviceID int64, pid int32, status model.AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[processKey{deviceID, pid}] = status
}

// SetTimestamp sets the device clock, in nanoseconds.
func (s *Service) SetTimestamp(ns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestampNs = ns
}

// Advance moves the device clock forward.
func (s *Service) Advance(ns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestampNs += ns
}

// SetEpochMs sets the wall clock recorded in new session metadata.
func (s *Service) SetEpochMs(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochMs = ms
}

// Fail makes every call to m return err until cleared with a nil err.
func (s *Service) Fail(m Method, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, m)
		return
	}
	s.failures[m] = err
}

// Calls returns how many times m was invoked.
func (s *Service) Calls(m Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[m]
}

// enter records a call and returns the injected failure, if any. s.mu must
// be held.
func (s *Service) enter(m Method) error {
	s.calls[m]++
	if err := s.failures[m]; err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	return nil
}

func (s *Service) GetDevices(ctx context.Context) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodGetDevices); err != nil {
		return nil, err
	}
	return slices.Clone(s.devices), nil
}

func (s *Service) GetProcesses(ctx context.Context, deviceID int64) ([]model.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodGetProcesses); err != nil {
		return nil, err
	}
	return slices.Clone(s.processes[deviceID]), nil
}

func (s *Service) BeginSession(ctx context.Context, deviceID int64, pid int32, name string, cfg model.AgentConfig) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodBeginSession); err != nil {
		return model.Session{}, err
	}
	if !slices.ContainsFunc(s.devices, func(d model.Device) bool { return d.ID == deviceID }) {
		return model.Session{}, fmt.Errorf("device %d: %w", deviceID, model.ErrNotFound)
	}

	session := model.Session{
		ID:             s.nextSessionID,
		DeviceID:       deviceID,
		PID:            pid,
		StartTimestamp: s.timestampNs,
		EndTimestamp:   model.OngoingTimestamp,
	}
	s.nextSessionID++
	s.sessions = append(s.sessions, session)
	s.meta[session.ID] = model.SessionMetaData{
		SessionID:             session.ID,
		SessionName:           name,
		StartTimestampEpochMs: s.epochMs,
		AgentEnabled:          cfg.AttachAgent,
		LiveAllocationEnabled: cfg.AttachAgent && cfg.LiveAllocation,
		Type:                  model.SessionFull,
	}
	return session, nil
}

func (s *Service) EndSession(ctx context.Context, sessionID int64) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodEndSession); err != nil {
		return model.Session{}, err
	}
	for i := range s.sessions {
		if s.sessions[i].ID != sessionID {
			continue
		}
		if s.sessions[i].Ongoing() {
			s.sessions[i].EndTimestamp = max(s.timestampNs, s.sessions[i].StartTimestamp)
		}
		return s.sessions[i], nil
	}
	return model.Session{}, fmt.Errorf("session %d: %w", sessionID, model.ErrNotFound)
}

func (s *Service) GetSessions(ctx context.Context) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodGetSessions); err != nil {
		return nil, err
	}
	return slices.Clone(s.sessions), nil
}

func (s *Service) GetSessionMetaData(ctx context.Context, sessionID int64) (model.SessionMetaData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodGetSessionMetaData); err != nil {
		return model.SessionMetaData{}, err
	}
	meta, ok := s.meta[sessionID]
	if !ok {
		return model.SessionMetaData{}, fmt.Errorf("session %d: %w", sessionID, model.ErrNotFound)
	}
	return meta, nil
}

func (s *Service) ImportSession(ctx context.Context, session model.Session, name string, typ model.SessionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodImportSession); err != nil {
		return err
	}
	if _, ok := s.meta[session.ID]; ok {
		return fmt.Errorf("session %d already exists", session.ID)
	}
	s.sessions = append(s.sessions, session)
	s.meta[session.ID] = model.SessionMetaData{
		SessionID:             session.ID,
		SessionName:           name,
		StartTimestampEpochMs: s.epochMs,
		Type:                  typ,
	}
	s.nextSessionID = max(s.nextSessionID, session.ID+1)
	return nil
}

func (s *Service) GetAgentStatus(ctx context.Context, deviceID int64, pid int32) (model.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodGetAgentStatus); err != nil {
		return model.AgentUnspecified, err
	}
	return s.agents[processKey{deviceID, pid}], nil
}

func (s *Service) GetCurrentTime(ctx context.Context, deviceID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodGetCurrentTime); err != nil {
		return 0, err
	}
	return s.timestampNs, nil
}
