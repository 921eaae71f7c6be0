// Package session owns the current profiling session and the per-session
// view ranges.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/timeline"
)

// Client is the subset of the profiler service used for sessions.
type Client interface {
	BeginSession(ctx context.Context, deviceID int64, pid int32, name string, cfg model.AgentConfig) (model.Session, error)
	EndSession(ctx context.Context, sessionID int64) (model.Session, error)
	GetSessions(ctx context.Context) ([]model.Session, error)
	GetSessionMetaData(ctx context.Context, sessionID int64) (model.SessionMetaData, error)
	ImportSession(ctx context.Context, s model.Session, name string, typ model.SessionType) error
	GetCurrentTime(ctx context.Context, deviceID int64) (int64, error)
}

// Config configures a Manager.
type Config struct {
	Logger      zerolog.Logger
	AgentConfig model.AgentConfig
}

// Manager tracks the current session. It is not safe for concurrent use; the
// controller serializes access.
type Manager struct {
	client   Client
	timeline *timeline.Timeline
	logger   zerolog.Logger
	agentCfg model.AgentConfig

	current model.Session
	meta    model.SessionMetaData
	views   map[int64]timeline.Range
}

// NewManager creates a manager with no current session.
func NewManager(client Client, tl *timeline.Timeline, cfg Config) *Manager {
	return &Manager{
		client:   client,
		timeline: tl,
		logger:   cfg.Logger.With().Str("component", "session_manager").Logger(),
		agentCfg: cfg.AgentConfig,
		views:    make(map[int64]timeline.Range),
	}
}

// Current returns the current session; the zero Session when there is none.
func (m *Manager) Current() model.Session {
	return m.current
}

// MetaData returns the metadata of the current session.
func (m *Manager) MetaData() model.SessionMetaData {
	return m.meta
}

// CachedView returns the view range remembered for a session.
func (m *Manager) CachedView(sessionID int64) (timeline.Range, bool) {
	r, ok := m.views[sessionID]
	return r, ok
}

// BeginIfNeeded starts a session for p unless the current session already
// covers it. An ongoing session for another process is ended first. It
// reports whether a new session began.
func (m *Manager) BeginIfNeeded(ctx context.Context, d model.Device, p model.Process) (bool, error) {
	if m.current.Covers(p) {
		return false, nil
	}
	if !p.Alive() {
		return false, fmt.Errorf("begin session for pid %d: process is not alive", p.PID)
	}

	if m.current.Ongoing() {
		if _, err := m.End(ctx); err != nil {
			return false, err
		}
	}

	name := model.BuildSessionName(d, p)
	s, err := m.client.BeginSession(ctx, d.ID, p.PID, name, m.agentCfg)
	if err != nil {
		return false, fmt.Errorf("begin session for pid %d: %w", p.PID, err)
	}

	meta, err := m.client.GetSessionMetaData(ctx, s.ID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("session_id", s.ID).Msg("Failed to fetch session metadata")
		meta = model.SessionMetaData{
			SessionID:             s.ID,
			SessionName:           name,
			AgentEnabled:          m.agentCfg.AttachAgent,
			LiveAllocationEnabled: m.agentCfg.LiveAllocation,
			Type:                  model.SessionFull,
		}
	}

	m.switchTo(ctx, s, meta)

	m.logger.Info().
		Int64("session_id", s.ID).
		Int64("device_id", s.DeviceID).
		Int32("pid", s.PID).
		Str("name", meta.SessionName).
		Msg("Session begun")

	return true, nil
}

// End stops the current session if it is ongoing. The session stays current
// with its end timestamp fixed. It reports whether the session changed.
func (m *Manager) End(ctx context.Context) (bool, error) {
	if !m.current.Ongoing() {
		return false, nil
	}

	s, err := m.client.EndSession(ctx, m.current.ID)
	if err != nil {
		return false, fmt.Errorf("end session %d: %w", m.current.ID, err)
	}
	if s.Ongoing() {
		return false, fmt.Errorf("end session %d: service returned an ongoing session", m.current.ID)
	}

	m.current = s
	m.timeline.Pause(s.EndTimestamp)

	m.logger.Info().
		Int64("session_id", s.ID).
		Int64("end_timestamp", s.EndTimestamp).
		Msg("Session ended")

	return true, nil
}

// Clear drops the current session without ending it on the service. It
// reports whether there was one.
func (m *Manager) Clear() bool {
	if m.current.IsZero() {
		return false
	}
	m.views[m.current.ID] = m.timeline.View()
	m.current = model.Session{}
	m.meta = model.SessionMetaData{}
	m.timeline.Clear()
	return true
}

// Select makes an existing session current, for browsing. It reports whether
// the current session changed.
func (m *Manager) Select(ctx context.Context, s model.Session) (bool, error) {
	if s.IsZero() {
		return m.Clear(), nil
	}
	if s.ID == m.current.ID {
		return false, nil
	}

	meta, err := m.client.GetSessionMetaData(ctx, s.ID)
	if err != nil {
		return false, fmt.Errorf("select session %d: %w", s.ID, err)
	}

	m.switchTo(ctx, s, meta)
	return true, nil
}

// Refresh advances the timeline of an ongoing session to the device clock.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.current.Ongoing() {
		return nil
	}
	now, err := m.client.GetCurrentTime(ctx, m.current.DeviceID)
	if err != nil {
		return fmt.Errorf("device time: %w", err)
	}
	m.timeline.Advance(now)
	return nil
}

// Sessions lists every session known to the service.
func (m *Manager) Sessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := m.client.GetSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Import registers a finished session recorded elsewhere.
func (m *Manager) Import(ctx context.Context, s model.Session, name string) error {
	if s.Ongoing() || s.IsZero() {
		return errors.New("import session: session must be finished")
	}
	if err := m.client.ImportSession(ctx, s, name, model.SessionImported); err != nil {
		return fmt.Errorf("import session %d: %w", s.ID, err)
	}
	m.logger.Info().Int64("session_id", s.ID).Str("name", name).Msg("Session imported")
	return nil
}

// Prune forgets cached view ranges of sessions the service no longer reports
// and returns how many were dropped.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	sessions, err := m.Sessions(ctx)
	if err != nil {
		return 0, err
	}

	live := make(map[int64]struct{}, len(sessions))
	for _, s := range sessions {
		live[s.ID] = struct{}{}
	}

	dropped := 0
	for id := range m.views {
		if _, ok := live[id]; !ok && id != m.current.ID {
			delete(m.views, id)
			dropped++
		}
	}
	return dropped, nil
}

func (m *Manager) switchTo(ctx context.Context, s model.Session, meta model.SessionMetaData) {
	if !m.current.IsZero() {
		m.views[m.current.ID] = m.timeline.View()
	}
	m.current = s
	m.meta = meta

	if s.Ongoing() {
		now, err := m.client.GetCurrentTime(ctx, s.DeviceID)
		if err != nil || now < s.StartTimestamp {
			m.logger.Warn().Err(err).Int64("device_id", s.DeviceID).Msg("Failed to read device time")
			now = s.StartTimestamp
		}
		m.timeline.ResetLive(s.StartTimestamp, now)
		return
	}

	data := timeline.Range{Min: s.StartTimestamp, Max: s.EndTimestamp}
	view, ok := m.views[s.ID]
	if !ok {
		view = data
	}
	m.timeline.ResetFinished(data, view)
}
