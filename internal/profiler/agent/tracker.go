// Package agent tracks the attach status of the profiling agent inside the
// selected process.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
)

// Client fetches agent status from the profiler service.
type Client interface {
	GetAgentStatus(ctx context.Context, deviceID int64, pid int32) (model.AgentStatus, error)
}

type target struct {
	deviceID int64
	pid      int32
}

// Tracker remembers the last known agent status and the last status reported
// to subscribers. It is not safe for concurrent use; the controller
// serializes access.
type Tracker struct {
	client Client
	logger zerolog.Logger
	status model.AgentStatus

	reported    model.AgentStatus
	reportedFor target
}

// NewTracker creates a tracker whose status is AgentUnspecified.
func NewTracker(client Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		client: client,
		logger: logger.With().Str("component", "agent_tracker").Logger(),
	}
}

// Status returns the last known status.
func (t *Tracker) Status() model.AgentStatus {
	return t.status
}

// Update polls the status of p and reports whether subscribers need to hear
// about it: the status differs from the last reported one, or a known status
// now belongs to another process. With no process the status is reset to
// AgentUnspecified without reporting a change. On error the previous status
// is kept.
func (t *Tracker) Update(ctx context.Context, p *model.Process) (bool, error) {
	if p == nil {
		t.Reset()
		return false, nil
	}

	status, err := t.client.GetAgentStatus(ctx, p.DeviceID, p.PID)
	if err != nil {
		return false, fmt.Errorf("agent status for pid %d: %w", p.PID, err)
	}

	key := target{deviceID: p.DeviceID, pid: p.PID}
	changed := status != t.reported || (key != t.reportedFor && status != model.AgentUnspecified)
	if changed {
		t.logger.Debug().
			Int32("pid", p.PID).
			Stringer("from", t.reported).
			Stringer("to", status).
			Msg("Agent status changed")
	}

	t.status = status
	t.reported = status
	t.reportedFor = key
	return changed, nil
}

// Reset forgets the status without reporting a change. The next Update still
// compares against the last reported status.
func (t *Tracker) Reset() {
	t.status = model.AgentUnspecified
}
