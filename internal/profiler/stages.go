package profiler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/coral-mesh/coral-profiler/internal/profiler/capture"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/notify"
	"github.com/coral-mesh/coral-profiler/internal/profiler/stage"
)

// DirectStages lists the profiler stages that can be entered from the
// monitor. Energy is offered when enabled and the session has the agent
// attached, or without a session when the device supports it.
func (c *Controller) DirectStages() []stage.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directStagesLocked()
}

func (c *Controller) directStagesLocked() []stage.Kind {
	kinds := []stage.Kind{stage.KindCPU, stage.KindMemory, stage.KindNetwork}

	var energy bool
	if !c.sessions.Current().IsZero() {
		energy = c.sessions.MetaData().AgentEnabled
	} else {
		energy = c.device != nil && c.device.FeatureLevel >= energyFeatureLevel
	}
	if c.energy && energy {
		kinds = append(kinds, stage.KindEnergy)
	}
	return kinds
}

// EnterStage switches to the monitor or to one of DirectStages. A session
// must be current.
func (c *Controller) EnterStage(kind stage.Kind) error {
	return c.do(func() error {
		if c.sessions.Current().IsZero() {
			return fmt.Errorf("enter %s stage: no session", kind)
		}
		if kind != stage.KindMonitor && !slices.Contains(c.directStagesLocked(), kind) {
			return fmt.Errorf("enter %s stage: not available", kind)
		}
		c.pending |= c.stages.Enter(kind)
		return nil
	})
}

// SelectCapture opens obj in the stage of the given kind and loads it in the
// background. A later call supersedes an earlier one that has not finished.
func (c *Controller) SelectCapture(kind stage.Kind, obj capture.Object) error {
	return c.do(func() error {
		if c.sessions.Current().IsZero() {
			return errors.New("select capture: no session")
		}
		set, err := c.stages.SelectCapture(kind, obj)
		c.pending |= set
		return err
	})
}

// ClearCapture closes the selected capture and returns to the monitor.
func (c *Controller) ClearCapture() error {
	return c.do(func() error {
		c.pending |= c.stages.ClearCapture()
		return nil
	})
}

// SelectClass selects a class within the loaded capture.
func (c *Controller) SelectClass(name string) error {
	return c.do(func() error {
		set, err := c.stages.SelectClass(name)
		c.pending |= set
		return err
	})
}

// SelectInstance selects an instance of the selected class.
func (c *Controller) SelectInstance(name string) error {
	return c.do(func() error {
		set, err := c.stages.SelectInstance(name)
		c.pending |= set
		return err
	})
}

// SelectSession browses an existing session. An ongoing session is ended
// first so only one session records at a time.
func (c *Controller) SelectSession(ctx context.Context, s model.Session) error {
	return c.do(func() error {
		if s.ID == c.sessions.Current().ID {
			return nil
		}
		c.endSessionLocked(ctx)

		changed, err := c.sessions.Select(ctx, s)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		c.mark(notify.Session)
		c.sessionChangedLocked()
		return nil
	})
}

// Sessions lists every session known to the service.
func (c *Controller) Sessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := c.do(func() error {
		var err error
		sessions, err = c.sessions.Sessions(ctx)
		return err
	})
	return sessions, err
}

// ImportSession registers a finished session recorded elsewhere.
func (c *Controller) ImportSession(ctx context.Context, s model.Session, name string) error {
	return c.do(func() error {
		return c.sessions.Import(ctx, s, name)
	})
}
