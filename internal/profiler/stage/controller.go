package stage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/profiler/capture"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/notify"
	"github.com/coral-mesh/coral-profiler/internal/profiler/timeline"
)

// Config configures a Controller.
type Config struct {
	Logger   zerolog.Logger
	Timeline *timeline.Timeline

	// NewLoader builds the capture loader of a profiler stage. Defaults to
	// capture.NewLoader with Logger.
	NewLoader func() *capture.Loader

	// Join applies the result of an asynchronous capture load. The owner runs
	// apply serialized with its other calls and publishes the returned facets.
	// The default runs apply directly and drops the facets.
	Join func(apply func() notify.Set)

	// OnLoadOutcome, when set, observes every finished load.
	OnLoadOutcome func(kind Kind, outcome Outcome)
}

// Controller owns the current stage. Methods return the facets they changed
// so the caller can publish them.
type Controller struct {
	logger    zerolog.Logger
	timeline  *timeline.Timeline
	newLoader func() *capture.Loader
	join      func(apply func() notify.Set)
	onOutcome func(Kind, Outcome)

	mu     sync.Mutex
	stage  Stage
	loader *capture.Loader
	// gen increases on every stage transition and capture request; a load
	// result is applied only when its generation is still current.
	gen uint64
}

// NewController returns a controller in the null stage.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger.With().Str("component", "stage_controller").Logger()

	sc := &Controller{
		logger:    logger,
		timeline:  cfg.Timeline,
		newLoader: cfg.NewLoader,
		join:      cfg.Join,
		onOutcome: cfg.OnLoadOutcome,
	}
	if sc.timeline == nil {
		sc.timeline = timeline.New()
	}
	if sc.newLoader == nil {
		sc.newLoader = func() *capture.Loader { return capture.NewLoader(cfg.Logger) }
	}
	if sc.join == nil {
		sc.join = func(apply func() notify.Set) { apply() }
	}
	return sc
}

// Current returns a copy of the current stage.
func (sc *Controller) Current() Stage {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stage
}

// Kind returns the kind of the current stage.
func (sc *Controller) Kind() Kind {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stage.Kind
}

// Mode returns the layout of the current stage.
func (sc *Controller) Mode() Mode {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stage.mode()
}

// Enter switches to kind. Entering the current kind is a no-op unless the
// stage holds capture-scoped state, which is discarded.
func (sc *Controller) Enter(kind Kind) notify.Set {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.enterLocked(kind, false)
}

// SelectCapture enters kind if needed, selects obj and starts loading it.
// The result arrives later through Join.
func (sc *Controller) SelectCapture(kind Kind, obj capture.Object) (notify.Set, error) {
	if !kind.Profiler() {
		return 0, fmt.Errorf("stage %s cannot hold a capture", kind)
	}
	if obj == nil {
		return 0, errors.New("select capture: nil capture")
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.stage.Kind == KindNull {
		return 0, errors.New("select capture: no process selected")
	}

	before := sc.stage.mode()
	var changed notify.Set
	if sc.stage.Kind != kind {
		changed |= sc.enterLocked(kind, false)
	}

	sc.disposeLocked()
	sc.stage.Capture = obj
	sc.stage.Loaded = false
	sc.stage.Class, sc.stage.Instance = "", ""

	start, end := obj.StartTimeNs(), obj.EndTimeNs()
	if end != model.OngoingTimestamp && end > start {
		sc.timeline.SetSelection(timeline.Range{Min: start, Max: end})
	}

	sc.gen++
	gen := sc.gen
	future := sc.loader.LoadCapture(obj)
	go sc.await(kind, gen, future)

	sc.logger.Info().
		Stringer("stage", kind).
		Str("capture", obj.Label()).
		Uint64("seq", future.Seq()).
		Msg("Capture selected")

	return changed | sc.modeChange(before), nil
}

// ClearCapture drops the selected capture and returns to the monitor stage.
func (sc *Controller) ClearCapture() notify.Set {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.stage.Capture == nil {
		return 0
	}
	sc.timeline.ClearSelection()
	return sc.enterLocked(KindMonitor, true)
}

// SelectClass selects a class within the loaded capture. Changing the class
// drops the instance selection.
func (sc *Controller) SelectClass(name string) (notify.Set, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if name != "" && !sc.stage.Loaded {
		return 0, errors.New("select class: no loaded capture")
	}
	before := sc.stage.mode()
	if sc.stage.Class != name {
		sc.stage.Class = name
		sc.stage.Instance = ""
	}
	return sc.modeChange(before), nil
}

// SelectInstance selects an instance of the selected class.
func (sc *Controller) SelectInstance(name string) (notify.Set, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if name != "" && sc.stage.Class == "" {
		return 0, errors.New("select instance: no class selected")
	}
	before := sc.stage.mode()
	sc.stage.Instance = name
	return sc.modeChange(before), nil
}

func (sc *Controller) modeChange(before Mode) notify.Set {
	if sc.stage.mode() != before {
		return notify.Of(notify.Mode)
	}
	return 0
}

// enterLocked runs the exit hook of the current stage and the enter hook of
// kind. sc.mu must be held.
func (sc *Controller) enterLocked(kind Kind, force bool) notify.Set {
	cur := sc.stage
	if cur.Kind == kind && !force && cur.Capture == nil && cur.Class == "" {
		return 0
	}

	before := cur.mode()
	sc.exitLocked()

	sc.gen++
	sc.stage = Stage{Kind: kind}
	if kind.Profiler() {
		sc.loader = sc.newLoader()
		sc.loader.Start()
	}

	sc.logger.Info().Stringer("from", cur.Kind).Stringer("to", kind).Msg("Stage entered")

	return notify.Of(notify.Stage) | sc.modeChange(before)
}

func (sc *Controller) exitLocked() {
	switch sc.stage.Kind {
	case KindCPU, KindMemory, KindNetwork, KindEnergy:
		if sc.loader != nil {
			sc.loader.Stop()
			sc.loader = nil
		}
		sc.disposeLocked()
	case KindMonitor, KindNull:
	}
}

func (sc *Controller) disposeLocked() {
	if sc.stage.Capture != nil && sc.stage.Loaded {
		sc.stage.Capture.Dispose()
	}
}

func (sc *Controller) await(kind Kind, gen uint64, future *capture.Future) {
	<-future.Done()
	sc.join(func() notify.Set {
		return sc.applyLoad(kind, gen, future)
	})
}

func (sc *Controller) applyLoad(kind Kind, gen uint64, future *capture.Future) notify.Set {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	obj, err := future.Result()
	label := future.Object().Label()

	switch {
	case errors.Is(err, capture.ErrCanceled):
		sc.report(kind, OutcomeCanceled)
		return 0
	case gen != sc.gen || sc.stage.Kind != kind:
		sc.logger.Debug().Str("capture", label).Uint64("seq", future.Seq()).Msg("Discarding stale capture result")
		if err == nil && obj != sc.stage.Capture {
			obj.Dispose()
		}
		sc.report(kind, OutcomeSuperseded)
		return 0
	case err != nil:
		sc.logger.Warn().Err(err).Str("capture", label).Msg("Capture failed to load")
		sc.report(kind, OutcomeFailed)
		sc.timeline.ClearSelection()
		return sc.enterLocked(KindMonitor, true)
	}

	sc.stage.Loaded = true
	sc.report(kind, OutcomeLoaded)
	return notify.Of(notify.Capture)
}

func (sc *Controller) report(kind Kind, outcome Outcome) {
	if sc.onOutcome != nil {
		sc.onOutcome(kind, outcome)
	}
}
