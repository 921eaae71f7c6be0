package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Loader runs capture loads one at a time on a background worker.
//
// Start must be called before LoadCapture. Requests are served in issue
// order; a newer request does not interrupt an older one, callers compare
// Future.Seq to discard stale results. Stop resolves every outstanding future
// with ErrCanceled and may be followed by another Start.
type Loader struct {
	logger zerolog.Logger

	mu  sync.Mutex
	seq uint64
	run *run

	// finished is closed by the worker of the previous run, so a restarted
	// loader never has two loads in flight.
	finished chan struct{}
}

type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	queue    []*Future
	pending  map[*Future]struct{}
	wake     chan struct{}
	finished chan struct{}
}

// NewLoader creates a stopped loader.
func NewLoader(logger zerolog.Logger) *Loader {
	finished := make(chan struct{})
	close(finished)
	return &Loader{
		logger:   logger.With().Str("component", "capture_loader").Logger(),
		finished: finished,
	}
}

// Start launches the worker. Calling Start on a running loader is a no-op.
func (l *Loader) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.run != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[*Future]struct{}),
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	prev := l.finished
	l.run = r
	l.finished = r.finished

	go l.work(r, prev)
}

// Running reports whether Start has been called without a matching Stop.
func (l *Loader) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run != nil
}

// LoadCapture queues obj for loading. It panics if the loader is not running.
func (l *Loader) LoadCapture(obj Object) *Future {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.run
	if r == nil {
		panic("capture: LoadCapture called before Start")
	}

	l.seq++
	f := newFuture(l.seq, obj)
	r.pending[f] = struct{}{}
	r.queue = append(r.queue, f)

	select {
	case r.wake <- struct{}{}:
	default:
	}

	l.logger.Debug().
		Uint64("seq", f.seq).
		Str("capture", obj.Label()).
		Msg("Capture load queued")

	return f
}

// Stop cancels the running load and resolves every outstanding future with
// ErrCanceled. It does not wait for a blocked Load to return.
func (l *Loader) Stop() {
	l.mu.Lock()
	r := l.run
	l.run = nil
	if r == nil {
		l.mu.Unlock()
		return
	}
	pending := r.pending
	r.pending = nil
	r.queue = nil
	r.cancel()
	l.mu.Unlock()

	for f := range pending {
		f.resolve(ErrCanceled)
	}

	l.logger.Debug().Int("canceled", len(pending)).Msg("Capture loader stopped")
}

func (l *Loader) work(r *run, prev <-chan struct{}) {
	defer close(r.finished)

	select {
	case <-prev:
	case <-r.ctx.Done():
		return
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}

		for f := l.next(r); f != nil; f = l.next(r) {
			l.load(r, f)
		}
	}
}

func (l *Loader) next(r *run) *Future {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(r.queue) > 0 && r.ctx.Err() == nil {
		f := r.queue[0]
		r.queue = r.queue[1:]
		if !f.resolved() {
			return f
		}
	}
	return nil
}

func (l *Loader) load(r *run, f *Future) {
	err := l.safeLoad(r.ctx, f.obj)

	l.mu.Lock()
	delete(r.pending, f)
	l.mu.Unlock()

	label := f.obj.Label()
	switch {
	case r.ctx.Err() != nil:
		err = ErrCanceled
	case err != nil:
		err = fmt.Errorf("load %s: %w", label, err)
	case f.obj.IsError():
		err = fmt.Errorf("%w: %s", ErrLoadFailed, label)
	}

	if f.resolve(err) {
		l.logger.Debug().Uint64("seq", f.seq).Str("capture", label).AnErr("error", err).Msg("Capture load finished")
	}
}

// safeLoad turns a panicking Load into an error.
func (l *Loader) safeLoad(ctx context.Context, obj Object) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrLoadFailed, p)
		}
	}()
	return obj.Load(ctx)
}
