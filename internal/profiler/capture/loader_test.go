package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

type fakeCapture struct {
	label   string
	release chan struct{}
	loadErr error
	failed  bool
	loaded  atomic.Bool
	started chan struct{}
}

func newFakeCapture(label string) *fakeCapture {
	return &fakeCapture{label: label, release: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (c *fakeCapture) Label() string       { return c.label }
func (c *fakeCapture) StartTimeNs() int64  { return 0 }
func (c *fakeCapture) EndTimeNs() int64    { return 10 }
func (c *fakeCapture) IsDoneLoading() bool { return c.loaded.Load() }
func (c *fakeCapture) IsError() bool       { return c.failed }
func (c *fakeCapture) Dispose()            {}

func (c *fakeCapture) Load(ctx context.Context) error {
	c.started <- struct{}{}
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.loadErr != nil {
		return c.loadErr
	}
	c.loaded.Store(true)
	return nil
}

func waitDone(t *testing.T, f *Future) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future was not resolved")
	}
}

func TestLoader_PanicsBeforeStart(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	assert.PanicsWithValue(t, "capture: LoadCapture called before Start", func() {
		l.LoadCapture(newFakeCapture("early"))
	})
}

func TestLoader_LoadSucceeds(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Start()
	defer l.Stop()

	c := newFakeCapture("heap")
	f := l.LoadCapture(c)
	close(c.release)

	obj, err := f.Wait(testutil.NewTestContext(t))
	require.NoError(t, err)
	assert.Same(t, c, obj)
	assert.True(t, c.IsDoneLoading())
}

func TestLoader_LoadErrorSurfacesAsFailure(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Start()
	defer l.Stop()

	c := newFakeCapture("broken")
	c.loadErr = errors.New("truncated dump")
	close(c.release)

	_, err := l.LoadCapture(c).Wait(testutil.NewTestContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated dump")
	assert.False(t, errors.Is(err, ErrCanceled))
}

func TestLoader_ErrorFlagSurfacesAsFailure(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Start()
	defer l.Stop()

	c := newFakeCapture("flagged")
	c.failed = true
	close(c.release)

	_, err := l.LoadCapture(c).Wait(testutil.NewTestContext(t))
	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestLoader_StopCancelsOutstanding(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Start()

	running := newFakeCapture("running")
	queued := newFakeCapture("queued")
	f1 := l.LoadCapture(running)
	f2 := l.LoadCapture(queued)

	<-running.started
	l.Stop()

	waitDone(t, f1)
	waitDone(t, f2)

	_, err := f1.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	_, err = f2.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.False(t, running.IsDoneLoading())
}

func TestLoader_StopIsIdempotent(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Stop()

	l.Start()
	l.Stop()
	l.Stop()
	assert.False(t, l.Running())

	assert.Panics(t, func() { l.LoadCapture(newFakeCapture("after stop")) })
}

func TestLoader_SequenceIsMonotonic(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Start()
	defer l.Stop()

	first := newFakeCapture("first")
	second := newFakeCapture("second")
	f1 := l.LoadCapture(first)
	f2 := l.LoadCapture(second)
	assert.Greater(t, f2.Seq(), f1.Seq())

	// The older request keeps running; the newer one is served after it.
	close(second.release)
	close(first.release)

	waitDone(t, f1)
	waitDone(t, f2)
	_, err := f1.Result()
	assert.NoError(t, err)
	_, err = f2.Result()
	assert.NoError(t, err)
}

func TestLoader_RestartAfterStop(t *testing.T) {
	l := NewLoader(testutil.NewTestLogger(t))
	l.Start()
	l.Stop()
	l.Start()
	defer l.Stop()

	c := newFakeCapture("restarted")
	close(c.release)
	_, err := l.LoadCapture(c).Wait(testutil.NewTestContext(t))
	assert.NoError(t, err)
}
