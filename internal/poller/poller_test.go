package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/coral-mesh/coral-profiler/internal/profiler"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/simulator"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

type mockTarget struct {
	mu       sync.Mutex
	polls    int
	pollErr  error
	pollChan chan struct{}
	block    chan struct{}
}

func (m *mockTarget) PollOnce(ctx context.Context) error {
	m.mu.Lock()
	m.polls++
	m.mu.Unlock()

	if m.pollChan != nil {
		select {
		case m.pollChan <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		<-m.block
	}
	return m.pollErr
}

func (m *mockTarget) pollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

type cleaningTarget struct {
	mockTarget
	cleanups int
}

func (c *cleaningTarget) RunCleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups++
	return nil
}

func (c *cleaningTarget) cleanupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanups
}

func TestPoller_StartStop(t *testing.T) {
	target := &mockTarget{pollErr: errors.New("unavailable")}
	p := New(context.Background(), Config{Name: "test_poller", PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})

	assert.False(t, p.IsRunning())
	p.Start(target)
	p.Start(target)
	assert.True(t, p.IsRunning())

	testutil.Eventually(t, time.Second, func() bool { return target.pollCount() >= 2 }, "polled on interval")

	p.Stop()
	assert.False(t, p.IsRunning())
	p.Stop()

	count := target.pollCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, target.pollCount(), "no polls after Stop")
}

func TestPoller_InitialPollIsImmediate(t *testing.T) {
	target := &mockTarget{pollChan: make(chan struct{}, 1)}
	p := New(context.Background(), Config{PollInterval: time.Hour, Logger: zerolog.Nop()})
	p.Start(target)
	defer p.Stop()

	select {
	case <-target.pollChan:
	case <-time.After(time.Second):
		t.Fatal("initial poll did not run")
	}
}

func TestPoller_StopWaitsForInFlightTick(t *testing.T) {
	target := &mockTarget{pollChan: make(chan struct{}, 1), block: make(chan struct{})}
	p := New(context.Background(), Config{PollInterval: time.Hour, Logger: zerolog.Nop()})
	p.Start(target)
	<-target.pollChan

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(target.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPoller_Cleanup(t *testing.T) {
	target := &cleaningTarget{}
	p := New(context.Background(), Config{
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 15 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	p.Start(target)
	defer p.Stop()

	testutil.Eventually(t, time.Second, func() bool { return target.cleanupCount() >= 2 }, "cleanup ran")
}

func TestPoller_Defaults(t *testing.T) {
	p := New(context.Background(), Config{Logger: zerolog.Nop()})
	assert.Equal(t, time.Second, p.pollInterval)
	assert.Equal(t, time.Minute, p.cleanupInterval)
}

func TestPoller_ParentCancellation(t *testing.T) {
	target := &mockTarget{pollChan: make(chan struct{}, 10)}
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, Config{PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	p.Start(target)
	<-target.pollChan

	cancel()
	time.Sleep(20 * time.Millisecond)
	count := target.pollCount()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, count, target.pollCount())

	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestPoller_DrivesController(t *testing.T) {
	svc := simulator.New()
	svc.AddDevice(model.Device{ID: 1, Serial: "A", State: model.DeviceOnline})
	svc.AddProcess(model.Process{DeviceID: 1, PID: 5, Name: "app", State: model.ProcessAlive})

	p := New(context.Background(), Config{Name: "profiler_poller", PollInterval: 5 * time.Millisecond, Logger: zerolog.Nop()})
	c := profiler.New(svc, profiler.Config{Logger: testutil.NewTestLogger(t), Clock: p})
	p.Start(c)

	testutil.Eventually(t, time.Second, func() bool { return c.Session().Ongoing() }, "session begun")

	// Shutdown stops the clock.
	assert.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, p.IsRunning())
	assert.GreaterOrEqual(t, svc.Calls(simulator.MethodGetDevices), 1)
}
