package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/timeline"
	"github.com/coral-mesh/coral-profiler/internal/simulator"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

var (
	testDevice  = model.Device{ID: 1, Serial: "FakeDevice", Manufacturer: "Acme", Model: "Phone", State: model.DeviceOnline}
	testProcess = model.Process{DeviceID: 1, PID: 20, Name: "FakeProcess", State: model.ProcessAlive}
)

func newTestManager(t *testing.T) (*Manager, *simulator.Service, *timeline.Timeline) {
	t.Helper()
	svc := simulator.New()
	svc.AddDevice(testDevice)
	svc.AddProcess(testProcess)
	tl := timeline.New()
	m := NewManager(svc, tl, Config{
		Logger:      testutil.NewTestLogger(t),
		AgentConfig: model.AgentConfig{AttachAgent: true},
	})
	return m, svc, tl
}

func TestManager_BeginIfNeeded(t *testing.T) {
	m, svc, tl := newTestManager(t)
	ctx := testutil.NewTestContext(t)
	svc.SetTimestamp(int64(time.Minute))

	began, err := m.BeginIfNeeded(ctx, testDevice, testProcess)
	require.NoError(t, err)
	assert.True(t, began)

	s := m.Current()
	assert.Equal(t, testDevice.ID, s.DeviceID)
	assert.Equal(t, testProcess.PID, s.PID)
	assert.True(t, s.Ongoing())
	assert.Equal(t, "FakeProcess (Acme Phone)", m.MetaData().SessionName)
	assert.True(t, m.MetaData().AgentEnabled)
	assert.True(t, tl.Streaming())

	began, err = m.BeginIfNeeded(ctx, testDevice, testProcess)
	require.NoError(t, err)
	assert.False(t, began)
	assert.Equal(t, 1, svc.Calls(simulator.MethodBeginSession))
}

func TestManager_BeginRejectsDeadProcess(t *testing.T) {
	m, _, _ := newTestManager(t)
	dead := testProcess
	dead.State = model.ProcessDead

	_, err := m.BeginIfNeeded(testutil.NewTestContext(t), testDevice, dead)
	assert.Error(t, err)
	assert.True(t, m.Current().IsZero())
}

func TestManager_BeginFailureKeepsState(t *testing.T) {
	m, svc, _ := newTestManager(t)
	svc.Fail(simulator.MethodBeginSession, model.ErrUnavailable)

	_, err := m.BeginIfNeeded(testutil.NewTestContext(t), testDevice, testProcess)
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.True(t, m.Current().IsZero())
}

func TestManager_EndKeepsSession(t *testing.T) {
	m, svc, tl := newTestManager(t)
	ctx := testutil.NewTestContext(t)

	_, err := m.BeginIfNeeded(ctx, testDevice, testProcess)
	require.NoError(t, err)
	id := m.Current().ID

	svc.Advance(int64(5 * time.Second))
	changed, err := m.End(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	s := m.Current()
	assert.Equal(t, id, s.ID)
	assert.False(t, s.Ongoing())
	assert.Equal(t, int64(5*time.Second), s.EndTimestamp)
	assert.True(t, tl.Paused())

	changed, err = m.End(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestManager_BeginEndsPreviousSession(t *testing.T) {
	m, svc, _ := newTestManager(t)
	ctx := testutil.NewTestContext(t)

	other := model.Process{DeviceID: 1, PID: 21, Name: "Other", State: model.ProcessAlive}
	svc.AddProcess(other)

	_, err := m.BeginIfNeeded(ctx, testDevice, testProcess)
	require.NoError(t, err)
	first := m.Current().ID

	_, err = m.BeginIfNeeded(ctx, testDevice, other)
	require.NoError(t, err)
	assert.NotEqual(t, first, m.Current().ID)

	sessions, err := m.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.False(t, sessions[0].Ongoing())
	assert.True(t, sessions[1].Ongoing())
}

func TestManager_ViewRangeCache(t *testing.T) {
	m, svc, tl := newTestManager(t)
	ctx := testutil.NewTestContext(t)

	_, err := m.BeginIfNeeded(ctx, testDevice, testProcess)
	require.NoError(t, err)
	svc.Advance(int64(10 * time.Second))
	_, err = m.End(ctx)
	require.NoError(t, err)
	finished := m.Current()

	// The window cached while live lies before the data, so the full range is shown.
	require.True(t, m.Clear())
	_, err = m.Select(ctx, finished)
	require.NoError(t, err)
	assert.Equal(t, timeline.Range{Min: 0, Max: int64(10 * time.Second)}, tl.View())
	assert.False(t, tl.Streaming())

	// A window extending beyond the data is clamped when reselected.
	tl.SetView(timeline.Range{Min: int64(-time.Hour), Max: int64(time.Hour)})
	require.True(t, m.Clear())
	cached, ok := m.CachedView(finished.ID)
	require.True(t, ok)
	assert.Equal(t, int64(time.Hour), cached.Max)

	_, err = m.Select(ctx, finished)
	require.NoError(t, err)
	assert.Equal(t, timeline.Range{Min: 0, Max: int64(10 * time.Second)}, tl.View())

	// An ongoing session always streams a trailing window.
	live := testProcess
	live.PID = 30
	svc.AddProcess(live)
	svc.Advance(int64(time.Minute))
	_, err = m.BeginIfNeeded(ctx, testDevice, live)
	require.NoError(t, err)
	now := int64(10*time.Second + time.Minute)
	assert.Equal(t, timeline.Range{Min: now - timeline.DefaultViewLength, Max: now}, tl.View())
	assert.True(t, tl.Streaming())
}

func TestManager_SelectSameSessionIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testutil.NewTestContext(t)

	_, err := m.BeginIfNeeded(ctx, testDevice, testProcess)
	require.NoError(t, err)

	changed, err := m.Select(ctx, m.Current())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestManager_ImportAndPrune(t *testing.T) {
	m, svc, _ := newTestManager(t)
	ctx := testutil.NewTestContext(t)

	imported := model.Session{ID: 42, DeviceID: 1, PID: 99, StartTimestamp: 0, EndTimestamp: 100}
	require.NoError(t, m.Import(ctx, imported, "trace.perfetto"))

	meta, err := svc.GetSessionMetaData(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SessionImported, meta.Type)

	ongoing := imported
	ongoing.ID = 43
	ongoing.EndTimestamp = model.OngoingTimestamp
	assert.Error(t, m.Import(ctx, ongoing, "live"))

	_, err = m.Select(ctx, imported)
	require.NoError(t, err)
	m.Clear()
	m.views[7] = timeline.Range{Min: 1, Max: 2}

	dropped, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	_, ok := m.CachedView(42)
	assert.True(t, ok)
}
