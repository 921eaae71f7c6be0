package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/coral-mesh/coral-profiler/internal/profiler"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/stage"
	"github.com/coral-mesh/coral-profiler/internal/retry"
	"github.com/coral-mesh/coral-profiler/internal/simulator"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
	"github.com/coral-mesh/coral-profiler/internal/transport"
)

var fastRetry = retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}

func serve(t *testing.T, svc transport.Service, opts ...connect.HandlerOption) string {
	t.Helper()
	path, handler := transport.NewHandler(svc, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newSimulator() *simulator.Service {
	svc := simulator.New()
	svc.AddDevice(model.Device{ID: 1, Serial: "emulator-5554", Manufacturer: "Google", Model: "Pixel", FeatureLevel: 30, State: model.DeviceOnline})
	svc.AddProcess(model.Process{DeviceID: 1, PID: 42, Name: "com.example.app", State: model.ProcessAlive, StartTimestampNs: 7})
	svc.SetAgentStatus(1, 42, model.AgentAttached)
	svc.SetTimestamp(1000)
	return svc
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	svc := newSimulator()
	client := transport.NewClient(http.DefaultClient, serve(t, svc))

	devices, err := client.GetDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, model.DeviceOnline, devices[0].State)
	assert.Equal(t, "Pixel", devices[0].Model)

	procs, err := client.GetProcesses(ctx, 1)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, int64(7), procs[0].StartTimestampNs)

	status, err := client.GetAgentStatus(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, model.AgentAttached, status)

	s, err := client.BeginSession(ctx, 1, 42, "com.example.app (Google Pixel)", model.AgentConfig{AttachAgent: true})
	require.NoError(t, err)
	assert.True(t, s.Ongoing())
	assert.Equal(t, int64(1000), s.StartTimestamp)

	meta, err := client.GetSessionMetaData(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app (Google Pixel)", meta.SessionName)
	assert.True(t, meta.AgentEnabled)
	assert.Equal(t, model.SessionFull, meta.Type)

	now, err := client.GetCurrentTime(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), now)

	ended, err := client.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ended.Ongoing())

	imported := model.Session{ID: 50, DeviceID: 1, PID: 9, StartTimestamp: 1, EndTimestamp: 2}
	require.NoError(t, client.ImportSession(ctx, imported, "trace.perfetto", model.SessionImported))

	sessions, err := client.GetSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestClient_MapsNotFound(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	client := transport.NewClient(http.DefaultClient, serve(t, newSimulator()))

	_, err := client.EndSession(ctx, 999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = client.BeginSession(ctx, 7, 1, "ghost", model.AgentConfig{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClient_RejectsInvalidArgument(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	client := transport.NewClient(http.DefaultClient, serve(t, newSimulator()))

	_, err := client.BeginSession(ctx, 0, 0, "", model.AgentConfig{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestClient_RetriesReadsOnly(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	svc := newSimulator()
	client := transport.NewClient(http.DefaultClient, serve(t, svc), transport.WithRetry(fastRetry))

	svc.Fail(simulator.MethodGetDevices, model.ErrUnavailable)
	_, err := client.GetDevices(ctx)
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, 3, svc.Calls(simulator.MethodGetDevices))

	svc.Fail(simulator.MethodBeginSession, model.ErrUnavailable)
	_, err = client.BeginSession(ctx, 1, 42, "once", model.AgentConfig{})
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, 1, svc.Calls(simulator.MethodBeginSession))

	svc.Fail(simulator.MethodGetDevices, nil)
	devices, err := client.GetDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := transport.NewClient(http.DefaultClient, url, transport.WithRetry(fastRetry))
	_, err := client.GetDevices(ctx)
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestAuthInterceptor(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	url := serve(t, newSimulator(), connect.WithInterceptors(transport.NewAuthInterceptor("s3cret")))

	anonymous := transport.NewClient(http.DefaultClient, url)
	_, err := anonymous.GetDevices(ctx)
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	authorized := transport.NewClient(http.DefaultClient, url, transport.WithBearerToken("s3cret"))
	_, err = authorized.GetDevices(ctx)
	assert.NoError(t, err)
}

func TestClient_UserAgent(t *testing.T) {
	var mu sync.Mutex
	var got string
	record := connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			mu.Lock()
			got = req.Header().Get("User-Agent")
			mu.Unlock()
			return next(ctx, req)
		}
	})
	url := serve(t, newSimulator(), connect.WithInterceptors(record))

	client := transport.NewClient(http.DefaultClient, url, transport.WithUserAgent("coral-profiler/test"))
	_, err := client.GetDevices(testutil.NewTestContext(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "coral-profiler/test", got)
}

func TestServer_StartStop(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	path, handler := transport.NewHandler(newSimulator(),
		connect.WithInterceptors(transport.NewLoggingInterceptor(testutil.NewTestLogger(t))))
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := transport.NewServer("simulator", "127.0.0.1:0", mux, testutil.NewTestLogger(t))
	require.NoError(t, srv.Start(ctx))
	require.NotEmpty(t, srv.Addr())

	endpoint := "http://" + srv.Addr()
	for name, httpClient := range map[string]*http.Client{
		"http1": http.DefaultClient,
		"h2c":   transport.NewHTTPClient(endpoint),
	} {
		client := transport.NewClient(httpClient, endpoint)
		devices, err := client.GetDevices(ctx)
		require.NoError(t, err, name)
		assert.Len(t, devices, 1, name)
	}

	require.NoError(t, srv.Stop(ctx))
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Stop(ctx))
}

func TestNewHTTPClient(t *testing.T) {
	_, isH2C := transport.NewHTTPClient("http://127.0.0.1:9010").Transport.(*http2.Transport)
	assert.True(t, isH2C)
	assert.Equal(t, http.DefaultTransport, transport.NewHTTPClient("https://profiler.example.com").Transport)
}

func TestController_OverTransport(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	svc := newSimulator()
	client := transport.NewClient(http.DefaultClient, serve(t, svc))

	c := profiler.New(client, profiler.Config{Logger: testutil.NewTestLogger(t)})
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	require.NoError(t, c.PollOnce(ctx))
	require.NotNil(t, c.Process())
	assert.Equal(t, int32(42), c.Process().PID)
	assert.True(t, c.Session().Ongoing())
	assert.Equal(t, stage.KindMonitor, c.Stage().Kind)
	assert.Equal(t, model.AgentAttached, c.AgentStatus())
	assert.Equal(t, "com.example.app (Google Pixel)", c.SessionDisplayName())
}
