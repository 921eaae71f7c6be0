package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-profiler/internal/profiler"
	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/simulator"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

func setup(t *testing.T) (*profiler.Controller, *Broadcaster, string) {
	t.Helper()
	svc := simulator.New()
	svc.AddDevice(model.Device{ID: 1, Serial: "A", Manufacturer: "Acme", Model: "Phone", State: model.DeviceOnline})
	svc.AddProcess(model.Process{DeviceID: 1, PID: 20, Name: "app", State: model.ProcessAlive})

	c := profiler.New(svc, profiler.Config{Logger: testutil.NewTestLogger(t)})
	b := NewBroadcaster(c, testutil.NewTestLogger(t))
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		b.Close()
		srv.Close()
		_ = c.Shutdown(context.Background())
	})
	return c, b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBroadcaster_SnapshotThenChanges(t *testing.T) {
	c, b, url := setup(t)
	conn := dial(t, url)

	first := readMessage(t, conn)
	assert.Equal(t, MsgSnapshot, first.Type)
	assert.Equal(t, "null", first.State.Stage)
	assert.Nil(t, first.State.Session)
	testutil.Eventually(t, time.Second, func() bool { return b.ClientCount() == 1 }, "client registered")

	require.NoError(t, c.PollOnce(testutil.NewTestContext(t)))

	var facets []string
	var last Message
	for len(facets) < 4 {
		last = readMessage(t, conn)
		assert.Equal(t, MsgChange, last.Type)
		facets = append(facets, last.Facet)
	}
	assert.Equal(t, []string{"device", "process", "session", "stage"}, facets)
	assert.Equal(t, "monitor", last.State.Stage)
	require.NotNil(t, last.State.Session)
	assert.True(t, last.State.Session.Ongoing())
	assert.Equal(t, "app (Acme Phone)", last.State.SessionName)
}

func TestBroadcaster_Close(t *testing.T) {
	_, b, url := setup(t)
	conn := dial(t, url)
	readMessage(t, conn)
	testutil.Eventually(t, time.Second, func() bool { return b.ClientCount() == 1 }, "client registered")

	b.Close()
	assert.Zero(t, b.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestBroadcaster_ClientDisconnect(t *testing.T) {
	_, b, url := setup(t)
	conn := dial(t, url)
	readMessage(t, conn)
	testutil.Eventually(t, time.Second, func() bool { return b.ClientCount() == 1 }, "client registered")

	require.NoError(t, conn.Close())
	testutil.Eventually(t, 5*time.Second, func() bool { return b.ClientCount() == 0 }, "client removed")
}
