// Package feed streams controller notifications to websocket clients.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/profiler/model"
	"github.com/coral-mesh/coral-profiler/internal/profiler/notify"
	"github.com/coral-mesh/coral-profiler/internal/profiler/stage"
)

// Source is the controller state the feed reports.
type Source interface {
	Subscribe(set notify.Set, fn notify.Handler) (unsubscribe func())
	Device() *model.Device
	Process() *model.Process
	Session() model.Session
	SessionDisplayName() string
	AgentStatus() model.AgentStatus
	Stage() stage.Stage
	Mode() stage.Mode
}

// Message types.
const (
	MsgSnapshot = "snapshot"
	MsgChange   = "change"
)

// Message is one websocket frame.
type Message struct {
	Type  string   `json:"type"`
	Facet string   `json:"facet,omitempty"`
	State Snapshot `json:"state"`
}

// Snapshot is the observable controller state.
type Snapshot struct {
	Device        *model.Device     `json:"device,omitempty"`
	Process       *model.Process    `json:"process,omitempty"`
	Session       *model.Session    `json:"session,omitempty"`
	SessionName   string            `json:"session_name,omitempty"`
	Agent         model.AgentStatus `json:"agent"`
	Stage         string            `json:"stage"`
	Mode          string            `json:"mode"`
	Capture       string            `json:"capture,omitempty"`
	CaptureLoaded bool              `json:"capture_loaded,omitempty"`
	Time          time.Time         `json:"time"`
}

// TakeSnapshot reads src.
func TakeSnapshot(src Source) Snapshot {
	snap := Snapshot{
		Device:      src.Device(),
		Process:     src.Process(),
		SessionName: src.SessionDisplayName(),
		Agent:       src.AgentStatus(),
		Mode:        src.Mode().String(),
		Time:        time.Now().UTC(),
	}
	if s := src.Session(); !s.IsZero() {
		snap.Session = &s
	}

	st := src.Stage()
	snap.Stage = st.Kind.String()
	if st.Capture != nil {
		snap.Capture = st.Capture.Label()
		snap.CaptureLoaded = st.Loaded
	}
	return snap
}

const sendBuffer = 64

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcaster is an http.Handler that upgrades requests to websockets and
// sends every notification of its source to each connected client. A client
// that falls behind is disconnected.
type Broadcaster struct {
	src         Source
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
	unsubscribe func()

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewBroadcaster subscribes to every facet of src.
func NewBroadcaster(src Source, logger zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		src:     src,
		logger:  logger.With().Str("component", "feed").Logger(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	b.unsubscribe = src.Subscribe(notify.All, b.notify)
	return b
}

// ServeHTTP upgrades the request and registers the client. The first message
// is a snapshot.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go c.writePump()
	b.logger.Debug().Str("client_id", c.id).Str("remote", r.RemoteAddr).Msg("Feed client connected")

	if data, err := json.Marshal(Message{Type: MsgSnapshot, State: TakeSnapshot(b.src)}); err == nil {
		b.deliver(c, data)
	}

	go func() {
		defer func() {
			b.remove(c)
			b.logger.Debug().Str("client_id", c.id).Msg("Feed client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) notify(f notify.Facet) {
	data, err := json.Marshal(Message{Type: MsgChange, Facet: f.String(), State: TakeSnapshot(b.src)})
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to encode feed message")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.deliver(c, data)
	}
}

func (b *Broadcaster) deliver(c *client, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		b.logger.Warn().Str("client_id", c.id).Msg("Feed client too slow, disconnecting")
		go b.remove(c)
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close unsubscribes from the source and disconnects every client.
func (b *Broadcaster) Close() {
	b.unsubscribe()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}
