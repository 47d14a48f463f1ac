package transport

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/stats"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 65536
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ErrNotConnected signals that a publish was attempted without a live
// connection. Callers fall back to the request/response path.
var ErrNotConnected = errors.New("not connected")

// ErrConnectionFailed is returned once the bounded reconnect budget is spent.
var ErrConnectionFailed = errors.New("connection failed")

// RoomHandler receives live frames scoped to a subscribed room.
type RoomHandler func(*ServerFrame)

// FrameSink receives every inbound frame not bound to a room subscription
// (global notices, matching signals, offline summaries).
type FrameSink interface {
	HandleFrame(*ServerFrame)
}

// Conn is the subset of *websocket.Conn the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a live connection for the given identity.
type Dialer func(url string, header http.Header) (Conn, error)

func GorillaDialer(url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Manager owns the single live transport connection: connect/reconnect,
// heartbeat, the per-room subscription set and its replay after reconnect,
// publish, and connection-state observers.
type Manager struct {
	log   *log.Logger
	url   string
	dial  Dialer
	sink  FrameSink
	stats stats.StatsProvider

	maxReconnects int
	backoff       time.Duration

	mu         sync.Mutex
	conn       Conn
	state      State
	identity   string
	subs       map[string]RoomHandler
	observers  map[int]func(State)
	obSeq      int
	generation int
}

func NewManager(logger *log.Logger, url string, dial Dialer, sink FrameSink, sp stats.StatsProvider, maxReconnects int, backoff time.Duration) *Manager {
	if dial == nil {
		dial = GorillaDialer
	}
	return &Manager{
		log:           logger,
		url:           url,
		dial:          dial,
		sink:          sink,
		stats:         sp,
		maxReconnects: maxReconnects,
		backoff:       backoff,
		state:         StateDisconnected,
		subs:          make(map[string]RoomHandler),
		observers:     make(map[int]func(State)),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// SetIdentity rebinds the connection to a new identity. A change tears down
// the existing connection and every room subscription before the new
// connection is opened. Empty identity fully disconnects.
func (m *Manager) SetIdentity(userId string) error {
	m.mu.Lock()
	if userId == m.identity && m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if userId == "" {
		m.Disconnect()
		return nil
	}

	m.mu.Lock()
	if m.identity != "" && m.identity != userId {
		m.teardownLocked(true)
	}
	m.mu.Unlock()

	return m.Connect(userId)
}

// Connect is idempotent for an identity already connected. It replays the
// previously-registered room subscriptions once the transport is up.
func (m *Manager) Connect(userId string) error {
	m.mu.Lock()
	if m.state == StateConnected && m.identity == userId {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		m.teardownLocked(false)
	}
	m.identity = userId
	m.generation++
	gen := m.generation
	obs := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.notify(obs, StateConnecting)

	return m.establish(gen)
}

// establish dials with bounded retries. Failures are silent until the retry
// budget is spent, then surfaced once through the sink.
func (m *Manager) establish(gen int) error {
	var lastErr error
	for attempt := 0; attempt <= m.maxReconnects; attempt++ {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return nil
		}
		identity := m.identity
		m.mu.Unlock()

		if attempt > 0 {
			time.Sleep(m.backoff * time.Duration(attempt))
		}

		if m.stats != nil {
			m.stats.Incr("ConnectAttempts")
		}

		header := http.Header{}
		header.Set("X-User-Id", identity)
		conn, err := m.dial(m.url, header)
		if err != nil {
			lastErr = err
			m.log.Printf("dial attempt %d failed: %v", attempt, err)
			continue
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			conn.Close()
			return nil
		}
		m.conn = conn
		obs := m.setStateLocked(StateConnected)
		rooms := make([]string, 0, len(m.subs))
		for roomId := range m.subs {
			rooms = append(rooms, roomId)
		}
		m.mu.Unlock()
		m.notify(obs, StateConnected)

		for _, roomId := range rooms {
			if err := m.writeFrame(conn, &ClientFrame{Subscribe: &Subscribe{RoomId: roomId}}); err != nil {
				m.log.Printf("replay subscribe %q: %v", roomId, err)
			}
		}

		go m.readPump(conn, gen)
		go m.pingLoop(conn, gen)
		return nil
	}

	m.mu.Lock()
	obs := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.notify(obs, StateDisconnected)

	if m.sink != nil {
		m.sink.HandleFrame(&ServerFrame{
			BaseFrame: BaseFrame{Timestamp: Now()},
			Notice: &Notice{
				Severity: "error",
				Message:  "live connection unavailable",
			},
		})
	}

	if lastErr != nil {
		return errors.Join(ErrConnectionFailed, lastErr)
	}
	return ErrConnectionFailed
}

// Disconnect is always safe to call. It clears all subscriptions and the
// bound identity.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.identity = ""
	obs := m.teardownLocked(true)
	m.mu.Unlock()
	m.notify(obs, StateDisconnected)
}

func (m *Manager) teardownLocked(clearSubs bool) []func(State) {
	m.generation++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if clearSubs {
		m.subs = make(map[string]RoomHandler)
	}
	return m.setStateLocked(StateDisconnected)
}

// SubscribeRoom registers the room's live callback, replacing any prior one.
// If not yet connected the intent is remembered and applied on the next
// successful connect.
func (m *Manager) SubscribeRoom(roomId string, h RoomHandler) {
	m.mu.Lock()
	_, existed := m.subs[roomId]
	m.subs[roomId] = h
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected && !existed {
		if err := m.writeFrame(conn, &ClientFrame{Subscribe: &Subscribe{RoomId: roomId}}); err != nil {
			m.log.Printf("subscribe %q: %v", roomId, err)
		}
	}
}

// UnsubscribeRoom is safe to call for rooms never subscribed.
func (m *Manager) UnsubscribeRoom(roomId string) {
	m.mu.Lock()
	_, existed := m.subs[roomId]
	delete(m.subs, roomId)
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected && existed {
		if err := m.writeFrame(conn, &ClientFrame{Unsubscribe: &Unsubscribe{RoomId: roomId}}); err != nil {
			m.log.Printf("unsubscribe %q: %v", roomId, err)
		}
	}
}

// Publish sends a frame over the live channel. It reports ErrNotConnected
// instead of buffering; the caller decides whether to fall back to a
// request/response call.
func (m *Manager) Publish(frame *ClientFrame) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	if err := m.writeFrame(conn, frame); err != nil {
		return errors.Join(ErrNotConnected, err)
	}
	return nil
}

func (m *Manager) writeFrame(conn Conn, frame *ClientFrame) error {
	if frame.Id == "" {
		frame.Id = shortid.MustGenerate()
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = Now()
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// OnStateChange registers a connection-state observer and returns its
// disposer. The disposer is idempotent.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	m.obSeq++
	id := m.obSeq
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) setStateLocked(s State) []func(State) {
	if m.state == s {
		return nil
	}
	m.state = s
	obs := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		obs = append(obs, fn)
	}
	return obs
}

func (m *Manager) notify(obs []func(State), s State) {
	for _, fn := range obs {
		fn(s)
	}
}

func (m *Manager) readPump(conn Conn, gen int) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen != m.generation {
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.generation++
			newGen := m.generation
			obs := m.setStateLocked(StateConnecting)
			m.mu.Unlock()
			m.notify(obs, StateConnecting)

			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.Printf("read: %v", err)
			}
			if m.stats != nil {
				m.stats.Incr("Reconnects")
			}

			// connection dropped, try to bring it back with the same
			// subscription set
			go m.establish(newGen)
			return
		}

		var frame ServerFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			m.log.Println("parse frame:", err)
			continue
		}

		m.dispatch(&frame)
	}
}

func (m *Manager) dispatch(frame *ServerFrame) {
	if roomId := frame.RoomId(); roomId != "" {
		m.mu.Lock()
		h := m.subs[roomId]
		m.mu.Unlock()
		if h != nil {
			if m.stats != nil && frame.Message != nil {
				m.stats.Incr("LiveMessages")
			}
			h(frame)
			return
		}
	}

	if m.sink != nil {
		m.sink.HandleFrame(frame)
	}
}

func (m *Manager) pingLoop(conn Conn, gen int) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		current := gen == m.generation
		m.mu.Unlock()
		if !current {
			return
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			conn.Close()
			return
		}
	}
}
