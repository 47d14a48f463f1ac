package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/backend"
	"github.com/gitUserKHS/neighbortalk/internal/notify"
	"github.com/gitUserKHS/neighbortalk/internal/store"
	"github.com/gitUserKHS/neighbortalk/internal/testutil"
	"github.com/gitUserKHS/neighbortalk/internal/transport"
	"github.com/gitUserKHS/neighbortalk/internal/types"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	written   []transport.ClientFrame
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-c.incoming:
		return websocket.TextMessage, raw, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var frame transport.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) frames() []transport.ClientFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.ClientFrame, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) deliver(t *testing.T, frame *transport.ServerFrame) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	c.incoming <- raw
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) dial(url string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type testEngine struct {
	backend  *backend.MockChatBackend
	dialer   *fakeDialer
	conn     *transport.Manager
	messages *store.MessageStore
	rooms    *store.RoomListStore
	router   *notify.Router
	gate     *Gate
}

func newTestEngine(t *testing.T) *testEngine {
	logger := testutil.TestLogger(t)
	be := &backend.MockChatBackend{}
	dialer := &fakeDialer{}

	router := notify.NewRouter(logger, nil)
	conn := transport.NewManager(logger, "ws://test/ws", dialer.dial, router, nil, 0, 0)
	messages := store.NewMessageStore(logger, be, conn, nil, 20)
	rooms := store.NewRoomListStore(logger, be, 20)
	gate := NewGate(logger, be, conn, messages, rooms, router)

	t.Cleanup(conn.Disconnect)

	return &testEngine{
		backend:  be,
		dialer:   dialer,
		conn:     conn,
		messages: messages,
		rooms:    rooms,
		router:   router,
		gate:     gate,
	}
}

func (e *testEngine) expectBind(rooms ...string) {
	page := types.RoomPage{Page: 0, TotalPages: 1, Last: true}
	for _, id := range rooms {
		page.Rooms = append(page.Rooms, types.Room{Id: id, RoomName: "room " + id})
	}
	e.backend.On("ListRooms", mock.Anything, 0, 20).Return(page, nil)
	e.backend.On("GetAllUnreadCounts", mock.Anything).Return(map[string]int{}, nil)
}

func signedToken(t *testing.T, userId string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user-id": userId,
		"exp":     float64(exp.Unix()),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestBind(t *testing.T) {
	t.Run("binding loads rooms and unread counts", func(t *testing.T) {
		e := newTestEngine(t)
		e.expectBind("room1", "room2")

		err := e.gate.Bind(context.Background(), types.User{Id: "user1", Username: "u1"}, "")
		require.NoError(t, err)

		assert.Equal(t, "user1", e.gate.BoundUserId())
		assert.Equal(t, transport.StateConnected, e.conn.State())
		assert.Len(t, e.rooms.Rooms(), 2)
		e.backend.AssertExpectations(t)
	})

	t.Run("rebinding the same identity is a no-op", func(t *testing.T) {
		e := newTestEngine(t)
		e.expectBind()

		user := types.User{Id: "user1"}
		require.NoError(t, e.gate.Bind(context.Background(), user, ""))
		require.NoError(t, e.gate.Bind(context.Background(), user, ""))

		assert.Equal(t, 1, e.dialer.dialCount(), "expected no reconnect churn on redundant bind")
		e.backend.AssertNumberOfCalls(t, "ListRooms", 1)
	})

	t.Run("binding a different identity tears the old one down", func(t *testing.T) {
		e := newTestEngine(t)
		e.expectBind("room1")
		e.backend.On("GetMessages", mock.Anything, "room1", 0, 20).
			Return(types.MessagePage{Last: true}, nil).Once()

		require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, ""))
		require.NoError(t, e.gate.OpenRoom(context.Background(), "room1"))

		require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user2"}, ""))

		assert.Equal(t, "user2", e.gate.BoundUserId())
		assert.Equal(t, 2, e.dialer.dialCount())
		for _, f := range e.dialer.conn(1).frames() {
			assert.Nil(t, f.Subscribe, "expected no residual subscriptions for the new identity")
		}
	})

	t.Run("connect failure degrades to request-response mode", func(t *testing.T) {
		logger := testutil.TestLogger(t)
		be := &backend.MockChatBackend{}
		router := notify.NewRouter(logger, nil)
		failDial := func(url string, header http.Header) (transport.Conn, error) {
			return nil, errors.New("refused")
		}
		conn := transport.NewManager(logger, "ws://test/ws", failDial, router, nil, 0, 0)
		messages := store.NewMessageStore(logger, be, conn, nil, 20)
		rooms := store.NewRoomListStore(logger, be, 20)
		gate := NewGate(logger, be, conn, messages, rooms, router)

		be.On("ListRooms", mock.Anything, 0, 20).Return(types.RoomPage{Last: true}, nil)
		be.On("GetAllUnreadCounts", mock.Anything).Return(map[string]int{}, nil)

		require.NoError(t, gate.Bind(context.Background(), types.User{Id: "user1"}, ""))
		assert.Equal(t, transport.StateDisconnected, conn.State())
		be.AssertExpectations(t)
	})
}

func TestUnbind(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind("room1")

	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, ""))
	e.gate.Unbind()

	assert.Empty(t, e.gate.BoundUserId())
	assert.Equal(t, transport.StateDisconnected, e.conn.State())
	assert.Empty(t, e.rooms.Rooms(), "expected room list reset on sign-out")

	// unbinding when already unbound is safe
	e.gate.Unbind()
}

func TestRebindServesFreshMessageState(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind("room1")
	user1Msg := testutil.TestMessage("msg1", "room1", "user1", 1)
	e.backend.On("GetMessages", mock.Anything, "room1", 0, 20).
		Return(types.MessagePage{Messages: []types.Message{user1Msg}, TotalPages: 1, Last: true}, nil).Once()

	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, ""))
	require.NoError(t, e.gate.OpenRoom(context.Background(), "room1"))

	l, ok := e.messages.Snapshot("room1")
	require.True(t, ok)
	require.Len(t, l.Messages, 1)

	e.gate.Unbind()
	_, ok = e.messages.Snapshot("room1")
	assert.False(t, ok, "expected message logs cleared on sign-out")

	// the next identity gets a fresh fetch, not the previous user's cache
	e.backend.On("GetMessages", mock.Anything, "room1", 0, 20).
		Return(types.MessagePage{TotalPages: 1, Last: true}, nil).Once()
	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user2"}, ""))
	require.NoError(t, e.gate.OpenRoom(context.Background(), "room1"))

	l, ok = e.messages.Snapshot("room1")
	require.True(t, ok)
	assert.Empty(t, l.Messages, "expected no history carried across identities")
	e.backend.AssertNumberOfCalls(t, "GetMessages", 2)
}

func TestHandleUnauthorized(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind()

	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, ""))
	e.gate.HandleUnauthorized()

	assert.Empty(t, e.gate.BoundUserId(), "expected a 401 to sign the session out")
	assert.Equal(t, transport.StateDisconnected, e.conn.State())
}

func TestSessionExpiry(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind()

	token := signedToken(t, "user1", time.Now().Add(50*time.Millisecond))
	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, token))
	require.Equal(t, "user1", e.gate.BoundUserId())

	assert.Eventually(t, func() bool {
		return e.gate.BoundUserId() == ""
	}, time.Second, 10*time.Millisecond, "expected sign-out at token expiry")
}

func TestOpenRoom(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind("room1")
	e.backend.On("GetMessages", mock.Anything, "room1", 0, 20).
		Return(types.MessagePage{Page: 0, TotalPages: 1, Last: true}, nil).Once()

	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1", Username: "u1"}, ""))
	require.NoError(t, e.gate.OpenRoom(context.Background(), "room1"))

	assert.Equal(t, "room1", e.messages.OpenRoomId())

	conn := e.dialer.conn(0)
	var subscribed, markedRead bool
	for _, f := range conn.frames() {
		if f.Subscribe != nil && f.Subscribe.RoomId == "room1" {
			subscribed = true
		}
		if f.MarkRead != nil && f.MarkRead.RoomId == "room1" {
			markedRead = true
		}
	}
	assert.True(t, subscribed, "expected a live subscription for the opened room")
	assert.True(t, markedRead, "expected mark-all-read published on open")

	// a live message for the open room lands in the log and the room list
	msg := testutil.TestMessage("msg1", "room1", "user2", 1)
	conn.deliver(t, &transport.ServerFrame{Message: &msg})

	require.Eventually(t, func() bool {
		l, ok := e.messages.Snapshot("room1")
		rooms := e.rooms.Rooms()
		return ok && len(l.Messages) == 1 && len(rooms) == 1 && rooms[0].LastMessage == msg.Content
	}, time.Second, time.Millisecond)
	assert.Zero(t, e.messages.UnreadCount("room1"), "open room never accrues unread")
}

func TestLiveMessageForUnopenedRoom(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind("room1", "room2")

	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, ""))

	// no subscription for room2: the frame reaches the stores via the router
	msg := testutil.TestMessage("msg1", "room2", "user2", 1)
	e.dialer.conn(0).deliver(t, &transport.ServerFrame{Message: &msg})

	require.Eventually(t, func() bool {
		rooms := e.rooms.Rooms()
		return e.messages.UnreadCount("room2") == 1 && rooms[0].Id == "room2"
	}, time.Second, time.Millisecond, "expected the active room moved to the front with its badge set")

	rooms := e.rooms.Rooms()
	assert.Equal(t, 1, rooms[0].UnreadCount, "expected the badge to follow the counter")
}

func TestCloseRoom(t *testing.T) {
	e := newTestEngine(t)
	e.expectBind("room1")
	e.backend.On("GetMessages", mock.Anything, "room1", 0, 20).
		Return(types.MessagePage{Last: true}, nil).Once()

	require.NoError(t, e.gate.Bind(context.Background(), types.User{Id: "user1"}, ""))
	require.NoError(t, e.gate.OpenRoom(context.Background(), "room1"))

	e.gate.CloseRoom("room1")
	assert.Empty(t, e.messages.OpenRoomId())

	_, ok := e.messages.Snapshot("room1")
	assert.True(t, ok, "expected the log kept so reopening does not refetch")
}

func TestStartRestoresSession(t *testing.T) {
	t.Run("existing session binds", func(t *testing.T) {
		e := newTestEngine(t)
		e.expectBind()
		e.backend.On("CurrentUser", mock.Anything).
			Return(types.User{Id: "user1", Username: "u1"}, nil).Once()

		auth := NewBackendAuthProvider(e.backend, "")
		require.NoError(t, e.gate.Start(context.Background(), auth))
		assert.Equal(t, "user1", e.gate.BoundUserId())
	})

	t.Run("failed session check leaves the gate unbound", func(t *testing.T) {
		e := newTestEngine(t)
		e.backend.On("CurrentUser", mock.Anything).
			Return(types.User{}, backend.ErrUnauthorized).Once()

		auth := NewBackendAuthProvider(e.backend, "")
		require.NoError(t, e.gate.Start(context.Background(), auth))
		assert.Empty(t, e.gate.BoundUserId())
	})

	t.Run("auth change events drive bind and unbind", func(t *testing.T) {
		e := newTestEngine(t)
		e.expectBind()
		e.backend.On("CurrentUser", mock.Anything).
			Return(types.User{}, errors.New("no session")).Once()

		auth := NewBackendAuthProvider(e.backend, "")
		require.NoError(t, e.gate.Start(context.Background(), auth))

		auth.SignIn(types.User{Id: "user2"}, "")
		assert.Equal(t, "user2", e.gate.BoundUserId())

		auth.SignOut()
		assert.Empty(t, e.gate.BoundUserId())

		e.gate.Stop()
	})
}
