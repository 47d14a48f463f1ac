package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/backend"
	"github.com/gitUserKHS/neighbortalk/internal/notify"
	"github.com/gitUserKHS/neighbortalk/internal/store"
	"github.com/gitUserKHS/neighbortalk/internal/transport"
	"github.com/gitUserKHS/neighbortalk/internal/types"
	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

// AuthProvider is the external session collaborator. It yields the signed-in
// user (or fails) and notifies on identity changes; a nil user means
// signed out.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (types.User, string, error)
	OnAuthChange(fn func(user *types.User, token string)) func()
}

// Gate reconciles session lifecycle with the connection: identity becoming
// known binds the transport and loads the initial room state, identity
// becoming unknown tears everything down. Rebinding the same identity is a
// no-op so redundant auth events never churn subscriptions.
type Gate struct {
	log      *log.Logger
	backend  backend.ChatBackend
	conn     *transport.Manager
	messages *store.MessageStore
	rooms    *store.RoomListStore
	router   *notify.Router

	mu          sync.Mutex
	boundUserId string
	expiryTimer *time.Timer
	unsubAuth   func()
}

func NewGate(logger *log.Logger, be backend.ChatBackend, conn *transport.Manager, messages *store.MessageStore, rooms *store.RoomListStore, router *notify.Router) *Gate {
	g := &Gate{
		log:      logger,
		backend:  be,
		conn:     conn,
		messages: messages,
		rooms:    rooms,
		router:   router,
	}

	// fan live frames that belong to the stores out of the router
	router.OnRoomMessage(func(msg types.Message) {
		g.messages.ApplyLive(msg)
		g.rooms.ApplyIncomingMessageSummary(msg.RoomId, msg.Content, msg.SenderName, msg.CreatedAt)
	})
	router.OnReadReceipt(func(rr transport.ReadReceipt) {
		g.messages.ApplyReadReceipt(rr)
	})
	router.OnRoomDeleted(func(roomId string) {
		g.messages.RemoveRoom(roomId)
		g.rooms.RemoveRoom(roomId)
	})
	router.OnOfflineSummary(func(counts map[string]int) {
		for roomId, n := range counts {
			g.rooms.SetUnreadCount(roomId, n)
		}
	})
	messages.OnUnreadChanged(func(roomId string, count int) {
		g.rooms.SetUnreadCount(roomId, count)
	})

	return g
}

// Start restores the session if one exists and begins following auth
// changes. A failed session check leaves the gate unbound.
func (g *Gate) Start(ctx context.Context, auth AuthProvider) error {
	g.mu.Lock()
	g.unsubAuth = auth.OnAuthChange(func(user *types.User, token string) {
		if user == nil {
			g.Unbind()
			return
		}
		if err := g.Bind(context.Background(), *user, token); err != nil {
			g.log.Println("bind:", err)
		}
	})
	g.mu.Unlock()

	user, token, err := auth.CurrentUser(ctx)
	if err != nil {
		g.log.Println("session restore:", err)
		return nil
	}
	return g.Bind(ctx, user, token)
}

func (g *Gate) Stop() {
	g.mu.Lock()
	unsub := g.unsubAuth
	g.unsubAuth = nil
	g.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	g.Unbind()
}

// BoundUserId returns the identity the gate is currently bound to.
func (g *Gate) BoundUserId() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boundUserId
}

// Bind establishes everything for a signed-in user: transport connection,
// store identity, first room page and authoritative unread counts. Binding
// the already-bound identity is a no-op; binding a different one tears the
// old state down first.
func (g *Gate) Bind(ctx context.Context, user types.User, token string) error {
	g.mu.Lock()
	if g.boundUserId == user.Id {
		g.mu.Unlock()
		return nil
	}
	if g.boundUserId != "" {
		g.teardownLocked()
	}
	g.boundUserId = user.Id
	g.scheduleExpiryLocked(token)
	g.mu.Unlock()

	g.messages.SetCurrentUser(user)
	g.rooms.SetCurrentUser(user)

	if err := g.conn.Connect(user.Id); err != nil {
		// degraded mode: request/response still works without the live channel
		g.log.Println("connect:", err)
	}

	if err := g.rooms.LoadFirstPage(ctx); err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	if err := g.messages.LoadUnreadCounts(ctx); err != nil {
		g.log.Println("unread counts:", err)
	}
	return nil
}

// Unbind is the sign-out path: disconnect, clear subscriptions, reset every
// store. Safe to call when already unbound.
func (g *Gate) Unbind() {
	g.mu.Lock()
	if g.boundUserId == "" {
		g.mu.Unlock()
		return
	}
	g.teardownLocked()
	g.mu.Unlock()
}

func (g *Gate) teardownLocked() {
	g.boundUserId = ""
	if g.expiryTimer != nil {
		g.expiryTimer.Stop()
		g.expiryTimer = nil
	}
	g.conn.Disconnect()
	g.messages.SetCurrentUser(types.User{})
	g.messages.Reset()
	g.rooms.Reset()
	g.router.Reset()
}

// HandleUnauthorized is the backend's 401 hook: any rejected request signs
// the whole session out rather than failing locally.
func (g *Gate) HandleUnauthorized() {
	g.log.Println("session rejected, signing out")
	g.Unbind()
}

// scheduleExpiryLocked reads the session token's exp claim (unverified; the
// backend is the authority, the client only schedules) and signs out when
// it passes.
func (g *Gate) scheduleExpiryLocked(token string) {
	if token == "" {
		return
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		g.log.Println("parse session token:", err)
		return
	}

	if sub, ok := claims[userIdClaim].(string); ok && sub != g.boundUserId {
		g.log.Printf("token user %q does not match bound user %q", sub, g.boundUserId)
	}

	exp, ok := claims[expClaim].(float64)
	if !ok {
		return
	}
	until := time.Until(time.Unix(int64(exp), 0))
	if until <= 0 {
		return
	}

	g.expiryTimer = time.AfterFunc(until, func() {
		g.log.Println("session expired")
		g.Unbind()
	})
}

// OpenRoom is the room-open flow: subscribe the live channel, load page 0,
// and mark everything read. The live subscription feeds both stores.
func (g *Gate) OpenRoom(ctx context.Context, roomId string) error {
	g.messages.SetOpenRoom(roomId)

	g.conn.SubscribeRoom(roomId, func(frame *transport.ServerFrame) {
		switch {
		case frame.Message != nil:
			msg := *frame.Message
			g.messages.ApplyLive(msg)
			g.rooms.ApplyIncomingMessageSummary(msg.RoomId, msg.Content, msg.SenderName, msg.CreatedAt)
		case frame.ReadReceipt != nil:
			g.messages.ApplyReadReceipt(*frame.ReadReceipt)
		case frame.RoomDeleted != nil:
			g.messages.RemoveRoom(frame.RoomDeleted.RoomId)
			g.rooms.RemoveRoom(frame.RoomDeleted.RoomId)
		}
	})

	if err := g.messages.LoadInitial(ctx, roomId); err != nil {
		return err
	}

	g.messages.MarkAllRead(ctx, roomId)
	return nil
}

// RefocusRoom re-runs mark-as-read for the open room, used when the app
// regains foreground focus.
func (g *Gate) RefocusRoom(ctx context.Context) {
	if roomId := g.messages.OpenRoomId(); roomId != "" {
		g.messages.MarkAllRead(ctx, roomId)
	}
}

// CloseRoom releases the live subscription for a room the user navigated
// away from. The log itself is kept so reopening does not refetch.
func (g *Gate) CloseRoom(roomId string) {
	if g.messages.OpenRoomId() == roomId {
		g.messages.SetOpenRoom("")
	}
	g.conn.UnsubscribeRoom(roomId)
}
