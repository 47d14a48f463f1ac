package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *HTTPChatBackend {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPChatBackend(srv.URL, "test-token", srv.Client())
}

func TestGetMessages(t *testing.T) {
	t.Run("sends pagination and auth", func(t *testing.T) {
		be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/messages", r.URL.Path)
			assert.Equal(t, "room1", r.URL.Query().Get("room_id"))
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "20", r.URL.Query().Get("size"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			json.NewEncoder(w).Encode(types.MessagePage{
				Messages: []types.Message{{
					Id:        "msg1",
					RoomId:    "room1",
					CreatedAt: time.Now().UTC(),
				}},
				Page:       2,
				TotalPages: 3,
				Last:       true,
			})
		})

		page, err := be.GetMessages(context.Background(), "room1", 2, 20)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Page)
		assert.True(t, page.Last)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "msg1", page.Messages[0].Id)
	})

	t.Run("server error is a fetch error", func(t *testing.T) {
		be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := be.GetMessages(context.Background(), "room1", 0, 20)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindFetch), "expected a fetch error, got %v", err)

		var be2 *BackendError
		require.ErrorAs(t, err, &be2)
		assert.Equal(t, http.StatusInternalServerError, be2.StatusCode)
	})
}

func TestUnauthorized(t *testing.T) {
	be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	hookCalled := 0
	be.SetUnauthorizedHook(func() { hookCalled++ })

	_, err := be.ListRooms(context.Background(), 0, 20)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized, "expected the 401 sentinel in the chain")
	assert.Equal(t, 1, hookCalled, "expected the global sign-out hook to fire")
}

func TestSendMessage(t *testing.T) {
	t.Run("returns the server-confirmed message", func(t *testing.T) {
		be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var msg types.Message
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
			assert.Contains(t, msg.Id, "temp-", "expected the provisional id on the wire")

			msg.Id = "srv-42"
			json.NewEncoder(w).Encode(msg)
		})

		confirmed, err := be.SendMessage(context.Background(), types.Message{
			Id:      "temp-123-user1",
			RoomId:  "room1",
			Content: "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "srv-42", confirmed.Id)
		assert.Equal(t, "hello", confirmed.Content)
	})

	t.Run("failure is a send error", func(t *testing.T) {
		be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := be.SendMessage(context.Background(), types.Message{Id: "temp-1-u"})
		assert.True(t, IsKind(err, KindSend))
	})
}

func TestRoomActionEndpoints(t *testing.T) {
	var gotMethod, gotPath string
	be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, be.JoinRoom(context.Background(), "room1"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/rooms/room1/join", gotPath)

	require.NoError(t, be.LeaveRoom(context.Background(), "room1"))
	assert.Equal(t, "/api/rooms/room1/leave", gotPath)

	require.NoError(t, be.DeleteRoom(context.Background(), "room1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/rooms/room1", gotPath)
}

func TestSearchRooms(t *testing.T) {
	be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/search", r.URL.Path)
		assert.Equal(t, "garden", r.URL.Query().Get("keyword"))
		assert.Equal(t, "GROUP", r.URL.Query().Get("type"))
		json.NewEncoder(w).Encode(types.RoomPage{Last: true})
	})

	page, err := be.SearchRooms(context.Background(), "garden", types.RoomTypeGroup, 0, 20)
	require.NoError(t, err)
	assert.True(t, page.Last)
}

func TestGetAllUnreadCounts(t *testing.T) {
	be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/unread", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int{"room1": 4})
	})

	counts, err := be.GetAllUnreadCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"room1": 4}, counts)
}

func TestMarkMessagesAsRead(t *testing.T) {
	be := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/read", r.URL.Path)
		assert.Equal(t, "room1", r.URL.Query().Get("room_id"))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, be.MarkMessagesAsRead(context.Background(), "room1"))
}
