package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gitUserKHS/neighbortalk/internal/types"
)

// ChatBackend is the request/response side of the chat backend. The live
// transport is a separate collaborator; everything here is plain HTTP.
type ChatBackend interface {
	CurrentUser(ctx context.Context) (types.User, error)
	ListRooms(ctx context.Context, page, size int) (types.RoomPage, error)
	SearchRooms(ctx context.Context, keyword string, roomType types.RoomType, page, size int) (types.RoomPage, error)
	GetMessages(ctx context.Context, roomId string, page, size int) (types.MessagePage, error)
	GetAllUnreadCounts(ctx context.Context) (map[string]int, error)
	MarkMessagesAsRead(ctx context.Context, roomId string) error
	SendMessage(ctx context.Context, msg types.Message) (types.Message, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error)
	JoinRoom(ctx context.Context, roomId string) error
	LeaveRoom(ctx context.Context, roomId string) error
	DeleteRoom(ctx context.Context, roomId string) error
}

type CreateRoomParams struct {
	RoomName       string         `json:"room_name"`
	Type           types.RoomType `json:"type"`
	ParticipantIds []string       `json:"participant_ids,omitempty"`
}

type HTTPChatBackend struct {
	baseURL      string
	sessionToken string
	client       *http.Client

	// onUnauthorized fires once per 401 response before the error is
	// returned, so the session layer can trigger a global sign-out.
	onUnauthorized func()
}

func NewHTTPChatBackend(baseURL, sessionToken string, client *http.Client) *HTTPChatBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChatBackend{
		baseURL:      baseURL,
		sessionToken: sessionToken,
		client:       client,
	}
}

// SetUnauthorizedHook registers the callback invoked on any 401 response.
func (b *HTTPChatBackend) SetUnauthorizedHook(fn func()) {
	b.onUnauthorized = fn
}

func (b *HTTPChatBackend) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.sessionToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if b.onUnauthorized != nil {
			b.onUnauthorized()
		}
		return resp.StatusCode, ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func (b *HTTPChatBackend) CurrentUser(ctx context.Context) (types.User, error) {
	var user types.User
	status, err := b.do(ctx, http.MethodGet, "/api/auth/session", nil, nil, &user)
	if err != nil {
		return types.User{}, NewFetchError("session", status, err)
	}
	return user, nil
}

func (b *HTTPChatBackend) ListRooms(ctx context.Context, page, size int) (types.RoomPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result types.RoomPage
	status, err := b.do(ctx, http.MethodGet, "/api/rooms", q, nil, &result)
	if err != nil {
		return types.RoomPage{}, NewFetchError("list rooms", status, err)
	}
	return result, nil
}

func (b *HTTPChatBackend) SearchRooms(ctx context.Context, keyword string, roomType types.RoomType, page, size int) (types.RoomPage, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	if roomType != "" {
		q.Set("type", string(roomType))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result types.RoomPage
	status, err := b.do(ctx, http.MethodGet, "/api/rooms/search", q, nil, &result)
	if err != nil {
		return types.RoomPage{}, NewFetchError("search rooms", status, err)
	}
	return result, nil
}

func (b *HTTPChatBackend) GetMessages(ctx context.Context, roomId string, page, size int) (types.MessagePage, error) {
	q := url.Values{}
	q.Set("room_id", roomId)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result types.MessagePage
	status, err := b.do(ctx, http.MethodGet, "/api/messages", q, nil, &result)
	if err != nil {
		return types.MessagePage{}, NewFetchError("get messages", status, err)
	}
	return result, nil
}

func (b *HTTPChatBackend) GetAllUnreadCounts(ctx context.Context) (map[string]int, error) {
	var result map[string]int
	status, err := b.do(ctx, http.MethodGet, "/api/messages/unread", nil, nil, &result)
	if err != nil {
		return nil, NewFetchError("unread counts", status, err)
	}
	return result, nil
}

func (b *HTTPChatBackend) MarkMessagesAsRead(ctx context.Context, roomId string) error {
	q := url.Values{}
	q.Set("room_id", roomId)
	status, err := b.do(ctx, http.MethodPost, "/api/messages/read", q, nil, nil)
	if err != nil {
		return NewActionError("mark read", status, err)
	}
	return nil
}

func (b *HTTPChatBackend) SendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	var confirmed types.Message
	status, err := b.do(ctx, http.MethodPost, "/api/messages", nil, msg, &confirmed)
	if err != nil {
		return types.Message{}, NewSendError("send message", status, err)
	}
	return confirmed, nil
}

func (b *HTTPChatBackend) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	var room types.Room
	status, err := b.do(ctx, http.MethodPost, "/api/rooms", nil, params, &room)
	if err != nil {
		return types.Room{}, NewActionError("create room", status, err)
	}
	return room, nil
}

func (b *HTTPChatBackend) JoinRoom(ctx context.Context, roomId string) error {
	status, err := b.do(ctx, http.MethodPost, "/api/rooms/"+roomId+"/join", nil, nil, nil)
	if err != nil {
		return NewActionError("join room", status, err)
	}
	return nil
}

func (b *HTTPChatBackend) LeaveRoom(ctx context.Context, roomId string) error {
	status, err := b.do(ctx, http.MethodPost, "/api/rooms/"+roomId+"/leave", nil, nil, nil)
	if err != nil {
		return NewActionError("leave room", status, err)
	}
	return nil
}

func (b *HTTPChatBackend) DeleteRoom(ctx context.Context, roomId string) error {
	status, err := b.do(ctx, http.MethodDelete, "/api/rooms/"+roomId, nil, nil, nil)
	if err != nil {
		return NewActionError("delete room", status, err)
	}
	return nil
}
