package backend

import (
	"context"

	"github.com/gitUserKHS/neighbortalk/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatBackend struct {
	mock.Mock
}

func (m *MockChatBackend) CurrentUser(ctx context.Context) (types.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockChatBackend) ListRooms(ctx context.Context, page, size int) (types.RoomPage, error) {
	args := m.Called(ctx, page, size)
	return args.Get(0).(types.RoomPage), args.Error(1)
}

func (m *MockChatBackend) SearchRooms(ctx context.Context, keyword string, roomType types.RoomType, page, size int) (types.RoomPage, error) {
	args := m.Called(ctx, keyword, roomType, page, size)
	return args.Get(0).(types.RoomPage), args.Error(1)
}

func (m *MockChatBackend) GetMessages(ctx context.Context, roomId string, page, size int) (types.MessagePage, error) {
	args := m.Called(ctx, roomId, page, size)
	return args.Get(0).(types.MessagePage), args.Error(1)
}

func (m *MockChatBackend) GetAllUnreadCounts(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if counts, ok := args.Get(0).(map[string]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatBackend) MarkMessagesAsRead(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockChatBackend) SendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockChatBackend) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockChatBackend) JoinRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockChatBackend) LeaveRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockChatBackend) DeleteRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
