package testutil

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/types"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// TestMessage builds a message with a deterministic CreatedAt derived from
// its numeric position, so ordering assertions stay readable.
func TestMessage(id, roomId, senderId string, offset int) types.Message {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return types.Message{
		Id:         id,
		RoomId:     roomId,
		SenderId:   senderId,
		SenderName: "user-" + senderId,
		Content:    "message " + id,
		Type:       types.MessageTypeText,
		CreatedAt:  base.Add(time.Duration(offset) * time.Second),
	}
}
