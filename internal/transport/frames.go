package transport

import (
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/types"
)

type BaseFrame struct {
	Id        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientFrame is the union of everything the engine publishes on the live
// channel. Exactly one of the pointer fields is set.
type ClientFrame struct {
	BaseFrame
	Subscribe   *Subscribe     `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe   `json:"unsubscribe,omitempty"`
	Send        *types.Message `json:"send,omitempty"`
	MarkRead    *MarkRead      `json:"mark_read,omitempty"`
	Join        *Join          `json:"join,omitempty"`
}

type Subscribe struct {
	RoomId string `json:"room_id"`
}

type Unsubscribe struct {
	RoomId string `json:"room_id"`
}

type MarkRead struct {
	RoomId string `json:"room_id"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

// ServerFrame is the union of everything the live channel can deliver.
type ServerFrame struct {
	BaseFrame
	Message        *types.Message  `json:"message,omitempty"`
	ReadReceipt    *ReadReceipt    `json:"read_receipt,omitempty"`
	RoomDeleted    *RoomDeleted    `json:"room_deleted,omitempty"`
	Notice         *Notice         `json:"notice,omitempty"`
	OfflineSummary *OfflineSummary `json:"offline_summary,omitempty"`
	MatchEvent     *MatchEvent     `json:"match_event,omitempty"`
}

// RoomId returns the room the frame is scoped to, or "" for global frames.
func (f *ServerFrame) RoomId() string {
	switch {
	case f.Message != nil:
		return f.Message.RoomId
	case f.ReadReceipt != nil:
		return f.ReadReceipt.RoomId
	case f.RoomDeleted != nil:
		return f.RoomDeleted.RoomId
	}
	return ""
}

type ReadReceipt struct {
	RoomId     string   `json:"room_id"`
	UserId     string   `json:"user_id"`
	MessageIds []string `json:"message_ids,omitempty"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type Notice struct {
	Severity       types.NotificationSeverity `json:"severity"`
	Message        string                     `json:"message"`
	NavigateTarget string                     `json:"navigate_target,omitempty"`
	DisplayMs      int                        `json:"display_ms,omitempty"`
}

// OfflineSummary is delivered once after connect and rolls up per-room
// unread counts accumulated while the client was offline.
type OfflineSummary struct {
	UnreadCounts map[string]int `json:"unread_counts"`
	Total        int            `json:"total"`
}

type MatchEvent struct {
	Offer types.MatchOffer `json:"offer"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
