package types

import (
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
	MessageTypeEnter  MessageType = "ENTER"
	MessageTypeLeave  MessageType = "LEAVE"
)

type RoomType string

const (
	RoomTypeOneOnOne RoomType = "ONE_ON_ONE"
	RoomTypeGroup    RoomType = "GROUP"
)

type User struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id          string      `json:"id"`
	RoomId      string      `json:"room_id"`
	SenderId    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
	IsRead      bool        `json:"is_read"`
	ReadByUsers []string    `json:"read_by_users,omitempty"`
	IsDeleted   bool        `json:"is_deleted,omitempty"`
}

// ReadBy reports whether userId is recorded in the message's read set.
func (m *Message) ReadBy(userId string) bool {
	for _, id := range m.ReadByUsers {
		if id == userId {
			return true
		}
	}
	return false
}

type Room struct {
	Id               string    `json:"id"`
	RoomName         string    `json:"room_name"`
	Type             RoomType  `json:"type"`
	CreatorId        string    `json:"creator_id"`
	ParticipantIds   []string  `json:"participant_ids"`
	LastMessage      string    `json:"last_message,omitempty"`
	LastMessageTime  time.Time `json:"last_message_time,omitempty"`
	LastSenderName   string    `json:"last_sender_name,omitempty"`
	ParticipantCount int       `json:"participant_count"`
	UnreadCount      int       `json:"unread_count"`
}

// HasParticipant reports whether userId is in the room's participant set.
func (r *Room) HasParticipant(userId string) bool {
	for _, id := range r.ParticipantIds {
		if id == userId {
			return true
		}
	}
	return false
}

// MessagePage is one page of message history. Pages are numbered from the
// newest messages backward: page 0 holds the most recent messages, and the
// entries within a page arrive newest-first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
	Last       bool      `json:"last"`
}

type RoomPage struct {
	Rooms      []Room `json:"rooms"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
	Last       bool   `json:"last"`
}

type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "info"
	SeverityWarning NotificationSeverity = "warning"
	SeverityError   NotificationSeverity = "error"
)

type Notification struct {
	Id             string               `json:"id"`
	Severity       NotificationSeverity `json:"severity"`
	Message        string               `json:"message"`
	NavigateTarget string               `json:"navigate_target,omitempty"`
	DisplayMs      int                  `json:"display_ms,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type MatchOfferState string

const (
	MatchOffered         MatchOfferState = "offered"
	MatchAcceptedPending MatchOfferState = "accepted-pending"
	MatchRejected        MatchOfferState = "rejected"
	MatchRoomReady       MatchOfferState = "room-ready"
)

type MatchOffer struct {
	Id         string          `json:"id"`
	FromUserId string          `json:"from_user_id"`
	FromName   string          `json:"from_name"`
	Message    string          `json:"message,omitempty"`
	State      MatchOfferState `json:"state"`
	RoomId     string          `json:"room_id,omitempty"`
	OfferedAt  time.Time       `json:"offered_at"`
}
