package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/backend"
	"github.com/gitUserKHS/neighbortalk/internal/stats"
	"github.com/gitUserKHS/neighbortalk/internal/transport"
	"github.com/gitUserKHS/neighbortalk/internal/types"
)

// LivePublisher is the slice of the transport manager the store needs for
// the live mark-as-read path.
type LivePublisher interface {
	Publish(*transport.ClientFrame) error
}

// RoomLog is one room's reconciled message view. Messages is always sorted
// oldest to newest by CreatedAt and holds no duplicate ids. Loaded is set
// once page 0 has actually merged; until then older-page fetches are held
// off and the initial load may be retried.
type RoomLog struct {
	Messages      []types.Message
	CurrentPage   int
	TotalPages    int
	HasMoreOlder  bool
	FetchingOlder bool
	InitialLoad   bool
	Loaded        bool
	LastErr       error
}

// MessageStore reconciles paged history fetches with live pushes into
// per-room ordered, de-duplicated, read-state-aware logs, and owns the
// per-room unread counters.
type MessageStore struct {
	log      *log.Logger
	backend  backend.ChatBackend
	live     LivePublisher
	stats    stats.StatsProvider
	pageSize int

	mu          sync.Mutex
	currentUser types.User
	openRoomId  string
	logs        map[string]*RoomLog
	unread      map[string]int
	drafts      map[string]string

	// onUnreadChanged fires after any counter change, outside merge logic,
	// so the room list can keep its badges in step.
	onUnreadChanged func(roomId string, count int)
}

func NewMessageStore(logger *log.Logger, be backend.ChatBackend, live LivePublisher, sp stats.StatsProvider, pageSize int) *MessageStore {
	return &MessageStore{
		log:      logger,
		backend:  be,
		live:     live,
		stats:    sp,
		pageSize: pageSize,
		logs:     make(map[string]*RoomLog),
		unread:   make(map[string]int),
		drafts:   make(map[string]string),
	}
}

// OnUnreadChanged registers the single badge observer.
func (s *MessageStore) OnUnreadChanged(fn func(roomId string, count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnreadChanged = fn
}

func (s *MessageStore) SetCurrentUser(user types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = user
}

// SetOpenRoom marks the room the user is actively viewing. Empty means no
// room is open.
func (s *MessageStore) SetOpenRoom(roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openRoomId = roomId
}

func (s *MessageStore) OpenRoomId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openRoomId
}

// Snapshot returns a copy of the room's log for read-only consumption, and
// false if the room log does not exist.
func (s *MessageStore) Snapshot(roomId string) (RoomLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[roomId]
	if !ok {
		return RoomLog{}, false
	}
	cp := *l
	cp.Messages = make([]types.Message, len(l.Messages))
	copy(cp.Messages, l.Messages)
	return cp, true
}

// LoadInitial fetches page 0 (the newest messages) for a room. A room whose
// page 0 already merged is a no-op; a room whose initial fetch failed is
// retried.
func (s *MessageStore) LoadInitial(ctx context.Context, roomId string) error {
	s.mu.Lock()
	l, ok := s.logs[roomId]
	if ok && (l.Loaded || l.InitialLoad) {
		s.mu.Unlock()
		return nil
	}
	if !ok {
		l = &RoomLog{HasMoreOlder: true}
		s.logs[roomId] = l
	}
	l.InitialLoad = true
	s.mu.Unlock()

	page, err := s.backend.GetMessages(ctx, roomId, 0, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	// the room may have been removed while the fetch was in flight
	if cur, ok := s.logs[roomId]; !ok || cur != l {
		return nil
	}

	l.InitialLoad = false
	if err != nil {
		l.LastErr = err
		return err
	}

	l.LastErr = nil
	s.mergeOlderLocked(l, page)
	l.Loaded = true
	return nil
}

// LoadOlder fetches the next older history page. Only one older-page fetch
// per room may be in flight; a second trigger while one is pending is
// dropped. Exhausted history is a no-op.
func (s *MessageStore) LoadOlder(ctx context.Context, roomId string) error {
	s.mu.Lock()
	l, ok := s.logs[roomId]
	if !ok || !l.Loaded || l.FetchingOlder || !l.HasMoreOlder {
		s.mu.Unlock()
		return nil
	}
	l.FetchingOlder = true
	next := l.CurrentPage + 1
	s.mu.Unlock()

	page, err := s.backend.GetMessages(ctx, roomId, next, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.logs[roomId]; !ok || cur != l {
		return nil
	}

	l.FetchingOlder = false
	if err != nil {
		l.LastErr = err
		return err
	}

	l.LastErr = nil
	s.mergeOlderLocked(l, page)
	return nil
}

// mergeOlderLocked folds one history page into the log. Pages arrive
// newest-first and are reversed before the merge; entries already present
// by id are discarded, so replaying the same page leaves the log unchanged.
func (s *MessageStore) mergeOlderLocked(l *RoomLog, page types.MessagePage) {
	existing := make(map[string]struct{}, len(l.Messages))
	for _, m := range l.Messages {
		existing[m.Id] = struct{}{}
	}

	var older []types.Message
	for i := len(page.Messages) - 1; i >= 0; i-- {
		m := page.Messages[i]
		if _, ok := existing[m.Id]; ok {
			continue
		}
		existing[m.Id] = struct{}{}
		older = append(older, m)
	}

	l.Messages = append(older, l.Messages...)
	sortByCreatedAt(l.Messages)

	l.CurrentPage = page.Page
	l.TotalPages = page.TotalPages
	l.HasMoreOlder = !page.Last

	if s.stats != nil {
		s.stats.Incr("PageMerges")
	}
}

// ApplyLive merges one live-delivered message. Duplicates by id are
// discarded; otherwise the message is appended and the unread counter is
// bumped unless the room is open, the sender is the current user, or the
// message already carries the current user's read mark.
func (s *MessageStore) ApplyLive(msg types.Message) {
	s.mu.Lock()

	if msg.SenderId == s.currentUser.Id || msg.ReadBy(s.currentUser.Id) {
		msg.IsRead = true
	}

	if l, ok := s.logs[msg.RoomId]; ok {
		for _, m := range l.Messages {
			if m.Id == msg.Id {
				s.mu.Unlock()
				return
			}
		}

		l.Messages = append(l.Messages, msg)
		// live arrival order is not trusted; CreatedAt is the ordering key
		if n := len(l.Messages); n > 1 && l.Messages[n-1].CreatedAt.Before(l.Messages[n-2].CreatedAt) {
			sortByCreatedAt(l.Messages)
		}
	}

	var notify func(string, int)
	var count int
	if msg.RoomId != s.openRoomId && msg.SenderId != s.currentUser.Id && !msg.IsRead {
		s.unread[msg.RoomId]++
		count = s.unread[msg.RoomId]
		notify = s.onUnreadChanged
	}
	s.mu.Unlock()

	if notify != nil {
		notify(msg.RoomId, count)
	}
}

// Send appends a provisional message immediately and issues the confirmed
// send request. The response message replaces the provisional entry in
// place by its local id; on failure the provisional entry stays visible,
// the error is recorded and the draft is restored for retry.
func (s *MessageStore) Send(ctx context.Context, roomId, content string) error {
	s.mu.Lock()
	user := s.currentUser
	provisional := types.Message{
		Id:          fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), user.Id),
		RoomId:      roomId,
		SenderId:    user.Id,
		SenderName:  user.Username,
		Content:     content,
		Type:        types.MessageTypeText,
		CreatedAt:   time.Now().UTC(),
		IsRead:      true,
		ReadByUsers: []string{user.Id},
	}

	l, ok := s.logs[roomId]
	if ok {
		l.Messages = append(l.Messages, provisional)
	}
	delete(s.drafts, roomId)
	s.mu.Unlock()

	confirmed, err := s.backend.SendMessage(ctx, provisional)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.logs[roomId]
	if !ok || cur != l {
		return err
	}

	if err != nil {
		l.LastErr = err
		s.drafts[roomId] = content
		return err
	}

	l.LastErr = nil
	s.reconcileProvisionalLocked(l, provisional.Id, confirmed)
	return nil
}

// reconcileProvisionalLocked swaps the provisional entry for the confirmed
// one. If the confirmed message already arrived on the live channel the
// provisional entry is dropped instead of duplicated.
func (s *MessageStore) reconcileProvisionalLocked(l *RoomLog, localId string, confirmed types.Message) {
	confirmedIdx := -1
	localIdx := -1
	for i, m := range l.Messages {
		switch m.Id {
		case confirmed.Id:
			confirmedIdx = i
		case localId:
			localIdx = i
		}
	}

	switch {
	case localIdx >= 0 && confirmedIdx >= 0:
		l.Messages = append(l.Messages[:localIdx], l.Messages[localIdx+1:]...)
	case localIdx >= 0:
		confirmed.IsRead = true
		l.Messages[localIdx] = confirmed
		sortByCreatedAt(l.Messages)
	}
}

// Draft returns the restored input text for a room after a failed send.
func (s *MessageStore) Draft(roomId string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[roomId]
}

// MarkAllRead optimistically flips every loaded message in the room to read
// and zeroes the counter, then tells the backend: over the live channel when
// connected, through the request path otherwise. Delivery failures are
// logged and not rolled back; the next room open retries.
func (s *MessageStore) MarkAllRead(ctx context.Context, roomId string) {
	s.mu.Lock()
	userId := s.currentUser.Id
	if l, ok := s.logs[roomId]; ok {
		for i := range l.Messages {
			if !l.Messages[i].IsRead {
				l.Messages[i].IsRead = true
			}
			if !l.Messages[i].ReadBy(userId) {
				l.Messages[i].ReadByUsers = append(l.Messages[i].ReadByUsers, userId)
			}
		}
	}
	s.unread[roomId] = 0
	notify := s.onUnreadChanged
	s.mu.Unlock()

	if notify != nil {
		notify(roomId, 0)
	}

	var err error
	if s.live != nil {
		err = s.live.Publish(&transport.ClientFrame{MarkRead: &transport.MarkRead{RoomId: roomId}})
	} else {
		err = transport.ErrNotConnected
	}
	if err != nil {
		if err = s.backend.MarkMessagesAsRead(ctx, roomId); err != nil {
			s.log.Printf("mark read %q: %v", roomId, err)
		}
	}
}

// ApplyReadReceipt records individually confirmed reads. Receipts for the
// current user decrement that room's counter, never below zero.
func (s *MessageStore) ApplyReadReceipt(rr transport.ReadReceipt) {
	s.mu.Lock()

	ids := make(map[string]struct{}, len(rr.MessageIds))
	for _, id := range rr.MessageIds {
		ids[id] = struct{}{}
	}

	confirmed := 0
	if l, ok := s.logs[rr.RoomId]; ok {
		for i := range l.Messages {
			m := &l.Messages[i]
			if _, ok := ids[m.Id]; !ok {
				continue
			}
			if !m.ReadBy(rr.UserId) {
				m.ReadByUsers = append(m.ReadByUsers, rr.UserId)
			}
			if rr.UserId == s.currentUser.Id && !m.IsRead {
				m.IsRead = true
				confirmed++
			}
		}
	}

	var notify func(string, int)
	var count int
	if confirmed > 0 && s.unread[rr.RoomId] > 0 {
		s.unread[rr.RoomId] -= confirmed
		if s.unread[rr.RoomId] < 0 {
			s.unread[rr.RoomId] = 0
		}
		count = s.unread[rr.RoomId]
		notify = s.onUnreadChanged
	}
	s.mu.Unlock()

	if notify != nil {
		notify(rr.RoomId, count)
	}
}

// LoadUnreadCounts replaces the counters with the backend's authoritative
// per-room counts.
func (s *MessageStore) LoadUnreadCounts(ctx context.Context) error {
	counts, err := s.backend.GetAllUnreadCounts(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.unread = make(map[string]int, len(counts))
	for roomId, n := range counts {
		if n < 0 {
			n = 0
		}
		s.unread[roomId] = n
	}
	notify := s.onUnreadChanged
	s.mu.Unlock()

	if notify != nil {
		for roomId, n := range counts {
			notify(roomId, n)
		}
	}
	return nil
}

func (s *MessageStore) UnreadCount(roomId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[roomId]
}

func (s *MessageStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

// RemoveRoom drops the room's log, draft and counter. Late fetch responses
// for a removed room become no-ops.
func (s *MessageStore) RemoveRoom(roomId string) {
	s.mu.Lock()
	delete(s.logs, roomId)
	delete(s.drafts, roomId)
	_, hadUnread := s.unread[roomId]
	delete(s.unread, roomId)
	if s.openRoomId == roomId {
		s.openRoomId = ""
	}
	notify := s.onUnreadChanged
	s.mu.Unlock()

	if hadUnread && notify != nil {
		notify(roomId, 0)
	}
}

// Reset drops every log, draft and counter. Used on sign-out so nothing
// cached for one identity can surface for the next.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openRoomId = ""
	s.logs = make(map[string]*RoomLog)
	s.unread = make(map[string]int)
	s.drafts = make(map[string]string)
}

func sortByCreatedAt(msgs []types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// StickToBottom decides whether the view should follow the newest message:
// on initial load, when already reading near the bottom, or when the newest
// message is self-authored. A reader scrolled up into history is never
// yanked back down by someone else's message.
func StickToBottom(initialLoad, nearBottom, selfAuthored bool) bool {
	return initialLoad || nearBottom || selfAuthored
}
