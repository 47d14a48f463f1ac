package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/backend"
	"github.com/gitUserKHS/neighbortalk/internal/types"
)

// roomCollection is one independently paginated, recency-ordered room list.
type roomCollection struct {
	rooms      []types.Room
	page       int
	totalPages int
	hasMore    bool
	fetching   bool
	loaded     bool
}

func (c *roomCollection) reset() {
	*c = roomCollection{}
}

func (c *roomCollection) indexOf(roomId string) int {
	for i := range c.rooms {
		if c.rooms[i].Id == roomId {
			return i
		}
	}
	return -1
}

// appendPage folds a fetched page in, discarding rooms already held.
func (c *roomCollection) appendPage(page types.RoomPage) {
	for _, room := range page.Rooms {
		if c.indexOf(room.Id) >= 0 {
			continue
		}
		c.rooms = append(c.rooms, room)
	}
	c.page = page.Page
	c.totalPages = page.TotalPages
	c.hasMore = !page.Last
	c.loaded = true
}

// moveToFront reorders the room to index 0. Already-front rooms are left
// alone so no needless reflow is signalled.
func (c *roomCollection) moveToFront(roomId string) bool {
	i := c.indexOf(roomId)
	if i <= 0 {
		return false
	}
	room := c.rooms[i]
	c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
	c.rooms = append([]types.Room{room}, c.rooms...)
	return true
}

func (c *roomCollection) remove(roomId string) bool {
	i := c.indexOf(roomId)
	if i < 0 {
		return false
	}
	c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
	return true
}

// SearchQuery keys the search-mode collection.
type SearchQuery struct {
	Keyword string
	Type    types.RoomType
}

// RoomListStore holds the two parallel room collections: the normal
// recency-ordered list and the search-filtered list. The two are never
// merged; at most one is displayed at a time.
type RoomListStore struct {
	log      *log.Logger
	backend  backend.ChatBackend
	pageSize int

	mu          sync.Mutex
	currentUser types.User
	normal      roomCollection
	search      roomCollection
	searchMode  bool
	query       SearchQuery
	lastErr     error
}

func NewRoomListStore(logger *log.Logger, be backend.ChatBackend, pageSize int) *RoomListStore {
	return &RoomListStore{
		log:      logger,
		backend:  be,
		pageSize: pageSize,
	}
}

func (s *RoomListStore) SetCurrentUser(user types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = user
}

// Rooms returns a copy of the currently displayed collection.
func (s *RoomListStore) Rooms() []types.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.displayedLocked()
	out := make([]types.Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}

func (s *RoomListStore) displayedLocked() *roomCollection {
	if s.searchMode {
		return &s.search
	}
	return &s.normal
}

func (s *RoomListStore) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LoadFirstPage fetches page 0 of the displayed collection.
func (s *RoomListStore) LoadFirstPage(ctx context.Context) error {
	return s.loadPage(ctx, 0)
}

// LoadNextPage fetches the page after the highest one held. A no-op when
// the collection is exhausted or a fetch is already in flight.
func (s *RoomListStore) LoadNextPage(ctx context.Context) error {
	s.mu.Lock()
	c := s.displayedLocked()
	if !c.loaded || !c.hasMore || c.fetching {
		s.mu.Unlock()
		return nil
	}
	next := c.page + 1
	s.mu.Unlock()

	return s.loadPage(ctx, next)
}

func (s *RoomListStore) loadPage(ctx context.Context, page int) error {
	s.mu.Lock()
	c := s.displayedLocked()
	if c.fetching {
		s.mu.Unlock()
		return nil
	}
	c.fetching = true
	searchMode := s.searchMode
	query := s.query
	s.mu.Unlock()

	var result types.RoomPage
	var err error
	if searchMode {
		result, err = s.backend.SearchRooms(ctx, query.Keyword, query.Type, page, s.pageSize)
	} else {
		result, err = s.backend.ListRooms(ctx, page, s.pageSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// c is the collection that issued the fetch; its in-flight flag clears
	// no matter what came back
	c.fetching = false

	// the mode may have flipped while the fetch was in flight; a stale
	// response must not pollute the displayed collection
	if s.searchMode != searchMode || (searchMode && s.query != query) {
		return nil
	}

	if err != nil {
		s.lastErr = err
		return err
	}

	s.lastErr = nil
	c.appendPage(result)
	return nil
}

// EnterSearchMode freezes the normal list in place and activates an
// independent collection for the query. Re-entering with the same query
// keeps the already-fetched results.
func (s *RoomListStore) EnterSearchMode(query SearchQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.searchMode && s.query == query {
		return
	}
	s.searchMode = true
	s.query = query
	s.search.reset()
}

// ExitSearchMode restores the normal list without re-fetching it.
func (s *RoomListStore) ExitSearchMode() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.searchMode = false
	s.query = SearchQuery{}
	s.search.reset()
}

func (s *RoomListStore) InSearchMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchMode
}

// ApplyIncomingMessageSummary updates a room's preview fields from a live
// message and moves it to the front, in whichever collection holds it.
func (s *RoomListStore) ApplyIncomingMessageSummary(roomId, lastMessage, senderName string, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range []*roomCollection{&s.normal, &s.search} {
		i := c.indexOf(roomId)
		if i < 0 {
			continue
		}
		c.rooms[i].LastMessage = lastMessage
		c.rooms[i].LastSenderName = senderName
		c.rooms[i].LastMessageTime = timestamp
		c.moveToFront(roomId)
	}
}

// SetUnreadCount updates a room's badge in both collections.
func (s *RoomListStore) SetUnreadCount(roomId string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count < 0 {
		count = 0
	}
	for _, c := range []*roomCollection{&s.normal, &s.search} {
		if i := c.indexOf(roomId); i >= 0 {
			c.rooms[i].UnreadCount = count
		}
	}
}

// TotalUnread sums the badges of the normal collection.
func (s *RoomListStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for i := range s.normal.rooms {
		total += s.normal.rooms[i].UnreadCount
	}
	return total
}

// Room returns the room by id from whichever collection holds it.
func (s *RoomListStore) Room(roomId string) (types.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range []*roomCollection{&s.normal, &s.search} {
		if i := c.indexOf(roomId); i >= 0 {
			return c.rooms[i], true
		}
	}
	return types.Room{}, false
}

// CreateRoom asks the backend for a new room and inserts it at the front of
// the normal list once confirmed.
func (s *RoomListStore) CreateRoom(ctx context.Context, params backend.CreateRoomParams) (types.Room, error) {
	room, err := s.backend.CreateRoom(ctx, params)
	if err != nil {
		return types.Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.normal.indexOf(room.Id) < 0 {
		s.normal.rooms = append([]types.Room{room}, s.normal.rooms...)
	}
	return room, nil
}

// JoinRoom joins on the backend, then records the membership locally. No
// local mutation happens before the backend confirms.
func (s *RoomListStore) JoinRoom(ctx context.Context, roomId string) error {
	if err := s.backend.JoinRoom(ctx, roomId); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range []*roomCollection{&s.normal, &s.search} {
		i := c.indexOf(roomId)
		if i < 0 {
			continue
		}
		room := &c.rooms[i]
		if !room.HasParticipant(s.currentUser.Id) {
			room.ParticipantIds = append(room.ParticipantIds, s.currentUser.Id)
			room.ParticipantCount++
		}
	}
	return nil
}

// LeaveRoom leaves on the backend, then removes the room locally.
func (s *RoomListStore) LeaveRoom(ctx context.Context, roomId string) error {
	if err := s.backend.LeaveRoom(ctx, roomId); err != nil {
		return err
	}
	s.RemoveRoom(roomId)
	return nil
}

// DeleteRoom deletes on the backend, then removes the room locally.
func (s *RoomListStore) DeleteRoom(ctx context.Context, roomId string) error {
	if err := s.backend.DeleteRoom(ctx, roomId); err != nil {
		return err
	}
	s.RemoveRoom(roomId)
	return nil
}

// RemoveRoom drops the room from both collections, used for local removal
// and for server-signalled deletions.
func (s *RoomListStore) RemoveRoom(roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.normal.remove(roomId)
	s.search.remove(roomId)
}

// Reset clears both collections, used on sign-out.
func (s *RoomListStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.normal.reset()
	s.search.reset()
	s.searchMode = false
	s.query = SearchQuery{}
	s.lastErr = nil
	s.currentUser = types.User{}
}

// Joinable reports whether the current user can join: not a participant and
// not the creator.
func (s *RoomListStore) Joinable(room types.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return room.CreatorId != s.currentUser.Id && !room.HasParticipant(s.currentUser.Id)
}

// Leavable reports whether the current user can leave: a participant who is
// not the creator.
func (s *RoomListStore) Leavable(room types.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return room.CreatorId != s.currentUser.Id && room.HasParticipant(s.currentUser.Id)
}

// Deletable reports whether the current user created the room.
func (s *RoomListStore) Deletable(room types.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return room.CreatorId == s.currentUser.Id
}
