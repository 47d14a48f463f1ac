package notify

import (
	"log"
	"sync"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/stats"
	"github.com/gitUserKHS/neighbortalk/internal/transport"
	"github.com/gitUserKHS/neighbortalk/internal/types"
	"github.com/google/uuid"
)

// Router is the single-slot notification queue plus the match-offer
// lifecycle. At most one notification is current at a time; arrivals queue
// FIFO and an item leaves the queue the instant it becomes current, so a
// producer mutating the queue afterwards can never re-deliver it.
//
// Router is the transport's sink: every live frame not bound to a room
// subscription lands here and is fanned out through the registered hooks.
type Router struct {
	log   *log.Logger
	stats stats.StatsProvider

	mu        sync.Mutex
	queue     []types.Notification
	current   *types.Notification
	timer     *time.Timer
	offer     *types.MatchOffer
	observers map[int]func(*types.Notification)
	obSeq     int

	// hooks for frames that belong to other stores
	onRoomMessage    func(types.Message)
	onReadReceipt    func(transport.ReadReceipt)
	onRoomDeleted    func(roomId string)
	onOfflineSummary func(map[string]int)
}

func NewRouter(logger *log.Logger, sp stats.StatsProvider) *Router {
	return &Router{
		log:       logger,
		stats:     sp,
		observers: make(map[int]func(*types.Notification)),
	}
}

func (r *Router) OnRoomMessage(fn func(types.Message)) {
	r.mu.Lock()
	r.onRoomMessage = fn
	r.mu.Unlock()
}

func (r *Router) OnReadReceipt(fn func(transport.ReadReceipt)) {
	r.mu.Lock()
	r.onReadReceipt = fn
	r.mu.Unlock()
}

func (r *Router) OnRoomDeleted(fn func(roomId string)) {
	r.mu.Lock()
	r.onRoomDeleted = fn
	r.mu.Unlock()
}

func (r *Router) OnOfflineSummary(fn func(counts map[string]int)) {
	r.mu.Lock()
	r.onOfflineSummary = fn
	r.mu.Unlock()
}

// OnCurrentChanged registers an observer of the current slot; it fires with
// nil when the slot empties. The returned disposer is idempotent.
func (r *Router) OnCurrentChanged(fn func(*types.Notification)) func() {
	r.mu.Lock()
	r.obSeq++
	id := r.obSeq
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// HandleFrame implements transport.FrameSink.
func (r *Router) HandleFrame(frame *transport.ServerFrame) {
	switch {
	case frame.Notice != nil:
		n := frame.Notice
		r.Enqueue(types.Notification{
			Severity:       n.Severity,
			Message:        n.Message,
			NavigateTarget: n.NavigateTarget,
			DisplayMs:      n.DisplayMs,
		})
	case frame.OfflineSummary != nil:
		r.handleOfflineSummary(frame.OfflineSummary)
	case frame.MatchEvent != nil:
		r.ApplyMatchEvent(frame.MatchEvent.Offer)
	case frame.Message != nil:
		r.mu.Lock()
		fn := r.onRoomMessage
		r.mu.Unlock()
		if fn != nil {
			fn(*frame.Message)
		}
	case frame.ReadReceipt != nil:
		r.mu.Lock()
		fn := r.onReadReceipt
		r.mu.Unlock()
		if fn != nil {
			fn(*frame.ReadReceipt)
		}
	case frame.RoomDeleted != nil:
		r.mu.Lock()
		fn := r.onRoomDeleted
		r.mu.Unlock()
		if fn != nil {
			fn(frame.RoomDeleted.RoomId)
		}
	default:
		r.log.Println("unroutable frame")
	}
}

func (r *Router) handleOfflineSummary(summary *transport.OfflineSummary) {
	r.mu.Lock()
	fn := r.onOfflineSummary
	r.mu.Unlock()
	if fn != nil {
		fn(summary.UnreadCounts)
	}

	if summary.Total > 0 {
		r.Enqueue(types.Notification{
			Severity:  types.SeverityInfo,
			Message:   "You have unread messages",
			DisplayMs: 5000,
		})
	}
}

// Enqueue adds a notification. It becomes current immediately when nothing
// is showing.
func (r *Router) Enqueue(n types.Notification) {
	if n.Id == "" {
		n.Id = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	r.queue = append(r.queue, n)
	if r.stats != nil {
		r.stats.Incr("Notifications")
	}
	next, obs := r.advanceLocked()
	r.mu.Unlock()

	for _, fn := range obs {
		fn(next)
	}
}

// Current returns a copy of the showing notification, if any.
func (r *Router) Current() (types.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return types.Notification{}, false
	}
	return *r.current, true
}

// QueueLen reports how many notifications wait behind the current one.
func (r *Router) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dismiss clears the current slot, letting the next queued item surface.
// Timeout, explicit close and click-to-navigate all end up here.
func (r *Router) Dismiss() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.current = nil
	next, obs := r.advanceLocked()
	r.mu.Unlock()

	for _, fn := range obs {
		fn(next)
	}
}

// advanceLocked pops the head of the queue into the freed slot. The popped
// item is removed from the queue at that moment. Returns the surfaced
// notification and a snapshot of the observers; the caller unlocks and
// invokes them outside the lock.
func (r *Router) advanceLocked() (*types.Notification, []func(*types.Notification)) {
	if r.current != nil || len(r.queue) == 0 {
		return nil, nil
	}

	next := r.queue[0]
	r.queue = r.queue[1:]
	r.current = &next

	id := next.Id
	if next.DisplayMs > 0 {
		r.timer = time.AfterFunc(time.Duration(next.DisplayMs)*time.Millisecond, func() {
			r.dismissIf(id)
		})
	}

	obs := make([]func(*types.Notification), 0, len(r.observers))
	for _, fn := range r.observers {
		obs = append(obs, fn)
	}
	return &next, obs
}

// dismissIf dismisses only when the given notification is still current, so
// a stale display timer cannot clear its successor.
func (r *Router) dismissIf(id string) {
	r.mu.Lock()
	if r.current == nil || r.current.Id != id {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.current = nil
	next, obs := r.advanceLocked()
	r.mu.Unlock()

	for _, fn := range obs {
		fn(next)
	}
}

// PendingOffer returns the match offer awaiting a decision, if any.
func (r *Router) PendingOffer() (types.MatchOffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.offer == nil {
		return types.MatchOffer{}, false
	}
	return *r.offer, true
}

// ApplyMatchEvent advances the match-offer lifecycle:
// offered -> accepted-pending | rejected (terminal) -> room-ready (terminal).
// Terminal transitions clear the pending offer and route a notification.
func (r *Router) ApplyMatchEvent(offer types.MatchOffer) {
	switch offer.State {
	case types.MatchOffered, types.MatchAcceptedPending:
		r.mu.Lock()
		r.offer = &offer
		r.mu.Unlock()
	case types.MatchRejected:
		r.mu.Lock()
		r.offer = nil
		r.mu.Unlock()
		r.Enqueue(types.Notification{
			Severity:  types.SeverityInfo,
			Message:   "Match request from " + offer.FromName + " was declined",
			DisplayMs: 5000,
		})
	case types.MatchRoomReady:
		r.mu.Lock()
		r.offer = nil
		r.mu.Unlock()
		r.Enqueue(types.Notification{
			Severity:       types.SeverityInfo,
			Message:        "You were matched with " + offer.FromName,
			NavigateTarget: "/chat/" + offer.RoomId,
			DisplayMs:      8000,
		})
	default:
		r.log.Printf("unknown match offer state %q", offer.State)
	}
}

// Reset drops all pending state, used on sign-out.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.queue = nil
	r.current = nil
	r.offer = nil
}
