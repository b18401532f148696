package hub

import (
	"sync"

	"github.com/pingme/pingme-server/internal/model"
)

const sendQueueSize = 64

// Subscriber is one live connection's inbox in a thread group. Events
// are enqueued in FIFO order onto a buffered channel that the owning
// session drains; a full queue drops the event rather than block the
// broadcaster (ephemeral events are best-effort, receipts survive via
// the idempotent ledger marks).
type Subscriber struct {
	userID model.UserID

	mu     sync.Mutex
	events chan model.Event
	closed bool
}

func NewSubscriber(userID model.UserID) *Subscriber {
	return &Subscriber{
		userID: userID,
		events: make(chan model.Event, sendQueueSize),
	}
}

func (s *Subscriber) UserID() model.UserID {
	return s.userID
}

// Events is drained by the session's write loop. The channel closes
// when the subscriber leaves its group.
func (s *Subscriber) Events() <-chan model.Event {
	return s.events
}

// Enqueue delivers an event to this subscriber without blocking.
// Returns false if the event was dropped or the subscriber has
// already left its group; broadcasts race leaves, so a send after
// close must be a no-op rather than a panic.
func (s *Subscriber) Enqueue(ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Registry owns the per-thread sets of live subscribers. Join, leave
// and broadcast are safe under concurrent calls from many sessions;
// broadcast iterates a snapshot taken under the lock and enqueues
// outside it, so sends on thread A never block operations on thread B.
type Registry struct {
	mu     sync.RWMutex
	groups map[model.ThreadID]map[*Subscriber]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[model.ThreadID]map[*Subscriber]struct{}),
	}
}

func (r *Registry) Join(threadID model.ThreadID, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[threadID]
	if !ok {
		group = make(map[*Subscriber]struct{})
		r.groups[threadID] = group
	}
	group[sub] = struct{}{}
}

// Leave is idempotent; leaving a group the subscriber never joined is
// a no-op. The last leave removes the empty group.
func (r *Registry) Leave(threadID model.ThreadID, sub *Subscriber) {
	r.mu.Lock()
	group, ok := r.groups[threadID]
	if ok {
		delete(group, sub)
		if len(group) == 0 {
			delete(r.groups, threadID)
		}
	}
	r.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Broadcast fans the event out to every subscriber in the thread's
// group. A thread with no live subscribers is a valid no-op.
func (r *Registry) Broadcast(threadID model.ThreadID, ev model.Event) int {
	return r.broadcast(threadID, ev, "")
}

// BroadcastExcept fans the event out to every subscriber except those
// belonging to the excluded identity (all of that user's connections).
func (r *Registry) BroadcastExcept(threadID model.ThreadID, ev model.Event, except model.UserID) int {
	return r.broadcast(threadID, ev, except)
}

func (r *Registry) broadcast(threadID model.ThreadID, ev model.Event, except model.UserID) int {
	r.mu.RLock()
	group := r.groups[threadID]
	snapshot := make([]*Subscriber, 0, len(group))
	for sub := range group {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	sent := 0
	for _, sub := range snapshot {
		if except != "" && sub.userID == except {
			continue
		}
		if sub.Enqueue(ev) {
			sent++
		}
	}
	return sent
}

// Count reports the number of live subscribers for a thread.
func (r *Registry) Count(threadID model.ThreadID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[threadID])
}
