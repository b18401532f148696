package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/pingme/pingme-server/internal/model"
)

type Store interface {
	SetUserPresence(id model.UserID, online bool, lastSeen time.Time) error
}

type entry struct {
	connections int
	lastSeen    time.Time
}

// Tracker is the process-wide presence map. Presence is counted per
// connection: a user with two devices stays online until the last
// connection closes. The durable flag on the user row is written on
// every transition.
type Tracker struct {
	mu      sync.RWMutex
	entries map[model.UserID]*entry
	store   Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		entries: make(map[model.UserID]*entry),
		store:   store,
	}
}

// Connected records a new live connection for the user. Returns true
// when this connection took the user from offline to online.
func (t *Tracker) Connected(userID model.UserID) (bool, error) {
	now := time.Now().UTC()

	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok {
		e = &entry{}
		t.entries[userID] = e
	}
	e.connections++
	e.lastSeen = now
	wentOnline := e.connections == 1
	t.mu.Unlock()

	if err := t.store.SetUserPresence(userID, true, now); err != nil {
		return wentOnline, fmt.Errorf("persisting online flag: %w", err)
	}
	return wentOnline, nil
}

// Disconnected records a closed connection. Returns true when this was
// the user's last live connection, i.e. the user is now offline.
func (t *Tracker) Disconnected(userID model.UserID) (bool, error) {
	now := time.Now().UTC()

	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok {
		t.mu.Unlock()
		return false, nil
	}
	if e.connections > 0 {
		e.connections--
	}
	e.lastSeen = now
	wentOffline := e.connections == 0
	if wentOffline {
		delete(t.entries, userID)
	}
	t.mu.Unlock()

	if !wentOffline {
		return false, nil
	}
	if err := t.store.SetUserPresence(userID, false, now); err != nil {
		return true, fmt.Errorf("persisting offline flag: %w", err)
	}
	return true, nil
}

func (t *Tracker) IsOnline(userID model.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	return ok && e.connections > 0
}

func (t *Tracker) LastSeen(userID model.UserID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}
