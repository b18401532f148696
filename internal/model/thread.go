package model

import "time"

type ThreadID string

type Thread struct {
	ID        ThreadID  `db:"ID"`
	CreatedAt time.Time `db:"CreatedAt"`
	Name      string    `db:"Name"` // blank for 1:1 chats
}

// ThreadSummary is a thread as returned by the thread list endpoint,
// decorated with per-viewer state.
type ThreadSummary struct {
	ID          ThreadID        `json:"id"`
	Name        string          `json:"name"`
	CreatedAt   time.Time       `json:"created_at"`
	Members     []PublicUser    `json:"members"`
	LastMessage *MessagePayload `json:"last_message"`
	UnreadCount int             `json:"unread_count"`
}
