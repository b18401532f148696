package model

import "time"

type MessageID string

// DeliveryStatus is the sender-facing rollup of a message's delivery
// state. It only moves forward: sent -> delivered -> read.
type DeliveryStatus string

const (
	DeliveryStatusNone      DeliveryStatus = ""
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
)

type Message struct {
	ID         MessageID `db:"ID"`
	ThreadID   ThreadID  `db:"ThreadID"`
	SenderID   UserID    `db:"SenderID"`
	Text       string    `db:"Text"`
	Attachment string    `db:"Attachment"`
	CreatedAt  time.Time `db:"CreatedAt"`
}

// MessagePayload is the canonical wire representation of a persisted
// message, carrying the sender inline and the receipt counters.
type MessagePayload struct {
	ID             MessageID      `json:"id"`
	ThreadID       ThreadID       `json:"thread"`
	Sender         PublicUser     `json:"sender"`
	Text           string         `json:"text"`
	Attachment     string         `json:"attachment,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredCount int            `json:"delivered_count"`
	ReadCount      int            `json:"read_count"`
	Status         DeliveryStatus `json:"status,omitempty"`
}
