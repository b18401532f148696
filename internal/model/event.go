package model

import "encoding/json"

// Event types on the websocket, both directions.
const (
	EventTypeSystem    = "system"
	EventTypeMessage   = "message"
	EventTypeTyping    = "typing"
	EventTypePresence  = "presence"
	EventTypeDelivered = "delivered"
	EventTypeMedia     = "media"
)

// Event is an outbound frame fanned out to a thread's group. Events
// are ephemeral; they only exist as in-flight broadcast payloads.
type Event interface {
	event()
}

// InboundFrame is the shape of everything a client may send. A frame
// with an empty Type and a non-empty Message is an implicit chat-text
// frame; anything else unrecognised is dropped.
type InboundFrame struct {
	Type     string          `json:"type"`
	Message  string          `json:"message"`
	IsTyping bool            `json:"is_typing"`
	Raw      json.RawMessage `json:"-"`
}

type SystemEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type ChatMessageEvent struct {
	Type string `json:"type"`
	MessagePayload
}

// MediaMessageEvent relays an already-validated media payload verbatim,
// tagged as a chat message. The payload is opaque to this layer.
type MediaMessageEvent struct {
	SenderID UserID
	Payload  map[string]interface{}
}

func (e MediaMessageEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = EventTypeMessage
	return json.Marshal(out)
}

type TypingEvent struct {
	Type     string `json:"type"`
	UserID   UserID `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type PresenceEvent struct {
	Type     string `json:"type"`
	UserID   UserID `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

type DeliveredEvent struct {
	Type      string    `json:"type"`
	MessageID MessageID `json:"message_id"`
	UserID    UserID    `json:"user_id"`
}

func (SystemEvent) event()       {}
func (ChatMessageEvent) event()  {}
func (MediaMessageEvent) event() {}
func (TypingEvent) event()       {}
func (PresenceEvent) event()     {}
func (DeliveredEvent) event()    {}

func NewSystemEvent(msg string) SystemEvent {
	return SystemEvent{Type: EventTypeSystem, Msg: msg}
}

func NewChatMessageEvent(payload MessagePayload) ChatMessageEvent {
	return ChatMessageEvent{Type: EventTypeMessage, MessagePayload: payload}
}

func NewTypingEvent(userID UserID, isTyping bool) TypingEvent {
	return TypingEvent{Type: EventTypeTyping, UserID: userID, IsTyping: isTyping}
}

func NewPresenceEvent(userID UserID, isOnline bool) PresenceEvent {
	return PresenceEvent{Type: EventTypePresence, UserID: userID, IsOnline: isOnline}
}

func NewDeliveredEvent(messageID MessageID, userID UserID) DeliveredEvent {
	return DeliveredEvent{Type: EventTypeDelivered, MessageID: messageID, UserID: userID}
}
