package router

import (
	"fmt"
	"strings"

	"github.com/pingme/pingme-server/internal/model"
)

type Store interface {
	CreateMessage(senderID model.UserID, threadID model.ThreadID, text, attachment string) (*model.Message, error)
	IsMember(userID model.UserID, threadID model.ThreadID) (bool, error)
}

type Broadcaster interface {
	Broadcast(threadID model.ThreadID, ev model.Event) int
}

// RouteError wraps a persistence failure during message routing. When
// it is returned, nothing was broadcast.
type RouteError struct {
	cause error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("routing message: %v", e.cause)
}

func (e *RouteError) Unwrap() error {
	return e.cause
}

// Router orchestrates persistence and fan-out for chat messages. A
// message is either fully persisted then broadcast, or not broadcast
// at all.
type Router struct {
	store Store
	hub   Broadcaster
}

func New(store Store, hub Broadcaster) *Router {
	return &Router{store, hub}
}

// RouteChatMessage persists the text as a message from the sender and
// fans the canonical representation out to the thread's group. The
// whole group receives it, including the sender's own connections.
func (r *Router) RouteChatMessage(sender *model.User, threadID model.ThreadID, text string) (*model.MessagePayload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &RouteError{cause: model.ErrorEmptyMessageBody}
	}
	return r.route(sender, threadID, text, "")
}

// RouteAttachment persists a media message pointing at an uploaded
// file and fans it out exactly like chat text.
func (r *Router) RouteAttachment(sender *model.User, threadID model.ThreadID, attachment string) (*model.MessagePayload, error) {
	return r.route(sender, threadID, "", attachment)
}

func (r *Router) route(sender *model.User, threadID model.ThreadID, text, attachment string) (*model.MessagePayload, error) {
	message, err := r.store.CreateMessage(sender.ID, threadID, text, attachment)
	if err != nil {
		return nil, &RouteError{cause: err}
	}

	payload := &model.MessagePayload{
		ID:         message.ID,
		ThreadID:   message.ThreadID,
		Sender:     sender.Public(),
		Text:       message.Text,
		Attachment: message.Attachment,
		CreatedAt:  message.CreatedAt,
	}

	r.hub.Broadcast(threadID, model.NewChatMessageEvent(*payload))
	return payload, nil
}

// RelayMedia broadcasts an already-validated media payload without
// persisting it. Membership is re-checked per frame rather than
// trusting the joined session, so a revocation takes effect mid
// session.
func (r *Router) RelayMedia(senderID model.UserID, threadID model.ThreadID, payload map[string]interface{}) error {
	isMember, err := r.store.IsMember(senderID, threadID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !isMember {
		return model.ErrorNotThreadMember
	}

	r.hub.Broadcast(threadID, model.MediaMessageEvent{SenderID: senderID, Payload: payload})
	return nil
}
