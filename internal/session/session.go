package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pingme/pingme-server/internal/hub"
	"github.com/pingme/pingme-server/internal/model"
)

const writeWait = 10 * time.Second

// State is the per-connection protocol state. Terminal: StateClosed.
type State int

const (
	StateUnauthenticated State = iota
	StateJoining
	StateActive
	StateClosed
)

type Validator interface {
	Validate(token string) (*model.User, error)
}

type Members interface {
	IsMember(userID model.UserID, threadID model.ThreadID) (bool, error)
}

type Presence interface {
	Connected(userID model.UserID) (bool, error)
	Disconnected(userID model.UserID) (bool, error)
}

type Ledger interface {
	MarkDelivered(messageID model.MessageID, userID model.UserID) (bool, error)
	MarkThreadDelivered(threadID model.ThreadID, userID model.UserID) error
}

type Router interface {
	RouteChatMessage(sender *model.User, threadID model.ThreadID, text string) (*model.MessagePayload, error)
	RelayMedia(senderID model.UserID, threadID model.ThreadID, payload map[string]interface{}) error
}

type Registry interface {
	Join(threadID model.ThreadID, sub *hub.Subscriber)
	Leave(threadID model.ThreadID, sub *hub.Subscriber)
	Broadcast(threadID model.ThreadID, ev model.Event) int
	BroadcastExcept(threadID model.ThreadID, ev model.Event, except model.UserID) int
}

type Deps struct {
	Validator Validator
	Members   Members
	Presence  Presence
	Ledger    Ledger
	Router    Router
	Registry  Registry
	Logger    echo.Logger
}

// Session runs the protocol state machine for one live connection:
// authenticate, join the thread's group, relay frames, leave. It is
// the only component that talks to its client directly; its only
// persistent side effects go through the ledger and the router.
type Session struct {
	conn     *websocket.Conn
	token    string
	threadID model.ThreadID
	deps     Deps

	mu    sync.Mutex
	state State

	user *model.User
	sub  *hub.Subscriber

	closeOnce sync.Once
}

func New(conn *websocket.Conn, token string, threadID model.ThreadID, deps Deps) *Session {
	return &Session{
		conn:     conn,
		token:    token,
		threadID: threadID,
		deps:     deps,
		state:    StateUnauthenticated,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run drives the session to completion and blocks until the connection
// closes. Authentication and membership failures close the connection
// silently and identically; no frame is accepted before both pass.
func (s *Session) Run() {
	user, err := s.deps.Validator.Validate(s.token)
	if err != nil {
		s.deps.Logger.Debugf("rejecting connection: %v", err)
		s.Close()
		return
	}
	s.user = user
	s.setState(StateJoining)

	isMember, err := s.deps.Members.IsMember(user.ID, s.threadID)
	if err != nil {
		s.deps.Logger.Errorf("membership check: %v", err)
		s.Close()
		return
	}
	if !isMember {
		s.deps.Logger.Debugf("rejecting non-member %s for thread %s", user.ID, s.threadID)
		s.Close()
		return
	}

	s.sub = hub.NewSubscriber(user.ID)
	s.deps.Registry.Join(s.threadID, s.sub)
	s.setState(StateActive)

	if err := s.deps.Ledger.MarkThreadDelivered(s.threadID, user.ID); err != nil {
		s.deps.Logger.Errorf("marking backlog delivered: %v", err)
	}
	if _, err := s.deps.Presence.Connected(user.ID); err != nil {
		s.deps.Logger.Errorf("presence online: %v", err)
	}

	s.deps.Registry.BroadcastExcept(s.threadID, model.NewPresenceEvent(user.ID, true), user.ID)
	s.sub.Enqueue(model.NewSystemEvent(fmt.Sprintf("Connected to chat room %s", s.threadID)))

	go s.writeLoop()
	s.readLoop()
	s.Close()
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if done := s.handleFrame(data); done {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. Malformed frames are
// dropped without touching the session state. Returns true when the
// session must close.
func (s *Session) handleFrame(data []byte) bool {
	frame := model.InboundFrame{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return false
	}

	switch frame.Type {
	case model.EventTypeTyping:
		s.deps.Registry.BroadcastExcept(s.threadID,
			model.NewTypingEvent(s.user.ID, frame.IsTyping), s.user.ID)
		return false

	case model.EventTypeMedia:
		payload := map[string]interface{}{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return false
		}
		if err := s.deps.Router.RelayMedia(s.user.ID, s.threadID, payload); err != nil {
			if errors.Is(err, model.ErrorNotThreadMember) {
				return true
			}
			s.deps.Logger.Errorf("relaying media: %v", err)
		}
		return false

	case "":
		text := strings.TrimSpace(frame.Message)
		if text == "" {
			return false
		}
		if _, err := s.deps.Router.RouteChatMessage(s.user, s.threadID, text); err != nil {
			s.deps.Logger.Errorf("routing message: %v", err)
			s.sub.Enqueue(model.NewSystemEvent("failed to send message"))
		}
		return false
	}

	// unknown frame type
	return false
}

func (s *Session) writeLoop() {
	for ev := range s.sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			s.deps.Logger.Errorf("marshalling event: %v", err)
			continue
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.Close()
			return
		}

		if chatEv, ok := ev.(model.ChatMessageEvent); ok {
			s.delivered(chatEv)
		}
	}
}

// delivered fires once per chat-message event actually written to this
// client: marks the message delivered to this identity (idempotent)
// and fans a receipt back to the group so sender sessions can update.
// Self-delivery of the sender's own message records nothing.
func (s *Session) delivered(ev model.ChatMessageEvent) {
	if ev.Sender.ID == s.user.ID {
		return
	}

	if _, err := s.deps.Ledger.MarkDelivered(ev.ID, s.user.ID); err != nil {
		s.deps.Logger.Errorf("marking delivered: %v", err)
		return
	}
	s.deps.Registry.BroadcastExcept(s.threadID,
		model.NewDeliveredEvent(ev.ID, s.user.ID), s.user.ID)
}

// Close runs the offline/leave/broadcast sequence exactly once, safe
// to call concurrently from the read loop, the write loop and the
// server. Every step no-ops for whatever the session never reached.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.user != nil {
			wentOffline, err := s.deps.Presence.Disconnected(s.user.ID)
			if err != nil {
				s.deps.Logger.Errorf("presence offline: %v", err)
			}
			if wentOffline && s.sub != nil {
				s.deps.Registry.BroadcastExcept(s.threadID,
					model.NewPresenceEvent(s.user.ID, false), s.user.ID)
			}
		}
		if s.sub != nil {
			s.deps.Registry.Leave(s.threadID, s.sub)
		}
		s.setState(StateClosed)
		s.conn.Close()
	})
}
