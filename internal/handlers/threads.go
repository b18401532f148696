package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pingme/pingme-server/internal/model"
)

type ThreadStore interface {
	ThreadsFor(userID model.UserID) ([]model.Thread, error)
	ThreadBetween(a, b model.UserID) (*model.Thread, error)
	CreateThread(name string, memberIDs ...model.UserID) (*model.Thread, error)
	GetUser(id model.UserID) (*model.User, error)
	GetUserByHandle(handle string) (*model.User, error)
	MembersOf(threadID model.ThreadID) ([]model.User, error)
	LastMessage(threadID model.ThreadID) (*model.Message, error)
	UnreadCount(threadID model.ThreadID, userID model.UserID) (int, error)
}

type LedgerService interface {
	DeliveredCount(messageID model.MessageID) (int, error)
	ReadCount(messageID model.MessageID) (int, error)
	StatusFor(messageID model.MessageID, viewerIsSender bool) (model.DeliveryStatus, error)
}

// messagePayload decorates a stored message with its sender and the
// receipt counters; delivery status is only derived for the sender.
func messagePayload(store ThreadStore, ledger LedgerService, message *model.Message, viewer model.UserID) (*model.MessagePayload, error) {
	sender, err := store.GetUser(message.SenderID)
	if err != nil {
		return nil, err
	}
	deliveredCount, err := ledger.DeliveredCount(message.ID)
	if err != nil {
		return nil, err
	}
	readCount, err := ledger.ReadCount(message.ID)
	if err != nil {
		return nil, err
	}
	status, err := ledger.StatusFor(message.ID, viewer == message.SenderID)
	if err != nil {
		return nil, err
	}

	return &model.MessagePayload{
		ID:             message.ID,
		ThreadID:       message.ThreadID,
		Sender:         sender.Public(),
		Text:           message.Text,
		Attachment:     message.Attachment,
		CreatedAt:      message.CreatedAt,
		DeliveredCount: deliveredCount,
		ReadCount:      readCount,
		Status:         status,
	}, nil
}

func threadSummary(store ThreadStore, ledger LedgerService, thread *model.Thread, viewer model.UserID) (*model.ThreadSummary, error) {
	members, err := store.MembersOf(thread.ID)
	if err != nil {
		return nil, err
	}
	publicMembers := make([]model.PublicUser, 0, len(members))
	for i := range members {
		publicMembers = append(publicMembers, members[i].Public())
	}

	summary := &model.ThreadSummary{
		ID:        thread.ID,
		Name:      thread.Name,
		CreatedAt: thread.CreatedAt,
		Members:   publicMembers,
	}

	last, err := store.LastMessage(thread.ID)
	if err != nil && !errors.Is(err, model.ErrorMessageNotFound) {
		return nil, err
	}
	if last != nil {
		summary.LastMessage, err = messagePayload(store, ledger, last, viewer)
		if err != nil {
			return nil, err
		}
	}

	summary.UnreadCount, err = store.UnreadCount(thread.ID, viewer)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func ListThreads(store ThreadStore, ledger LedgerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		viewer := currentUser(c)

		threads, err := store.ThreadsFor(viewer.ID)
		if err != nil {
			return err
		}

		summaries := make([]*model.ThreadSummary, 0, len(threads))
		for i := range threads {
			summary, err := threadSummary(store, ledger, &threads[i], viewer.ID)
			if err != nil {
				return err
			}
			summaries = append(summaries, summary)
		}
		return c.JSON(http.StatusOK, summaries)
	}
}

// CreateThread gets or creates the 1:1 thread between the caller and
// another user named by handle.
func CreateThread(store ThreadStore, ledger LedgerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		viewer := currentUser(c)

		params := struct {
			Handle string `json:"username"`
		}{}
		if err := c.Bind(&params); err != nil {
			return err
		}
		if params.Handle == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "Username is required")
		}

		other, err := store.GetUserByHandle(params.Handle)
		if err != nil {
			if errors.Is(err, model.ErrorUserNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "User not found")
			}
			return err
		}

		thread, err := store.ThreadBetween(viewer.ID, other.ID)
		if err != nil {
			if !errors.Is(err, model.ErrorThreadNotFound) {
				return err
			}
			thread, err = store.CreateThread("", viewer.ID, other.ID)
			if err != nil {
				return err
			}
		}

		summary, err := threadSummary(store, ledger, thread, viewer.ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, summary)
	}
}
