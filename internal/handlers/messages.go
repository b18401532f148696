package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/pingme/pingme-server/internal/model"
)

type MessageStore interface {
	ThreadStore
	IsMember(userID model.UserID, threadID model.ThreadID) (bool, error)
	MessagesFor(threadID model.ThreadID) ([]model.Message, error)
}

type ReadMarker interface {
	MarkThreadRead(threadID model.ThreadID, userID model.UserID) error
}

type MessageRouter interface {
	RouteChatMessage(sender *model.User, threadID model.ThreadID, text string) (*model.MessagePayload, error)
	RouteAttachment(sender *model.User, threadID model.ThreadID, attachment string) (*model.MessagePayload, error)
}

// routeErrorStatus maps routing failures the caller caused to a 400;
// anything else is a server fault and falls through to the error
// handler as a 500.
func routeErrorStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrorThreadNotFound),
		errors.Is(err, model.ErrorNotThreadMember),
		errors.Is(err, model.ErrorEmptyMessageBody):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func requireMembership(store MessageStore, userID model.UserID, threadID model.ThreadID) error {
	isMember, err := store.IsMember(userID, threadID)
	if err != nil {
		return err
	}
	if !isMember {
		return echo.NewHTTPError(http.StatusForbidden)
	}
	return nil
}

func ListMessages(store MessageStore, ledger LedgerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		viewer := currentUser(c)
		threadID := model.ThreadID(c.Param("threadID"))

		if err := requireMembership(store, viewer.ID, threadID); err != nil {
			return err
		}

		messages, err := store.MessagesFor(threadID)
		if err != nil {
			return err
		}

		payloads := make([]*model.MessagePayload, 0, len(messages))
		for i := range messages {
			payload, err := messagePayload(store, ledger, &messages[i], viewer.ID)
			if err != nil {
				return err
			}
			payloads = append(payloads, payload)
		}
		return c.JSON(http.StatusOK, payloads)
	}
}

// MarkThreadRead records that the caller has read the thread's
// backlog. Clients call it when the thread is opened on screen; the
// marks are idempotent so repeat opens are no-ops.
func MarkThreadRead(store MessageStore, ledger ReadMarker) echo.HandlerFunc {
	return func(c echo.Context) error {
		viewer := currentUser(c)
		threadID := model.ThreadID(c.Param("threadID"))

		if err := requireMembership(store, viewer.ID, threadID); err != nil {
			return err
		}
		if err := ledger.MarkThreadRead(threadID, viewer.ID); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// SendMessage is the HTTP counterpart of the websocket chat-text
// frame; it persists and fans out through the same router path.
func SendMessage(router MessageRouter) echo.HandlerFunc {
	return func(c echo.Context) error {
		sender := currentUser(c)
		threadID := model.ThreadID(c.Param("threadID"))

		params := struct {
			Text string `json:"text"`
		}{}
		if err := c.Bind(&params); err != nil {
			return err
		}

		payload, err := router.RouteChatMessage(sender, threadID, params.Text)
		if err != nil {
			return routeErrorStatus(err)
		}
		return c.JSON(http.StatusCreated, payload)
	}
}

// UploadMedia stores the file under the media directory and performs
// the same persist-and-broadcast side effects as the chat-text path.
// Membership is checked before anything touches disk; files under the
// media directory are publicly fetchable.
func UploadMedia(store MessageStore, router MessageRouter, mediaDirectory string) echo.HandlerFunc {
	return func(c echo.Context) error {
		sender := currentUser(c)
		threadID := model.ThreadID(c.Param("threadID"))

		if err := requireMembership(store, sender.ID, threadID); err != nil {
			return err
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "file is required")
		}

		src, err := fileHeader.Open()
		if err != nil {
			return fmt.Errorf("opening upload: %w", err)
		}
		defer src.Close()

		name := model.CreateID() + path.Ext(fileHeader.Filename)
		target := path.Join(mediaDirectory, name)
		dst, err := os.Create(target)
		if err != nil {
			return fmt.Errorf("creating media file: %w", err)
		}
		defer dst.Close()

		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("writing media file: %w", err)
		}

		payload, err := router.RouteAttachment(sender, threadID, "/media/"+name)
		if err != nil {
			os.Remove(target)
			return routeErrorStatus(err)
		}
		return c.JSON(http.StatusCreated, payload)
	}
}
