package ledger

import (
	"fmt"

	"github.com/pingme/pingme-server/internal/model"
)

type Store interface {
	GetMessage(id model.MessageID) (*model.Message, error)
	AddDeliveredTo(messageID model.MessageID, userID model.UserID) (bool, error)
	AddReadBy(messageID model.MessageID, userID model.UserID) (bool, error)
	CountDeliveredTo(messageID model.MessageID) (int, error)
	CountReadBy(messageID model.MessageID) (int, error)
	MarkThreadDelivered(threadID model.ThreadID, userID model.UserID) error
	MarkThreadRead(threadID model.ThreadID, userID model.UserID) error
}

// Ledger tracks which users have received and read each message. All
// marks are idempotent set inserts and sender self-marks are
// suppressed, so duplicate and out-of-order receipt events from many
// devices collapse to the same durable state.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store}
}

// MarkDelivered adds userID to the message's delivered-to set. Returns
// whether this call changed state: false on repeat marks and on the
// sender marking their own message.
func (l *Ledger) MarkDelivered(messageID model.MessageID, userID model.UserID) (bool, error) {
	message, err := l.store.GetMessage(messageID)
	if err != nil {
		return false, err
	}
	if message.SenderID == userID {
		return false, nil
	}

	changed, err := l.store.AddDeliveredTo(messageID, userID)
	if err != nil {
		return false, fmt.Errorf("marking delivered: %w", err)
	}
	return changed, nil
}

// MarkRead adds userID to the message's read-by set, with the same
// idempotence and self-mark rules as MarkDelivered. A read mark also
// implies delivery.
func (l *Ledger) MarkRead(messageID model.MessageID, userID model.UserID) (bool, error) {
	message, err := l.store.GetMessage(messageID)
	if err != nil {
		return false, err
	}
	if message.SenderID == userID {
		return false, nil
	}

	if _, err := l.store.AddDeliveredTo(messageID, userID); err != nil {
		return false, fmt.Errorf("marking delivered: %w", err)
	}
	changed, err := l.store.AddReadBy(messageID, userID)
	if err != nil {
		return false, fmt.Errorf("marking read: %w", err)
	}
	return changed, nil
}

func (l *Ledger) DeliveredCount(messageID model.MessageID) (int, error) {
	return l.store.CountDeliveredTo(messageID)
}

func (l *Ledger) ReadCount(messageID model.MessageID) (int, error) {
	return l.store.CountReadBy(messageID)
}

// MarkThreadDelivered marks the thread's backlog delivered to userID in
// one batch. Runs when a connection joins the thread's group.
func (l *Ledger) MarkThreadDelivered(threadID model.ThreadID, userID model.UserID) error {
	return l.store.MarkThreadDelivered(threadID, userID)
}

// MarkThreadRead marks the thread's backlog read by userID in one
// batch, delivery included. Runs when the user opens the thread.
func (l *Ledger) MarkThreadRead(threadID model.ThreadID, userID model.UserID) error {
	return l.store.MarkThreadRead(threadID, userID)
}

// StatusFor derives the sender-facing rollup: read if anyone has read
// it, else delivered if anyone has received it, else sent. Only
// meaningful to the message's sender; other viewers get none.
func (l *Ledger) StatusFor(messageID model.MessageID, viewerIsSender bool) (model.DeliveryStatus, error) {
	if !viewerIsSender {
		return model.DeliveryStatusNone, nil
	}

	readCount, err := l.store.CountReadBy(messageID)
	if err != nil {
		return model.DeliveryStatusNone, err
	}
	if readCount > 0 {
		return model.DeliveryStatusRead, nil
	}

	deliveredCount, err := l.store.CountDeliveredTo(messageID)
	if err != nil {
		return model.DeliveryStatusNone, err
	}
	if deliveredCount > 0 {
		return model.DeliveryStatusDelivered, nil
	}
	return model.DeliveryStatusSent, nil
}
