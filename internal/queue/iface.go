package queue

import (
	"errors"
	"time"

	"github.com/sungwon/psp-relay/internal/protocol"
)

// ErrQueueFull is returned by Enqueue when a bounded recipient buffer is full and
// the overflow policy is "reject".
var ErrQueueFull = errors.New("notification queue full")

// Entry is a buffered notification.
type Entry struct {
	Notification protocol.Notification
	EnqueuedAt   time.Time
}

// NotificationQueue buffers notifications for recipients that are offline.
// Entries for one recipient are kept in insertion order.
type NotificationQueue interface {
	// Enqueue appends a notification to the recipient's buffer.
	Enqueue(recipientID string, n protocol.Notification) error
	// PopAllFor removes and returns every entry for the recipient in insertion
	// order. It is atomic with respect to concurrent Enqueue calls.
	PopAllFor(recipientID string) []Entry
	// Requeue puts entries back at the front of the recipient's buffer, ahead of
	// anything enqueued since they were popped.
	Requeue(recipientID string, entries []Entry)
	// ClearFor discards the recipient's entries and returns how many were dropped.
	ClearFor(recipientID string) int
	// HasAny reports whether any recipient has buffered entries.
	HasAny() bool
	// LenFor returns the number of entries buffered for the recipient.
	LenFor(recipientID string) int
	// Depth returns the total number of buffered entries.
	Depth() int
}
