package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/protocol"
)

// MemoryQueue is an in-process NotificationQueue. Buffers are sharded by
// recipient so popping one recipient never scans the others.
type MemoryQueue struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	buffers map[string][]Entry
	depth   int
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(cfg Config, log zerolog.Logger) *MemoryQueue {
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowReject
	}
	return &MemoryQueue{
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		buffers: make(map[string][]Entry),
	}
}

// Enqueue appends n to the recipient's buffer. With a bounded buffer it either
// rejects the notification or evicts the oldest entry, depending on the
// configured overflow policy.
func (q *MemoryQueue) Enqueue(recipientID string, n protocol.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := q.buffers[recipientID]
	if q.cfg.MaxPerRecipient > 0 && len(buf) >= q.cfg.MaxPerRecipient {
		if q.cfg.Overflow != OverflowEvictOldest {
			MessagesRejectedTotal.Inc()
			return ErrQueueFull
		}
		evicted := buf[0]
		buf = buf[1:]
		q.depth--
		MessagesRemovedTotal.WithLabelValues("evicted").Inc()
		q.log.Warn().
			Str("recipient_id", recipientID).
			Str("transaction_id", evicted.Notification.TransactionID).
			Msg("buffer full, evicted oldest notification")
	}

	q.buffers[recipientID] = append(buf, Entry{Notification: n, EnqueuedAt: q.now()})
	q.depth++

	MessagesEnqueuedTotal.Inc()
	QueueDepth.Set(float64(q.depth))
	return nil
}

// PopAllFor removes and returns the recipient's entries in insertion order.
func (q *MemoryQueue) PopAllFor(recipientID string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := q.buffers[recipientID]
	if len(buf) == 0 {
		return nil
	}
	delete(q.buffers, recipientID)
	q.depth -= len(buf)

	MessagesRemovedTotal.WithLabelValues("flushed").Add(float64(len(buf)))
	QueueDepth.Set(float64(q.depth))
	return buf
}

// Requeue prepends entries to the recipient's buffer, preserving their order.
// The overflow cap is not applied: the entries were already accepted once.
func (q *MemoryQueue) Requeue(recipientID string, entries []Entry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	buf := make([]Entry, 0, len(entries)+len(q.buffers[recipientID]))
	buf = append(buf, entries...)
	buf = append(buf, q.buffers[recipientID]...)
	q.buffers[recipientID] = buf
	q.depth += len(entries)

	QueueDepth.Set(float64(q.depth))
}

// ClearFor discards the recipient's entries.
func (q *MemoryQueue) ClearFor(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.buffers[recipientID])
	if n == 0 {
		return 0
	}
	delete(q.buffers, recipientID)
	q.depth -= n

	MessagesRemovedTotal.WithLabelValues("cleared").Add(float64(n))
	QueueDepth.Set(float64(q.depth))
	return n
}

// HasAny reports whether anything is buffered.
func (q *MemoryQueue) HasAny() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth > 0
}

// LenFor returns the number of entries buffered for the recipient.
func (q *MemoryQueue) LenFor(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers[recipientID])
}

// Depth returns the total number of buffered entries.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}
