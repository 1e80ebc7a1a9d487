package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/logger"
	"github.com/sungwon/psp-relay/internal/metrics"
	"github.com/sungwon/psp-relay/internal/protocol"
	"github.com/sungwon/psp-relay/internal/queue"
)

// Predefined errors for producer-side validation and session writes.
var (
	ErrInvalidPayload   = errors.New("no payload has arrived")
	ErrMissingRecipient = errors.New("no recipient telematik id")
	ErrSessionClosed    = errors.New("session closed")
)

// Status is the result of accepting a notification.
type Status string

const (
	// StatusDelivered means the notification was written to the recipient's connection.
	StatusDelivered Status = "delivered"
	// StatusQueued means the recipient was offline and the notification was buffered.
	StatusQueued Status = "queued"
)

// Outcome describes what happened to an accepted notification.
type Outcome struct {
	Status Status
	Note   string
}

// Dispatcher routes producer notifications to connected pharmacies or buffers
// them, and serves the control commands pharmacies send over their connection.
type Dispatcher struct {
	registry *Registry
	queue    queue.NotificationQueue
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry and queue.
func NewDispatcher(registry *Registry, q queue.NotificationQueue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queue:    q,
		log:      log,
	}
}

// Deliver validates n and either writes it to the recipient's live session or
// buffers it. Buffering is a normal outcome, not an error. If writing to a live
// session fails, the session is dropped and the notification is buffered.
func (d *Dispatcher) Deliver(ctx context.Context, n protocol.Notification) (Outcome, error) {
	if len(n.Payload) == 0 {
		metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		return Outcome{}, ErrInvalidPayload
	}
	if n.RecipientID == "" {
		metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		return Outcome{}, ErrMissingRecipient
	}
	if !n.DeliveryOption.Valid() {
		metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: %q", protocol.ErrInvalidDeliveryOption, n.DeliveryOption.String())
	}

	n.Note = protocol.ArrivalNote(n.DeliveryOption)

	log := d.log.With().
		Str("recipient_id", n.RecipientID).
		Str("transaction_id", n.TransactionID).
		Str("delivery_option", n.DeliveryOption.String()).
		Str("correlation_id", logger.CorrelationIDFromContext(ctx)).
		Logger()

	if s, ok := d.registry.Lookup(n.RecipientID); ok {
		data, err := protocol.Encode(n)
		if err != nil {
			return Outcome{}, err
		}
		err = d.send(s, data)
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
			log.Info().Str("session_id", s.ID).Int("payload_bytes", len(n.Payload)).Msg("notification delivered")
			return Outcome{Status: StatusDelivered, Note: n.Note}, nil
		}
		log.Warn().Err(err).Str("session_id", s.ID).Msg("write to pharmacy failed, buffering notification")
		d.OnDisconnect(s)
	}

	if err := d.queue.Enqueue(n.RecipientID, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		log.Error().Err(err).Msg("failed to buffer notification")
		return Outcome{}, fmt.Errorf("buffer notification for %s: %w", n.RecipientID, err)
	}

	metrics.NotificationsTotal.WithLabelValues("queued").Inc()
	log.Info().Msg("recipient not connected, notification buffered")
	return Outcome{Status: StatusQueued, Note: protocol.NotConnectedNote(n.RecipientID)}, nil
}

// OnConnect registers s for its recipient and sends the greeting.
func (d *Dispatcher) OnConnect(s *Session) error {
	if superseded := d.registry.Register(s); superseded != nil {
		metrics.ConnectionsTotal.WithLabelValues("superseded").Inc()
		d.log.Info().
			Str("recipient_id", s.RecipientID).
			Str("session_id", s.ID).
			Str("superseded_session_id", superseded.ID).
			Msg("new connection supersedes previous session")
	}
	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.ConnectionsActive.Set(float64(d.registry.Count()))

	d.log.Info().
		Str("recipient_id", s.RecipientID).
		Str("session_id", s.ID).
		Msg("pharmacy connected")

	if err := s.Send([]byte(protocol.Greeting)); err != nil {
		d.OnDisconnect(s)
		return fmt.Errorf("send greeting: %w", err)
	}
	return nil
}

// OnDisconnect unregisters s and closes it.
func (d *Dispatcher) OnDisconnect(s *Session) {
	removed := d.registry.Unregister(s)
	if err := s.Close(); err != nil {
		d.log.Debug().Err(err).Str("session_id", s.ID).Msg("close session")
	}
	if len(removed) == 0 {
		return
	}

	metrics.ConnectionsTotal.WithLabelValues("closed").Inc()
	metrics.ConnectionsActive.Set(float64(d.registry.Count()))
	d.log.Info().
		Str("recipient_id", s.RecipientID).
		Str("session_id", s.ID).
		Msg("pharmacy disconnected")
}

// HandleFrame processes one inbound frame from s. Binary frames, malformed
// frames and anything that is not a control command are logged and dropped;
// the connection stays open.
func (d *Dispatcher) HandleFrame(s *Session, messageType int, data []byte) {
	log := d.log.With().Str("recipient_id", s.RecipientID).Str("session_id", s.ID).Logger()

	if messageType != websocket.TextMessage {
		metrics.FramesDroppedTotal.WithLabelValues("binary").Inc()
		log.Info().Int("bytes", len(data)).Msg("binary frames are not supported, ignoring")
		return
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		metrics.FramesDroppedTotal.WithLabelValues("malformed").Inc()
		log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch frame.Kind {
	case protocol.KindControl:
		if err := d.OnControl(s, frame.Command); err != nil {
			log.Warn().Err(err).Str("command", string(frame.Command)).Msg("control command failed")
		}
	case protocol.KindData:
		metrics.FramesDroppedTotal.WithLabelValues("unexpected_data").Inc()
		log.Warn().Str("transaction_id", frame.Notification.TransactionID).Msg("pharmacies may not publish notifications, ignoring")
	default:
		metrics.FramesDroppedTotal.WithLabelValues("signal").Inc()
		log.Debug().Str("text", frame.Text).Msg("ignoring text frame")
	}
}

// OnControl executes a control command for the recipient s is registered for.
// A superseded session is ignored so it cannot drain its successor's buffer.
func (d *Dispatcher) OnControl(s *Session, cmd protocol.Command) error {
	recipientID, ok := d.registry.RecipientOf(s)
	if !ok {
		return fmt.Errorf("session %s is not registered", s.ID)
	}

	log := d.log.With().Str("recipient_id", recipientID).Str("session_id", s.ID).Logger()

	switch cmd {
	case protocol.CommandFetchStored:
		metrics.ControlFramesTotal.WithLabelValues("fetch_stored").Inc()
		return d.flush(s, recipientID, log)
	case protocol.CommandClearQueue:
		metrics.ControlFramesTotal.WithLabelValues("clear_queue").Inc()
		n := d.queue.ClearFor(recipientID)
		log.Info().Int("discarded", n).Msg("buffered notifications cleared")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// flush writes the recipient's buffered notifications to s in insertion order.
// When a write fails the unsent remainder goes back to the front of the buffer.
func (d *Dispatcher) flush(s *Session, recipientID string, log zerolog.Logger) error {
	entries := d.queue.PopAllFor(recipientID)
	log.Info().Int("count", len(entries)).Msg("flushing buffered notifications")

	for i, e := range entries {
		data, err := protocol.Encode(e.Notification)
		if err != nil {
			log.Error().Err(err).Str("transaction_id", e.Notification.TransactionID).Msg("dropping unencodable notification")
			continue
		}
		if err := d.send(s, data); err != nil {
			d.queue.Requeue(recipientID, entries[i:])
			d.OnDisconnect(s)
			return fmt.Errorf("flush to %s: %w", recipientID, err)
		}
		log.Debug().
			Str("transaction_id", e.Notification.TransactionID).
			Dur("buffered_for", time.Since(e.EnqueuedAt)).
			Msg("buffered notification delivered")
	}
	return nil
}

// send writes data to s and records the write duration.
func (d *Dispatcher) send(s *Session, data []byte) error {
	start := time.Now()
	err := s.Send(data)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	return err
}

// Connections returns the number of registered pharmacy sessions.
func (d *Dispatcher) Connections() int {
	return d.registry.Count()
}

// Buffered returns the total number of buffered notifications.
func (d *Dispatcher) Buffered() int {
	return d.queue.Depth()
}

// BufferedFor returns the number of notifications buffered for recipientID.
func (d *Dispatcher) BufferedFor(recipientID string) int {
	return d.queue.LenFor(recipientID)
}
