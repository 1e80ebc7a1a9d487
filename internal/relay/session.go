package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is the relay's handle for one accepted pharmacy connection. Writes are
// serialized because a WebSocket connection supports one concurrent writer.
type Session struct {
	ID          string
	RecipientID string

	conn         Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewSession wraps conn for the given recipient.
func NewSession(recipientID string, conn Conn, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.New().String(),
		RecipientID:  recipientID,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send writes one text frame.
func (s *Session) Send(text []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, text)
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
