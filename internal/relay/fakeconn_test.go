package relay

import (
	"errors"
	"io"
	"sync"
	"time"
)

var errWriteFailed = errors.New("broken pipe")

// fakeConn records text frames written to it. Writes numbered failFrom and
// later fail when failFrom is positive.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	failFrom int
	closed   bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, io.EOF
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFrom > 0 && len(c.writes)+1 >= c.failFrom {
		return errWriteFailed
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
