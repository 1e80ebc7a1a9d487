// Package pspclient is the pharmacy side of the relay: it holds one WebSocket
// connection for a recipient id, buffers the notifications pushed to it and
// sends the relay's control commands.
package pspclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds ConnectBlocking when no timeout is given.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultGracePeriod is how long RequestStoredMessages waits for the flush.
	DefaultGracePeriod = time.Second
	// DefaultProxyPort is used when a proxy host is set without a port.
	DefaultProxyPort = 3128

	// AuthorizationHeader carries the optional authorization value on the handshake.
	AuthorizationHeader = "X-Authorization"

	closeWait = time.Second
)

var (
	// ErrConnectionTimeout is returned when the handshake and greeting do not
	// complete before the deadline.
	ErrConnectionTimeout = errors.New("connection timed out")
	// ErrNotConnected is returned when a command is sent without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyStarted is returned when Connect is called twice on one Client.
	ErrAlreadyStarted = errors.New("client already started")
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Option configures a Client.
type Option func(*Client)

// WithAuthorization sends value in the X-Authorization handshake header.
func WithAuthorization(value string) Option {
	return func(c *Client) {
		if value != "" {
			c.header.Set(AuthorizationHeader, value)
		}
	}
}

// WithProxy routes the connection through an HTTP proxy. A port of zero or less
// selects DefaultProxyPort. An empty host leaves the proxy unset.
func WithProxy(host string, port int) Option {
	return func(c *Client) {
		if host == "" {
			return
		}
		if port <= 0 {
			port = DefaultProxyPort
		}
		proxy := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))}
		c.dialer.Proxy = http.ProxyURL(proxy)
		c.proxy = proxy.Host
	}
}

// WithGracePeriod sets how long RequestStoredMessages waits after sending.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Client) {
		c.grace = d
	}
}

// WithTLSConfig sets the TLS configuration used for wss URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.dialer.TLSClientConfig = cfg
	}
}

// WithLogger sets the client's logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client is a pharmacy connection to the relay. A Client connects once; to
// reconnect, create a new Client.
type Client struct {
	url    string
	id     string
	header http.Header
	dialer websocket.Dialer
	proxy  string
	grace  time.Duration
	log    zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	started   bool
	conn      *websocket.Conn
	inbox     []protocol.Notification
	arrived   chan struct{}
	connected chan struct{}
	greeted   sync.Once
	done      chan struct{}
}

// New creates a Client for recipientID on the relay at baseURL, for example
// "ws://relay:8887". It does not connect.
func New(baseURL, recipientID string, opts ...Option) *Client {
	c := &Client{
		url:       BuildURL(baseURL, recipientID),
		id:        recipientID,
		header:    http.Header{},
		dialer:    *websocket.DefaultDialer,
		grace:     DefaultGracePeriod,
		log:       zerolog.Nop(),
		arrived:   make(chan struct{}),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	// The proxy comes from WithProxy only, never from the environment.
	c.dialer.Proxy = nil
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("recipient_id", recipientID).Logger()
	return c
}

// BuildURL appends the recipient id to the relay base URL.
func BuildURL(baseURL, recipientID string) string {
	if strings.HasSuffix(baseURL, "/") {
		return baseURL + recipientID
	}
	return baseURL + "/" + recipientID
}

// URL returns the connection URL.
func (c *Client) URL() string { return c.url }

// ID returns the recipient id.
func (c *Client) ID() string { return c.id }

// ConnectBlocking connects and waits for the relay's greeting for at most
// timeout. A timeout of zero or less uses DefaultConnectTimeout.
func (c *Client) ConnectBlocking(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Connect(ctx)
}

// Connect performs the handshake and blocks until the greeting arrives, the
// connection fails or ctx is done. There is no automatic retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.state = StateHandshaking
	c.mu.Unlock()

	logEvent := c.log.Info().Str("url", c.url)
	if c.proxy != "" {
		logEvent = logEvent.Str("proxy", c.proxy)
	}
	logEvent.Msg("connecting to relay")

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.setState(StateDisconnected)
		close(c.done)
		if ctx.Err() != nil {
			return fmt.Errorf("dial %s: %w", c.url, ErrConnectionTimeout)
		}
		if resp != nil {
			return fmt.Errorf("dial %s: handshake status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.log.Info().Int("status", resp.StatusCode).Msg("handshake completed")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return fmt.Errorf("connection to %s closed before greeting: %w", c.url, ErrNotConnected)
	case <-ctx.Done():
		_ = conn.Close()
		<-c.done
		return fmt.Errorf("waiting for greeting from %s: %w", c.url, ErrConnectionTimeout)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.setState(StateDisconnected)
		close(c.done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("connection closed")
			} else {
				c.log.Debug().Err(err).Msg("read loop stopped")
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage processes one text frame from the relay. The greeting marks the
// client connected, data frames go to the inbox tail and anything malformed is
// logged and dropped.
func (c *Client) handleMessage(text []byte) {
	frame, err := protocol.Decode(text)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(text)).Msg("dropping malformed frame")
		return
	}

	switch frame.Kind {
	case protocol.KindData:
		c.mu.Lock()
		c.inbox = append(c.inbox, frame.Notification)
		close(c.arrived)
		c.arrived = make(chan struct{})
		c.mu.Unlock()
		c.log.Info().
			Str("transaction_id", frame.Notification.TransactionID).
			Str("delivery_option", frame.Notification.DeliveryOption.String()).
			Msg("notification received")
	case protocol.KindSignal:
		if frame.IsGreeting() {
			c.markConnected()
			return
		}
		c.log.Debug().Str("text", frame.Text).Msg("ignoring text frame")
	default:
		c.log.Debug().Str("command", string(frame.Command)).Msg("ignoring control frame from relay")
	}
}

func (c *Client) markConnected() {
	c.setState(StateConnected)
	c.greeted.Do(func() {
		close(c.connected)
		c.log.Info().Msg("connected to relay")
	})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the connection ends or Connect fails.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsConnected reports whether the greeting was received and the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// HasMessage reports whether the inbox holds at least one notification.
func (c *Client) HasMessage() bool {
	return c.QueueLength() > 0
}

// QueueLength returns the number of notifications in the inbox.
func (c *Client) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox)
}

// ConsumeOldest removes and returns the most recently received notification,
// the inbox tail. Callers of this client depend on that order.
func (c *Client) ConsumeOldest() (protocol.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Client) popLocked() (protocol.Notification, bool) {
	if len(c.inbox) == 0 {
		return protocol.Notification{}, false
	}
	last := len(c.inbox) - 1
	n := c.inbox[last]
	c.inbox[last] = protocol.Notification{}
	c.inbox = c.inbox[:last]
	return n, true
}

// ConsumeOldestWithin behaves like ConsumeOldest but waits up to timeout for a
// notification to arrive.
func (c *Client) ConsumeOldestWithin(timeout time.Duration) (protocol.Notification, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.ConsumeOldestContext(ctx)
}

// ConsumeOldestContext behaves like ConsumeOldest but waits until a
// notification arrives or ctx is done.
func (c *Client) ConsumeOldestContext(ctx context.Context) (protocol.Notification, bool) {
	for {
		c.mu.Lock()
		if n, ok := c.popLocked(); ok {
			c.mu.Unlock()
			return n, true
		}
		arrived := c.arrived
		c.mu.Unlock()

		select {
		case <-arrived:
		case <-ctx.Done():
			return c.ConsumeOldest()
		}
	}
}

// ClearQueue discards the local inbox. The relay's buffer is untouched.
func (c *Client) ClearQueue() {
	c.mu.Lock()
	c.inbox = nil
	c.mu.Unlock()
}

// ClearQueueOnServer asks the relay to discard this recipient's buffered
// notifications.
func (c *Client) ClearQueueOnServer() error {
	return c.send(string(protocol.CommandClearQueue))
}

// RequestStoredMessages asks the relay to flush this recipient's buffered
// notifications and waits for the grace period so they can arrive.
func (c *Client) RequestStoredMessages() error {
	if err := c.send(string(protocol.CommandFetchStored)); err != nil {
		return err
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.done:
	}
	return nil
}

func (c *Client) send(text string) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("send %q: %w", text, err)
	}
	return nil
}

// Close sends a close frame and closes the connection. It is safe to call on a
// client that never connected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.setState(StateDisconnected)
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	c.writeMu.Unlock()

	err := conn.Close()
	<-c.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
