package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/metrics"
)

// HandlerConfig tunes the WebSocket endpoint.
type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	// ReadLimit caps the size of one inbound frame. Pharmacies only send short
	// control commands.
	ReadLimit int64
}

// DefaultHandlerConfig returns the settings used when none are configured.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteTimeout:    10 * time.Second,
		ReadLimit:       64 * 1024,
	}
}

// Handler upgrades pharmacy connections on /{recipientId} and feeds their
// frames to the Dispatcher.
type Handler struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	cfg        HandlerConfig
	log        zerolog.Logger
}

// NewHandler creates a Handler bound to the given Dispatcher.
func NewHandler(dispatcher *Dispatcher, cfg HandlerConfig, log zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Pharmacy clients are not browsers; the path is their only identity.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg: cfg,
		log: log,
	}
}

// RecipientFromPath returns the recipient id carried in a connection path such
// as "/telematik-9".
func RecipientFromPath(path string) string {
	return strings.Trim(path, "/")
}

// ServeHTTP upgrades the request, registers the session and runs its read loop
// until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipientID := RecipientFromPath(r.URL.Path)
	if recipientID == "" {
		http.Error(w, "recipient id required in path", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues("upgrade_failed").Inc()
		h.log.Warn().Err(err).Str("recipient_id", recipientID).Msg("websocket upgrade failed")
		return
	}
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}

	session := NewSession(recipientID, ws, h.cfg.WriteTimeout)
	if err := h.dispatcher.OnConnect(session); err != nil {
		h.log.Warn().Err(err).Str("recipient_id", recipientID).Msg("failed to greet pharmacy")
		return
	}

	h.readPump(session, ws)
}

// readPump reads frames until the connection fails, then unregisters the session.
func (h *Handler) readPump(s *Session, ws *websocket.Conn) {
	defer h.dispatcher.OnDisconnect(s)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn().Err(err).Str("recipient_id", s.RecipientID).Str("session_id", s.ID).Msg("connection error")
			}
			return
		}
		h.dispatcher.HandleFrame(s, messageType, data)
	}
}
