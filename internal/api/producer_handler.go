package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/psp-relay/internal/logger"
	"github.com/sungwon/psp-relay/internal/protocol"
	"github.com/sungwon/psp-relay/internal/queue"
	"github.com/sungwon/psp-relay/internal/relay"
)

// StatusMissingRecipient is returned when a notification names no recipient.
// Existing producers expect this non-standard code.
const StatusMissingRecipient = 420

// Notifier accepts notifications for delivery.
type Notifier interface {
	Deliver(ctx context.Context, n protocol.Notification) (relay.Outcome, error)
}

type deliveryResponse struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// ProduceHandler handles POST /{route}/{ti_id} for a fixed delivery option. The
// request body is the opaque payload and the "req" query parameter carries the
// transaction id.
func ProduceHandler(notifier Notifier, option protocol.DeliveryOption, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := readPayload(w, r, maxBytes)
		if !ok {
			return
		}
		deliver(w, r, notifier, protocol.NewNotification(chi.URLParam(r, "ti_id"), option, r.URL.Query().Get("req"), payload))
	}
}

// PspMockHandler handles POST /pspmock/{option}/{ti_id}, resolving the delivery
// option from free text such as "abholen" or "versand".
func PspMockHandler(notifier Notifier, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := readPayload(w, r, maxBytes)
		if !ok {
			return
		}

		recipientID := chi.URLParam(r, "ti_id")
		option, err := protocol.Resolve(chi.URLParam(r, "option"))
		// Payload and recipient errors take precedence and are reported by Deliver.
		if err != nil && len(payload) > 0 && recipientID != "" {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		deliver(w, r, notifier, protocol.NewNotification(recipientID, option, r.URL.Query().Get("req"), payload))
	}
}

// readPayload reads the request body up to maxBytes. It writes a 413 response
// and returns false when the body is too large.
func readPayload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, bool) {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload exceeds maximum size")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "failed to read payload")
		return nil, false
	}
	return payload, true
}

func deliver(w http.ResponseWriter, r *http.Request, notifier Notifier, n protocol.Notification) {
	outcome, err := notifier.Deliver(r.Context(), n)
	if err != nil {
		status := deliveryErrorStatus(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "30")
		}
		if status == http.StatusInternalServerError {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("recipient_id", n.RecipientID).Msg("deliver notification")
			respondError(w, status, "internal server error")
			return
		}
		respondError(w, status, err.Error())
		return
	}

	status := http.StatusOK
	if outcome.Status == relay.StatusQueued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, deliveryResponse{Status: string(outcome.Status), Note: outcome.Note})
}

// deliveryErrorStatus maps delivery errors to HTTP status codes.
func deliveryErrorStatus(err error) int {
	switch {
	case errors.Is(err, relay.ErrInvalidPayload):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrMissingRecipient):
		return StatusMissingRecipient
	case errors.Is(err, protocol.ErrInvalidDeliveryOption):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
