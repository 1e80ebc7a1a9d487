package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/protocol"
	"github.com/sungwon/psp-relay/internal/queue"
	"github.com/sungwon/psp-relay/internal/relay"
)

// fakeRelay validates like the dispatcher and records what it accepted.
type fakeRelay struct {
	connected map[string]bool
	err       error
	got       []protocol.Notification
}

func (f *fakeRelay) Deliver(_ context.Context, n protocol.Notification) (relay.Outcome, error) {
	if len(n.Payload) == 0 {
		return relay.Outcome{}, relay.ErrInvalidPayload
	}
	if n.RecipientID == "" {
		return relay.Outcome{}, relay.ErrMissingRecipient
	}
	if !n.DeliveryOption.Valid() {
		return relay.Outcome{}, protocol.ErrInvalidDeliveryOption
	}
	if f.err != nil {
		return relay.Outcome{}, f.err
	}
	f.got = append(f.got, n)
	if f.connected[n.RecipientID] {
		return relay.Outcome{Status: relay.StatusDelivered, Note: protocol.ArrivalNote(n.DeliveryOption)}, nil
	}
	return relay.Outcome{Status: relay.StatusQueued, Note: protocol.NotConnectedNote(n.RecipientID)}, nil
}

func (f *fakeRelay) Connections() int { return len(f.connected) }
func (f *fakeRelay) Buffered() int    { return 0 }

func newProducerRouter(f *fakeRelay, maxBytes int64) http.Handler {
	return NewRouter(RouterConfig{
		Relay:           f,
		Log:             zerolog.Nop(),
		MaxPayloadBytes: maxBytes,
	})
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/pkcs7-mime")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProducerRoutes_DeliveryOptions(t *testing.T) {
	tests := []struct {
		path       string
		wantOption protocol.DeliveryOption
	}{
		{"/delivery_only/telematik-1?req=tx-1", protocol.Shipment},
		{"/pick_up/telematik-1?req=tx-1", protocol.OnPremise},
		{"/local_delivery/telematik-1?req=tx-1", protocol.Delivery},
		{"/pspmock/abholen/telematik-1?req=tx-1", protocol.OnPremise},
		{"/pspmock/Versand/telematik-1?req=tx-1", protocol.Shipment},
		{"/pspmock/botendienst/telematik-1?req=tx-1", protocol.Delivery},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f := &fakeRelay{connected: map[string]bool{"telematik-1": true}}
			rec := post(newProducerRouter(f, 1024), tt.path, "pkcs7")

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if len(f.got) != 1 {
				t.Fatalf("expected one delivery, got %d", len(f.got))
			}
			n := f.got[0]
			if n.DeliveryOption != tt.wantOption {
				t.Errorf("expected option %s, got %s", tt.wantOption, n.DeliveryOption)
			}
			if n.RecipientID != "telematik-1" || n.TransactionID != "tx-1" || string(n.Payload) != "pkcs7" {
				t.Errorf("unexpected notification: %+v", n)
			}

			var resp deliveryResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			want := fmt.Sprintf("arrived @ %s", tt.wantOption)
			if resp.Status != "delivered" || resp.Note != want {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestProducerRoutes_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		err        error
		wantStatus int
	}{
		{"offline recipient is queued", "/pick_up/telematik-2", "pkcs7", nil, http.StatusAccepted},
		{"empty body", "/pick_up/telematik-1", "", nil, http.StatusNotFound},
		{"empty body without recipient", "/pick_up", "", nil, http.StatusNotFound},
		{"missing recipient", "/delivery_only", "pkcs7", nil, StatusMissingRecipient},
		{"pspmock missing recipient", "/pspmock/abholen", "pkcs7", nil, StatusMissingRecipient},
		{"pspmock invalid option", "/pspmock/garbage/telematik-1", "pkcs7", nil, http.StatusBadRequest},
		{"pspmock invalid option with empty body", "/pspmock/garbage/telematik-1", "", nil, http.StatusNotFound},
		{"payload too large", "/pick_up/telematik-1", strings.Repeat("x", 2048), nil, http.StatusRequestEntityTooLarge},
		{"queue full", "/pick_up/telematik-2", "pkcs7", fmt.Errorf("buffer: %w", queue.ErrQueueFull), http.StatusServiceUnavailable},
		{"unexpected error", "/pick_up/telematik-2", "pkcs7", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRelay{connected: map[string]bool{"telematik-1": true}, err: tt.err}
			rec := post(newProducerRouter(f, 1024), tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON response, got %q", ct)
			}
		})
	}
}

func TestProducerRoutes_QueuedNote(t *testing.T) {
	f := &fakeRelay{}
	rec := post(newProducerRouter(f, 1024), "/local_delivery/telematik-9?req=tx-9", "pkcs7")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp deliveryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "queued" {
		t.Errorf("expected status queued, got %s", resp.Status)
	}
	if resp.Note != "no fitted receiver connected @ specific TelematikId: telematik-9" {
		t.Errorf("unexpected note %q", resp.Note)
	}
}

func TestProducerRoutes_QueueFullSetsRetryAfter(t *testing.T) {
	f := &fakeRelay{err: queue.ErrQueueFull}
	rec := post(newProducerRouter(f, 1024), "/pick_up/telematik-1", "pkcs7")

	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 503")
	}
}

func TestDeliveryErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{relay.ErrInvalidPayload, http.StatusNotFound},
		{relay.ErrMissingRecipient, StatusMissingRecipient},
		{fmt.Errorf("%w: %q", protocol.ErrInvalidDeliveryOption, "x"), http.StatusBadRequest},
		{fmt.Errorf("buffer notification for r: %w", queue.ErrQueueFull), http.StatusServiceUnavailable},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := deliveryErrorStatus(tt.err); got != tt.want {
			t.Errorf("deliveryErrorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
