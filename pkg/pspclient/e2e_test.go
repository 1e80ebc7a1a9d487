package pspclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sungwon/psp-relay/internal/api"
	"github.com/sungwon/psp-relay/internal/protocol"
	"github.com/sungwon/psp-relay/internal/queue"
	"github.com/sungwon/psp-relay/internal/relay"
)

type testRelay struct {
	dispatcher *relay.Dispatcher
	httpURL    string
	wsURL      string
}

func startRelay(t *testing.T) testRelay {
	t.Helper()
	log := zerolog.Nop()
	d := relay.NewDispatcher(relay.NewRegistry(), queue.NewMemoryQueue(queue.DefaultConfig(), log), log)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Relay:           d,
		WebSocket:       relay.NewHandler(d, relay.DefaultHandlerConfig(), log),
		Log:             log,
		MaxPayloadBytes: 1 << 20,
	}))
	t.Cleanup(srv.Close)
	return testRelay{
		dispatcher: d,
		httpURL:    srv.URL,
		wsURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (r testRelay) produce(t *testing.T, route, recipientID, txID string) int {
	t.Helper()
	resp, err := http.Post(r.httpURL+"/"+route+"/"+recipientID+"?req="+txID, "application/pkcs7-mime", strings.NewReader("pkcs7-"+txID))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func connectClient(t *testing.T, r testRelay, recipientID string) *Client {
	t.Helper()
	c := New(r.wsURL, recipientID, WithGracePeriod(200*time.Millisecond))
	require.NoError(t, c.ConnectBlocking(2*time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEndToEnd_Telematik9(t *testing.T) {
	r := startRelay(t)

	// Connected delivery.
	c1 := connectClient(t, r, "telematik-9")
	require.True(t, c1.IsConnected())
	require.Equal(t, http.StatusOK, r.produce(t, "pick_up", "telematik-9", "tx-live"))

	n, ok := c1.ConsumeOldestWithin(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "tx-live", n.TransactionID)
	assert.Equal(t, protocol.OnPremise, n.DeliveryOption)
	assert.Equal(t, "arrived @ ON_PREMISE", n.Note)
	assert.Equal(t, 0, r.dispatcher.BufferedFor("telematik-9"))

	// Disconnect, then deliver while offline.
	require.NoError(t, c1.Close())
	assert.False(t, c1.IsConnected())
	require.Eventually(t, func() bool { return r.dispatcher.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, r.produce(t, "delivery_only", "telematik-9", "tx-stored"))
	assert.Equal(t, 1, r.dispatcher.BufferedFor("telematik-9"))

	// Reconnect with a fresh client and fetch.
	c2 := connectClient(t, r, "telematik-9")
	assert.False(t, c2.HasMessage(), "stored notifications are only sent on request")

	require.NoError(t, c2.RequestStoredMessages())
	require.True(t, c2.HasMessage())

	n, ok = c2.ConsumeOldest()
	require.True(t, ok)
	assert.Equal(t, "tx-stored", n.TransactionID)
	assert.Equal(t, protocol.Shipment, n.DeliveryOption)
	assert.Equal(t, []byte("pkcs7-tx-stored"), n.Payload)

	// A second fetch yields nothing new.
	require.NoError(t, c2.RequestStoredMessages())
	assert.False(t, c2.HasMessage())
}

func TestEndToEnd_FlushOrderAndLIFOConsume(t *testing.T) {
	r := startRelay(t)
	for _, tx := range []string{"A", "B", "C"} {
		require.Equal(t, http.StatusAccepted, r.produce(t, "local_delivery", "telematik-3", tx))
	}

	c := connectClient(t, r, "telematik-3")
	require.NoError(t, c.RequestStoredMessages())
	require.Eventually(t, func() bool { return c.QueueLength() == 3 }, 2*time.Second, 10*time.Millisecond)

	// The relay flushes A, B, C in order; the client hands out the newest first.
	for _, want := range []string{"C", "B", "A"} {
		n, ok := c.ConsumeOldest()
		require.True(t, ok)
		assert.Equal(t, want, n.TransactionID)
	}
}

func TestEndToEnd_ClearQueueOnServer(t *testing.T) {
	r := startRelay(t)
	require.Equal(t, http.StatusAccepted, r.produce(t, "pick_up", "telematik-4", "tx-1"))
	require.Equal(t, http.StatusAccepted, r.produce(t, "pick_up", "telematik-4", "tx-2"))

	c := connectClient(t, r, "telematik-4")
	require.NoError(t, c.ClearQueueOnServer())
	require.Eventually(t, func() bool { return r.dispatcher.BufferedFor("telematik-4") == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.RequestStoredMessages())
	assert.False(t, c.HasMessage())
}

func TestEndToEnd_RecipientsAreIsolated(t *testing.T) {
	r := startRelay(t)
	c1 := connectClient(t, r, "telematik-1")
	c2 := connectClient(t, r, "telematik-2")

	require.Equal(t, http.StatusOK, r.produce(t, "pick_up", "telematik-2", "tx-for-2"))

	n, ok := c2.ConsumeOldestWithin(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "tx-for-2", n.TransactionID)

	_, ok = c1.ConsumeOldestWithin(100 * time.Millisecond)
	assert.False(t, ok)
}
