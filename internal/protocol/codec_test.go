package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireFields(t *testing.T) {
	n := Notification{
		RecipientID:    "telematik-9",
		DeliveryOption: OnPremise,
		TransactionID:  "tx-1",
		Payload:        []byte("pkcs7"),
		Note:           "arrived @ ON_PREMISE",
	}

	data, err := Encode(n)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "telematik-9", raw["clientId"])
	assert.Equal(t, "on_premise", raw["deliveryOption"])
	assert.Equal(t, "tx-1", raw["transactionId"])
	assert.Equal(t, "cGtjczc=", raw["blob"], "payload travels base64 encoded")
	assert.Equal(t, "arrived @ ON_PREMISE", raw["note"])
	assert.Len(t, raw, 5)
}

func TestEncode_InvalidOption(t *testing.T) {
	_, err := Encode(Notification{RecipientID: "a", Payload: []byte("x")})
	require.ErrorIs(t, err, ErrInvalidDeliveryOption)
}

func TestDecode_DataFrameRoundTrip(t *testing.T) {
	want := Notification{
		RecipientID:    "apo-1",
		DeliveryOption: Delivery,
		TransactionID:  "44",
		Payload:        []byte{0x30, 0x80, 0x06},
		Note:           "arrived @ DELIVERY",
	}
	data, err := Encode(want)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindData, frame.Kind)
	assert.Equal(t, want, frame.Notification)
}

func TestDecode_AcceptsUppercaseAndAliasOptions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want DeliveryOption
	}{
		{"uppercase canonical", `{"clientId":"a","deliveryOption":"SHIPMENT","blob":"eA=="}`, Shipment},
		{"lowercase canonical", `{"clientId":"a","deliveryOption":"on_premise","blob":"eA=="}`, OnPremise},
		{"alias", `{"clientId":"a","deliveryOption":"Botendienst","blob":"eA=="}`, Delivery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.want, frame.Notification.DeliveryOption)
		})
	}
}

func TestDecode_ControlFrames(t *testing.T) {
	frame, err := Decode([]byte("call stored messages"))
	require.NoError(t, err)
	assert.Equal(t, KindControl, frame.Kind)
	assert.Equal(t, CommandFetchStored, frame.Command)

	frame, err = Decode([]byte("Clear Queue Serverside"))
	require.NoError(t, err)
	assert.Equal(t, KindControl, frame.Kind)
	assert.Equal(t, CommandClearQueue, frame.Command)
}

func TestDecode_Signals(t *testing.T) {
	frame, err := Decode([]byte(Greeting))
	require.NoError(t, err)
	assert.Equal(t, KindSignal, frame.Kind)
	assert.True(t, frame.IsGreeting())

	frame, err = Decode([]byte("call stored messages please"))
	require.NoError(t, err)
	assert.Equal(t, KindSignal, frame.Kind)
	assert.False(t, frame.IsGreeting())
}

func TestDecode_MalformedJSON(t *testing.T) {
	tests := []string{
		`{"clientId":`,
		`{not json}`,
		`{"clientId":"a","deliveryOption":"liefern"}`,
	}
	for _, text := range tests {
		_, err := Decode([]byte(text))
		assert.ErrorIs(t, err, ErrSerialization, text)
	}
}
