package protocol

import "fmt"

// Notification is a "prescription ready" message addressed to one pharmacy.
//
// The JSON field names are the wire format shared with existing pharmacy clients
// and must not change.
type Notification struct {
	RecipientID    string         `json:"clientId"`
	DeliveryOption DeliveryOption `json:"deliveryOption"`
	TransactionID  string         `json:"transactionId"`
	Payload        []byte         `json:"blob"`
	Note           string         `json:"note"`
}

// NewNotification creates a Notification. The note is left empty; it is set by
// the relay when the notification is accepted.
func NewNotification(recipientID string, option DeliveryOption, transactionID string, payload []byte) Notification {
	return Notification{
		RecipientID:    recipientID,
		DeliveryOption: option,
		TransactionID:  transactionID,
		Payload:        payload,
	}
}

// ArrivalNote returns the note the relay attaches to an accepted notification.
func ArrivalNote(option DeliveryOption) string {
	return fmt.Sprintf("arrived @ %s", option)
}

// NotConnectedNote returns the note reported to the producer when a notification
// is buffered because its recipient is offline.
func NotConnectedNote(recipientID string) string {
	return fmt.Sprintf("no fitted receiver connected @ specific TelematikId: %s", recipientID)
}
