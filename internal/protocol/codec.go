// Package protocol defines the relay's wire format: JSON data frames carrying
// notifications, literal control commands sent by pharmacy clients and the
// greeting the relay sends when a connection is accepted.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSerialization is returned when a data frame cannot be decoded.
var ErrSerialization = errors.New("malformed frame")

// Greeting is sent by the relay immediately after accepting a connection. A
// client is not considered connected until it has received it.
const Greeting = "connected to WebSocketServerImpl"

// Command is a control frame sent by a pharmacy client.
type Command string

const (
	// CommandFetchStored asks the relay to flush the client's buffered notifications.
	CommandFetchStored Command = "call stored messages"
	// CommandClearQueue asks the relay to discard the client's buffered notifications.
	CommandClearQueue Command = "Clear Queue Serverside"
)

// FrameKind discriminates decoded text frames.
type FrameKind int

const (
	// KindSignal is any text that is neither data nor a command, such as the greeting.
	KindSignal FrameKind = iota
	KindData
	KindControl
)

func (k FrameKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindControl:
		return "control"
	default:
		return "signal"
	}
}

// Frame is a decoded text frame. Exactly one of Notification, Command or Text is
// meaningful, depending on Kind.
type Frame struct {
	Kind         FrameKind
	Notification Notification
	Command      Command
	Text         string
}

// IsGreeting reports whether the frame is the relay's connection greeting.
func (f Frame) IsGreeting() bool {
	return f.Kind == KindSignal && f.Text == Greeting
}

// Encode serializes a notification into a data frame.
func Encode(n Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return data, nil
}

// Decode classifies a text frame. Frames starting with '{' are decoded as
// notifications; the two literal commands become control frames; everything else
// is returned as a signal. A malformed data frame yields ErrSerialization.
func Decode(text []byte) (Frame, error) {
	s := string(text)
	switch {
	case strings.HasPrefix(s, "{"):
		var n Notification
		if err := json.Unmarshal(text, &n); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		return Frame{Kind: KindData, Notification: n}, nil
	case s == string(CommandFetchStored):
		return Frame{Kind: KindControl, Command: CommandFetchStored}, nil
	case s == string(CommandClearQueue):
		return Frame{Kind: KindControl, Command: CommandClearQueue}, nil
	default:
		return Frame{Kind: KindSignal, Text: s}, nil
	}
}
