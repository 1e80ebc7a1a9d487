package queue

import "fmt"

// Overflow policies applied when a recipient's buffer is full.
const (
	OverflowReject      = "reject"
	OverflowEvictOldest = "evict_oldest"
)

// Config holds configuration for the notification buffer.
type Config struct {
	// MaxPerRecipient caps the buffered notifications per recipient. Zero means
	// unbounded.
	MaxPerRecipient int `mapstructure:"max_per_recipient"`
	// Overflow selects what happens when the cap is reached: "reject" (default)
	// or "evict_oldest".
	Overflow string `mapstructure:"overflow"`
}

// DefaultConfig returns an unbounded Config.
func DefaultConfig() Config {
	return Config{
		MaxPerRecipient: 0,
		Overflow:        OverflowReject,
	}
}

// Validate checks the overflow policy and cap.
func (c Config) Validate() error {
	if c.MaxPerRecipient < 0 {
		return fmt.Errorf("queue.max_per_recipient must not be negative, got %d", c.MaxPerRecipient)
	}
	switch c.Overflow {
	case "", OverflowReject, OverflowEvictOldest:
		return nil
	default:
		return fmt.Errorf("queue.overflow must be %q or %q, got %q", OverflowReject, OverflowEvictOldest, c.Overflow)
	}
}
