// Package notification delivers outbound messages through a queue to a
// messaging gateway. Delivery is best effort.
package notification

import (
	"errors"
	"time"
)

// ErrQueueFull is returned when a bounded queue cannot accept more messages.
var ErrQueueFull = errors.New("notification queue full")

// Message is one outbound notification.
type Message struct {
	To         []string  `json:"to"`
	Body       string    `json:"message"`
	CaseID     string    `json:"case_id,omitempty"`
	Kind       string    `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
