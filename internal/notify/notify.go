package notify

import (
	"context"
	"errors"
)

// ErrUnreachable marks a delivery that never got a connection to the server.
var ErrUnreachable = errors.New("smtp server unreachable")

// Message is a rendered email ready for delivery.
type Message struct {
	Subject string
	Body    string
	HTML    bool
}

// Delivery is the outcome of one recipient's attempt.
type Delivery struct {
	Recipient string
	Err       error
	TimedOut  bool
	// Unreachable is set when the server refused or never answered the dial.
	Unreachable bool
}

func (d Delivery) OK() bool { return d.Err == nil }

// Mailer delivers msg to every recipient in order and never aborts the batch
// on a single failure.
type Mailer interface {
	Deliver(ctx context.Context, msg Message, recipients []string) []Delivery
}
