package session

import (
	"context"
	"errors"
)

// EventKind identifies a lifecycle event emitted by a Gateway.
type EventKind string

const (
	EventPairingCode  EventKind = "pairing_code"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
)

// Event is a lifecycle notification from the delivery gateway.
type Event struct {
	Kind        EventKind
	Code        string // EventPairingCode
	BoundNumber string // EventReady
}

// Gateway is the capability the Controller needs from a messaging client.
// Implementations call the subscribed handler for every lifecycle event,
// possibly from their own goroutines.
type Gateway interface {
	Subscribe(handler func(Event))
	// Initialize brings the channel up. It may block on network I/O; the
	// Controller always runs it in the background.
	Initialize(ctx context.Context) error
	// Destroy releases every resource. It must be safe to call more than once.
	Destroy()
}

// Factory creates a fresh Gateway for each connect attempt.
type Factory func(ctx context.Context) (Gateway, error)

// Delivery is an outbound invoice message.
type Delivery struct {
	To       string // phone number, digits with optional leading +
	Text     string // message body, or caption when Document is set
	Document []byte
	FileName string
}

// ErrInvalidDelivery is wrapped by Deliverer errors caused by the request
// itself (bad recipient, empty message) rather than by the channel.
var ErrInvalidDelivery = errors.New("session: invalid delivery")

// Deliverer is implemented by gateways that can send messages.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Recorder observes transitions; the production implementation exports Prometheus metrics.
type Recorder interface {
	Transition(kind string, outcome string)
	Status(Status)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, string) {}
func (nopRecorder) Status(Status)             {}
