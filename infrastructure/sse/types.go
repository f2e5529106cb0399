// Package sse streams engagement events to browsers over Server-Sent Events.
package sse

import (
	"context"
	"errors"
	"time"
)

// ErrBrokerStopped is returned by Publish when the broker is not running.
var ErrBrokerStopped = errors.New("sse broker not running")

// Event is one Server-Sent Event.
// Wire format: event: <Type>\nid: <ID>\ndata: <JSON>\n\n
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	ID   string `json:"id,omitempty"`
}

// Event types streamed to clients.
const (
	EventTypeQueueChanged     = "queue:changed"
	EventTypeActivityVerified = "activity:verified"
	EventTypePurchaseSettled  = "purchase:settled"
)

const eventTypeConnected = "connected"

// Publisher sends events to the broker.
type Publisher interface {
	// Publish queues an event for every subscriber. It never blocks: a full
	// buffer drops the event and returns an error.
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the broker.
type Subscriber interface {
	// Subscribe returns a channel closed when the subscription ends, plus a
	// cleanup func. A channel that is already closed means the subscription
	// was refused.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
}

// Broker fans events out to connected clients.
type Broker interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Stop() error
	ClientCount() int
	HeartbeatInterval() time.Duration
}

// EventFilter reports whether a client wants event.
type EventFilter func(event Event) bool

// ClientOptions configures one subscription.
type ClientOptions struct {
	Filter     EventFilter
	BufferSize int
}
