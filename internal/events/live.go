package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	infraevents "github.com/jonesrussell/north-cloud/likechat/infrastructure/events"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/sse"
)

// AsyncPublisher accepts events without blocking the caller.
type AsyncPublisher interface {
	PublishAsync(event infraevents.Event)
}

// Fanout sends every event to each of its publishers. Nil entries are skipped.
type Fanout []AsyncPublisher

// PublishAsync forwards event to every publisher.
func (f Fanout) PublishAsync(event infraevents.Event) {
	for _, p := range f {
		if p != nil {
			p.PublishAsync(event)
		}
	}
}

// LiveFeed forwards engagement events to browsers connected to the SSE broker.
type LiveFeed struct {
	broker sse.Publisher
	log    infralogger.Logger
}

// NewLiveFeed returns nil when broker is nil.
func NewLiveFeed(broker sse.Publisher, log infralogger.Logger) *LiveFeed {
	if broker == nil {
		return nil
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &LiveFeed{broker: broker, log: log}
}

// PublishAsync maps event to its SSE type and hands it to the broker.
// The broker never blocks, so this runs inline.
func (l *LiveFeed) PublishAsync(event infraevents.Event) {
	if l == nil {
		return
	}
	out, ok := toSSE(event)
	if !ok {
		return
	}
	if err := l.broker.Publish(context.Background(), out); err != nil {
		l.log.Debug("Live feed dropped event",
			infralogger.String("event_type", string(event.EventType)),
			infralogger.Error(err),
		)
	}
}

// LiveData is the payload of every live feed event.
type LiveData struct {
	EventType infraevents.EventType `json:"event_type"`
	UserID    int64                 `json:"user_id,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Payload   any                   `json:"payload,omitempty"`
}

func toSSE(event infraevents.Event) (sse.Event, bool) {
	var sseType string
	switch event.EventType {
	case infraevents.LinkSubmitted, infraevents.LinkPinned, infraevents.LinkEvicted, infraevents.LinkRemoved:
		sseType = sse.EventTypeQueueChanged
	case infraevents.ActivityVerified:
		sseType = sse.EventTypeActivityVerified
	case infraevents.PurchaseSettled:
		sseType = sse.EventTypePurchaseSettled
	default:
		return sse.Event{}, false
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	out := sse.Event{
		Type: sseType,
		Data: LiveData{
			EventType: event.EventType,
			UserID:    event.UserID,
			Timestamp: ts,
			Payload:   event.Payload,
		},
	}
	if event.EventID != uuid.Nil {
		out.ID = event.EventID.String()
	}
	return out, true
}
