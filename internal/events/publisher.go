// Package events publishes engagement lifecycle events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	infraevents "github.com/jonesrussell/north-cloud/likechat/infrastructure/events"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

const (
	// asyncPublishTimeout is the context timeout for async publish operations.
	asyncPublishTimeout = 5 * time.Second
	defaultMaxLen       = 10000
)

// Publisher publishes engagement events to a Redis stream. A nil *Publisher
// is valid and publishes nothing.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	log    infralogger.Logger
}

// NewPublisher creates a new event publisher.
// Returns nil if client is nil.
func NewPublisher(client *redis.Client, stream string, maxLen int64, log infralogger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = infraevents.StreamName
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen, log: log}
}

// Publish sends an event to the stream.
func (p *Publisher) Publish(ctx context.Context, event infraevents.Event) error {
	if p == nil || p.client == nil {
		return nil
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_type": string(event.EventType),
			"event":      string(payload),
		},
	})
	if publishErr := result.Err(); publishErr != nil {
		p.log.Error("Failed to publish event",
			infralogger.String("event_type", string(event.EventType)),
			infralogger.Error(publishErr),
		)
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	p.log.Debug("Published event",
		infralogger.String("event_type", string(event.EventType)),
		infralogger.String("stream_id", result.Val()),
	)
	return nil
}

// PublishAsync publishes an event asynchronously.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event infraevents.Event) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()

		if err := p.Publish(ctx, event); err != nil {
			p.log.Warn("Async publish failed",
				infralogger.String("event_type", string(event.EventType)),
				infralogger.Error(err),
			)
		}
	}()
}

// LinkEvent builds a LINK_* event for rec.
func LinkEvent(eventType infraevents.EventType, rec *domain.LinkRecord, reason string) infraevents.Event {
	return infraevents.Event{
		EventType: eventType,
		UserID:    rec.SubmitterID,
		Payload: infraevents.LinkPayload{
			LinkID:     rec.ID,
			TaskType:   rec.TaskType.String(),
			Target:     rec.Target.Key(),
			Pinned:     rec.Pinned,
			PinnedSlot: rec.PinnedSlot,
			Reason:     reason,
		},
	}
}
