// Package events defines the engagement lifecycle events written to the
// Redis stream, shared by the publisher and any consumer.
package events

import (
	"time"

	"github.com/google/uuid"
)

// StreamName is the Redis stream for engagement events.
const StreamName = "likechat-events"

// EventType represents the type of engagement event.
type EventType string

const (
	// LinkSubmitted indicates a user published a link into the queue.
	LinkSubmitted EventType = "LINK_SUBMITTED"
	// LinkPinned indicates an admin pinned a link to a slot.
	LinkPinned EventType = "LINK_PINNED"
	// LinkEvicted indicates a link left the queue through capacity pressure
	// or slot replacement.
	LinkEvicted EventType = "LINK_EVICTED"
	// LinkRemoved indicates an admin removed a link.
	LinkRemoved EventType = "LINK_REMOVED"
	// ActivityVerified indicates a user's engagement action was verified.
	ActivityVerified EventType = "ACTIVITY_VERIFIED"
	// PurchaseSettled indicates a purchase watch reached a terminal state.
	PurchaseSettled EventType = "PURCHASE_SETTLED"
)

// Event is the envelope for all engagement events.
type Event struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`
	UserID    int64     `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// LinkPayload contains data for LINK_* events.
type LinkPayload struct {
	LinkID     string `json:"link_id"`
	TaskType   string `json:"task_type"`
	Target     string `json:"target"`
	Pinned     bool   `json:"pinned"`
	PinnedSlot int    `json:"pinned_slot,omitempty"`
	// Reason is set on LINK_EVICTED: "capacity" or "slot_replaced".
	Reason string `json:"reason,omitempty"`
}

// ActivityPayload contains data for ACTIVITY_VERIFIED events.
type ActivityPayload struct {
	LinkID   string `json:"link_id,omitempty"`
	TaskType string `json:"task_type"`
	Strategy string `json:"strategy"`
	Hash     string `json:"hash,omitempty"`
}

// PurchasePayload contains data for PURCHASE_SETTLED events.
type PurchasePayload struct {
	AttemptID string `json:"attempt_id"`
	State     string `json:"state"`
	TxRef     string `json:"tx_ref,omitempty"`
	Checks    int    `json:"checks"`
}
