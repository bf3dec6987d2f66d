package events

import "context"

// Streams
const (
	StreamTask   = "events:task"
	StreamNotify = "events:notify"
)

// Event types
const (
	EventTaskStatusChanged = "task_status_changed"
	EventOfferCreated      = "offer_created"
	EventOfferResolved     = "offer_resolved"
	EventDisputeOpened     = "dispute_opened"
	EventDisputeResolved   = "dispute_resolved"
	EventTagSuggestion     = "tag_suggestion"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
