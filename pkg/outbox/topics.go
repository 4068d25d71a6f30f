package outbox

import (
	"fmt"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
)

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// ResolvedEvent is an outbox row with its decoded envelope and destination topic.
type ResolvedEvent struct {
	Topic    string
	Envelope PayloadEnvelope
	Notify   bool
}

// TopicRouter maps event types to Pub/Sub topics.
type TopicRouter struct {
	topics map[enums.OutboxEventType]string
}

func NewTopicRouter(cfg config.PubSubConfig) (*TopicRouter, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	topics := map[enums.OutboxEventType]string{
		enums.EventOrderCreated:       cfg.DomainTopic,
		enums.EventOrderStatusChanged: cfg.DomainTopic,
		enums.EventCheckoutPaid:       cfg.DomainTopic,
		enums.EventCheckoutExpired:    cfg.DomainTopic,
		enums.EventPOSSyncCompleted:   cfg.DomainTopic,
		enums.EventStockMoved:         cfg.DomainTopic,
	}
	return &TopicRouter{topics: topics}, nil
}

// Resolve decodes the stored envelope and picks the destination topic.
// Unknown event types and undecodable payloads are non-retryable.
func (r *TopicRouter) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	topic, ok := r.topics[event.EventType]
	if !ok {
		return nil, NonRetryableError{Err: fmt.Errorf("no topic registered for %s", event.EventType)}
	}
	env, err := DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NonRetryableError{Err: fmt.Errorf("decode envelope %s: %w", event.ID, err)}
	}
	return &ResolvedEvent{Topic: topic, Envelope: env, Notify: event.EventType.Notifies()}, nil
}
