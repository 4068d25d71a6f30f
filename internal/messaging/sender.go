package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/pubsub"
)

const (
	SenderLog    = "log"
	SenderPubSub = "pubsub"

	publishTimeout = 10 * time.Second
)

// Message is a notification addressed to a customer or to the business' staff.
type Message struct {
	Kind       string            `json:"kind"`
	BusinessID uuid.UUID         `json:"business_id"`
	Recipient  string            `json:"recipient,omitempty"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Sender delivers notifications. Callers treat failures as non-fatal.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the structured log. Used locally and in tests.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Name() string { return SenderLog }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if s.logg == nil {
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"kind":        msg.Kind,
		"business_id": msg.BusinessID.String(),
		"recipient":   msg.Recipient,
		"subject":     msg.Subject,
	})
	s.logg.Info(logCtx, "notification sent")
	return nil
}

// PubSubSender publishes notifications to the notifications topic for a
// downstream delivery worker.
type PubSubSender struct {
	publisher pubsub.Publisher
}

func NewPubSubSender(publisher pubsub.Publisher) (*PubSubSender, error) {
	if publisher == nil {
		return nil, fmt.Errorf("notification publisher required")
	}
	return &PubSubSender{publisher: publisher}, nil
}

func (s *PubSubSender) Name() string { return SenderPubSub }

func (s *PubSubSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	attrs := map[string]string{
		"kind":        msg.Kind,
		"business_id": msg.BusinessID.String(),
	}
	for k, v := range msg.Attributes {
		attrs[k] = v
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := s.publisher.Publish(publishCtx, &gcppubsub.Message{Data: data, Attributes: attrs})
	if result == nil {
		return fmt.Errorf("publisher returned no result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// New picks the sender named by IBOS_MESSAGING_SENDER.
func New(cfg config.MessagingConfig, notifications pubsub.Publisher, logg *logger.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sender)) {
	case "", SenderLog:
		return NewLogSender(logg), nil
	case SenderPubSub:
		return NewPubSubSender(notifications)
	default:
		return nil, fmt.Errorf("unknown messaging sender %q", cfg.Sender)
	}
}
