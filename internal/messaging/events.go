package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

// FromEvent turns a notification-worthy domain event into a message.
// ok is false for events nobody is notified about.
func FromEvent(eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (Message, bool, error) {
	switch eventType {
	case enums.EventOrderCreated:
		var data outbox.OrderCreatedEvent
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Message{}, false, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return Message{
			Kind:       string(eventType),
			BusinessID: data.BusinessID,
			Subject:    fmt.Sprintf("New %s order", data.Channel),
			Body: fmt.Sprintf("Order %s for %s %s (%d items) was placed.",
				data.OrderID, data.TotalAmount.StringFixed(2), data.Currency, data.ItemCount),
			Attributes: map[string]string{"order_id": data.OrderID.String(), "event_id": env.EventID},
		}, true, nil
	case enums.EventCheckoutPaid:
		var data outbox.CheckoutPaidEvent
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Message{}, false, fmt.Errorf("decode %s: %w", eventType, err)
		}
		msg := Message{
			Kind:       string(eventType),
			BusinessID: data.BusinessID,
			Subject:    "Payment received",
			Body: fmt.Sprintf("We received your payment of %s %s. Your order reference is %s.",
				data.TotalAmount.StringFixed(2), data.Currency, data.OrderID),
			Attributes: map[string]string{"order_id": data.OrderID.String(), "session_id": data.SessionID.String(), "event_id": env.EventID},
		}
		if data.CustomerEmail != nil {
			msg.Recipient = *data.CustomerEmail
		}
		return msg, true, nil
	default:
		return Message{}, false, nil
	}
}
