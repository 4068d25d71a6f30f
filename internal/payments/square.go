package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/square"
)

type squareOrderClient interface {
	CreateOrder(ctx context.Context, params square.OrderCreateParams) (*sq.Order, error)
}

// SquareProvider registers a Square order per session; the storefront
// collects the card against it and payment.* webhooks quote its id.
type SquareProvider struct {
	client  squareOrderClient
	baseURL string
}

func NewSquareProvider(client squareOrderClient, baseURL string) *SquareProvider {
	return &SquareProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *SquareProvider) Name() string {
	return config.PaymentProviderSquare
}

func (p *SquareProvider) InitializeCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	params := square.OrderCreateParams{
		ReferenceID:    req.SessionToken,
		Currency:       req.Currency,
		IdempotencyKey: "checkout-" + req.SessionID.String(),
	}
	for _, line := range req.Lines {
		params.Lines = append(params.Lines, square.OrderLine{
			Name:        lineName(line),
			Quantity:    line.Qty,
			AmountCents: MinorUnits(line.UnitPrice),
		})
	}
	order, err := p.client.CreateOrder(ctx, params)
	if err != nil {
		return CheckoutResult{}, err
	}
	if order == nil || order.GetID() == nil {
		return CheckoutResult{}, fmt.Errorf("square order id missing")
	}
	orderID := *order.GetID()
	return CheckoutResult{
		Reference:   orderID,
		CheckoutURL: fmt.Sprintf("%s/pay/square/%s", p.baseURL, req.SessionToken),
	}, nil
}

// SquareWebhookEvent is the subset of a Square notification used for payments.
type SquareWebhookEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment *struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// NormalizeSquareEvent maps payment.created/payment.updated notifications by
// payment status. The bool is false for anything else.
func NormalizeSquareEvent(event SquareWebhookEvent) (WebhookEvent, bool) {
	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
	default:
		return WebhookEvent{}, false
	}
	payment := event.Data.Object.Payment
	if payment == nil || payment.OrderID == "" {
		return WebhookEvent{}, false
	}

	var typ enums.PaymentEventType
	switch strings.ToUpper(payment.Status) {
	case "COMPLETED":
		typ = enums.PaymentEventSucceeded
	case "APPROVED", "PENDING":
		typ = enums.PaymentEventPending
	case "FAILED":
		typ = enums.PaymentEventFailed
	case "CANCELED":
		typ = enums.PaymentEventCancelled
	default:
		return WebhookEvent{}, false
	}

	out := WebhookEvent{
		EventID:          event.EventID,
		Provider:         config.PaymentProviderSquare,
		Type:             typ,
		PaymentReference: payment.OrderID,
	}
	if ts, err := time.Parse(time.RFC3339, event.CreatedAt); err == nil {
		out.OccurredAt = ts.UTC()
	}
	return out, true
}
