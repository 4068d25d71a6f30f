package payments

import (
	"context"
	"encoding/json"
	"strings"

	stripego "github.com/stripe/stripe-go/v84"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/stripe"
)

type stripeCheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (*stripego.CheckoutSession, error)
}

// StripeProvider opens Stripe Checkout Sessions in payment mode.
type StripeProvider struct {
	client stripeCheckoutClient
}

func NewStripeProvider(client stripeCheckoutClient) *StripeProvider {
	return &StripeProvider{client: client}
}

func (p *StripeProvider) Name() string {
	return config.PaymentProviderStripe
}

func (p *StripeProvider) InitializeCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	params := stripe.CheckoutParams{
		ClientReferenceID: req.SessionToken,
		Currency:          req.Currency,
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		ExpiresAtUnix:     req.ExpiresAt.Unix(),
		IdempotencyKey:    "checkout-" + req.SessionID.String(),
		Metadata: map[string]string{
			"session_id":  req.SessionID.String(),
			"business_id": req.BusinessID.String(),
		},
	}
	if req.CustomerEmail != nil {
		params.CustomerEmail = *req.CustomerEmail
	}
	for _, line := range req.Lines {
		params.Lines = append(params.Lines, stripe.CheckoutLine{
			Name:            lineName(line),
			UnitAmountCents: MinorUnits(line.UnitPrice),
			Quantity:        line.Qty,
		})
	}
	cs, err := p.client.CreateCheckoutSession(ctx, params)
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Reference: cs.ID, CheckoutURL: cs.URL}, nil
}

// NormalizeStripeEvent maps Checkout Session events onto payment events. The
// bool is false for event types the checkout flow ignores.
func NormalizeStripeEvent(event stripego.Event) (WebhookEvent, bool, error) {
	var typ enums.PaymentEventType
	switch event.Type {
	case stripego.EventTypeCheckoutSessionCompleted:
		typ = enums.PaymentEventPending
	case stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		typ = enums.PaymentEventSucceeded
	case stripego.EventTypeCheckoutSessionAsyncPaymentFailed:
		typ = enums.PaymentEventFailed
	case stripego.EventTypeCheckoutSessionExpired:
		typ = enums.PaymentEventCancelled
	default:
		return WebhookEvent{}, false, nil
	}
	if event.Data == nil {
		return WebhookEvent{}, false, nil
	}

	var cs stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return WebhookEvent{}, false, err
	}
	if event.Type == stripego.EventTypeCheckoutSessionCompleted && cs.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid {
		typ = enums.PaymentEventSucceeded
	}

	out := WebhookEvent{
		EventID:          event.ID,
		Provider:         config.PaymentProviderStripe,
		Type:             typ,
		PaymentReference: cs.ID,
	}
	if event.Created > 0 {
		out.OccurredAt = unixUTC(event.Created)
	}
	return out, true, nil
}

func lineName(line CheckoutLine) string {
	if name := strings.TrimSpace(line.Name); name != "" {
		return name
	}
	return "Item " + line.VariantID.String()[:8]
}
