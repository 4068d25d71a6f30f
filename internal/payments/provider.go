// Package payments abstracts the hosted-checkout providers a checkout session
// can be paid through and normalizes their callbacks.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// Provider initializes a hosted checkout for a session.
type Provider interface {
	Name() string
	InitializeCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
}

// CheckoutLine is a priced line shown on the hosted page.
type CheckoutLine struct {
	VariantID uuid.UUID
	Name      string
	Qty       int64
	UnitPrice decimal.Decimal
}

// CheckoutRequest carries the frozen session contents.
type CheckoutRequest struct {
	SessionID     uuid.UUID
	SessionToken  string
	BusinessID    uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Lines         []CheckoutLine
	SuccessURL    string
	CancelURL     string
	CustomerEmail *string
	ExpiresAt     time.Time
}

// CheckoutResult is what the provider hands back: the reference its
// callbacks will quote and where to send the shopper.
type CheckoutResult struct {
	Reference   string
	CheckoutURL string
}

// WebhookEvent is a provider callback reduced to what the session state
// machine needs. EventID is the provider's delivery id and dedups replays.
type WebhookEvent struct {
	EventID          string
	Provider         string
	Type             enums.PaymentEventType
	PaymentReference string
	OccurredAt       time.Time
}

// MinorUnits converts an amount to integer cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
