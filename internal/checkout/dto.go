package checkout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

// ConflictInsufficientStock marks a session failed because stock ran out
// between session creation and payment.
const ConflictInsufficientStock = "insufficient_stock"

// CreateSessionInput opens a checkout session for a storefront cart.
type CreateSessionInput struct {
	BusinessID    uuid.UUID
	Items         []orders.LineItemInput
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerID    *uuid.UUID
	CustomerEmail *string
	Actor         *outbox.ActorRef
}

// WebhookResult is returned for every delivery. Replays carry the first
// delivery's result with Duplicate set.
type WebhookResult struct {
	EventID      string                      `json:"event_id"`
	Duplicate    bool                        `json:"duplicate"`
	Applied      bool                        `json:"applied"`
	SessionID    *uuid.UUID                  `json:"session_id,omitempty"`
	Status       enums.CheckoutSessionStatus `json:"status,omitempty"`
	OrderID      *uuid.UUID                  `json:"order_id,omitempty"`
	ConflictCode string                      `json:"conflict_code,omitempty"`
}

// SessionDTO is the API shape of a checkout session.
type SessionDTO struct {
	ID               uuid.UUID                   `json:"id"`
	BusinessID       uuid.UUID                   `json:"business_id"`
	SessionToken     string                      `json:"session_token"`
	Status           enums.CheckoutSessionStatus `json:"status"`
	Currency         string                      `json:"currency"`
	TotalAmount      decimal.Decimal             `json:"total_amount"`
	PaymentProvider  string                      `json:"payment_provider"`
	PaymentReference *string                     `json:"payment_reference,omitempty"`
	CheckoutURL      *string                     `json:"checkout_url,omitempty"`
	CustomerID       *uuid.UUID                  `json:"customer_id,omitempty"`
	OrderID          *uuid.UUID                  `json:"order_id,omitempty"`
	ExpiresAt        time.Time                   `json:"expires_at"`
	PaidAt           *time.Time                  `json:"paid_at,omitempty"`
	Items            []SessionItemDTO            `json:"items"`
	CreatedAt        time.Time                   `json:"created_at"`
}

type SessionItemDTO struct {
	VariantID  uuid.UUID       `json:"variant_id"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"`
	Qty        int64           `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

func toSessionDTO(s *models.CheckoutSession) *SessionDTO {
	dto := &SessionDTO{
		ID:               s.ID,
		BusinessID:       s.BusinessID,
		SessionToken:     s.SessionToken,
		Status:           s.Status,
		Currency:         s.Currency,
		TotalAmount:      s.TotalAmount,
		PaymentProvider:  s.PaymentProvider,
		PaymentReference: s.PaymentReference,
		CheckoutURL:      s.CheckoutURL,
		CustomerID:       s.CustomerID,
		OrderID:          s.OrderID,
		ExpiresAt:        s.ExpiresAt.UTC(),
		PaidAt:           s.PaidAt,
		CreatedAt:        s.CreatedAt.UTC(),
		Items:            make([]SessionItemDTO, 0, len(s.Items)),
	}
	for _, item := range s.Items {
		dto.Items = append(dto.Items, SessionItemDTO{
			VariantID:  item.VariantID,
			LocationID: item.LocationID,
			Qty:        item.Qty,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}
	return dto
}

func decimalFromInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}
