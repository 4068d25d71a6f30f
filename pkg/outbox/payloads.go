package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when an order and its sale ledger entries commit.
type OrderCreatedEvent struct {
	OrderID           uuid.UUID           `json:"order_id"`
	BusinessID        uuid.UUID           `json:"business_id"`
	Channel           enums.OrderChannel  `json:"channel"`
	PaymentMethod     enums.PaymentMethod `json:"payment_method"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	Currency          string              `json:"currency"`
	ItemCount         int                 `json:"item_count"`
	CheckoutSessionID *uuid.UUID          `json:"checkout_session_id,omitempty"`
}

// OrderStatusChangedEvent reports a guarded status transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	BusinessID uuid.UUID         `json:"business_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	Restocked  bool              `json:"restocked"`
	ChangedAt  time.Time         `json:"changed_at"`
}

// CheckoutPaidEvent reports a session paid through a provider callback.
type CheckoutPaidEvent struct {
	SessionID        uuid.UUID       `json:"session_id"`
	BusinessID       uuid.UUID       `json:"business_id"`
	OrderID          uuid.UUID       `json:"order_id"`
	PaymentProvider  string          `json:"payment_provider"`
	PaymentReference string          `json:"payment_reference"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Currency         string          `json:"currency"`
	CustomerEmail    *string         `json:"customer_email,omitempty"`
}

// CheckoutExpiredEvent is emitted per session moved to expired by the sweep.
type CheckoutExpiredEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	BusinessID uuid.UUID `json:"business_id"`
	ExpiredAt  time.Time `json:"expired_at"`
}

// POSSyncCompletedEvent summarizes a reconciled offline batch.
type POSSyncCompletedEvent struct {
	BusinessID uuid.UUID            `json:"business_id"`
	Policy     enums.ConflictPolicy `json:"policy"`
	Processed  int                  `json:"processed"`
	Created    int                  `json:"created"`
	Conflicted int                  `json:"conflicted"`
	Duplicate  int                  `json:"duplicate"`
}

// StockMovedEvent is emitted for manual stock movements (stock-in, adjustments, transfers).
type StockMovedEvent struct {
	BusinessID  uuid.UUID          `json:"business_id"`
	VariantID   uuid.UUID          `json:"variant_id"`
	Reason      enums.LedgerReason `json:"reason"`
	QtyDelta    int64              `json:"qty_delta"`
	ReferenceID *uuid.UUID         `json:"reference_id,omitempty"`
}
