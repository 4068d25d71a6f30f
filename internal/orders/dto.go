package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

// LineItemInput is one requested order line.
type LineItemInput struct {
	VariantID  uuid.UUID       `json:"variant_id" validate:"required"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"`
	Qty        int64           `json:"qty" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// CreateOrderInput carries everything needed to capture a sale.
type CreateOrderInput struct {
	BusinessID        uuid.UUID
	CustomerID        *uuid.UUID
	PaymentMethod     enums.PaymentMethod
	Channel           enums.OrderChannel
	Currency          string
	SaleID            *uuid.UUID
	CheckoutSessionID *uuid.UUID
	Note              string
	Items             []LineItemInput
	Actor             *outbox.ActorRef
}

// TransitionInput requests a guarded status change.
type TransitionInput struct {
	BusinessID uuid.UUID
	OrderID    uuid.UUID
	Target     enums.OrderStatus
	Actor      *outbox.ActorRef
}

// TransitionResult reports what a transition did.
type TransitionResult struct {
	Order     *OrderDTO `json:"order"`
	From      string    `json:"from"`
	Restocked bool      `json:"restocked"`
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status     *enums.OrderStatus
	Channel    *enums.OrderChannel
	CustomerID *uuid.UUID
}

// OrderDTO is the API shape of an order.
type OrderDTO struct {
	ID                uuid.UUID           `json:"id"`
	BusinessID        uuid.UUID           `json:"business_id"`
	CustomerID        *uuid.UUID          `json:"customer_id,omitempty"`
	PaymentMethod     enums.PaymentMethod `json:"payment_method"`
	Channel           enums.OrderChannel  `json:"channel"`
	Status            enums.OrderStatus   `json:"status"`
	Currency          string              `json:"currency"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	SaleID            *uuid.UUID          `json:"sale_id,omitempty"`
	CheckoutSessionID *uuid.UUID          `json:"checkout_session_id,omitempty"`
	Note              *string             `json:"note,omitempty"`
	Items             []OrderItemDTO      `json:"items,omitempty"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
}

type OrderItemDTO struct {
	ID         uuid.UUID       `json:"id"`
	VariantID  uuid.UUID       `json:"variant_id"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"`
	Qty        int64           `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
}
