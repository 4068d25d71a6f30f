package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// CheckoutSession is an expiring cart-plus-payment-intent that may culminate in one Order.
type CheckoutSession struct {
	ID               uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID       uuid.UUID                   `gorm:"column:business_id;type:uuid;not null;index"`
	SessionToken     string                      `gorm:"column:session_token;not null;uniqueIndex"`
	Status           enums.CheckoutSessionStatus `gorm:"column:status;type:text;not null;default:'open';index:ix_checkout_sessions_status_expires,priority:1"`
	Currency         string                      `gorm:"column:currency;type:text;not null"`
	TotalAmount      decimal.Decimal             `gorm:"column:total_amount;type:numeric(12,2);not null"`
	PaymentProvider  string                      `gorm:"column:payment_provider;type:text;not null"`
	PaymentReference *string                     `gorm:"column:payment_reference;uniqueIndex"`
	CheckoutURL      *string                     `gorm:"column:checkout_url"`
	SuccessURL       string                      `gorm:"column:success_url;not null"`
	CancelURL        string                      `gorm:"column:cancel_url;not null"`
	CustomerID       *uuid.UUID                  `gorm:"column:customer_id;type:uuid"`
	CustomerEmail    *string                     `gorm:"column:customer_email"`
	OrderID          *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	ExpiresAt        time.Time                   `gorm:"column:expires_at;not null;index:ix_checkout_sessions_status_expires,priority:2"`
	PaidAt           *time.Time                  `gorm:"column:paid_at"`
	Items            []CheckoutSessionItem       `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

// CheckoutSessionItem is an immutable line captured when the session is created.
type CheckoutSessionItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SessionID  uuid.UUID       `gorm:"column:session_id;type:uuid;not null;index"`
	VariantID  uuid.UUID       `gorm:"column:variant_id;type:uuid;not null"`
	LocationID *uuid.UUID      `gorm:"column:location_id;type:uuid"`
	Qty        int64           `gorm:"column:qty;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal  decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
}

// CheckoutWebhookEvent is the dedup record for a payment provider callback.
// Outcome holds the JSON result returned the first time so replays can echo it.
type CheckoutWebhookEvent struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID          string          `gorm:"column:event_id;not null;uniqueIndex:ux_checkout_webhook_events_event_id"`
	Provider         string          `gorm:"column:provider;type:text;not null"`
	EventType        string          `gorm:"column:event_type;type:text;not null"`
	PaymentReference string          `gorm:"column:payment_reference;not null"`
	SessionID        *uuid.UUID      `gorm:"column:session_id;type:uuid"`
	Outcome          json.RawMessage `gorm:"column:outcome;type:jsonb"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}
