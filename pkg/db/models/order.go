package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// Order is a captured sale. Status is the only column mutated after creation.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID        uuid.UUID           `gorm:"column:business_id;type:uuid;not null;index:ix_orders_business_created,priority:1"`
	CustomerID        *uuid.UUID          `gorm:"column:customer_id;type:uuid"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	Channel           enums.OrderChannel  `gorm:"column:channel;type:text;not null"`
	Status            enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	Currency          string              `gorm:"column:currency;type:text;not null;default:'USD'"`
	TotalAmount       decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	SaleID            *uuid.UUID          `gorm:"column:sale_id;type:uuid"`
	CheckoutSessionID *uuid.UUID          `gorm:"column:checkout_session_id;type:uuid;uniqueIndex"`
	Note              *string             `gorm:"column:note"`
	Items             []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime;index:ix_orders_business_created,priority:2"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is an immutable order line.
type OrderItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID  uuid.UUID       `gorm:"column:variant_id;type:uuid;not null"`
	LocationID *uuid.UUID      `gorm:"column:location_id;type:uuid"`
	Qty        int64           `gorm:"column:qty;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal  decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}
