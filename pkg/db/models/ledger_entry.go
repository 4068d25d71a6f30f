package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// LedgerEntry is an immutable signed stock movement. Stock for a key is the sum
// of QtyDelta over its entries; rows are never updated or deleted.
type LedgerEntry struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID  uuid.UUID           `gorm:"column:business_id;type:uuid;not null;index:ix_ledger_entries_stock_key,priority:1"`
	VariantID   uuid.UUID           `gorm:"column:variant_id;type:uuid;not null;index:ix_ledger_entries_stock_key,priority:2"`
	LocationID  *uuid.UUID          `gorm:"column:location_id;type:uuid;index:ix_ledger_entries_stock_key,priority:3"`
	QtyDelta    int64               `gorm:"column:qty_delta;not null"`
	Reason      enums.LedgerReason  `gorm:"column:reason;type:text;not null"`
	ReferenceID *uuid.UUID          `gorm:"column:reference_id;type:uuid;index"`
	UnitCost    decimal.NullDecimal `gorm:"column:unit_cost;type:numeric(12,2)"`
	Note        *string             `gorm:"column:note"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// StockKey is the lock row for a (business, variant) pair. Writers that must
// not oversell take SELECT ... FOR UPDATE on it before summing the ledger.
type StockKey struct {
	BusinessID uuid.UUID `gorm:"column:business_id;type:uuid;primaryKey"`
	VariantID  uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
