package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// OfflineOrderSyncEvent records the outcome of one POS offline order so
// client retries replay the same decision.
type OfflineOrderSyncEvent struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID    uuid.UUID         `gorm:"column:business_id;type:uuid;not null;uniqueIndex:ux_offline_order_sync_events_business_client,priority:1"`
	ClientEventID string            `gorm:"column:client_event_id;not null;uniqueIndex:ux_offline_order_sync_events_business_client,priority:2"`
	Outcome       enums.SyncOutcome `gorm:"column:outcome;type:text;not null"`
	OrderID       *uuid.UUID        `gorm:"column:order_id;type:uuid"`
	ConflictCode  *string           `gorm:"column:conflict_code"`
	Note          *string           `gorm:"column:note"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}
