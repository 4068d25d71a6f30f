package possync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/pkg/db"
	"github.com/monidesk/ibos-backend/pkg/db/models"
)

const dedupConstraint = "ux_offline_order_sync_events_business_client"

// ErrAlreadyRecorded is returned by Record when another writer stored the
// same (business_id, client_event_id) first.
var ErrAlreadyRecorded = errors.New("offline order already recorded")

// Repository stores one decision per offline order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, businessID uuid.UUID, clientEventID string) (*models.OfflineOrderSyncEvent, error)
	Record(ctx context.Context, event *models.OfflineOrderSyncEvent) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns nil, nil when the event has not been seen.
func (r *repository) Find(ctx context.Context, businessID uuid.UUID, clientEventID string) (*models.OfflineOrderSyncEvent, error) {
	var event models.OfflineOrderSyncEvent
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND client_event_id = ?", businessID, clientEventID).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) Record(ctx context.Context, event *models.OfflineOrderSyncEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if db.IsUniqueViolation(err, "") {
		return ErrAlreadyRecorded
	}
	return err
}
