package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/pagination"
)

// LedgerRepository persists and aggregates ledger entries. Every method is
// scoped by business id.
type LedgerRepository interface {
	WithTx(tx *gorm.DB) LedgerRepository
	LockKey(ctx context.Context, businessID, variantID uuid.UUID) error
	SumQty(ctx context.Context, key StockKey) (int64, error)
	Create(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context, businessID, variantID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error)
	ListByReference(ctx context.Context, businessID, referenceID uuid.UUID, reason enums.LedgerReason) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) LedgerRepository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) LedgerRepository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockKey makes sure the stock_keys row exists, then row-locks it until the
// surrounding transaction ends.
func (r *repository) LockKey(ctx context.Context, businessID, variantID uuid.UUID) error {
	key := models.StockKey{BusinessID: businessID, VariantID: variantID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&key).Error; err != nil {
		return err
	}
	var locked models.StockKey
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND variant_id = ?", businessID, variantID).
		Take(&locked).Error
}

func (r *repository) SumQty(ctx context.Context, key StockKey) (int64, error) {
	var total int64
	q := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(qty_delta), 0)").
		Where("business_id = ? AND variant_id = ?", key.BusinessID, key.VariantID)
	if key.LocationID != nil {
		q = q.Where("location_id = ?", *key.LocationID)
	}
	if err := q.Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, businessID, variantID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	q := r.db.WithContext(ctx).
		Where("business_id = ? AND variant_id = ?", businessID, variantID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var entries []models.LedgerEntry
	if err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByReference(ctx context.Context, businessID, referenceID uuid.UUID, reason enums.LedgerReason) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("business_id = ? AND reference_id = ? AND reason = ?", businessID, referenceID, reason).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
