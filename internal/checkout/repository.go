package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
)

// Repository persists checkout sessions and the webhook dedup log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSession(ctx context.Context, session *models.CheckoutSession) error
	FindSession(ctx context.Context, businessID, sessionID uuid.UUID) (*models.CheckoutSession, error)
	FindSessionByToken(ctx context.Context, token string) (*models.CheckoutSession, error)
	FindByReferenceForUpdate(ctx context.Context, provider, reference string) (*models.CheckoutSession, error)
	UpdateSession(ctx context.Context, sessionID uuid.UUID, from enums.CheckoutSessionStatus, updates map[string]any) (bool, error)
	LockStaleSessions(ctx context.Context, now time.Time, limit int) ([]models.CheckoutSession, error)
	ExpireSessions(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	InsertWebhookEvent(ctx context.Context, event *models.CheckoutWebhookEvent) (bool, error)
	FindWebhookEvent(ctx context.Context, eventID string) (*models.CheckoutWebhookEvent, error)
	SaveWebhookOutcome(ctx context.Context, id uuid.UUID, sessionID *uuid.UUID, outcome json.RawMessage) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSession(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

func (r *repository) FindSession(ctx context.Context, businessID, sessionID uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := withItems(r.db.WithContext(ctx)).
		Where("id = ? AND business_id = ?", sessionID, businessID).
		Take(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindSessionByToken(ctx context.Context, token string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := withItems(r.db.WithContext(ctx)).
		Where("session_token = ?", token).
		Take(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindByReferenceForUpdate(ctx context.Context, provider, reference string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payment_provider = ? AND payment_reference = ?", provider, reference).
		Take(&session).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", session.ID).
		Order("id ASC").
		Find(&session.Items).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession applies updates only while the session still holds from.
func (r *repository) UpdateSession(ctx context.Context, sessionID uuid.UUID, from enums.CheckoutSessionStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", sessionID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LockStaleSessions claims up to limit active sessions past their expiry,
// skipping rows another sweeper or a webhook already holds.
func (r *repository) LockStaleSessions(ctx context.Context, now time.Time, limit int) ([]models.CheckoutSession, error) {
	var rows []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status IN ? AND expires_at <= ?", enums.ActiveCheckoutStatuses, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ExpireSessions(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id IN ? AND status IN ? AND expires_at <= ?", ids, enums.ActiveCheckoutStatuses, now).
		Updates(map[string]any{"status": enums.CheckoutStatusExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

// InsertWebhookEvent records the delivery; false means event_id was seen before.
func (r *repository) InsertWebhookEvent(ctx context.Context, event *models.CheckoutWebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindWebhookEvent(ctx context.Context, eventID string) (*models.CheckoutWebhookEvent, error) {
	var event models.CheckoutWebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) SaveWebhookOutcome(ctx context.Context, id uuid.UUID, sessionID *uuid.UUID, outcome json.RawMessage) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutWebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"session_id": sessionID, "outcome": outcome}).Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
