package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/outbox"
	"github.com/monidesk/ibos-backend/pkg/pagination"
)

// StockKey addresses one stock figure. A nil LocationID aggregates every location.
type StockKey struct {
	BusinessID uuid.UUID
	VariantID  uuid.UUID
	LocationID *uuid.UUID
}

// Service owns every write to the ledger and every stock read.
type Service interface {
	GetStock(ctx context.Context, key StockKey) (int64, error)
	StockTx(ctx context.Context, tx *gorm.DB, key StockKey) (int64, error)
	LockStock(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, variantIDs []uuid.UUID) error
	AppendEntry(ctx context.Context, tx *gorm.DB, input AppendEntryInput) (*models.LedgerEntry, error)
	EntriesForReference(ctx context.Context, tx *gorm.DB, businessID, referenceID uuid.UUID, reason enums.LedgerReason) ([]models.LedgerEntry, error)
	RecordMovement(ctx context.Context, input MovementInput) ([]models.LedgerEntry, error)
	ListEntries(ctx context.Context, businessID, variantID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AppendEntryInput is one signed ledger movement.
type AppendEntryInput struct {
	BusinessID  uuid.UUID
	VariantID   uuid.UUID
	LocationID  *uuid.UUID
	QtyDelta    int64
	Reason      enums.LedgerReason
	ReferenceID *uuid.UUID
	UnitCost    *decimal.Decimal
	Note        string
}

// MovementInput is a manual stock movement submitted by staff.
type MovementInput struct {
	BusinessID   uuid.UUID
	VariantID    uuid.UUID
	LocationID   *uuid.UUID
	ToLocationID *uuid.UUID
	Reason       enums.LedgerReason
	// Qty is unsigned for stock_in/return/transfer and signed for adjustment.
	Qty         int64
	UnitCost    *decimal.Decimal
	ReferenceID *uuid.UUID
	Note        string
}

type ServiceParams struct {
	Repo     LedgerRepository
	TxRunner txRunner
	Outbox   outboxEmitter
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo   LedgerRepository
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		tx:     params.TxRunner,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func (s *service) GetStock(ctx context.Context, key StockKey) (int64, error) {
	return s.StockTx(ctx, nil, key)
}

// StockTx recomputes stock from the ledger. Pass the caller's transaction to
// read behind a lock taken with LockStock.
func (s *service) StockTx(ctx context.Context, tx *gorm.DB, key StockKey) (int64, error) {
	if err := validateKey(key.BusinessID, key.VariantID); err != nil {
		return 0, err
	}
	total, err := s.repo.WithTx(tx).SumQty(ctx, key)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger")
	}
	return total, nil
}

// LockStock row-locks each variant's stock key in a stable order so two
// transactions touching overlapping variants cannot deadlock.
func (s *service) LockStock(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, variantIDs []uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	ordered := uniqueSorted(variantIDs)
	repo := s.repo.WithTx(tx)
	for _, variantID := range ordered {
		if err := validateKey(businessID, variantID); err != nil {
			return err
		}
		if err := repo.LockKey(ctx, businessID, variantID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock key")
		}
	}
	return nil
}

func (s *service) AppendEntry(ctx context.Context, tx *gorm.DB, input AppendEntryInput) (*models.LedgerEntry, error) {
	if err := validateKey(input.BusinessID, input.VariantID); err != nil {
		return nil, err
	}
	if input.QtyDelta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty_delta must be non-zero")
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger reason %q", input.Reason))
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit_cost must not be negative")
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		BusinessID:  input.BusinessID,
		VariantID:   input.VariantID,
		LocationID:  input.LocationID,
		QtyDelta:    input.QtyDelta,
		Reason:      input.Reason,
		ReferenceID: input.ReferenceID,
		CreatedAt:   s.now().UTC(),
	}
	if input.UnitCost != nil {
		entry.UnitCost = decimal.NewNullDecimal(*input.UnitCost)
	}
	if note := strings.TrimSpace(input.Note); note != "" {
		entry.Note = &note
	}

	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	return entry, nil
}

func (s *service) EntriesForReference(ctx context.Context, tx *gorm.DB, businessID, referenceID uuid.UUID, reason enums.LedgerReason) ([]models.LedgerEntry, error) {
	entries, err := s.repo.WithTx(tx).ListByReference(ctx, businessID, referenceID, reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries by reference")
	}
	return entries, nil
}

// checkVariantTotal keeps the variant's total stock non-negative after the
// movement's net change. A transfer nets to zero and always passes.
func (s *service) checkVariantTotal(ctx context.Context, tx *gorm.DB, input MovementInput, legs []AppendEntryInput) error {
	var net int64
	for _, leg := range legs {
		net += leg.QtyDelta
	}
	if net >= 0 {
		return nil
	}
	return s.ensureCovers(ctx, tx, StockKey{BusinessID: input.BusinessID, VariantID: input.VariantID}, -net)
}

func (s *service) ensureCovers(ctx context.Context, tx *gorm.DB, key StockKey, requested int64) error {
	available, err := s.StockTx(ctx, tx, key)
	if err != nil {
		return err
	}
	if available < requested {
		return InsufficientStock(Shortfall{
			VariantID:  key.VariantID,
			LocationID: key.LocationID,
			Requested:  requested,
			Available:  available,
		})
	}
	return nil
}

// RecordMovement applies a manual stock movement in its own transaction.
// Decrements are checked against the locked ledger so stock never goes negative.
func (s *service) RecordMovement(ctx context.Context, input MovementInput) ([]models.LedgerEntry, error) {
	legs, err := movementLegs(input)
	if err != nil {
		return nil, err
	}

	var written []models.LedgerEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.LockStock(ctx, tx, input.BusinessID, []uuid.UUID{input.VariantID}); err != nil {
			return err
		}
		if err := s.checkVariantTotal(ctx, tx, input, legs); err != nil {
			return err
		}
		for _, leg := range legs {
			if leg.QtyDelta < 0 && leg.LocationID != nil {
				if err := s.ensureCovers(ctx, tx, StockKey{BusinessID: leg.BusinessID, VariantID: leg.VariantID, LocationID: leg.LocationID}, -leg.QtyDelta); err != nil {
					return err
				}
			}
			entry, err := s.AppendEntry(ctx, tx, leg)
			if err != nil {
				return err
			}
			written = append(written, *entry)
		}

		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockMoved,
			AggregateType: enums.AggregateStock,
			AggregateID:   input.VariantID,
			BusinessID:    input.BusinessID,
			Data: outbox.StockMovedEvent{
				BusinessID:  input.BusinessID,
				VariantID:   input.VariantID,
				Reason:      input.Reason,
				QtyDelta:    legs[0].QtyDelta,
				ReferenceID: legs[0].ReferenceID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id": input.BusinessID.String(),
			"variant_id":  input.VariantID.String(),
			"reason":      input.Reason,
			"entries":     len(written),
		})
		s.logg.Info(logCtx, "stock movement recorded")
	}
	return written, nil
}

func (s *service) ListEntries(ctx context.Context, businessID, variantID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error) {
	if err := validateKey(businessID, variantID); err != nil {
		return pagination.Page[models.LedgerEntry]{}, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, businessID, variantID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return pagination.Trim(rows, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func movementLegs(input MovementInput) ([]AppendEntryInput, error) {
	if err := validateKey(input.BusinessID, input.VariantID); err != nil {
		return nil, err
	}
	base := AppendEntryInput{
		BusinessID:  input.BusinessID,
		VariantID:   input.VariantID,
		LocationID:  input.LocationID,
		Reason:      input.Reason,
		ReferenceID: input.ReferenceID,
		UnitCost:    input.UnitCost,
		Note:        input.Note,
	}

	switch input.Reason {
	case enums.LedgerReasonStockIn, enums.LedgerReasonReturn, enums.LedgerReasonRestock:
		if input.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
		base.QtyDelta = input.Qty
		return []AppendEntryInput{base}, nil
	case enums.LedgerReasonAdjustment:
		if input.Qty == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be non-zero")
		}
		base.QtyDelta = input.Qty
		return []AppendEntryInput{base}, nil
	case enums.LedgerReasonTransferOut, enums.LedgerReasonTransferIn:
		if input.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
		if input.LocationID == nil || input.ToLocationID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfers require location_id and to_location_id")
		}
		if *input.LocationID == *input.ToLocationID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer locations must differ")
		}
		ref := input.ReferenceID
		if ref == nil {
			id := uuid.New()
			ref = &id
		}
		out := base
		out.Reason = enums.LedgerReasonTransferOut
		out.QtyDelta = -input.Qty
		out.ReferenceID = ref
		in := base
		in.Reason = enums.LedgerReasonTransferIn
		in.QtyDelta = input.Qty
		in.LocationID = input.ToLocationID
		in.ReferenceID = ref
		return []AppendEntryInput{out, in}, nil
	case enums.LedgerReasonSale:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sales are recorded through orders")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger reason %q", input.Reason))
	}
}

func validateKey(businessID, variantID uuid.UUID) error {
	if businessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	if variantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	return nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
