package possync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderCreator interface {
	CreateOrderTx(ctx context.Context, tx *gorm.DB, input orders.CreateOrderInput) (*models.Order, error)
}

type stockReader interface {
	StockTx(ctx context.Context, tx *gorm.DB, key inventory.StockKey) (int64, error)
}

// Service reconciles offline POS orders against the ledger.
type Service interface {
	Sync(ctx context.Context, input SyncInput) (*Result, error)
}

type ServiceParams struct {
	Repo     Repository
	Orders   orderCreator
	Stock    stockReader
	TxRunner txRunner
	Outbox   outboxPublisher
	Metrics  *metrics.CommerceMetrics
	Logger   *logger.Logger
	Config   config.SyncConfig
	Now      func() time.Time
}

type service struct {
	repo     Repository
	orders   orderCreator
	stock    stockReader
	tx       txRunner
	outbox   outboxPublisher
	metrics  *metrics.CommerceMetrics
	logg     *logger.Logger
	maxBatch int
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("sync repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	maxBatch := params.Config.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 200
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		orders:   params.Orders,
		stock:    params.Stock,
		tx:       params.TxRunner,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		maxBatch: maxBatch,
		now:      now,
	}, nil
}

// Sync processes each offline order in its own transaction, in submission
// order. One order's conflict never aborts the rest of the batch.
func (s *service) Sync(ctx context.Context, input SyncInput) (*Result, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	if !input.Policy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid conflict policy %q", input.Policy))
	}
	if len(input.Orders) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orders must not be empty")
	}
	if len(input.Orders) > s.maxBatch {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("batch exceeds %d orders", s.maxBatch))
	}
	for i, order := range input.Orders {
		if strings.TrimSpace(order.ClientEventID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("orders[%d].client_event_id is required", i))
		}
	}

	result := &Result{Results: make([]EventResult, 0, len(input.Orders))}
	seen := make(map[string]struct{}, len(input.Orders))
	for _, order := range input.Orders {
		order.ClientEventID = strings.TrimSpace(order.ClientEventID)
		if _, dup := seen[order.ClientEventID]; dup {
			result.add(EventResult{ClientEventID: order.ClientEventID, Outcome: enums.SyncOutcomeDuplicate})
			s.metrics.SyncOutcome(string(enums.SyncOutcomeDuplicate))
			continue
		}
		seen[order.ClientEventID] = struct{}{}

		res, err := s.syncOne(ctx, input, order)
		if err != nil {
			return nil, err
		}
		result.add(res)
		s.metrics.SyncOutcome(string(res.Outcome))
	}

	batchID := uuid.New()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPOSSyncCompleted,
			AggregateType: enums.AggregatePOSSync,
			AggregateID:   batchID,
			BusinessID:    input.BusinessID,
			Actor:         input.Actor,
			OccurredAt:    s.now().UTC(),
			Data: outbox.POSSyncCompletedEvent{
				BusinessID: input.BusinessID,
				Policy:     input.Policy,
				Processed:  result.Processed,
				Created:    result.Created,
				Conflicted: result.Conflicted,
				Duplicate:  result.Duplicate,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id": input.BusinessID.String(),
			"policy":      input.Policy,
			"processed":   result.Processed,
			"created":     result.Created,
			"conflicted":  result.Conflicted,
			"duplicate":   result.Duplicate,
		})
		s.logg.Info(logCtx, "pos sync completed")
	}
	return result, nil
}

func (s *service) syncOne(ctx context.Context, input SyncInput, order OfflineOrder) (EventResult, error) {
	prior, err := s.repo.Find(ctx, input.BusinessID, order.ClientEventID)
	if err != nil {
		return EventResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sync event")
	}
	if prior != nil {
		return duplicateOf(prior), nil
	}

	var res EventResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		decided, err := s.decide(ctx, tx, input, order)
		if err != nil {
			return err
		}
		record := &models.OfflineOrderSyncEvent{
			ID:            uuid.New(),
			BusinessID:    input.BusinessID,
			ClientEventID: order.ClientEventID,
			Outcome:       decided.Outcome,
			OrderID:       decided.OrderID,
			ConflictCode:  decided.ConflictCode,
			Note:          decided.Note,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.repo.WithTx(tx).Record(ctx, record); err != nil {
			return err
		}
		res = decided
		return nil
	})
	if errors.Is(err, ErrAlreadyRecorded) {
		winner, findErr := s.repo.Find(ctx, input.BusinessID, order.ClientEventID)
		if findErr != nil || winner == nil {
			return EventResult{ClientEventID: order.ClientEventID, Outcome: enums.SyncOutcomeDuplicate}, nil
		}
		return duplicateOf(winner), nil
	}
	if err != nil {
		if pkgerrors.As(err) != nil {
			return EventResult{}, err
		}
		return EventResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record sync event")
	}
	if res.Outcome == enums.SyncOutcomeCreated {
		s.metrics.OrderCreated(string(enums.OrderChannelPOS))
	}
	return res, nil
}

// decide runs inside the order's transaction. Stock locks taken by the first
// attempt stay held for the adjusted retry.
func (s *service) decide(ctx context.Context, tx *gorm.DB, input SyncInput, order OfflineOrder) (EventResult, error) {
	create := orders.CreateOrderInput{
		BusinessID:    input.BusinessID,
		CustomerID:    order.CustomerID,
		PaymentMethod: order.PaymentMethod,
		Channel:       enums.OrderChannelPOS,
		Currency:      order.Currency,
		SaleID:        order.SaleID,
		Note:          order.Note,
		Items:         order.Items,
		Actor:         input.Actor,
	}
	if create.PaymentMethod == "" {
		create.PaymentMethod = enums.PaymentMethodCash
	}

	created, err := s.orders.CreateOrderTx(ctx, tx, create)
	if err == nil {
		return createdResult(order.ClientEventID, created, nil), nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		return conflicted(order.ClientEventID, ConflictInvalidOrder, pkgerrors.As(err).Message()), nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		return EventResult{}, err
	}
	s.metrics.StockConflict(string(enums.OrderChannelPOS))
	if input.Policy == enums.ConflictPolicyReject {
		return conflicted(order.ClientEventID, ConflictInsufficientStock, err.Error()), nil
	}

	adjusted, changes, err := s.clampToAvailable(ctx, tx, input.BusinessID, order.Items)
	if err != nil {
		return EventResult{}, err
	}
	if len(adjusted) == 0 {
		return conflicted(order.ClientEventID, ConflictInsufficientStock, "no stock available for any line"), nil
	}
	note := "quantities adjusted to available stock: " + strings.Join(changes, ", ")
	create.Items = adjusted
	create.Note = joinNote(order.Note, note)

	created, err = s.orders.CreateOrderTx(ctx, tx, create)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			return conflicted(order.ClientEventID, ConflictInsufficientStock, err.Error()), nil
		}
		return EventResult{}, err
	}
	return createdResult(order.ClientEventID, created, &note), nil
}

// clampToAvailable walks the lines in order and grants each one what is left
// of its location's stock and of the variant's total stock. Lines left with
// nothing are dropped.
func (s *service) clampToAvailable(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, items []orders.LineItemInput) ([]orders.LineItemInput, []string, error) {
	type locatedKey struct{ variant, location uuid.UUID }
	total := map[uuid.UUID]int64{}
	located := map[locatedKey]int64{}

	remainingTotal := func(variant uuid.UUID) (int64, error) {
		if n, ok := total[variant]; ok {
			return n, nil
		}
		n, err := s.stock.StockTx(ctx, tx, inventory.StockKey{BusinessID: businessID, VariantID: variant})
		if err != nil {
			return 0, err
		}
		total[variant] = n
		return n, nil
	}

	var out []orders.LineItemInput
	var changes []string
	for _, item := range items {
		grant, err := remainingTotal(item.VariantID)
		if err != nil {
			return nil, nil, err
		}
		var locKey locatedKey
		if item.LocationID != nil {
			locKey = locatedKey{variant: item.VariantID, location: *item.LocationID}
			left, ok := located[locKey]
			if !ok {
				left, err = s.stock.StockTx(ctx, tx, inventory.StockKey{BusinessID: businessID, VariantID: item.VariantID, LocationID: item.LocationID})
				if err != nil {
					return nil, nil, err
				}
			}
			located[locKey] = left
			grant = min(grant, left)
		}
		grant = max(min(grant, item.Qty), 0)

		if grant != item.Qty {
			changes = append(changes, fmt.Sprintf("%s %d->%d", item.VariantID, item.Qty, grant))
		}
		if grant == 0 {
			continue
		}
		total[item.VariantID] -= grant
		if item.LocationID != nil {
			located[locKey] -= grant
		}
		item.Qty = grant
		out = append(out, item)
	}
	return out, changes, nil
}

func createdResult(clientEventID string, order *models.Order, note *string) EventResult {
	id := order.ID
	return EventResult{ClientEventID: clientEventID, Outcome: enums.SyncOutcomeCreated, OrderID: &id, Note: note}
}

func conflicted(clientEventID, code, note string) EventResult {
	return EventResult{ClientEventID: clientEventID, Outcome: enums.SyncOutcomeConflicted, ConflictCode: &code, Note: &note}
}

func duplicateOf(prior *models.OfflineOrderSyncEvent) EventResult {
	return EventResult{
		ClientEventID: prior.ClientEventID,
		Outcome:       enums.SyncOutcomeDuplicate,
		OrderID:       prior.OrderID,
		ConflictCode:  prior.ConflictCode,
		Note:          prior.Note,
	}
}

func joinNote(existing, addition string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return addition
	}
	return existing + "; " + addition
}
