package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
	"github.com/monidesk/ibos-backend/pkg/outbox"
	"github.com/monidesk/ibos-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service captures sales and moves orders through their lifecycle.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CreateOrderTx(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error)
	TransitionStatus(ctx context.Context, input TransitionInput) (*TransitionResult, error)
	GetOrder(ctx context.Context, businessID, orderID uuid.UUID) (*OrderDTO, error)
	ListOrders(ctx context.Context, businessID uuid.UUID, filters ListFilters, params pagination.Params) (pagination.Page[OrderDTO], error)
}

type ServiceParams struct {
	Repo            OrderRepository
	Inventory       inventory.Service
	TxRunner        txRunner
	Outbox          outboxPublisher
	Metrics         *metrics.CommerceMetrics
	Logger          *logger.Logger
	Now             func() time.Time
	DefaultCurrency string
}

type service struct {
	repo      OrderRepository
	inventory inventory.Service
	tx        txRunner
	outbox    outboxPublisher
	metrics   *metrics.CommerceMetrics
	logg      *logger.Logger
	now       func() time.Time
	currency  string
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	currency := strings.ToUpper(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	return &service{
		repo:      params.Repo,
		inventory: params.Inventory,
		tx:        params.TxRunner,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
		currency:  currency,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.CreateOrderTx(ctx, tx, input)
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			s.metrics.StockConflict(string(input.Channel))
		}
		return nil, err
	}

	s.metrics.OrderCreated(string(order.Channel))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id": order.BusinessID.String(),
			"order_id":    order.ID.String(),
			"channel":     order.Channel,
			"total":       order.TotalAmount.StringFixed(2),
		})
		s.logg.Info(logCtx, "order created")
	}
	return order, nil
}

// CreateOrderTx validates, locks the affected stock keys, checks availability
// against the ledger and writes the order, its items and one sale entry per
// item. Any failure leaves nothing behind once the caller rolls back.
func (s *service) CreateOrderTx(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := s.normalize(&input); err != nil {
		return nil, err
	}

	variantIDs := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		variantIDs = append(variantIDs, item.VariantID)
	}
	if err := s.inventory.LockStock(ctx, tx, input.BusinessID, variantIDs); err != nil {
		return nil, err
	}
	if err := s.checkAvailability(ctx, tx, input); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:                uuid.New(),
		BusinessID:        input.BusinessID,
		CustomerID:        input.CustomerID,
		PaymentMethod:     input.PaymentMethod,
		Channel:           input.Channel,
		Status:            enums.OrderStatusPending,
		Currency:          input.Currency,
		TotalAmount:       Total(input.Items),
		SaleID:            input.SaleID,
		CheckoutSessionID: input.CheckoutSessionID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if note := strings.TrimSpace(input.Note); note != "" {
		order.Note = &note
	}

	repo := s.repo.WithTx(tx)
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	items := make([]models.OrderItem, 0, len(input.Items))
	for _, line := range input.Items {
		items = append(items, models.OrderItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			VariantID:  line.VariantID,
			LocationID: line.LocationID,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			LineTotal:  lineTotal(line),
			CreatedAt:  now,
		})
	}
	if err := repo.CreateItems(ctx, items); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
	}
	order.Items = items

	for _, item := range items {
		ref := order.ID
		if _, err := s.inventory.AppendEntry(ctx, tx, inventory.AppendEntryInput{
			BusinessID:  order.BusinessID,
			VariantID:   item.VariantID,
			LocationID:  item.LocationID,
			QtyDelta:    -item.Qty,
			Reason:      enums.LedgerReasonSale,
			ReferenceID: &ref,
		}); err != nil {
			return nil, err
		}
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		BusinessID:    order.BusinessID,
		Actor:         input.Actor,
		OccurredAt:    now,
		Data: outbox.OrderCreatedEvent{
			OrderID:           order.ID,
			BusinessID:        order.BusinessID,
			Channel:           order.Channel,
			PaymentMethod:     order.PaymentMethod,
			TotalAmount:       order.TotalAmount,
			Currency:          order.Currency,
			ItemCount:         len(items),
			CheckoutSessionID: order.CheckoutSessionID,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
	}
	return order, nil
}

func (s *service) normalize(input *CreateOrderInput) error {
	if input.BusinessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	if input.Channel == "" {
		input.Channel = enums.OrderChannelManual
	}
	if !input.Channel.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid channel %q", input.Channel))
	}
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		input.Currency = s.currency
	}
	if len(input.Currency) != 3 {
		return pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	}
	return ValidateItems(input.Items)
}

// ValidateItems checks every line has a variant, a positive qty and a positive price.
func ValidateItems(items []LineItemInput) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for i, item := range items {
		if item.VariantID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d].variant_id is required", i))
		}
		if item.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d].qty must be positive", i))
		}
		if !item.UnitPrice.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d].unit_price must be positive", i))
		}
	}
	return nil
}

// StockDemand is the quantity an order asks of one stock key.
type StockDemand struct {
	Key       inventory.StockKey
	Requested int64
}

// checkAvailability compares each key's demand to the ledger.
func (s *service) checkAvailability(ctx context.Context, tx *gorm.DB, input CreateOrderInput) error {
	for _, demand := range DemandByKey(input.BusinessID, input.Items) {
		available, err := s.inventory.StockTx(ctx, tx, demand.Key)
		if err != nil {
			return err
		}
		if available < demand.Requested {
			return inventory.InsufficientStock(inventory.Shortfall{
				VariantID:  demand.Key.VariantID,
				LocationID: demand.Key.LocationID,
				Requested:  demand.Requested,
				Available:  available,
			})
		}
	}
	return nil
}

// DemandByKey aggregates line quantities per stock key in first-seen order.
// Every variant gets a demand on its total stock (no location) covering all of
// its lines, since unlocated sales only lower the total. Located lines also
// get a demand on their location key.
func DemandByKey(businessID uuid.UUID, items []LineItemInput) []StockDemand {
	type locatedKey struct {
		variant  uuid.UUID
		location uuid.UUID
	}
	totals := map[uuid.UUID]int{}
	located := map[locatedKey]int{}
	var out []StockDemand
	for _, item := range items {
		i, ok := totals[item.VariantID]
		if !ok {
			i = len(out)
			totals[item.VariantID] = i
			out = append(out, StockDemand{Key: inventory.StockKey{BusinessID: businessID, VariantID: item.VariantID}})
		}
		out[i].Requested += item.Qty

		if item.LocationID == nil {
			continue
		}
		k := locatedKey{variant: item.VariantID, location: *item.LocationID}
		j, ok := located[k]
		if !ok {
			j = len(out)
			located[k] = j
			loc := *item.LocationID
			out = append(out, StockDemand{Key: inventory.StockKey{BusinessID: businessID, VariantID: item.VariantID, LocationID: &loc}})
		}
		out[j].Requested += item.Qty
	}
	return out
}

// Total sums qty * unit_price over the lines, rounded to cents.
func Total(items []LineItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(lineTotal(item))
	}
	return total.Round(2)
}

func lineTotal(item LineItemInput) decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(item.Qty)).Round(2)
}

func (s *service) TransitionStatus(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business context missing")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", input.Target))
	}

	var result TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BusinessID != input.BusinessID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another business")
		}

		from := order.Status
		result.From = string(from)
		if from == input.Target {
			return nil
		}
		if !from.CanTransitionTo(input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order cannot move from %s to %s", from, input.Target))
		}

		if input.Target == enums.OrderStatusCancelled || input.Target == enums.OrderStatusRefunded {
			restocked, err := s.restock(ctx, tx, order)
			if err != nil {
				return err
			}
			result.Restocked = restocked
		}

		updated, err := repo.UpdateStatus(ctx, order.BusinessID, order.ID, from, input.Target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		now := s.now().UTC()
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			BusinessID:    order.BusinessID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data: outbox.OrderStatusChangedEvent{
				OrderID:    order.ID,
				BusinessID: order.BusinessID,
				From:       from,
				To:         input.Target,
				Restocked:  result.Restocked,
				ChangedAt:  now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	dto, err := s.GetOrder(ctx, input.BusinessID, input.OrderID)
	if err != nil {
		return nil, err
	}
	result.Order = dto

	if s.logg != nil && result.From != string(input.Target) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id": input.BusinessID.String(),
			"order_id":    input.OrderID.String(),
			"from":        result.From,
			"to":          input.Target,
			"restocked":   result.Restocked,
		})
		s.logg.Info(logCtx, "order status changed")
	}
	return &result, nil
}

// restock appends a positive restock entry for every sale entry the order wrote.
func (s *service) restock(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	sales, err := s.inventory.EntriesForReference(ctx, tx, order.BusinessID, order.ID, enums.LedgerReasonSale)
	if err != nil {
		return false, err
	}
	if len(sales) == 0 {
		return false, nil
	}
	variantIDs := make([]uuid.UUID, 0, len(sales))
	for _, entry := range sales {
		variantIDs = append(variantIDs, entry.VariantID)
	}
	if err := s.inventory.LockStock(ctx, tx, order.BusinessID, variantIDs); err != nil {
		return false, err
	}
	for _, entry := range sales {
		ref := order.ID
		if _, err := s.inventory.AppendEntry(ctx, tx, inventory.AppendEntryInput{
			BusinessID:  order.BusinessID,
			VariantID:   entry.VariantID,
			LocationID:  entry.LocationID,
			QtyDelta:    -entry.QtyDelta,
			Reason:      enums.LedgerReasonRestock,
			ReferenceID: &ref,
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *service) GetOrder(ctx context.Context, businessID, orderID uuid.UUID) (*OrderDTO, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business context missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderWithItems(ctx, businessID, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	dto := ToDTO(order)
	return &dto, nil
}

func (s *service) ListOrders(ctx context.Context, businessID uuid.UUID, filters ListFilters, params pagination.Params) (pagination.Page[OrderDTO], error) {
	if businessID == uuid.Nil {
		return pagination.Page[OrderDTO]{}, pkgerrors.New(pkgerrors.CodeForbidden, "business context missing")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[OrderDTO]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, businessID, filters, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[OrderDTO]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	out := pagination.Page[OrderDTO]{Items: make([]OrderDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, ToDTO(&page.Items[i]))
	}
	return out, nil
}
