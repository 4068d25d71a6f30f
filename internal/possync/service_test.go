package possync

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db/dbtest"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

type harness struct {
	svc    Service
	inv    inventory.Service
	orders orders.Service
	conn   *gorm.DB
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	inv, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(conn),
		TxRunner: client,
		Outbox:   emitter,
	})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(conn),
		Inventory: inv,
		TxRunner:  client,
		Outbox:    emitter,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Orders:   orderSvc,
		Stock:    inv,
		TxRunner: client,
		Outbox:   emitter,
		Config:   config.SyncConfig{MaxBatchSize: 10},
	})
	require.NoError(t, err)
	return harness{svc: svc, inv: inv, orders: orderSvc, conn: conn}
}

func (h harness) stockIn(t *testing.T, business, variant uuid.UUID, location *uuid.UUID, qty int64) {
	t.Helper()
	_, err := h.inv.AppendEntry(context.Background(), nil, inventory.AppendEntryInput{
		BusinessID: business,
		VariantID:  variant,
		LocationID: location,
		QtyDelta:   qty,
		Reason:     enums.LedgerReasonStockIn,
	})
	require.NoError(t, err)
}

func (h harness) stock(t *testing.T, business, variant uuid.UUID, location *uuid.UUID) int64 {
	t.Helper()
	n, err := h.inv.GetStock(context.Background(), inventory.StockKey{BusinessID: business, VariantID: variant, LocationID: location})
	require.NoError(t, err)
	return n
}

func offline(id string, items ...orders.LineItemInput) OfflineOrder {
	return OfflineOrder{ClientEventID: id, Items: items}
}

func line(variant uuid.UUID, qty int64, price string) orders.LineItemInput {
	return orders.LineItemInput{VariantID: variant, Qty: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestNewServiceRequiresDeps(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestSyncTwiceReportsDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, soap, candle := uuid.New(), uuid.New(), uuid.New()
	h.stockIn(t, business, soap, nil, 10)
	h.stockIn(t, business, candle, nil, 1)

	batch := SyncInput{
		BusinessID: business,
		Policy:     enums.ConflictPolicyReject,
		Orders: []OfflineOrder{
			offline("pos-1", line(soap, 2, "3.00")),
			offline("pos-2", line(soap, 1, "3.00"), line(candle, 2, "15.00")),
			offline("pos-3", line(soap, 3, "3.00")),
		},
	}

	first, err := h.svc.Sync(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 1, first.Conflicted)
	assert.Equal(t, 0, first.Duplicate)
	require.Len(t, first.Results, 3)
	require.NotNil(t, first.Results[1].ConflictCode)
	assert.Equal(t, ConflictInsufficientStock, *first.Results[1].ConflictCode)
	assert.Equal(t, int64(5), h.stock(t, business, soap, nil))
	assert.Equal(t, int64(1), h.stock(t, business, candle, nil))

	second, err := h.svc.Sync(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Processed)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Duplicate)
	assert.Equal(t, first.Results[0].OrderID, second.Results[0].OrderID)
	require.NotNil(t, second.Results[1].ConflictCode)
	assert.Equal(t, ConflictInsufficientStock, *second.Results[1].ConflictCode)

	assert.Equal(t, int64(5), h.stock(t, business, soap, nil))
	assert.EqualValues(t, 2, dbtest.Count(t, h.conn, &models.Order{}, "business_id = ?", business))
	assert.EqualValues(t, 3, dbtest.Count(t, h.conn, &models.OfflineOrderSyncEvent{}, "business_id = ?", business))
	assert.EqualValues(t, 2, dbtest.Count(t, h.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventPOSSyncCompleted))
}

func TestSyncAdjustToAvailableClampsQuantity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, soap := uuid.New(), uuid.New()
	h.stockIn(t, business, soap, nil, 3)

	res, err := h.svc.Sync(ctx, SyncInput{
		BusinessID: business,
		Policy:     enums.ConflictPolicyAdjustToAvailable,
		Orders:     []OfflineOrder{offline("pos-adj", line(soap, 5, "4.00"))},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.Equal(t, enums.SyncOutcomeCreated, got.Outcome)
	require.NotNil(t, got.Note)
	assert.Contains(t, *got.Note, "adjusted")
	require.NotNil(t, got.OrderID)

	order, err := h.orders.GetOrder(ctx, business, *got.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(3), order.Items[0].Qty)
	assert.True(t, decimal.RequireFromString("12.00").Equal(order.TotalAmount))
	require.NotNil(t, order.Note)
	assert.Contains(t, *order.Note, "adjusted")
	assert.Equal(t, enums.OrderChannelPOS, order.Channel)
	assert.Equal(t, int64(0), h.stock(t, business, soap, nil))
}

func TestSyncAdjustDropsEmptyLinesAndConflictsWhenNothingLeft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, soap, candle := uuid.New(), uuid.New(), uuid.New()
	h.stockIn(t, business, soap, nil, 4)

	res, err := h.svc.Sync(ctx, SyncInput{
		BusinessID: business,
		Policy:     enums.ConflictPolicyAdjustToAvailable,
		Orders: []OfflineOrder{
			offline("pos-a", line(soap, 2, "3.00"), line(candle, 1, "10.00")),
			offline("pos-b", line(candle, 3, "10.00")),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	assert.Equal(t, enums.SyncOutcomeCreated, res.Results[0].Outcome)
	order, err := h.orders.GetOrder(ctx, business, *res.Results[0].OrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, soap, order.Items[0].VariantID)

	assert.Equal(t, enums.SyncOutcomeConflicted, res.Results[1].Outcome)
	assert.Nil(t, res.Results[1].OrderID)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Conflicted)
	assert.Equal(t, int64(2), h.stock(t, business, soap, nil))
}

func TestSyncAdjustRespectsLocationStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, soap := uuid.New(), uuid.New()
	front, back := uuid.New(), uuid.New()
	h.stockIn(t, business, soap, &front, 2)
	h.stockIn(t, business, soap, &back, 6)

	item := line(soap, 5, "3.00")
	item.LocationID = &front
	res, err := h.svc.Sync(ctx, SyncInput{
		BusinessID: business,
		Policy:     enums.ConflictPolicyAdjustToAvailable,
		Orders:     []OfflineOrder{offline("pos-loc", item)},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SyncOutcomeCreated, res.Results[0].Outcome)
	assert.Equal(t, int64(0), h.stock(t, business, soap, &front))
	assert.Equal(t, int64(6), h.stock(t, business, soap, &back))
}

func TestSyncAdjustSharesLocationAcrossLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, soap, front, back := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.stockIn(t, business, soap, &front, 4)
	h.stockIn(t, business, soap, &back, 6)

	first, second := line(soap, 3, "3.00"), line(soap, 3, "3.00")
	frontA, frontB := front, front
	first.LocationID, second.LocationID = &frontA, &frontB
	res, err := h.svc.Sync(ctx, SyncInput{
		BusinessID: business,
		Policy:     enums.ConflictPolicyAdjustToAvailable,
		Orders:     []OfflineOrder{offline("pos-split", first, second)},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SyncOutcomeCreated, res.Results[0].Outcome)
	assert.Equal(t, int64(0), h.stock(t, business, soap, &front))
	assert.Equal(t, int64(6), h.stock(t, business, soap, nil))
}

func TestSyncInBatchDuplicateAndInvalidOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, soap := uuid.New(), uuid.New()
	h.stockIn(t, business, soap, nil, 10)

	res, err := h.svc.Sync(ctx, SyncInput{
		BusinessID: business,
		Policy:     enums.ConflictPolicyReject,
		Orders: []OfflineOrder{
			offline("pos-1", line(soap, 1, "3.00")),
			offline("pos-1", line(soap, 1, "3.00")),
			offline("pos-bad", line(soap, 0, "3.00")),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SyncOutcomeCreated, res.Results[0].Outcome)
	assert.Equal(t, enums.SyncOutcomeDuplicate, res.Results[1].Outcome)
	assert.Equal(t, enums.SyncOutcomeConflicted, res.Results[2].Outcome)
	require.NotNil(t, res.Results[2].ConflictCode)
	assert.Equal(t, ConflictInvalidOrder, *res.Results[2].ConflictCode)
	assert.Equal(t, int64(9), h.stock(t, business, soap, nil))
}

func TestSyncTenantScopedDedup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	shopA, shopB, soap := uuid.New(), uuid.New(), uuid.New()
	h.stockIn(t, shopA, soap, nil, 5)
	h.stockIn(t, shopB, soap, nil, 5)

	for _, business := range []uuid.UUID{shopA, shopB} {
		res, err := h.svc.Sync(ctx, SyncInput{
			BusinessID: business,
			Policy:     enums.ConflictPolicyReject,
			Orders:     []OfflineOrder{offline("shared-id", line(soap, 1, "3.00"))},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
	}
}

func TestSyncValidatesBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business := uuid.New()

	cases := map[string]SyncInput{
		"missing business": {Policy: enums.ConflictPolicyReject, Orders: []OfflineOrder{offline("x")}},
		"bad policy":       {BusinessID: business, Policy: "merge", Orders: []OfflineOrder{offline("x")}},
		"empty batch":      {BusinessID: business, Policy: enums.ConflictPolicyReject},
		"missing event id": {BusinessID: business, Policy: enums.ConflictPolicyReject, Orders: []OfflineOrder{offline(" ")}},
		"oversized":        {BusinessID: business, Policy: enums.ConflictPolicyReject, Orders: make([]OfflineOrder, 11)},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Sync(ctx, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}
