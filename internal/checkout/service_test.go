package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/internal/payments"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db/dbtest"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc    Service
	inv    inventory.Service
	orders orders.Service
	conn   *gorm.DB
	clock  *clock
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	inv, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(conn),
		TxRunner: client,
		Outbox:   emitter,
		Now:      clk.Now,
	})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(conn),
		Inventory: inv,
		TxRunner:  client,
		Outbox:    emitter,
		Now:       clk.Now,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Stock:    inv,
		Orders:   orderSvc,
		Provider: payments.NewStubProvider("https://shop.example.test"),
		TxRunner: client,
		Outbox:   emitter,
		Config: config.CheckoutConfig{
			SessionTTL:      60 * time.Minute,
			ExpiryBatchSize: 2,
			PublicBaseURL:   "https://shop.example.test",
		},
		Now: clk.Now,
	})
	require.NoError(t, err)
	return harness{svc: svc, inv: inv, orders: orderSvc, conn: conn, clock: clk}
}

func (h harness) stockIn(t *testing.T, business, variant uuid.UUID, qty int64) {
	t.Helper()
	_, err := h.inv.AppendEntry(context.Background(), nil, inventory.AppendEntryInput{
		BusinessID: business,
		VariantID:  variant,
		QtyDelta:   qty,
		Reason:     enums.LedgerReasonStockIn,
	})
	require.NoError(t, err)
}

func (h harness) stock(t *testing.T, business, variant uuid.UUID) int64 {
	t.Helper()
	n, err := h.inv.GetStock(context.Background(), inventory.StockKey{BusinessID: business, VariantID: variant})
	require.NoError(t, err)
	return n
}

func item(variant uuid.UUID, qty int64, price string) orders.LineItemInput {
	return orders.LineItemInput{VariantID: variant, Qty: qty, UnitPrice: decimal.RequireFromString(price)}
}

func paymentEvent(id string, typ enums.PaymentEventType, session *SessionDTO) payments.WebhookEvent {
	return payments.WebhookEvent{
		EventID:          id,
		Provider:         config.PaymentProviderStub,
		Type:             typ,
		PaymentReference: *session.PaymentReference,
	}
}

func TestNewServiceRequiresDeps(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestCreateSessionPricesCartWithoutReserving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp, shade := uuid.New(), uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 5)
	h.stockIn(t, business, shade, 5)

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		BusinessID: business,
		Items:      []orders.LineItemInput{item(lamp, 2, "100.00"), item(shade, 1, "50.00")},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.CheckoutStatusOpen, session.Status)
	assert.True(t, decimal.RequireFromString("250.00").Equal(session.TotalAmount))
	assert.Equal(t, "USD", session.Currency)
	assert.Equal(t, h.clock.Now().Add(60*time.Minute), session.ExpiresAt)
	require.NotNil(t, session.PaymentReference)
	require.NotNil(t, session.CheckoutURL)
	assert.Contains(t, *session.CheckoutURL, session.SessionToken)
	assert.Len(t, session.Items, 2)

	assert.Equal(t, int64(5), h.stock(t, business, lamp))

	byToken, err := h.svc.GetSessionByToken(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, byToken.ID)

	_, err = h.svc.GetSession(ctx, uuid.New(), session.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCreateSessionRejectsShortStockAndBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp := uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 1)

	_, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 2, "10.00")}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)

	_, err = h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Currency: "EURO", Items: []orders.LineItemInput{item(lamp, 1, "10.00")}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.EqualValues(t, 0, dbtest.Count(t, h.conn, &models.CheckoutSession{}))
}

func TestCreateSessionChecksVariantTotalForLocatedLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp, shelf := uuid.New(), uuid.New(), uuid.New()
	_, err := h.inv.AppendEntry(ctx, nil, inventory.AppendEntryInput{
		BusinessID: business, VariantID: lamp, LocationID: &shelf, QtyDelta: 3, Reason: enums.LedgerReasonStockIn,
	})
	require.NoError(t, err)
	_, err = h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		BusinessID:    business,
		Channel:       enums.OrderChannelPOS,
		PaymentMethod: enums.PaymentMethodCash,
		Items:         []orders.LineItemInput{item(lamp, 3, "10.00")},
	})
	require.NoError(t, err)

	located := item(lamp, 1, "10.00")
	located.LocationID = &shelf
	_, err = h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{located}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
}

func TestWebhookBeforeExpiryPaysOnceAndReplaysAreDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp, shade := uuid.New(), uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 5)
	h.stockIn(t, business, shade, 5)

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		BusinessID: business,
		Items:      []orders.LineItemInput{item(lamp, 2, "100.00"), item(shade, 1, "50.00")},
	})
	require.NoError(t, err)

	h.clock.Advance(59 * time.Minute)
	first, err := h.svc.HandleWebhookEvent(ctx, paymentEvent("evt_1", enums.PaymentEventSucceeded, session))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Applied)
	assert.Equal(t, enums.CheckoutStatusPaid, first.Status)
	require.NotNil(t, first.OrderID)

	order, err := h.orders.GetOrder(ctx, business, *first.OrderID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("250.00").Equal(order.TotalAmount))
	assert.Equal(t, enums.OrderChannelOnline, order.Channel)
	assert.Equal(t, int64(3), h.stock(t, business, lamp))

	replay, err := h.svc.HandleWebhookEvent(ctx, paymentEvent("evt_1", enums.PaymentEventSucceeded, session))
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.OrderID, replay.OrderID)
	assert.Equal(t, enums.CheckoutStatusPaid, replay.Status)

	again, err := h.svc.HandleWebhookEvent(ctx, paymentEvent("evt_2", enums.PaymentEventSucceeded, session))
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
	assert.False(t, again.Applied)

	assert.EqualValues(t, 1, dbtest.Count(t, h.conn, &models.Order{}, "business_id = ?", business))
	assert.Equal(t, int64(3), h.stock(t, business, lamp))

	stored, err := h.svc.GetSession(ctx, business, session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.EqualValues(t, 1, dbtest.Count(t, h.conn, &models.OutboxEvent{}, "aggregate_id = ? AND event_type = ?", session.ID, enums.EventCheckoutPaid))
}

func TestLateWebhookAfterExpiryCreatesNoOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp := uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 5)

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 1, "20.00")}})
	require.NoError(t, err)

	h.clock.Advance(61 * time.Minute)
	expired, err := h.svc.ExpireStaleSessions(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	res, err := h.svc.HandleWebhookEvent(ctx, paymentEvent("evt_late", enums.PaymentEventSucceeded, session))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, enums.CheckoutStatusExpired, res.Status)
	assert.Nil(t, res.OrderID)
	assert.EqualValues(t, 0, dbtest.Count(t, h.conn, &models.Order{}))
	assert.Equal(t, int64(5), h.stock(t, business, lamp))
}

func TestWebhookAfterDeadlineBeforeSweepExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp := uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 5)

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 1, "20.00")}})
	require.NoError(t, err)

	h.clock.Advance(60 * time.Minute)
	res, err := h.svc.HandleWebhookEvent(ctx, paymentEvent("evt_edge", enums.PaymentEventSucceeded, session))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, enums.CheckoutStatusExpired, res.Status)
	assert.EqualValues(t, 0, dbtest.Count(t, h.conn, &models.Order{}))
}

func TestExpireStaleSessionsIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp := uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 50)

	for i := 0; i < 5; i++ {
		_, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 1, "5.00")}})
		require.NoError(t, err)
	}
	h.clock.Advance(30 * time.Minute)
	fresh, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 1, "5.00")}})
	require.NoError(t, err)

	h.clock.Advance(31 * time.Minute)
	n, err := h.svc.ExpireStaleSessions(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = h.svc.ExpireStaleSessions(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stillOpen, err := h.svc.GetSession(ctx, business, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStatusOpen, stillOpen.Status)
	assert.EqualValues(t, 5, dbtest.Count(t, h.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventCheckoutExpired))
}

func TestWebhookFailsSessionWhenStockRanOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	business, lamp := uuid.New(), uuid.New()
	h.stockIn(t, business, lamp, 2)

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 2, "30.00")}})
	require.NoError(t, err)

	_, err = h.orders.CreateOrder(ctx, orders.CreateOrderInput{
		BusinessID:    business,
		PaymentMethod: enums.PaymentMethodCash,
		Channel:       enums.OrderChannelPOS,
		Items:         []orders.LineItemInput{item(lamp, 1, "30.00")},
	})
	require.NoError(t, err)

	res, err := h.svc.HandleWebhookEvent(ctx, paymentEvent("evt_short", enums.PaymentEventSucceeded, session))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, enums.CheckoutStatusFailed, res.Status)
	assert.Equal(t, ConflictInsufficientStock, res.ConflictCode)
	assert.Nil(t, res.OrderID)
	assert.Equal(t, int64(1), h.stock(t, business, lamp))
}

func TestWebhookStatusTransitions(t *testing.T) {
	cases := []struct {
		name   string
		events []enums.PaymentEventType
		want   enums.CheckoutSessionStatus
	}{
		{name: "pending", events: []enums.PaymentEventType{enums.PaymentEventPending}, want: enums.CheckoutStatusPendingPayment},
		{name: "failed", events: []enums.PaymentEventType{enums.PaymentEventFailed}, want: enums.CheckoutStatusFailed},
		{name: "cancelled after pending", events: []enums.PaymentEventType{enums.PaymentEventPending, enums.PaymentEventCancelled}, want: enums.CheckoutStatusCancelled},
		{name: "terminal ignores success", events: []enums.PaymentEventType{enums.PaymentEventFailed, enums.PaymentEventSucceeded}, want: enums.CheckoutStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			business, lamp := uuid.New(), uuid.New()
			h.stockIn(t, business, lamp, 3)
			session, err := h.svc.CreateSession(ctx, CreateSessionInput{BusinessID: business, Items: []orders.LineItemInput{item(lamp, 1, "9.00")}})
			require.NoError(t, err)

			for i, typ := range tc.events {
				_, err := h.svc.HandleWebhookEvent(ctx, paymentEvent(uuid.NewString()+string(rune('a'+i)), typ, session))
				require.NoError(t, err)
			}
			got, err := h.svc.GetSession(ctx, business, session.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
			assert.EqualValues(t, 0, dbtest.Count(t, h.conn, &models.Order{}))
		})
	}
}

func TestWebhookUnknownReferenceIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.HandleWebhookEvent(ctx, payments.WebhookEvent{
		EventID:          "evt_orphan",
		Provider:         config.PaymentProviderStub,
		Type:             enums.PaymentEventSucceeded,
		PaymentReference: "stub_missing",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	assert.EqualValues(t, 0, dbtest.Count(t, h.conn, &models.CheckoutWebhookEvent{}))

	_, err = h.svc.HandleWebhookEvent(ctx, payments.WebhookEvent{Type: enums.PaymentEventSucceeded, PaymentReference: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
