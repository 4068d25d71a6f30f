package checkout

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/internal/payments"
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

type stockReader interface {
	GetStock(ctx context.Context, key inventory.StockKey) (int64, error)
}

type orderCreator interface {
	CreateOrderTx(ctx context.Context, tx *gorm.DB, input orders.CreateOrderInput) (*models.Order, error)
}

// Service drives checkout sessions from creation to payment or expiry.
type Service interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*SessionDTO, error)
	HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) (*WebhookResult, error)
	ExpireStaleSessions(ctx context.Context, now time.Time) (int, error)
	GetSession(ctx context.Context, businessID, sessionID uuid.UUID) (*SessionDTO, error)
	GetSessionByToken(ctx context.Context, token string) (*SessionDTO, error)
}

type ServiceParams struct {
	Repo     Repository
	Stock    stockReader
	Orders   orderCreator
	Provider payments.Provider
	TxRunner txRunner
	Outbox   outboxPublisher
	Metrics  *metrics.CommerceMetrics
	Logger   *logger.Logger
	Config   config.CheckoutConfig
	Now      func() time.Time
}

type service struct {
	repo     Repository
	stock    stockReader
	orders   orderCreator
	provider payments.Provider
	tx       txRunner
	outbox   outboxPublisher
	metrics  *metrics.CommerceMetrics
	logg     *logger.Logger
	cfg      config.CheckoutConfig
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	cfg := params.Config
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.ExpiryBatchSize <= 0 {
		cfg.ExpiryBatchSize = 500
	}
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		cfg.DefaultCurrency = "USD"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		stock:    params.Stock,
		orders:   params.Orders,
		provider: params.Provider,
		tx:       params.TxRunner,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      cfg,
		now:      now,
	}, nil
}

// CreateSession checks stock without reserving it, prices the cart, asks the
// provider for a hosted checkout and stores the session as open.
func (s *service) CreateSession(ctx context.Context, input CreateSessionInput) (*SessionDTO, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	if err := orders.ValidateItems(input.Items); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.cfg.DefaultCurrency)
	}
	if len(currency) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	}

	for _, demand := range orders.DemandByKey(input.BusinessID, input.Items) {
		available, err := s.stock.GetStock(ctx, demand.Key)
		if err != nil {
			return nil, err
		}
		if available < demand.Requested {
			return nil, inventory.InsufficientStock(inventory.Shortfall{
				VariantID:  demand.Key.VariantID,
				LocationID: demand.Key.LocationID,
				Requested:  demand.Requested,
				Available:  available,
			})
		}
	}

	now := s.now().UTC()
	session := &models.CheckoutSession{
		ID:              uuid.New(),
		BusinessID:      input.BusinessID,
		SessionToken:    newSessionToken(),
		Status:          enums.CheckoutStatusOpen,
		Currency:        currency,
		TotalAmount:     orders.Total(input.Items),
		PaymentProvider: s.provider.Name(),
		SuccessURL:      s.urlOrDefault(input.SuccessURL, "success"),
		CancelURL:       s.urlOrDefault(input.CancelURL, "cancel"),
		CustomerID:      input.CustomerID,
		CustomerEmail:   input.CustomerEmail,
		ExpiresAt:       now.Add(s.cfg.SessionTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	lines := make([]payments.CheckoutLine, 0, len(input.Items))
	for _, item := range input.Items {
		lineTotal := item.UnitPrice.Mul(decimalFromInt(item.Qty)).Round(2)
		session.Items = append(session.Items, models.CheckoutSessionItem{
			ID:         uuid.New(),
			SessionID:  session.ID,
			VariantID:  item.VariantID,
			LocationID: item.LocationID,
			Qty:        item.Qty,
			UnitPrice:  item.UnitPrice,
			LineTotal:  lineTotal,
		})
		lines = append(lines, payments.CheckoutLine{VariantID: item.VariantID, Qty: item.Qty, UnitPrice: item.UnitPrice})
	}

	init, err := s.provider.InitializeCheckout(ctx, payments.CheckoutRequest{
		SessionID:     session.ID,
		SessionToken:  session.SessionToken,
		BusinessID:    session.BusinessID,
		Amount:        session.TotalAmount,
		Currency:      currency,
		Lines:         lines,
		SuccessURL:    session.SuccessURL,
		CancelURL:     session.CancelURL,
		CustomerEmail: session.CustomerEmail,
		ExpiresAt:     session.ExpiresAt,
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initialize checkout")
	}
	if strings.TrimSpace(init.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider returned no reference")
	}
	ref := init.Reference
	session.PaymentReference = &ref
	if init.CheckoutURL != "" {
		checkoutURL := init.CheckoutURL
		session.CheckoutURL = &checkoutURL
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	s.metrics.CheckoutTransition(string(enums.CheckoutStatusOpen), 1)

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id": session.BusinessID.String(),
			"session_id":  session.ID.String(),
			"provider":    session.PaymentProvider,
			"total":       session.TotalAmount.StringFixed(2),
			"expires_at":  session.ExpiresAt.Format(time.RFC3339),
		})
		s.logg.Info(logCtx, "checkout session created")
	}
	return toSessionDTO(session), nil
}

// HandleWebhookEvent applies a provider callback at most once per event id.
// The dedup row, the session transition and any order commit together.
func (s *service) HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) (*WebhookResult, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required")
	}
	if !event.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported event type %q", event.Type))
	}
	if strings.TrimSpace(event.PaymentReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_reference is required")
	}
	provider := event.Provider
	if provider == "" {
		provider = s.provider.Name()
	}

	var result *WebhookResult
	var transitioned enums.CheckoutSessionStatus
	var conflict bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		record := &models.CheckoutWebhookEvent{
			ID:               uuid.New(),
			EventID:          event.EventID,
			Provider:         provider,
			EventType:        string(event.Type),
			PaymentReference: event.PaymentReference,
			Outcome:          json.RawMessage(`{}`),
			CreatedAt:        s.now().UTC(),
		}
		inserted, err := repo.InsertWebhookEvent(ctx, record)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		if !inserted {
			replayed, err := s.replay(ctx, repo, event.EventID)
			if err != nil {
				return err
			}
			result = replayed
			return nil
		}

		session, err := repo.FindByReferenceForUpdate(ctx, provider, event.PaymentReference)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found for payment reference")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
		}

		applied, err := s.apply(ctx, tx, session, event)
		if err != nil {
			return err
		}
		applied.EventID = event.EventID
		transitioned = applied.Status
		if !applied.Applied {
			transitioned = ""
		}
		conflict = applied.ConflictCode != ""

		outcome, err := json.Marshal(applied)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode webhook outcome")
		}
		if err := repo.SaveWebhookOutcome(ctx, record.ID, &session.ID, outcome); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save webhook outcome")
		}
		result = applied
		return nil
	})
	if err != nil {
		s.metrics.Webhook(provider, "error")
		return nil, err
	}

	switch {
	case result.Duplicate:
		s.metrics.Webhook(provider, "duplicate")
	case conflict:
		s.metrics.Webhook(provider, "conflict")
	default:
		s.metrics.Webhook(provider, "processed")
	}
	if transitioned != "" {
		s.metrics.CheckoutTransition(string(transitioned), 1)
	}

	if s.logg != nil {
		fields := map[string]any{
			"event_id":   event.EventID,
			"event_type": event.Type,
			"provider":   provider,
			"duplicate":  result.Duplicate,
			"applied":    result.Applied,
			"status":     result.Status,
		}
		if result.SessionID != nil {
			fields["session_id"] = result.SessionID.String()
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "payment webhook handled")
	}
	return result, nil
}

func (s *service) replay(ctx context.Context, repo Repository, eventID string) (*WebhookResult, error) {
	stored, err := repo.FindWebhookEvent(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}
	var result WebhookResult
	if len(stored.Outcome) > 0 {
		if err := json.Unmarshal(stored.Outcome, &result); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode webhook outcome")
		}
	}
	result.EventID = eventID
	result.Duplicate = true
	if result.SessionID == nil {
		result.SessionID = stored.SessionID
	}
	return &result, nil
}

// apply runs the session state machine for one event.
func (s *service) apply(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession, event payments.WebhookEvent) (*WebhookResult, error) {
	result := &WebhookResult{SessionID: &session.ID, Status: session.Status, OrderID: session.OrderID}
	if !session.Status.IsActive() {
		return result, nil
	}

	now := s.now().UTC()
	repo := s.repo.WithTx(tx)
	move := func(to enums.CheckoutSessionStatus, extra map[string]any) error {
		updates := map[string]any{"status": to, "updated_at": now}
		for k, v := range extra {
			updates[k] = v
		}
		ok, err := repo.UpdateSession(ctx, session.ID, session.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update checkout session")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session changed concurrently")
		}
		result.Status = to
		result.Applied = true
		return nil
	}

	expired := !now.Before(session.ExpiresAt)
	switch event.Type {
	case enums.PaymentEventSucceeded, enums.PaymentEventPending:
		if expired {
			if err := move(enums.CheckoutStatusExpired, nil); err != nil {
				return nil, err
			}
			return result, s.emitExpired(ctx, tx, session, now)
		}
		if event.Type == enums.PaymentEventPending {
			if session.Status == enums.CheckoutStatusPendingPayment {
				return result, nil
			}
			return result, move(enums.CheckoutStatusPendingPayment, nil)
		}
		return result, s.markPaid(ctx, tx, session, result, move, now)
	case enums.PaymentEventFailed:
		return result, move(enums.CheckoutStatusFailed, nil)
	case enums.PaymentEventCancelled:
		return result, move(enums.CheckoutStatusCancelled, nil)
	}
	return result, nil
}

func (s *service) markPaid(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession, result *WebhookResult, move func(enums.CheckoutSessionStatus, map[string]any) error, now time.Time) error {
	items := make([]orders.LineItemInput, 0, len(session.Items))
	for _, item := range session.Items {
		items = append(items, orders.LineItemInput{
			VariantID:  item.VariantID,
			LocationID: item.LocationID,
			Qty:        item.Qty,
			UnitPrice:  item.UnitPrice,
		})
	}
	sessionID := session.ID
	order, err := s.orders.CreateOrderTx(ctx, tx, orders.CreateOrderInput{
		BusinessID:        session.BusinessID,
		CustomerID:        session.CustomerID,
		PaymentMethod:     enums.PaymentMethodOnline,
		Channel:           enums.OrderChannelOnline,
		Currency:          session.Currency,
		CheckoutSessionID: &sessionID,
		Items:             items,
		Actor:             &outbox.ActorRef{BusinessID: session.BusinessID, Source: "payment_webhook"},
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			result.ConflictCode = ConflictInsufficientStock
			s.metrics.StockConflict(string(enums.OrderChannelOnline))
			return move(enums.CheckoutStatusFailed, nil)
		}
		return err
	}

	if err := move(enums.CheckoutStatusPaid, map[string]any{"order_id": order.ID, "paid_at": now}); err != nil {
		return err
	}
	result.OrderID = &order.ID

	reference := ""
	if session.PaymentReference != nil {
		reference = *session.PaymentReference
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCheckoutPaid,
		AggregateType: enums.AggregateCheckoutSession,
		AggregateID:   session.ID,
		BusinessID:    session.BusinessID,
		OccurredAt:    now,
		Data: outbox.CheckoutPaidEvent{
			SessionID:        session.ID,
			BusinessID:       session.BusinessID,
			OrderID:          order.ID,
			PaymentProvider:  session.PaymentProvider,
			PaymentReference: reference,
			TotalAmount:      session.TotalAmount,
			Currency:         session.Currency,
			CustomerEmail:    session.CustomerEmail,
		},
	})
}

func (s *service) emitExpired(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession, now time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCheckoutExpired,
		AggregateType: enums.AggregateCheckoutSession,
		AggregateID:   session.ID,
		BusinessID:    session.BusinessID,
		OccurredAt:    now,
		Data: outbox.CheckoutExpiredEvent{
			SessionID:  session.ID,
			BusinessID: session.BusinessID,
			ExpiredAt:  now,
		},
	})
}

// ExpireStaleSessions moves every active session with expires_at <= now to
// expired in batches. Running it again for the same now changes nothing.
func (s *service) ExpireStaleSessions(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	total := 0
	for {
		var affected int64
		var claimed int
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			stale, err := repo.LockStaleSessions(ctx, now, s.cfg.ExpiryBatchSize)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select stale checkout sessions")
			}
			claimed = len(stale)
			if claimed == 0 {
				return nil
			}
			ids := make([]uuid.UUID, 0, len(stale))
			for _, session := range stale {
				ids = append(ids, session.ID)
			}
			affected, err = repo.ExpireSessions(ctx, ids, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire checkout sessions")
			}
			for i := range stale {
				if err := s.emitExpired(ctx, tx, &stale[i], now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += int(affected)
		if claimed < s.cfg.ExpiryBatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	s.metrics.CheckoutTransition(string(enums.CheckoutStatusExpired), total)
	if s.logg != nil && total > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", total), "checkout sessions expired")
	}
	return total, nil
}

func (s *service) GetSession(ctx context.Context, businessID, sessionID uuid.UUID) (*SessionDTO, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business context missing")
	}
	session, err := s.repo.FindSession(ctx, businessID, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	return toSessionDTO(session), nil
}

func (s *service) GetSessionByToken(ctx context.Context, token string) (*SessionDTO, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session token required")
	}
	session, err := s.repo.FindSessionByToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	return toSessionDTO(session), nil
}

func (s *service) urlOrDefault(raw, kind string) string {
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		return trimmed
	}
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/checkout/" + kind
}

func newSessionToken() string {
	a, b := uuid.New(), uuid.New()
	return "cs_" + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:8])
}
