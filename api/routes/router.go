package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	stripego "github.com/stripe/stripe-go/v84"

	"github.com/monidesk/ibos-backend/api/controllers"
	checkoutcontrollers "github.com/monidesk/ibos-backend/api/controllers/checkout"
	inventorycontrollers "github.com/monidesk/ibos-backend/api/controllers/inventory"
	ordercontrollers "github.com/monidesk/ibos-backend/api/controllers/orders"
	possynccontrollers "github.com/monidesk/ibos-backend/api/controllers/possync"
	shippingcontrollers "github.com/monidesk/ibos-backend/api/controllers/shipping"
	webhookcontrollers "github.com/monidesk/ibos-backend/api/controllers/webhooks"
	"github.com/monidesk/ibos-backend/api/middleware"
	checkoutsvc "github.com/monidesk/ibos-backend/internal/checkout"
	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/internal/possync"
	"github.com/monidesk/ibos-backend/internal/shipping"
	"github.com/monidesk/ibos-backend/pkg/auth/session"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

type sessionManager interface {
	session.Checker
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// KeyValueStore is the Redis surface shared by idempotency and rate limiting.
type KeyValueStore interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(businessID, scope, id string) string
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripego.Event, error)
}

type squareVerifier interface {
	VerifySignature(body []byte, header string) bool
}

// Deps carries everything the HTTP surface needs. Nil optional members
// (Redis, Stripe, Square, Metrics) switch the matching routes or middleware off.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    KeyValueStore
	Sessions sessionManager
	Metrics  prometheus.Gatherer

	Inventory inventory.Service
	Orders    orders.Service
	Checkout  checkoutsvc.Service
	Sync      possync.Service
	Shipping  shipping.Service

	Stripe stripeVerifier
	Square squareVerifier
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var redisPinger controllers.Pinger
	if d.Redis != nil {
		redisPinger = d.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.DB, redisPinger))
	})

	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{}))
	}

	webhookPolicy := middleware.PerIP("webhooks", cfg.RateLimit.WebhookWindow, cfg.RateLimit.WebhookLimit)
	syncPolicy := middleware.PerBusiness("pos_sync", cfg.RateLimit.SyncWindow, cfg.RateLimit.SyncLimit)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, d.Redis, logg))
		r.Post("/payments", webhookcontrollers.PaymentsWebhook(d.Checkout, cfg.Payments.ProviderName(), cfg.Payments.WebhookSecret, logg))
		if d.Stripe != nil {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(d.Checkout, d.Stripe, logg))
		}
		if d.Square != nil {
			r.Post("/square", webhookcontrollers.SquareWebhook(d.Checkout, d.Square, logg))
		}
	})

	r.Get("/api/v1/checkout/public/{sessionToken}", checkoutcontrollers.GetPublicSession(d.Checkout, logg))

	writers := []enums.MemberRole{enums.MemberRoleOwner, enums.MemberRoleManager}
	sellers := []enums.MemberRole{enums.MemberRoleOwner, enums.MemberRoleManager, enums.MemberRoleCashier}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
		if d.Redis != nil {
			r.Use(middleware.Idempotency(d.Redis, logg))
		}

		r.Post("/auth/revoke", controllers.AuthRevoke(d.Sessions, logg))

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/{variantId}/stock", inventorycontrollers.GetStock(d.Inventory, logg))
			r.Get("/{variantId}/entries", inventorycontrollers.ListEntries(d.Inventory, logg))
			r.With(middleware.RequireRoles(logg, writers...)).Post("/movements", inventorycontrollers.RecordMovement(d.Inventory, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(d.Orders, logg))
			r.With(middleware.RequireRoles(logg, sellers...)).Post("/", ordercontrollers.Create(d.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(d.Orders, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRoles(logg, writers...))
					r.Post("/status", ordercontrollers.TransitionStatus(d.Orders, logg))
					r.Post("/shipping/quotes", shippingcontrollers.Quote(d.Shipping, logg))
					r.Post("/shipping/labels", shippingcontrollers.BuyLabel(d.Shipping, logg))
				})
			})
		})

		r.Get("/shipping/track/{trackingNumber}", shippingcontrollers.Track(d.Shipping, logg))

		r.Route("/checkout/sessions", func(r chi.Router) {
			r.With(middleware.RequireRoles(logg, sellers...)).Post("/", checkoutcontrollers.CreateSession(d.Checkout, logg))
			r.Get("/{sessionId}", checkoutcontrollers.GetSession(d.Checkout, logg))
		})

		r.With(
			middleware.RequireRoles(logg, sellers...),
			middleware.RateLimit(syncPolicy, d.Redis, logg),
		).Post("/pos/sync", possynccontrollers.Sync(d.Sync, logg))
	})

	return r
}
