package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/resilience"
	"github.com/monidesk/ibos-backend/pkg/square"
	"github.com/monidesk/ibos-backend/pkg/stripe"
)

// New selects the provider named by IBOS_PAYMENTS_PROVIDER. Remote providers
// are wrapped in a circuit breaker.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Provider, error) {
	switch cfg.Payments.ProviderName() {
	case config.PaymentProviderStub:
		return NewStubProvider(cfg.Checkout.PublicBaseURL), nil
	case config.PaymentProviderStripe:
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		return WithBreaker(NewStripeProvider(client), cfg.Payments, logg), nil
	case config.PaymentProviderSquare:
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		return WithBreaker(NewSquareProvider(client, cfg.Checkout.PublicBaseURL), cfg.Payments, logg), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Payments.Provider)
	}
}

type guardedProvider struct {
	inner   Provider
	breaker *resilience.Breaker
}

// WithBreaker routes InitializeCheckout through a circuit breaker named after the provider.
func WithBreaker(p Provider, cfg config.PaymentsConfig, logg *logger.Logger) Provider {
	return &guardedProvider{
		inner: p,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "payments." + p.Name(),
			MaxRequests:      cfg.BreakerMaxRequests,
			Interval:         cfg.BreakerInterval,
			Timeout:          cfg.BreakerTimeout,
			FailureThreshold: cfg.BreakerFailureThreshold,
		}, logg),
	}
}

func (g *guardedProvider) Name() string {
	return g.inner.Name()
}

func (g *guardedProvider) InitializeCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	return resilience.Execute(ctx, g.breaker, func(ctx context.Context) (CheckoutResult, error) {
		return g.inner.InitializeCheckout(ctx, req)
	})
}

func unixUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
