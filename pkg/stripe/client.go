package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/monidesk/ibos-backend/pkg/config"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

// keyPrefixes lists the secret and restricted key prefixes each environment accepts.
var keyPrefixes = map[string][]string{
	"test": {"sk_test", "rk_test"},
	"live": {"sk_live", "rk_live"},
}

// Client creates hosted checkout sessions and verifies webhook payloads.
type Client struct {
	env           string
	webhookSecret string
	logg          *logger.Logger
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Environment()))
	if env == "" {
		env = "test"
	}
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, fmt.Errorf("stripe environment %q is not test or live", env)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, errors.New("stripe api key is required")
	case secret == "":
		return nil, errors.New("stripe webhook secret is required")
	case !hasAnyPrefix(apiKey, prefixes):
		return nil, fmt.Errorf("stripe %s environment expects a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	stripe.Key = apiKey
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe.client_ready")
	}
	return &Client{env: env, webhookSecret: secret, logg: logg}, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

type CheckoutLine struct {
	Name            string
	UnitAmountCents int64
	Quantity        int64
}

// CheckoutParams describes a payment-mode Checkout Session.
type CheckoutParams struct {
	ClientReferenceID string
	Currency          string
	Lines             []CheckoutLine
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ExpiresAtUnix     int64
	Metadata          map[string]string
	IdempotencyKey    string
}

func (p CheckoutParams) toStripe(ctx context.Context) *stripe.CheckoutSessionParams {
	out := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
	}
	out.Context = ctx
	if p.ExpiresAtUnix > 0 {
		out.ExpiresAt = stripe.Int64(p.ExpiresAtUnix)
	}
	if email := strings.TrimSpace(p.CustomerEmail); email != "" {
		out.CustomerEmail = stripe.String(email)
	}
	if p.IdempotencyKey != "" {
		out.SetIdempotencyKey(p.IdempotencyKey)
	}

	currency := stripe.String(strings.ToLower(strings.TrimSpace(p.Currency)))
	for _, line := range p.Lines {
		out.LineItems = append(out.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(line.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    currency,
				UnitAmount:  stripe.Int64(line.UnitAmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(line.Name)},
			},
		})
	}
	for k, v := range p.Metadata {
		out.AddMetadata(k, v)
	}
	return out
}

func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*stripe.CheckoutSession, error) {
	cs, err := session.New(p.toStripe(ctx))
	if err != nil {
		if c.logg != nil {
			c.logg.Error(c.logg.WithField(ctx, "client_reference_id", p.ClientReferenceID), "stripe.checkout_session_failed", err)
		}
		return nil, mapError(err, "create checkout session")
	}
	return cs, nil
}

// ConstructEvent checks the Stripe-Signature header against the webhook secret
// and decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, c.webhookSecret)
}

var codeByStatus = map[int]pkgerrors.Code{
	400: pkgerrors.CodeValidation,
	402: pkgerrors.CodeValidation,
	401: pkgerrors.CodeUnauthorized,
	409: pkgerrors.CodeIdempotency,
	429: pkgerrors.CodeRateLimit,
}

func mapError(err error, op string) error {
	code := pkgerrors.CodeDependency
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if mapped, ok := codeByStatus[stripeErr.HTTPStatusCode]; ok {
			code = mapped
		}
	}
	return pkgerrors.Wrap(code, err, "stripe "+op+" failed")
}
