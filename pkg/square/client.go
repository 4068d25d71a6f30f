package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

// Environments accepted in IBOS_SQUARE_ENV, mapped to their API hosts.
var hosts = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// Client is the Square surface IBOS needs: registering the order a hosted
// payment settles, and authenticating the notifications that follow.
type Client struct {
	orders        *sqclient.Client
	locationID    string
	webhookSecret string
	webhookURL    string
	logg          *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment()))
	if env == "" {
		env = "sandbox"
	}
	host, ok := hosts[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be sandbox or production, got %q", env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSignatureKey)
	if secret == "" {
		return nil, errors.New("square webhook signature key is required")
	}

	c := &Client{
		orders:        sqclient.NewClient(sqoption.WithBaseURL(host), sqoption.WithToken(token)),
		locationID:    strings.TrimSpace(cfg.LocationID),
		webhookSecret: secret,
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		logg:          logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

// CreateOrder registers a Square order that the hosted payment flow settles.
// Payment webhooks carry its id as payment.order_id.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*sq.Order, error) {
	if strings.TrimSpace(params.LocationID) == "" {
		params.LocationID = c.locationID
	}
	key := idempotencyKey("order-create", params.IdempotencyKey)
	ctx = c.logg.WithFields(ctx, redactFields(map[string]any{
		"operation":       "create_order",
		"location_id":     params.LocationID,
		"reference_token": params.ReferenceID,
		"lines":           len(params.Lines),
	}))

	resp, err := c.orders.Orders.Create(ctx, params.toSquareRequest(key))
	if err != nil {
		c.logg.Error(ctx, "square create_order failed", err)
		return nil, mapError(err, "create order")
	}
	order := resp.GetOrder()
	if order != nil && order.GetID() != nil {
		c.logg.Info(c.logg.WithField(ctx, "square_order_id", *order.GetID()), "square order created")
	}
	return order, nil
}

// VerifySignature checks the x-square-hmacsha256-signature header against the
// configured notification URL.
func (c *Client) VerifySignature(body []byte, header string) bool {
	if c == nil {
		return false
	}
	return VerifySignature(c.webhookSecret, c.webhookURL, body, header)
}

// VerifySignature reports whether header is the base64 HMAC-SHA256 of the
// notification URL followed by the raw body.
func VerifySignature(signatureKey, notificationURL string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || signatureKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return hmac.Equal([]byte(base64.StdEncoding.EncodeToString(mac.Sum(nil))), []byte(header))
}

// idempotencyKey keeps a caller supplied key so retries of the same checkout
// collapse on Square's side; otherwise it mints a one-off key.
func idempotencyKey(prefix, provided string) string {
	if k := strings.TrimSpace(provided); k != "" {
		return k
	}
	return prefix + "-" + uuid.NewString()
}

var sensitiveKeyParts = []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"}

func redactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
		lower := strings.ToLower(k)
		for _, part := range sensitiveKeyParts {
			if strings.Contains(lower, part) {
				out[k] = "[REDACTED]"
				break
			}
		}
	}
	return out
}
