package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/internal/checkout"
	"github.com/monidesk/ibos-backend/internal/payments"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// EventHandler applies a normalized payment event to its checkout session.
type EventHandler interface {
	HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) (*checkout.WebhookResult, error)
}

type paymentEventRequest struct {
	EventID          string     `json:"event_id"`
	EventType        string     `json:"event_type"`
	PaymentReference string     `json:"payment_reference"`
	OccurredAt       *time.Time `json:"occurred_at"`
}

// PaymentsWebhook accepts HMAC-signed callbacks in the normalized shape. It
// serves the stub provider and any gateway that can post our format.
func PaymentsWebhook(handler EventHandler, provider, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		payload, err := readBody(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !payments.VerifySignature(secret, payload, r.Header.Get(payments.SignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var body paymentEventRequest
		if err := json.Unmarshal(payload, &body); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}
		eventType, err := enums.ParsePaymentEventType(strings.TrimSpace(body.EventType))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type"))
			return
		}
		if strings.TrimSpace(body.EventID) == "" || strings.TrimSpace(body.PaymentReference) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id and payment_reference are required"))
			return
		}

		event := payments.WebhookEvent{
			EventID:          strings.TrimSpace(body.EventID),
			Provider:         provider,
			Type:             eventType,
			PaymentReference: strings.TrimSpace(body.PaymentReference),
		}
		if body.OccurredAt != nil {
			event.OccurredAt = body.OccurredAt.UTC()
		}
		apply(ctx, w, handler, event, logg)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	return payload, nil
}

func apply(ctx context.Context, w http.ResponseWriter, handler EventHandler, event payments.WebhookEvent, logg *logger.Logger) {
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"provider":   event.Provider,
			"event_id":   event.EventID,
			"event_type": string(event.Type),
		})
	}

	result, err := handler.HandleWebhookEvent(ctx, event)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"duplicate": result.Duplicate,
			"applied":   result.Applied,
			"status":    string(result.Status),
		})
		logg.Info(logCtx, "webhook.processed")
	}
	responses.WriteSuccess(w, result)
}

func ignored(w http.ResponseWriter, eventID, eventType string) {
	responses.WriteSuccess(w, map[string]any{
		"event_id":   eventID,
		"event_type": eventType,
		"ignored":    true,
	})
}
