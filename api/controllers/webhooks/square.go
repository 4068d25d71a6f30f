package webhooks

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/internal/payments"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

const squareSignatureHeader = "X-Square-Hmacsha256-Signature"

type squareSignatureVerifier interface {
	VerifySignature(body []byte, header string) bool
}

// SquareWebhook handles payment.created and payment.updated notifications.
func SquareWebhook(handler EventHandler, client squareSignatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "square client unavailable"))
			return
		}

		payload, err := readBody(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !client.VerifySignature(payload, r.Header.Get(squareSignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature"))
			return
		}

		var event payments.SquareWebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}
		if strings.TrimSpace(event.EventID) == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required"))
			return
		}

		normalized, ok := payments.NormalizeSquareEvent(event)
		if !ok {
			ignored(w, event.EventID, event.Type)
			return
		}
		apply(ctx, w, handler, normalized, logg)
	}
}
