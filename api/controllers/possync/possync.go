package possync

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/api/controllers"
	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/api/validators"
	"github.com/monidesk/ibos-backend/internal/orders"
	possyncsvc "github.com/monidesk/ibos-backend/internal/possync"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

type offlineOrderRequest struct {
	ClientEventID string                 `json:"client_event_id" validate:"required,max=128"`
	CustomerID    *uuid.UUID             `json:"customer_id"`
	PaymentMethod string                 `json:"payment_method"`
	Currency      string                 `json:"currency" validate:"omitempty,currency"`
	SaleID        *uuid.UUID             `json:"sale_id"`
	Note          string                 `json:"note" validate:"max=500"`
	Items         []orders.LineItemInput `json:"items"`
}

type syncRequest struct {
	Policy string                `json:"policy"`
	Orders []offlineOrderRequest `json:"orders" validate:"required,min=1,dive"`
}

// Sync uploads a batch of offline POS orders. Each order is reconciled on its
// own; the response lists one result per order in request order. Item-level
// problems are reported as conflicted results rather than failing the batch.
func Sync(svc possyncsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body syncRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		policy := enums.ConflictPolicyReject
		if raw := strings.TrimSpace(body.Policy); raw != "" {
			policy, err = enums.ParseConflictPolicy(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid policy").WithDetails(map[string]any{"field": "policy"}))
				return
			}
		}

		input := possyncsvc.SyncInput{
			BusinessID: caller.BusinessID,
			Policy:     policy,
			Orders:     make([]possyncsvc.OfflineOrder, 0, len(body.Orders)),
			Actor:      controllers.ActorRef(caller),
		}
		for _, o := range body.Orders {
			input.Orders = append(input.Orders, possyncsvc.OfflineOrder{
				ClientEventID: strings.TrimSpace(o.ClientEventID),
				CustomerID:    o.CustomerID,
				PaymentMethod: enums.PaymentMethod(strings.TrimSpace(o.PaymentMethod)),
				Currency:      validators.NormalizeCurrency(o.Currency),
				SaleID:        o.SaleID,
				Note:          validators.SanitizeString(o.Note, 500),
				Items:         o.Items,
			})
		}

		result, err := svc.Sync(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
