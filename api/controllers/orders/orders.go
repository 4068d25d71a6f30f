package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/api/controllers"
	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/api/validators"
	internalorders "github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

type createOrderRequest struct {
	CustomerID    *uuid.UUID                     `json:"customer_id"`
	PaymentMethod string                         `json:"payment_method" validate:"required"`
	Channel       string                         `json:"channel"`
	Currency      string                         `json:"currency" validate:"omitempty,currency"`
	SaleID        *uuid.UUID                     `json:"sale_id"`
	Note          string                         `json:"note" validate:"max=500"`
	Items         []internalorders.LineItemInput `json:"items" validate:"required,min=1,dive"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// Create captures a sale: validates, checks stock and writes order, items and
// sale ledger entries in one transaction.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateOrder(r.Context(), internalorders.CreateOrderInput{
			BusinessID:    caller.BusinessID,
			CustomerID:    body.CustomerID,
			PaymentMethod: enums.PaymentMethod(strings.TrimSpace(body.PaymentMethod)),
			Channel:       enums.OrderChannel(strings.TrimSpace(body.Channel)),
			Currency:      validators.NormalizeCurrency(body.Currency),
			SaleID:        body.SaleID,
			Note:          validators.SanitizeString(body.Note, 500),
			Items:         body.Items,
			Actor:         controllers.ActorRef(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.ToDTO(order))
	}
}

// List returns the caller's orders, newest first, with optional status,
// channel and customer filters.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := controllers.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := buildFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListOrders(r.Context(), caller.BusinessID, filters, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns one order with its items. Orders of other businesses are not found.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), caller.BusinessID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// TransitionStatus moves an order forward, or cancels/refunds it with restock.
func TransitionStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(body.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		result, err := svc.TransitionStatus(r.Context(), internalorders.TransitionInput{
			BusinessID: caller.BusinessID,
			OrderID:    orderID,
			Target:     target,
			Actor:      controllers.ActorRef(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func buildFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	var err error

	if filters.Status, err = validators.ParseQueryEnum(r, "status", enums.ParseOrderStatus); err != nil {
		return filters, err
	}
	if filters.Channel, err = validators.ParseQueryEnum(r, "channel", enums.ParseOrderChannel); err != nil {
		return filters, err
	}
	if filters.CustomerID, err = validators.ParseQueryUUID(r, "customer_id"); err != nil {
		return filters, err
	}
	return filters, nil
}
