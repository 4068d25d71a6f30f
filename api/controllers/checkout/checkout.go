package checkout

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/api/controllers"
	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/api/validators"
	checkoutsvc "github.com/monidesk/ibos-backend/internal/checkout"
	"github.com/monidesk/ibos-backend/internal/orders"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

type createSessionRequest struct {
	Items         []orders.LineItemInput `json:"items" validate:"required,min=1,dive"`
	Currency      string                 `json:"currency" validate:"omitempty,currency"`
	SuccessURL    string                 `json:"success_url" validate:"omitempty,url"`
	CancelURL     string                 `json:"cancel_url" validate:"omitempty,url"`
	CustomerID    *uuid.UUID             `json:"customer_id"`
	CustomerEmail *string                `json:"customer_email" validate:"omitempty,email"`
}

// CreateSession prices the cart, opens a hosted checkout with the payment
// provider and returns the session with its checkout URL. Stock is checked
// but not reserved.
func CreateSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createSessionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreateSession(r.Context(), checkoutsvc.CreateSessionInput{
			BusinessID:    caller.BusinessID,
			Items:         body.Items,
			Currency:      validators.NormalizeCurrency(body.Currency),
			SuccessURL:    strings.TrimSpace(body.SuccessURL),
			CancelURL:     strings.TrimSpace(body.CancelURL),
			CustomerID:    body.CustomerID,
			CustomerEmail: body.CustomerEmail,
			Actor:         controllers.ActorRef(caller),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// GetSession returns a session owned by the caller's business.
func GetSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := controllers.PathUUID(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.GetSession(r.Context(), caller.BusinessID, sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// GetPublicSession resolves a session by its opaque token for the storefront
// return page. No bearer token is required.
func GetPublicSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		token := strings.TrimSpace(chi.URLParam(r, "sessionToken"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session token is required"))
			return
		}

		session, err := svc.GetSessionByToken(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, publicSession{
			ID:          session.ID,
			Status:      string(session.Status),
			Currency:    session.Currency,
			TotalAmount: session.TotalAmount.StringFixed(2),
			CheckoutURL: session.CheckoutURL,
			OrderID:     session.OrderID,
			ExpiresAt:   session.ExpiresAt,
		})
	}
}
