package inventory

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/monidesk/ibos-backend/api/controllers"
	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/api/validators"
	inventorysvc "github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/pagination"
)

type movementRequest struct {
	VariantID    uuid.UUID        `json:"variant_id" validate:"required"`
	LocationID   *uuid.UUID       `json:"location_id"`
	ToLocationID *uuid.UUID       `json:"to_location_id"`
	Reason       string           `json:"reason" validate:"required,oneof=stock_in adjustment transfer_out transfer_in return restock"`
	Qty          int64            `json:"qty" validate:"required"`
	UnitCost     *decimal.Decimal `json:"unit_cost"`
	ReferenceID  *uuid.UUID       `json:"reference_id"`
	Note         string           `json:"note" validate:"max=500"`
}

type stockResponse struct {
	VariantID  uuid.UUID  `json:"variant_id"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	Qty        int64      `json:"qty"`
}

type entryResponse struct {
	ID          uuid.UUID          `json:"id"`
	VariantID   uuid.UUID          `json:"variant_id"`
	LocationID  *uuid.UUID         `json:"location_id,omitempty"`
	QtyDelta    int64              `json:"qty_delta"`
	Reason      enums.LedgerReason `json:"reason"`
	ReferenceID *uuid.UUID         `json:"reference_id,omitempty"`
	UnitCost    *decimal.Decimal   `json:"unit_cost,omitempty"`
	Note        *string            `json:"note,omitempty"`
	CreatedAt   string             `json:"created_at"`
}

func toEntryResponse(e models.LedgerEntry) entryResponse {
	out := entryResponse{
		ID:          e.ID,
		VariantID:   e.VariantID,
		LocationID:  e.LocationID,
		QtyDelta:    e.QtyDelta,
		Reason:      e.Reason,
		ReferenceID: e.ReferenceID,
		Note:        e.Note,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.UnitCost.Valid {
		cost := e.UnitCost.Decimal
		out.UnitCost = &cost
	}
	return out
}

// GetStock returns the ledger sum for a variant, optionally at one location.
func GetStock(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, err := controllers.PathUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		locationID, err := controllers.QueryUUID(r, "location_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		qty, err := svc.GetStock(r.Context(), inventorysvc.StockKey{
			BusinessID: caller.BusinessID,
			VariantID:  variantID,
			LocationID: locationID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stockResponse{VariantID: variantID, LocationID: locationID, Qty: qty})
	}
}

// RecordMovement appends a manual stock movement (stock in, adjustment, transfer, return).
func RecordMovement(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body movementRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.RecordMovement(r.Context(), inventorysvc.MovementInput{
			BusinessID:   caller.BusinessID,
			VariantID:    body.VariantID,
			LocationID:   body.LocationID,
			ToLocationID: body.ToLocationID,
			Reason:       enums.LedgerReason(strings.TrimSpace(body.Reason)),
			Qty:          body.Qty,
			UnitCost:     body.UnitCost,
			ReferenceID:  body.ReferenceID,
			Note:         validators.SanitizeString(body.Note, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]entryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toEntryResponse(e))
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"entries": out})
	}
}

// ListEntries pages through a variant's ledger history, newest first.
func ListEntries(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		caller, err := controllers.CallerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, err := controllers.PathUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := controllers.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListEntries(r.Context(), caller.BusinessID, variantID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := pagination.Page[entryResponse]{NextCursor: page.NextCursor, Items: make([]entryResponse, 0, len(page.Items))}
		for _, e := range page.Items {
			out.Items = append(out.Items, toEntryResponse(e))
		}
		responses.WriteSuccess(w, out)
	}
}
