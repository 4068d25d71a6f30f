package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/api/middleware"
	inventorysvc "github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/pagination"
)

// stubInventory embeds the interface so only the HTTP-facing calls need bodies.
type stubInventory struct {
	inventorysvc.Service
	stock       int64
	stockKey    inventorysvc.StockKey
	movement    inventorysvc.MovementInput
	movementErr error
	params      pagination.Params
}

func (s *stubInventory) GetStock(_ context.Context, key inventorysvc.StockKey) (int64, error) {
	s.stockKey = key
	return s.stock, nil
}

func (s *stubInventory) RecordMovement(_ context.Context, input inventorysvc.MovementInput) ([]models.LedgerEntry, error) {
	if s.movementErr != nil {
		return nil, s.movementErr
	}
	s.movement = input
	return []models.LedgerEntry{{
		ID:         uuid.New(),
		BusinessID: input.BusinessID,
		VariantID:  input.VariantID,
		LocationID: input.LocationID,
		QtyDelta:   input.Qty,
		Reason:     input.Reason,
		CreatedAt:  time.Now(),
	}}, nil
}

func (s *stubInventory) ListEntries(_ context.Context, businessID, variantID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error) {
	s.params = params
	return pagination.Page[models.LedgerEntry]{
		Items:      []models.LedgerEntry{{ID: uuid.New(), BusinessID: businessID, VariantID: variantID, QtyDelta: -1, Reason: enums.LedgerReasonSale}},
		NextCursor: "next",
	}, nil
}

func callerRequest(method, target string, body []byte, businessID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{
		BusinessID: businessID,
		Role:       enums.MemberRoleManager,
	}))
}

func withVariant(req *http.Request, variantID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("variantId", variantID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetStockUsesLocationFilter(t *testing.T) {
	svc := &stubInventory{stock: 7}
	businessID := uuid.New()
	variantID := uuid.New()
	locationID := uuid.New()
	req := callerRequest(http.MethodGet, "/api/v1/inventory/"+variantID.String()+"/stock?location_id="+locationID.String(), nil, businessID)
	req = withVariant(req, variantID.String())
	rec := httptest.NewRecorder()

	GetStock(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.stockKey.BusinessID != businessID || svc.stockKey.VariantID != variantID {
		t.Fatalf("unexpected stock key %+v", svc.stockKey)
	}
	if svc.stockKey.LocationID == nil || *svc.stockKey.LocationID != locationID {
		t.Fatalf("expected location filter to be forwarded")
	}

	var out struct {
		Data stockResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.Qty != 7 {
		t.Fatalf("expected qty 7, got %d", out.Data.Qty)
	}
}

func TestRecordMovementCreatesEntries(t *testing.T) {
	svc := &stubInventory{}
	businessID := uuid.New()
	variantID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"variant_id": variantID,
		"reason":     "stock_in",
		"qty":        12,
		"unit_cost":  "3.50",
	})
	rec := httptest.NewRecorder()

	RecordMovement(svc, nil).ServeHTTP(rec, callerRequest(http.MethodPost, "/api/v1/inventory/movements", body, businessID))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.movement.BusinessID != businessID || svc.movement.Reason != enums.LedgerReasonStockIn || svc.movement.Qty != 12 {
		t.Fatalf("unexpected movement %+v", svc.movement)
	}
	if svc.movement.UnitCost == nil || svc.movement.UnitCost.String() != "3.5" {
		t.Fatalf("expected unit cost to be forwarded")
	}
}

func TestRecordMovementRejectsSaleReason(t *testing.T) {
	body, _ := json.Marshal(map[string]any{"variant_id": uuid.New(), "reason": "sale", "qty": 1})
	rec := httptest.NewRecorder()

	RecordMovement(&stubInventory{}, nil).ServeHTTP(rec, callerRequest(http.MethodPost, "/api/v1/inventory/movements", body, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reserved reason, got %d", rec.Code)
	}
}

func TestRecordMovementSurfacesInsufficientStock(t *testing.T) {
	svc := &stubInventory{movementErr: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")}
	body, _ := json.Marshal(map[string]any{"variant_id": uuid.New(), "reason": "adjustment", "qty": -50})
	rec := httptest.NewRecorder()

	RecordMovement(svc, nil).ServeHTTP(rec, callerRequest(http.MethodPost, "/api/v1/inventory/movements", body, uuid.New()))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestListEntriesPages(t *testing.T) {
	svc := &stubInventory{}
	variantID := uuid.New()
	req := callerRequest(http.MethodGet, "/api/v1/inventory/"+variantID.String()+"/entries?limit=5&cursor=abc", nil, uuid.New())
	req = withVariant(req, variantID.String())
	rec := httptest.NewRecorder()

	ListEntries(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.params.Limit != 5 || svc.params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.params)
	}
	var out struct {
		Data pagination.Page[entryResponse] `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data.Items) != 1 || out.Data.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", out.Data)
	}
}
