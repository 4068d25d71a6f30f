package possync

import (
	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/outbox"
)

const (
	ConflictInsufficientStock = "insufficient_stock"
	ConflictInvalidOrder      = "invalid_order"
)

// OfflineOrder is a sale captured by a POS terminal while disconnected.
type OfflineOrder struct {
	ClientEventID string
	CustomerID    *uuid.UUID
	PaymentMethod enums.PaymentMethod
	Currency      string
	SaleID        *uuid.UUID
	Note          string
	Items         []orders.LineItemInput
}

// SyncInput is one batch uploaded by a terminal.
type SyncInput struct {
	BusinessID uuid.UUID
	Policy     enums.ConflictPolicy
	Orders     []OfflineOrder
	Actor      *outbox.ActorRef
}

// EventResult is the decision for one offline order.
type EventResult struct {
	ClientEventID string            `json:"client_event_id"`
	Outcome       enums.SyncOutcome `json:"outcome"`
	OrderID       *uuid.UUID        `json:"order_id,omitempty"`
	ConflictCode  *string           `json:"conflict_code,omitempty"`
	Note          *string           `json:"note,omitempty"`
}

// Result aggregates a batch.
type Result struct {
	Processed  int           `json:"processed"`
	Created    int           `json:"created"`
	Conflicted int           `json:"conflicted"`
	Duplicate  int           `json:"duplicate"`
	Results    []EventResult `json:"results"`
}

func (r *Result) add(res EventResult) {
	r.Processed++
	switch res.Outcome {
	case enums.SyncOutcomeCreated:
		r.Created++
	case enums.SyncOutcomeConflicted:
		r.Conflicted++
	case enums.SyncOutcomeDuplicate:
		r.Duplicate++
	}
	r.Results = append(r.Results, res)
}
