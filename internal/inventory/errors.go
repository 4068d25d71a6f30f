package inventory

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
)

// Shortfall describes why the ledger could not cover a requested quantity.
type Shortfall struct {
	VariantID  uuid.UUID  `json:"variant_id"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	Requested  int64      `json:"requested"`
	Available  int64      `json:"available"`
}

// InsufficientStock builds the typed INSUFFICIENT_STOCK error for a variant.
func InsufficientStock(s Shortfall) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d", s.VariantID, s.Requested, s.Available)).
		WithDetails(s)
}

// ShortfallFrom extracts the shortfall carried by an INSUFFICIENT_STOCK error.
func ShortfallFrom(err error) (Shortfall, bool) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		return Shortfall{}, false
	}
	s, ok := typed.Details().(Shortfall)
	return s, ok
}
