package enums

import "fmt"

// LedgerReason explains why a ledger entry moved stock.
type LedgerReason string

const (
	LedgerReasonStockIn     LedgerReason = "stock_in"
	LedgerReasonSale        LedgerReason = "sale"
	LedgerReasonAdjustment  LedgerReason = "adjustment"
	LedgerReasonTransferOut LedgerReason = "transfer_out"
	LedgerReasonTransferIn  LedgerReason = "transfer_in"
	LedgerReasonReturn      LedgerReason = "return"
	LedgerReasonRestock     LedgerReason = "restock"
)

var validLedgerReasons = []LedgerReason{
	LedgerReasonStockIn,
	LedgerReasonSale,
	LedgerReasonAdjustment,
	LedgerReasonTransferOut,
	LedgerReasonTransferIn,
	LedgerReasonReturn,
	LedgerReasonRestock,
}

// String implements fmt.Stringer.
func (r LedgerReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known LedgerReason.
func (r LedgerReason) IsValid() bool {
	for _, candidate := range validLedgerReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// Decrements reports whether entries with this reason are expected to carry a negative delta.
func (r LedgerReason) Decrements() bool {
	return r == LedgerReasonSale || r == LedgerReasonTransferOut
}

// ParseLedgerReason converts raw input into a LedgerReason.
func ParseLedgerReason(value string) (LedgerReason, error) {
	for _, candidate := range validLedgerReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger reason %q", value)
}
