package square

import (
	"strconv"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// OrderLine is one priced line of a Square order.
type OrderLine struct {
	Name        string
	Quantity    int64
	AmountCents int64
}

// OrderCreateParams encapsulates the inputs for a Square order.
type OrderCreateParams struct {
	LocationID     string
	ReferenceID    string
	Currency       string
	Lines          []OrderLine
	IdempotencyKey string
}

func (p OrderCreateParams) toSquareRequest(idempotencyKey string) *sq.CreateOrderRequest {
	order := &sq.Order{
		LocationID: p.LocationID,
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		order.ReferenceID = ptrString(trimmed)
	}
	for _, line := range p.Lines {
		order.LineItems = append(order.LineItems, &sq.OrderLineItem{
			Name:           ptrString(line.Name),
			Quantity:       strconv.FormatInt(line.Quantity, 10),
			BasePriceMoney: moneyPtr(line.AmountCents, p.Currency),
		})
	}
	return &sq.CreateOrderRequest{
		IdempotencyKey: ptrString(idempotencyKey),
		Order:          order,
	}
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
