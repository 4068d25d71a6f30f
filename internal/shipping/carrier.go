package shipping

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
)

// Carrier is the port every shipping integration implements.
type Carrier interface {
	Code() string
	QuoteRates(ctx context.Context, req RateRequest) ([]Rate, error)
	BuyLabel(ctx context.Context, req LabelRequest) (*Label, error)
	Track(ctx context.Context, trackingNumber string) (*TrackingInfo, error)
}

type Address struct {
	Name     string `json:"name,omitempty"`
	Line1    string `json:"line1" validate:"required"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city" validate:"required"`
	Region   string `json:"region,omitempty"`
	Postcode string `json:"postcode" validate:"required"`
	Country  string `json:"country" validate:"required,len=2"`
}

func (a Address) validate(field string) error {
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Postcode) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, field+" requires line1, city and postcode")
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return pkgerrors.New(pkgerrors.CodeValidation, field+".country must be an ISO 3166 alpha-2 code")
	}
	return nil
}

// Parcel is the package handed to the carrier.
type Parcel struct {
	WeightGrams int64 `json:"weight_grams"`
	ItemCount   int64 `json:"item_count"`
}

type RateRequest struct {
	Origin      Address
	Destination Address
	Parcel      Parcel
	Currency    string
}

type Rate struct {
	Carrier       string          `json:"carrier"`
	ServiceCode   string          `json:"service_code"`
	ServiceName   string          `json:"service_name"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	EstimatedDays int             `json:"estimated_days"`
}

type LabelRequest struct {
	Reference   string
	Origin      Address
	Destination Address
	Parcel      Parcel
	ServiceCode string
	Currency    string
}

type Label struct {
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"tracking_number"`
	ServiceCode    string          `json:"service_code"`
	LabelURL       string          `json:"label_url"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

type TrackingEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
}

type TrackingInfo struct {
	TrackingNumber string          `json:"tracking_number"`
	Carrier        string          `json:"carrier"`
	Status         string          `json:"status"`
	Events         []TrackingEvent `json:"events"`
}
