package shipping

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/resilience"
)

type orderReader interface {
	GetOrder(ctx context.Context, businessID, orderID uuid.UUID) (*orders.OrderDTO, error)
}

// Service quotes and buys shipping for orders that have been paid.
type Service interface {
	QuoteForOrder(ctx context.Context, businessID, orderID uuid.UUID, destination Address) ([]Rate, error)
	BuyLabelForOrder(ctx context.Context, businessID, orderID uuid.UUID, destination Address, serviceCode string) (*Label, error)
	Track(ctx context.Context, trackingNumber string) (*TrackingInfo, error)
}

type ServiceParams struct {
	Orders  orderReader
	Carrier Carrier
	Breaker *resilience.Breaker
	Config  config.ShippingConfig
	Logger  *logger.Logger
}

type service struct {
	orders  orderReader
	carrier Carrier
	breaker *resilience.Breaker
	cfg     config.ShippingConfig
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Carrier == nil {
		return nil, fmt.Errorf("carrier required")
	}
	cfg := params.Config
	if cfg.DefaultWeightG <= 0 {
		cfg.DefaultWeightG = 500
	}
	return &service{
		orders:  params.Orders,
		carrier: params.Carrier,
		breaker: params.Breaker,
		cfg:     cfg,
		logg:    params.Logger,
	}, nil
}

// NewCarrier picks the carrier named by IBOS_SHIPPING_CARRIER.
func NewCarrier(cfg config.ShippingConfig, baseURL string) (Carrier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Carrier)) {
	case "", StubCarrierCode:
		return NewStubCarrier(baseURL, nil), nil
	default:
		return nil, fmt.Errorf("unknown shipping carrier %q", cfg.Carrier)
	}
}

func (s *service) QuoteForOrder(ctx context.Context, businessID, orderID uuid.UUID, destination Address) ([]Rate, error) {
	order, parcel, err := s.shippableOrder(ctx, businessID, orderID, destination)
	if err != nil {
		return nil, err
	}
	return resilience.Execute(ctx, s.breaker, func(ctx context.Context) ([]Rate, error) {
		return s.carrier.QuoteRates(ctx, RateRequest{
			Origin:      s.origin(),
			Destination: destination,
			Parcel:      parcel,
			Currency:    order.Currency,
		})
	})
}

func (s *service) BuyLabelForOrder(ctx context.Context, businessID, orderID uuid.UUID, destination Address, serviceCode string) (*Label, error) {
	serviceCode = strings.TrimSpace(serviceCode)
	if serviceCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service_code is required")
	}
	order, parcel, err := s.shippableOrder(ctx, businessID, orderID, destination)
	if err != nil {
		return nil, err
	}
	label, err := resilience.Execute(ctx, s.breaker, func(ctx context.Context) (*Label, error) {
		return s.carrier.BuyLabel(ctx, LabelRequest{
			Reference:   order.ID.String(),
			Origin:      s.origin(),
			Destination: destination,
			Parcel:      parcel,
			ServiceCode: serviceCode,
			Currency:    order.Currency,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"business_id":     businessID.String(),
			"order_id":        orderID.String(),
			"carrier":         label.Carrier,
			"tracking_number": label.TrackingNumber,
		})
		s.logg.Info(logCtx, "shipping label purchased")
	}
	return label, nil
}

func (s *service) Track(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	if strings.TrimSpace(trackingNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	return resilience.Execute(ctx, s.breaker, func(ctx context.Context) (*TrackingInfo, error) {
		return s.carrier.Track(ctx, trackingNumber)
	})
}

func (s *service) shippableOrder(ctx context.Context, businessID, orderID uuid.UUID, destination Address) (*orders.OrderDTO, Parcel, error) {
	if err := destination.validate("destination"); err != nil {
		return nil, Parcel{}, err
	}
	order, err := s.orders.GetOrder(ctx, businessID, orderID)
	if err != nil {
		return nil, Parcel{}, err
	}
	if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusProcessing {
		return nil, Parcel{}, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %s cannot be shipped", order.Status))
	}
	var units int64
	for _, item := range order.Items {
		units += item.Qty
	}
	return order, Parcel{WeightGrams: units * int64(s.cfg.DefaultWeightG), ItemCount: units}, nil
}

func (s *service) origin() Address {
	return Address{Postcode: s.cfg.OriginPostcode}
}
