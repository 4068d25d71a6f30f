package orders

import (
	"time"

	"github.com/monidesk/ibos-backend/pkg/db/models"
)

// ToDTO maps a persisted order onto its API shape.
func ToDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:                order.ID,
		BusinessID:        order.BusinessID,
		CustomerID:        order.CustomerID,
		PaymentMethod:     order.PaymentMethod,
		Channel:           order.Channel,
		Status:            order.Status,
		Currency:          order.Currency,
		TotalAmount:       order.TotalAmount,
		SaleID:            order.SaleID,
		CheckoutSessionID: order.CheckoutSessionID,
		Note:              order.Note,
		CreatedAt:         order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:         item.ID,
			VariantID:  item.VariantID,
			LocationID: item.LocationID,
			Qty:        item.Qty,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}
	return dto
}
