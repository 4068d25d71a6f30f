package checkout

import (
	"time"

	"github.com/google/uuid"
)

// publicSession is the subset of a session safe to show an anonymous shopper.
type publicSession struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	Currency    string     `json:"currency"`
	TotalAmount string     `json:"total_amount"`
	CheckoutURL *string    `json:"checkout_url,omitempty"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
