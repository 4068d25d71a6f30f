package enums

import "fmt"

// CheckoutSessionStatus is the lifecycle state of an online checkout session.
type CheckoutSessionStatus string

const (
	CheckoutStatusOpen           CheckoutSessionStatus = "open"
	CheckoutStatusPendingPayment CheckoutSessionStatus = "pending_payment"
	CheckoutStatusPaid           CheckoutSessionStatus = "paid"
	CheckoutStatusExpired        CheckoutSessionStatus = "expired"
	CheckoutStatusFailed         CheckoutSessionStatus = "failed"
	CheckoutStatusCancelled      CheckoutSessionStatus = "cancelled"
)

var validCheckoutStatuses = []CheckoutSessionStatus{
	CheckoutStatusOpen,
	CheckoutStatusPendingPayment,
	CheckoutStatusPaid,
	CheckoutStatusExpired,
	CheckoutStatusFailed,
	CheckoutStatusCancelled,
}

// ActiveCheckoutStatuses are the states a webhook or the expiry sweep may move out of.
var ActiveCheckoutStatuses = []CheckoutSessionStatus{
	CheckoutStatusOpen,
	CheckoutStatusPendingPayment,
}

func (s CheckoutSessionStatus) String() string {
	return string(s)
}

func (s CheckoutSessionStatus) IsValid() bool {
	for _, candidate := range validCheckoutStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the session can still be paid, failed, cancelled or expired.
func (s CheckoutSessionStatus) IsActive() bool {
	return s == CheckoutStatusOpen || s == CheckoutStatusPendingPayment
}

func ParseCheckoutSessionStatus(value string) (CheckoutSessionStatus, error) {
	for _, candidate := range validCheckoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout session status %q", value)
}

// PaymentEventType is the normalized payment provider callback type.
type PaymentEventType string

const (
	PaymentEventSucceeded PaymentEventType = "payment.succeeded"
	PaymentEventPending   PaymentEventType = "payment.pending"
	PaymentEventFailed    PaymentEventType = "payment.failed"
	PaymentEventCancelled PaymentEventType = "payment.cancelled"
)

var validPaymentEventTypes = []PaymentEventType{
	PaymentEventSucceeded,
	PaymentEventPending,
	PaymentEventFailed,
	PaymentEventCancelled,
}

func (e PaymentEventType) IsValid() bool {
	for _, candidate := range validPaymentEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

func ParsePaymentEventType(value string) (PaymentEventType, error) {
	for _, candidate := range validPaymentEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event type %q", value)
}
