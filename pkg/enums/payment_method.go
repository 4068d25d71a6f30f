package enums

import "fmt"

// PaymentMethod describes how a customer settled (or will settle) an order.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodOnline       PaymentMethod = "online"
	PaymentMethodOther        PaymentMethod = "other"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCash,
	PaymentMethodCard,
	PaymentMethodMobileMoney,
	PaymentMethodBankTransfer,
	PaymentMethodOnline,
	PaymentMethodOther,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// OrderChannel records where an order originated.
type OrderChannel string

const (
	OrderChannelPOS        OrderChannel = "pos"
	OrderChannelOnline     OrderChannel = "online"
	OrderChannelStorefront OrderChannel = "storefront"
	OrderChannelManual     OrderChannel = "manual"
)

var validOrderChannels = []OrderChannel{
	OrderChannelPOS,
	OrderChannelOnline,
	OrderChannelStorefront,
	OrderChannelManual,
}

func (c OrderChannel) String() string {
	return string(c)
}

func (c OrderChannel) IsValid() bool {
	for _, candidate := range validOrderChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseOrderChannel(value string) (OrderChannel, error) {
	for _, candidate := range validOrderChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order channel %q", value)
}
