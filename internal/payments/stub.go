package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/pkg/config"
)

// StubProvider issues synthetic references for local runs and tests.
type StubProvider struct {
	baseURL string
}

func NewStubProvider(baseURL string) *StubProvider {
	return &StubProvider{baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *StubProvider) Name() string {
	return config.PaymentProviderStub
}

func (p *StubProvider) InitializeCheckout(_ context.Context, req CheckoutRequest) (CheckoutResult, error) {
	ref := "stub_" + uuid.NewString()
	return CheckoutResult{
		Reference:   ref,
		CheckoutURL: fmt.Sprintf("%s/pay/stub/%s", p.baseURL, req.SessionToken),
	}, nil
}
