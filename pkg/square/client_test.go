package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
)

func TestIdempotencyKey(t *testing.T) {
	if got := idempotencyKey("pref", " custom-key "); got != "custom-key" {
		t.Fatalf("expected provided key, got %q", got)
	}
	if got := idempotencyKey("prefix", ""); !strings.HasPrefix(got, "prefix-") {
		t.Fatalf("generated idempotency key %q missing prefix", got)
	}
}

func TestRedactFields(t *testing.T) {
	out := redactFields(map[string]any{"payment_token": "abc123", "status": "ok", "customer_email": "a@b.c"})
	if out["payment_token"] != "[REDACTED]" || out["customer_email"] != "[REDACTED]" {
		t.Fatalf("expected sensitive values redacted, got %v", out)
	}
	if out["status"] != "ok" {
		t.Fatalf("unexpected redaction for safe key")
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
		{http.StatusPaymentRequired, pkgerrors.CodeValidation},
	}
	for _, tt := range tests {
		if got := codeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapError(t *testing.T) {
	table := []struct {
		name     string
		status   int
		payload  string
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			status:   http.StatusUnauthorized,
			payload:  `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`,
			wantCode: pkgerrors.CodeUnauthorized,
		},
		{
			name:     "rate limited without body",
			status:   http.StatusTooManyRequests,
			payload:  ``,
			wantCode: pkgerrors.CodeRateLimit,
		},
		{
			name:     "idempotency key reused",
			status:   http.StatusConflict,
			payload:  `{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`,
			wantCode: pkgerrors.CodeIdempotency,
		},
	}
	for _, tt := range table {
		err := sqcore.NewAPIError(tt.status, errors.New(tt.payload))
		mapped := mapError(err, "operation")
		if mapped == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		typed := pkgerrors.As(mapped)
		if typed == nil {
			t.Fatalf("%s: result is not pkgerror", tt.name)
		}
		if typed.Code() != tt.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.wantCode, typed.Code())
		}
	}
}

func TestAPIErrors(t *testing.T) {
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	apiErr := sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload))
	got := apiErrors(apiErr)
	if len(got) != 1 {
		t.Fatalf("expected 1 error, got %d", len(got))
	}
	if got[0].GetCode() != sq.ErrorCodeBadRequest {
		t.Fatalf("unexpected error code %s", got[0].GetCode())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event_id":"evt-1","type":"payment.updated"}`)
	url := "https://api.example.com/api/v1/webhooks/square"
	mac := hmac.New(sha256.New, []byte("sig-key"))
	mac.Write([]byte(url))
	mac.Write(body)
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	c := &Client{webhookSecret: "sig-key", webhookURL: url}
	if !c.VerifySignature(body, good) {
		t.Fatal("expected signature to verify")
	}
	if c.VerifySignature([]byte(`{"tampered":true}`), good) {
		t.Fatal("expected tampered body to fail")
	}
	if VerifySignature("", url, body, good) {
		t.Fatal("expected empty key to fail")
	}
}

func TestOrderCreateParamsToSquareRequest(t *testing.T) {
	req := OrderCreateParams{
		LocationID:  "L1",
		ReferenceID: "tok_123",
		Currency:    "usd",
		Lines:       []OrderLine{{Name: "Mug", Quantity: 2, AmountCents: 1250}},
	}.toSquareRequest("idem-1")

	if req.IdempotencyKey == nil || *req.IdempotencyKey != "idem-1" {
		t.Fatalf("unexpected idempotency key %v", req.IdempotencyKey)
	}
	if req.Order.LocationID != "L1" || req.Order.ReferenceID == nil || *req.Order.ReferenceID != "tok_123" {
		t.Fatalf("unexpected order %+v", req.Order)
	}
	if len(req.Order.LineItems) != 1 || req.Order.LineItems[0].Quantity != "2" {
		t.Fatalf("unexpected line items %+v", req.Order.LineItems)
	}
	money := req.Order.LineItems[0].BasePriceMoney
	if money == nil || *money.Amount != 1250 || string(*money.Currency) != "USD" {
		t.Fatalf("unexpected money %+v", money)
	}
}
