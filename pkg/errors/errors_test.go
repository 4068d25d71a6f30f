package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusContract(t *testing.T) {
	want := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeUnauthorized:      http.StatusUnauthorized,
		CodeForbidden:         http.StatusForbidden,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeStateConflict:     http.StatusUnprocessableEntity,
		CodeIdempotency:       http.StatusConflict,
		CodeInsufficientStock: http.StatusConflict,
		CodeRateLimit:         http.StatusTooManyRequests,
		CodeInternal:          http.StatusInternalServerError,
		CodeDependency:        http.StatusServiceUnavailable,
	}
	for code, status := range want {
		if got := MetadataFor(code).HTTPStatus; got != status {
			t.Errorf("%s: status %d, want %d", code, got, status)
		}
	}
	if len(metadataByCode) != len(want) {
		t.Fatalf("%d codes registered, contract covers %d", len(metadataByCode), len(want))
	}
}

func TestOnlyBusinessRejectionsExposeDetails(t *testing.T) {
	for code, m := range metadataByCode {
		switch code {
		case CodeValidation, CodeStateConflict, CodeIdempotency, CodeInsufficientStock, CodeDependency:
			if !m.DetailsAllowed {
				t.Errorf("%s should carry details", code)
			}
		default:
			if m.DetailsAllowed {
				t.Errorf("%s must not leak details", code)
			}
		}
		if m.PublicMessage == "" {
			t.Errorf("%s has no public message", code)
		}
	}
}

func TestUnregisteredCodeActsInternal(t *testing.T) {
	if got := MetadataFor("LEDGER_ON_FIRE"); got != metadataByCode[CodeInternal] {
		t.Fatalf("unregistered code resolved to %+v", got)
	}
}

func TestErrorTextAndCause(t *testing.T) {
	if got := New(CodeNotFound, "").Error(); got != "NOT_FOUND" {
		t.Fatalf("empty message renders %q", got)
	}

	short := New(CodeInsufficientStock, "variant short").WithDetails(map[string]any{"available": 1})
	if short.Details() == nil || short.Message() != "variant short" {
		t.Fatalf("details or message lost: %+v", short)
	}

	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "carrier quote")
	if !stdErrors.Is(wrapped, cause) || wrapped.Unwrap() != cause {
		t.Fatalf("cause not reachable through %v", wrapped)
	}
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: carrier quote" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestAsFindsOutermostTypedError(t *testing.T) {
	inner := New(CodeValidation, "bad line")
	outer := Wrap(CodeConflict, fmt.Errorf("sync: %w", inner), "sync batch")
	if got := As(fmt.Errorf("handler: %w", outer)); got != outer {
		t.Fatalf("expected outer conflict, got %v", got)
	}
	if As(nil) != nil || As(stdErrors.New("plain")) != nil {
		t.Fatalf("untyped errors must not resolve")
	}
}

func TestIsCodeFollowsWrapChain(t *testing.T) {
	inner := New(CodeInsufficientStock, "variant short").WithDetails(map[string]any{"available": 2})
	outer := fmt.Errorf("creating order: %w", inner)
	if !IsCode(outer, CodeInsufficientStock) {
		t.Fatalf("expected wrapped insufficient stock to be detected")
	}
	if IsCode(outer, CodeValidation) {
		t.Fatalf("unexpected validation match")
	}
	if IsCode(stdErrors.New("plain"), CodeInsufficientStock) {
		t.Fatalf("plain errors should not match")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"untyped", fmt.Errorf("socket closed"), true},
		{"dependency", Wrap(CodeDependency, fmt.Errorf("timeout"), "carrier quote failed"), true},
		{"rate limit", New(CodeRateLimit, "slow down"), true},
		{"insufficient stock", New(CodeInsufficientStock, "short"), false},
		{"wrapped validation", fmt.Errorf("sync: %w", New(CodeValidation, "bad line")), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
