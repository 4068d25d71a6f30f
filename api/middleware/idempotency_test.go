package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
		delete(f.ttls, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(businessID, scope, id string) string {
	return fmt.Sprintf("fake:%s:%s:%s", businessID, scope, id)
}

// cashier is the staff member behind every request unless a test says otherwise.
var cashier = uuid.MustParse("8b0d1f5e-3c4a-4f8e-9a51-2d7c6e0b9f13")

func principalRequest(method, url, body string, businessID, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	ctx := WithPrincipal(req.Context(), Principal{UserID: &userID, BusinessID: businessID, Role: enums.MemberRoleOwner})
	return req.WithContext(ctx)
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"checkout session", http.MethodPost, "/api/v1/checkout/sessions", criticalIdempotencyTTL, true},
		{"pos sync", http.MethodPost, "/api/v1/pos/sync", criticalIdempotencyTTL, true},
		{"shipping label", http.MethodPost, "/api/v1/orders/123/shipping/labels", criticalIdempotencyTTL, true},
		{"order create", http.MethodPost, "/api/v1/orders", defaultIdempotencyTTL, true},
		{"order create trailing slash", http.MethodPost, "/api/v1/orders/", defaultIdempotencyTTL, true},
		{"order status", http.MethodPost, "/api/v1/orders/abc/status", defaultIdempotencyTTL, true},
		{"stock movement", http.MethodPost, "/api/v1/inventory/movements", defaultIdempotencyTTL, true},
		{"order list", http.MethodGet, "/api/v1/orders", 0, false},
		{"webhook", http.MethodPost, "/api/v1/webhooks/payments", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewarePassesThroughWithoutHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	biz := uuid.New()
	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, principalRequest(http.MethodPost, "/api/v1/orders", `{"a":1}`, biz, cashier))
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected 201 got %d", resp.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected nothing stored, got %d records", len(store.data))
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	biz := uuid.New()
	req := principalRequest(http.MethodPost, "/api/v1/checkout/sessions", `{"foo":"bar"}`, biz, cashier)
	req.Header.Set(IdempotencyHeader, "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected first response 201 got %d", resp.Code)
	}

	replay := principalRequest(http.MethodPost, "/api/v1/checkout/sessions", `{"foo":"bar"}`, biz, cashier)
	replay.Header.Set(IdempotencyHeader, "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected replay status 201 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for _, ttl := range store.ttls {
		if ttl != criticalIdempotencyTTL {
			t.Fatalf("expected checkout ttl %v got %v", criticalIdempotencyTTL, ttl)
		}
	}
}

func TestIdempotencyKeysAreScopedPerBusiness(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for _, biz := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := principalRequest(http.MethodPost, "/api/v1/orders", `{}`, biz, cashier)
		req.Header.Set(IdempotencyHeader, "same-key")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both businesses to execute, got %d", calls)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	biz := uuid.New()
	for _, user := range []uuid.UUID{cashier, cashier, uuid.New()} {
		req := principalRequest(http.MethodPost, "/api/v1/orders", `{}`, biz, user)
		req.Header.Set(IdempotencyHeader, "same-key")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected one run per user, got %d", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	biz := uuid.New()
	req := principalRequest(http.MethodPost, "/api/v1/pos/sync", `{"foo":"bar"}`, biz, cashier)
	req.Header.Set(IdempotencyHeader, "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := principalRequest(http.MethodPost, "/api/v1/pos/sync", `{"foo":"diff"}`, biz, cashier)
	replay.Header.Set(IdempotencyHeader, "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareSkipsServerErrors(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	biz := uuid.New()
	for i := 0; i < 2; i++ {
		req := principalRequest(http.MethodPost, "/api/v1/inventory/movements", `{}`, biz, cashier)
		req.Header.Set(IdempotencyHeader, "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected retry after 5xx to execute again, got %d calls", calls)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	biz := uuid.New()

	var inner *httptest.ResponseRecorder
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// a retry lands while the first attempt is still running
			dup := principalRequest(http.MethodPost, "/api/v1/pos/sync", `{"events":[]}`, biz, cashier)
			dup.Header.Set(IdempotencyHeader, "in-flight")
			inner = httptest.NewRecorder()
			mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ })).ServeHTTP(inner, dup)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := principalRequest(http.MethodPost, "/api/v1/pos/sync", `{"events":[]}`, biz, cashier)
	req.Header.Set(IdempotencyHeader, "in-flight")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", resp.Code)
	}
	if calls != 1 {
		t.Fatalf("expected duplicate to be held back, handler ran %d times", calls)
	}
	if inner.Code != http.StatusConflict || inner.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 409 with Retry-After for in-flight duplicate, got %d %q", inner.Code, inner.Header().Get("Retry-After"))
	}
	for key, raw := range store.data {
		var record idempotencyRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			t.Fatalf("decode %s: %v", key, err)
		}
		if record.Pending || record.Status != http.StatusOK {
			t.Fatalf("expected finished record after completion, got %+v", record)
		}
	}
}

func TestIdempotencyMiddlewareReleasesClaimOnServerError(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := principalRequest(http.MethodPost, "/api/v1/checkout/sessions", `{}`, uuid.New(), cashier)
	req.Header.Set(IdempotencyHeader, "flaky")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	if len(store.data) != 0 {
		t.Fatalf("expected claim released after 5xx, got %v", store.data)
	}
}
