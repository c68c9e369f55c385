package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/service"
	"comanda/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, 0, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleTables_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleTables_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["tables"] == nil {
		t.Fatalf("expected tables key in response, got %v", body)
	}
}

// TestOrderLifecycleOverHTTP walks open -> charge -> close through the full
// request path, including CSRF and role enforcement.
func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	waiterToken := loginAs(t, api, "waiter", "waiter123")
	adminToken := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	// Open an order on table 1: 4x Paella = 5800 raw, 10% tier -> 5220.
	openPayload, _ := json.Marshal(domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-paella", Qty: 4}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(openPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+waiterToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("open order: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var opened struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode open response: %v", err)
	}
	if opened.Order.TotalCents != 5220 {
		t.Fatalf("expected discounted total 5220, got %d", opened.Order.TotalCents)
	}
	if opened.Order.WaiterUsername != "waiter" {
		t.Fatalf("expected order attributed to waiter, got %q", opened.Order.WaiterUsername)
	}

	// Charge it.
	chargeURL := fmt.Sprintf("/api/v1/orders/%s/charge", opened.Order.ID)
	req = httptest.NewRequest(http.MethodPost, chargeURL, bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+waiterToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("charge: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// A second charge must fail with a conflict.
	req = httptest.NewRequest(http.MethodPost, chargeURL, bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+waiterToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("double charge: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Waiters must not be able to close the day.
	closePayload, _ := json.Marshal(domain.CloseDayRequest{})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/revenue/close", bytes.NewReader(closePayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+waiterToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("waiter close: expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Admin closes the day and gets the charged total back.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/revenue/close", bytes.NewReader(closePayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var closed struct {
		Closed domain.CloseDayResult `json:"closed"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&closed); err != nil {
		t.Fatalf("decode close response: %v", err)
	}
	if closed.Closed.TotalCents != 5220 {
		t.Fatalf("expected closed total 5220, got %d", closed.Closed.TotalCents)
	}
}

func TestOpenOrderOnReservedTableRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "waiter", "waiter123")
	csrf := fetchCSRFToken(t, api)

	// Table 3 is seeded as reserved.
	payload, _ := json.Marshal(domain.OrderOpenRequest{
		TableNumber: 3,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reserved table, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCloseDayWithNothingChargedReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.CloseDayRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/revenue/close", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for empty close, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestEmployeeRoutesRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "waiter", "waiter123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/employees", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for waiter on employees, got %d", rec.Code)
	}
}
