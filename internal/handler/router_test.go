package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/medimate/internal/clock"
	"github.com/hitoshi/medimate/internal/inventory"
	"github.com/hitoshi/medimate/internal/metrics"
	"github.com/hitoshi/medimate/internal/middleware"
	"github.com/hitoshi/medimate/internal/repository"
	"github.com/hitoshi/medimate/internal/security"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

// newTestRouter はメモリストアと固定時計を使った実サービスでルーターを構成する。
// 今日は2026-10-17。
func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := inventory.NewService(
		repository.NewMemoryMedicineRepo(),
		&clock.FixedClock{T: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)},
		security.NewNameSanitizer(),
		logger,
	)
	if deps == nil {
		deps = &RouterDeps{}
	}
	deps.MedicineService = svc
	deps.Logger = logger
	return NewRouter(deps)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, r))
	return w
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []medicineResponse {
	t.Helper()
	var list []medicineResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v, body: %s", err, w.Body.String())
	}
	return list
}

func TestRouter_MedicineLifecycle(t *testing.T) {
	r := newTestRouter(t, nil)

	// 登録
	w := doRequest(t, r, http.MethodPost, "/api/medicines",
		`{"name":"Aspirin","quantity":10,"expiryDate":"2026-11-01","userId":"user-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body: %s", w.Code, w.Body.String())
	}
	var created medicineResponse
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == "" || created.AddedDate != "2026-10-17T10:00:00Z" {
		t.Fatalf("created = %+v", created)
	}

	// 取得
	w = doRequest(t, r, http.MethodGet, "/api/medicines/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}

	// 一覧・期限間近
	if list := decodeList(t, doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-1", "")); len(list) != 1 {
		t.Errorf("list len = %d, want 1", len(list))
	}
	if list := decodeList(t, doRequest(t, r, http.MethodGet, "/api/medicines/expiring-soon?userId=user-1", "")); len(list) != 1 {
		t.Errorf("expiring-soon len = %d, want 1", len(list))
	}

	// 更新
	w = doRequest(t, r, http.MethodPut, "/api/medicines/"+created.ID,
		`{"name":"Aspirin 500","quantity":2,"expiryDate":"2027-06-30"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body: %s", w.Code, w.Body.String())
	}
	var updated medicineResponse
	json.NewDecoder(w.Body).Decode(&updated)
	if updated.AddedDate != created.AddedDate || updated.UserID != "user-1" {
		t.Errorf("updated = %+v, AddedDate and UserID must be preserved", updated)
	}

	// 在庫少・検索
	if list := decodeList(t, doRequest(t, r, http.MethodGet, "/api/medicines/low-stock?userId=user-1", "")); len(list) != 1 {
		t.Errorf("low-stock len = %d, want 1", len(list))
	}
	if list := decodeList(t, doRequest(t, r, http.MethodGet, "/api/medicines/search?userId=user-1&name=ASPIRIN", "")); len(list) != 1 {
		t.Errorf("search len = %d, want 1", len(list))
	}

	// 削除
	if w = doRequest(t, r, http.MethodDelete, "/api/medicines/"+created.ID, ""); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", w.Code)
	}
	if w = doRequest(t, r, http.MethodGet, "/api/medicines/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}
	if w = doRequest(t, r, http.MethodDelete, "/api/medicines/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", w.Code)
	}
}

func TestRouter_FixedPathsAreNotTreatedAsIDs(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, path := range []string{"expired", "expiring-soon", "low-stock", "search"} {
		w := doRequest(t, r, http.MethodGet, "/api/medicines/"+path, "")
		// userId未指定はInvalidArgument（400）で、/{id}としての404ではない
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestRouter_AddPastExpiryRejected(t *testing.T) {
	r := newTestRouter(t, nil)

	w := doRequest(t, r, http.MethodPost, "/api/medicines",
		`{"name":"Old","quantity":1,"expiryDate":"2026-10-16","userId":"user-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if list := decodeList(t, doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-1", "")); len(list) != 0 {
		t.Errorf("nothing should be stored, got %d", len(list))
	}
}

func TestRouter_QuantityRequired(t *testing.T) {
	r := newTestRouter(t, nil)

	w := doRequest(t, r, http.MethodPost, "/api/medicines",
		`{"name":"Aspirin","quantity":5,"expiryDate":"2027-01-01","userId":"user-1"}`)
	var created medicineResponse
	json.NewDecoder(w.Body).Decode(&created)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"POST missing", http.MethodPost, "/api/medicines", `{"name":"Aspirin","expiryDate":"2027-01-01","userId":"user-1"}`},
		{"POST null", http.MethodPost, "/api/medicines", `{"name":"Aspirin","quantity":null,"expiryDate":"2027-01-01","userId":"user-1"}`},
		{"PUT missing", http.MethodPut, "/api/medicines/" + created.ID, `{"name":"Aspirin","expiryDate":"2027-01-01"}`},
		{"PUT null", http.MethodPut, "/api/medicines/" + created.ID, `{"name":"Aspirin","quantity":null,"expiryDate":"2027-01-01"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doRequest(t, r, tt.method, tt.target, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	list := decodeList(t, doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-1", ""))
	if len(list) != 1 || list[0].Quantity != 5 {
		t.Errorf("list = %+v, want the single record with quantity 5", list)
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantDB     string
	}{
		{"memory store", nil, http.StatusOK, "skipped"},
		{"db reachable", &mockHealthChecker{}, http.StatusOK, "ok"},
		{"db unreachable", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, &RouterDeps{HealthChecker: tt.checker})
			w := doRequest(t, r, http.MethodGet, "/health", "")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp healthResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Database != tt.wantDB {
				t.Errorf("database = %q, want %q", resp.Database, tt.wantDB)
			}
		})
	}
}

func TestRouter_MetricsEndpointAndHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newTestRouter(t, &RouterDeps{
		Metrics:  metrics.NewCollector(reg),
		Gatherer: reg,
	})

	doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-1", "")

	w := doRequest(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "medimate_http_status_total") {
		t.Errorf("/metrics should expose HTTP status counter, got:\n%s", w.Body.String())
	}
}

func TestRouter_NoGatherer_MetricsNotFound(t *testing.T) {
	r := newTestRouter(t, nil)
	if w := doRequest(t, r, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRouter_RateLimitAppliesToAPIOnly(t *testing.T) {
	var buf bytes.Buffer
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            0.01,
		Burst:           1,
		CleanupInterval: time.Minute,
	}, slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(rl.Stop)

	r := newTestRouter(t, &RouterDeps{RateLimiter: rl})

	doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-1", "")
	if w := doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-1", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second API request status = %d, want 429", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/medicines?userId=user-2", ""); w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", w.Code)
	}

	for i := 0; i < 3; i++ {
		if w := doRequest(t, r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Errorf("/health status = %d, want 200", w.Code)
		}
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t, &RouterDeps{CORSAllowedOrigin: "http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/api/medicines", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	r := newTestRouter(t, nil)
	w := doRequest(t, r, http.MethodGet, "/health", "")

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}
