package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(t *testing.T, r rate.Limit, burst int) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            r,
		Burst:           burst,
		CleanupInterval: time.Minute,
	}, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/medicines", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, 2, 5)

	handlerCallCount := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))

		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, 0.5, 2)
	handler := rl.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", w.Header().Get("Retry-After"))
	}
	// 0.5 req/secでは1トークンの補充に2秒
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 response should be JSON: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)
	handler := rl.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("user-1 second request: status = %d, want 429", w.Code)
	}

	// 別ユーザーは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-2"))
	if w.Code != http.StatusOK {
		t.Errorf("user-2: status = %d, want 200", w.Code)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimitMiddleware_NoUserID_LimitsByIP(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)
	handler := rl.Middleware()(okHandler())

	first := requestAs("")
	first.RemoteAddr = "198.51.100.7:1000"
	second := requestAs("")
	second.RemoteAddr = "198.51.100.7:2000"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("first: status = %d, want 200", w.Code)
	}

	// ポートが異なっても同じIPは同じクライアントとして扱う
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second: status = %d, want 429", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)

	rl.getOrCreateLimiter("user:stale")
	rl.getOrCreateLimiter("user:fresh")

	rl.mu.Lock()
	rl.limiters["user:stale"].lastAccess = time.Now().Add(-3 * time.Minute)
	rl.mu.Unlock()

	rl.cleanup()

	if rl.LimiterCount() != 1 {
		t.Errorf("LimiterCount = %d, want 1", rl.LimiterCount())
	}
	rl.mu.RLock()
	_, fresh := rl.limiters["user:fresh"]
	rl.mu.RUnlock()
	if !fresh {
		t.Error("fresh entry should remain")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.Rate != rate.Limit(2) {
		t.Errorf("Rate = %v, want 2 req/sec", cfg.Rate)
	}
	if cfg.Burst != 120 {
		t.Errorf("Burst = %d, want 120", cfg.Burst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := PerMinuteRateLimiterConfig(30)
	if cfg.Rate != rate.Limit(0.5) || cfg.Burst != 30 {
		t.Errorf("cfg = %+v, want 0.5 req/sec burst 30", cfg)
	}

	// 0以下はデフォルトにフォールバック
	if cfg := PerMinuteRateLimiterConfig(0); cfg.Burst != 120 {
		t.Errorf("Burst = %d, want 120", cfg.Burst)
	}
}
