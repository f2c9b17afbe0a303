package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockCollector はHTTP関連の記録のみを保持するMetricsCollectorのモック。
type mockCollector struct {
	statuses  []int
	latencies []time.Duration
}

func (m *mockCollector) RecordJobRun(job, outcome string) {}
func (m *mockCollector) RecordJobDuration(job string, d time.Duration) {}
func (m *mockCollector) SetExpiredMedicines(count int) {}
func (m *mockCollector) RecordHTTPStatus(statusCode int) { m.statuses = append(m.statuses, statusCode) }
func (m *mockCollector) RecordRequestLatency(duration time.Duration) { m.latencies = append(m.latencies, duration) }

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	collector := &mockCollector{}

	handler := NewMetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/medicines/missing", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusNotFound {
		t.Errorf("statuses = %v, want [404]", collector.statuses)
	}
	if len(collector.latencies) != 1 || collector.latencies[0] < 0 {
		t.Errorf("latencies = %v", collector.latencies)
	}
}

func TestMetricsMiddleware_ImplicitOK(t *testing.T) {
	collector := &mockCollector{}

	handler := NewMetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/medicines", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusOK {
		t.Errorf("statuses = %v, want [200]", collector.statuses)
	}
}
