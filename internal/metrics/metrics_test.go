package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordJobRun_CountsByJobAndOutcome はジョブ実行カウンタがラベル別に増加することを検証する。
func TestRecordJobRun_CountsByJobAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJobRun("expired-scan", OutcomeSuccess)
	c.RecordJobRun("expired-scan", OutcomeSuccess)
	c.RecordJobRun("expired-scan", OutcomeFailure)
	c.RecordJobRun("health-heartbeat", OutcomePanic)

	if got := testutil.ToFloat64(c.jobRuns.WithLabelValues("expired-scan", OutcomeSuccess)); got != 2 {
		t.Errorf("expired-scan success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.jobRuns.WithLabelValues("expired-scan", OutcomeFailure)); got != 1 {
		t.Errorf("expired-scan failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobRuns.WithLabelValues("health-heartbeat", OutcomePanic)); got != 1 {
		t.Errorf("health-heartbeat panic = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.jobRuns); n != 3 {
		t.Errorf("label combinations = %d, want 3", n)
	}
}

// TestRecordJobDuration_ObservesHistogram はジョブ実行時間のヒストグラムに値が記録されることを検証する。
func TestRecordJobDuration_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJobDuration("expired-scan", 100*time.Millisecond)
	c.RecordJobDuration("expired-scan", 2*time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "medimate_scan_job_duration_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("medimate_scan_job_duration_seconds metric not found")
	}
}

// TestSetExpiredMedicines_OverwritesGauge はゲージが最新の件数で上書きされることを検証する。
func TestSetExpiredMedicines_OverwritesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetExpiredMedicines(7)
	c.SetExpiredMedicines(3)

	if got := testutil.ToFloat64(c.expiredMedicines); got != 3 {
		t.Errorf("expired_medicines = %v, want 3", got)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "medimate_http_status_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "200":
					if val != 2 {
						t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
					}
				case "404":
					if val != 1 {
						t.Errorf("http_status_total{status_code=404} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("medimate_http_status_total metric not found")
	}
}

// TestRecordRequestLatency_ObservesHistogram はリクエスト処理時間が記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(50 * time.Millisecond)

	if n := testutil.CollectAndCount(c.requestLatency); n != 1 {
		t.Errorf("request_latency series = %d, want 1", n)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJobRun("expired-scan", OutcomeSuccess)
	c.RecordJobDuration("expired-scan", 500*time.Millisecond)
	c.SetExpiredMedicines(2)
	c.RecordHTTPStatus(200)
	c.RecordRequestLatency(10 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"medimate_scan_job_runs_total",
		"medimate_scan_job_duration_seconds",
		"medimate_expired_medicines",
		"medimate_http_status_total",
		"medimate_http_request_duration_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	c1 := NewCollector(prometheus.NewRegistry())
	c2 := NewCollector(prometheus.NewRegistry())

	c1.SetExpiredMedicines(1)
	c2.SetExpiredMedicines(2)

	if got := testutil.ToFloat64(c1.expiredMedicines); got != 1 {
		t.Errorf("c1 expired_medicines = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c2.expiredMedicines); got != 2 {
		t.Errorf("c2 expired_medicines = %v, want 2", got)
	}
}
