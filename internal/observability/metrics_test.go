package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 100)
	m.RecordBackendRequest("settings_hs", "GET", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState("settings_hs", 0)
	m.RecordBackendRetry("settings_hs")
	m.RecordVerificationSend("sent")
	m.RecordVerificationAttempt("verified")
	m.RecordConfiguratorCode("encode", "ok")
	m.RecordSettingsUpdate("ok")
	m.RecordSharesPurged(1)
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordLookupCacheHit("np_cities")
	m.RecordLookupCacheMiss("np_cities")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"portal_http_requests_total",
		"portal_http_request_duration_seconds",
		"portal_http_request_size_bytes",
		"portal_http_response_size_bytes",
		"portal_backend_requests_total",
		"portal_backend_request_duration_seconds",
		"portal_backend_circuit_breaker_state",
		"portal_backend_retries_total",
		"portal_verification_sends_total",
		"portal_verification_attempts_total",
		"portal_configurator_codes_total",
		"portal_settings_updates_total",
		"portal_shares_purged_total",
		"portal_capability_cache_hits_total",
		"portal_capability_cache_misses_total",
		"portal_lookup_cache_hits_total",
		"portal_lookup_cache_misses_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/configurator/codes/{code}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/api/configurator/codes/{code}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/api/sms/verify-code", 400, 20*time.Millisecond, 64, 128)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/configurator/codes/{code}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/sms/verify-code", "400"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRequest("novaposhta", "Address.searchSettlements", 200, 80*time.Millisecond)
	m.RecordBackendRequest("novaposhta", "Address.searchSettlements", 200, 90*time.Millisecond)

	val := testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues("novaposhta", "Address.searchSettlements", "200"))
	if val != 2 {
		t.Errorf("backend requests = %v, want 2", val)
	}
}

func TestSetBackendCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetBackendCircuitBreakerState("repair", 2)
	if got := testutil.ToFloat64(m.BackendCircuitBreakerState.WithLabelValues("repair")); got != 2 {
		t.Errorf("breaker state = %v, want 2 (open)", got)
	}
	m.SetBackendCircuitBreakerState("repair", 0)
	if got := testutil.ToFloat64(m.BackendCircuitBreakerState.WithLabelValues("repair")); got != 0 {
		t.Errorf("breaker state = %v, want 0 (closed)", got)
	}
}

func TestRecordVerificationOutcomes(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordVerificationSend("sent")
	m.RecordVerificationSend("rate_limited")
	m.RecordVerificationAttempt("mismatch")
	m.RecordVerificationAttempt("mismatch")

	if got := testutil.ToFloat64(m.VerificationSendsTotal.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("rate_limited sends = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.VerificationAttemptsTotal.WithLabelValues("mismatch")); got != 2 {
		t.Errorf("mismatch attempts = %v, want 2", got)
	}
}

func TestRecordSharesPurged(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSharesPurged(3)
	m.RecordSharesPurged(0)
	if got := testutil.ToFloat64(m.SharesPurgedTotal); got != 3 {
		t.Errorf("shares purged = %v, want 3", got)
	}
}

func TestRecordCaches(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordLookupCacheHit("np_warehouses")

	if got := testutil.ToFloat64(m.CapabilityCacheHitsTotal); got != 2 {
		t.Errorf("capability hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CapabilityCacheMissesTotal); got != 1 {
		t.Errorf("capability misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LookupCacheHitsTotal.WithLabelValues("np_warehouses")); got != 1 {
		t.Errorf("lookup hits = %v, want 1", got)
	}
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/boats/{boatId}/reservoirs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/boats/ABC123/reservoirs", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/boats/{boatId}/reservoirs", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
	if testutil.CollectAndCount(m.HTTPResponseSizeBytes) == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/sms/send-code", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/sms/send-code", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/sms/send-code", "429"))
	if val != 1 {
		t.Errorf("429 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesRegistry(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordVerificationSend("sent")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "portal_verification_sends_total") {
		t.Error("metrics output should contain portal_verification_sends_total")
	}
}
