package metric

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegistry_RecordHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.Metrics().RecordHandler("subscribe", "", 5*time.Millisecond)
	reg.Metrics().RecordHandler("filter", "InvalidFilter", time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !contains(body, "kasocki_handler_invocations_total") {
		t.Errorf("expected invocations metric in output")
	}
	if !contains(body, "kasocki_handler_errors_total") {
		t.Errorf("expected errors metric in output")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordHandler("x", "", 0)
	m.RecordDelivered("topic")
	m.RecordSessionOpened()
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
