package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterBurstThenRefuse(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2, time.Minute)
	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatal("burst should admit the first two requests")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("third immediate request should be refused")
	}
	// Other clients are unaffected.
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("separate client should have its own bucket")
	}
}

func TestProtectOperatorRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPatch, "/api/v1/alerts/abc/acknowledge", true},
		{http.MethodPost, "/api/v1/targets", true},
		{http.MethodPatch, "/api/v1/targets/abc", true},
		{http.MethodGet, "/api/v1/targets", false},
		{http.MethodPost, "/api/v1/telemetry", false},
		{http.MethodGet, "/api/v1/alerts", false},
		{http.MethodPost, "/api/v1/facilities", true},
		{http.MethodPost, "/api/v1/zones", true},
		{http.MethodPost, "/api/v1/devices", true},
		{http.MethodGet, "/api/v1/devices/status", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		if got := ProtectOperatorRoutes(r); got != tc.want {
			t.Errorf("%s %s = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestDBRequiredBlocksWithoutPool(t *testing.T) {
	handler := DBRequiredMiddleware{Pool: nil}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}
