package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sendRateLimited(t *testing.T, handler http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	request.RemoteAddr = remoteAddr
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestRateLimitThrottlesPerClient(t *testing.T) {
	handler := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := sendRateLimited(t, handler, "/v1/jobs", "10.0.0.2:4100")
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := sendRateLimited(t, handler, "/v1/jobs", "10.0.0.2:4100")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("burst-exceeding request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header, got %q", second.Header().Get("Retry-After"))
	}
	if !strings.Contains(second.Body.String(), "rate_limited") {
		t.Fatalf("expected rate_limited error envelope, got %s", second.Body.String())
	}

	// A different client has its own bucket.
	other := sendRateLimited(t, handler, "/v1/jobs", "10.0.0.3:4100")
	if other.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", other.Code)
	}
}

func TestRateLimitExemptsHealthChecks(t *testing.T) {
	handler := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/v1/health"} {
		for i := 0; i < 5; i++ {
			recorder := sendRateLimited(t, handler, path, "10.0.0.4:4100")
			if recorder.Code != http.StatusOK {
				t.Fatalf("health check %s attempt %d status = %d, want 200", path, i+1, recorder.Code)
			}
		}
	}
}
