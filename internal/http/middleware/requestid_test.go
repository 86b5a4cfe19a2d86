package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	if seen == "" || seen == "unknown" {
		t.Fatalf("expected a generated request id, got %q", seen)
	}
	if recorder.Header().Get("X-Request-Id") != seen {
		t.Fatalf("response header %q does not echo the id %q", recorder.Header().Get("X-Request-Id"), seen)
	}
}

func TestRequestIDHonorsCallerSuppliedValue(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	request.Header.Set("X-Request-Id", "submit-7f3a")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	if seen != "submit-7f3a" {
		t.Fatalf("caller-supplied id not honored, got %q", seen)
	}
}

func TestRequestIDSanitizesInboundValues(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	request.Header.Set("X-Request-Id", "abc\x01def"+strings.Repeat("x", 200))
	handler.ServeHTTP(httptest.NewRecorder(), request)

	if strings.ContainsRune(seen, 0x01) {
		t.Fatalf("control characters must be stripped, got %q", seen)
	}
	if !strings.HasPrefix(seen, "abcdef") {
		t.Fatalf("printable characters must survive, got %q", seen)
	}
	if len(seen) > 64 {
		t.Fatalf("id length %d exceeds the cap", len(seen))
	}
}
