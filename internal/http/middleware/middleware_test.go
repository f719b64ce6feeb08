package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBearerRejectsMissingAndInvalidTokens(t *testing.T) {
	handler := Bearer(func(raw string) (string, error) {
		if raw == "good" {
			return "analyst", nil
		}
		return "", errors.New("unknown token")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromContext(r.Context())
		if !ok || subject != "analyst" {
			t.Errorf("expected subject in context, got %q ok=%v", subject, ok)
		}
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic Zm9v", http.StatusUnauthorized},
		{"invalid", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/specifications", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Now()

	if !rl.allow("1.2.3.4", now) || !rl.allow("1.2.3.4", now) {
		t.Fatal("expected first two hits allowed")
	}
	if rl.allow("1.2.3.4", now) {
		t.Fatal("expected third hit denied")
	}
	if !rl.allow("5.6.7.8", now) {
		t.Fatal("expected other clients unaffected")
	}
	if !rl.allow("1.2.3.4", now.Add(2*time.Minute)) {
		t.Fatal("expected window to reset")
	}
}

func TestRateLimiterMiddlewareResponds429(t *testing.T) {
	mw := NewRateLimiter(1, time.Minute).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rr.Code)
		}
	}
	if hdr := func() string {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		return rr.Header().Get("Retry-After")
	}(); hdr != "60" {
		t.Fatalf("expected Retry-After 60, got %q", hdr)
	}
}
