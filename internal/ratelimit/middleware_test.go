package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/httputil"
)

func enabled(requests int) func() config.RateLimitConfig {
	return func() config.RateLimitConfig {
		return config.RateLimitConfig{Enabled: true, Requests: requests, Window: time.Minute}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestMiddleware_AllowsRequest(t *testing.T) {
	handler := Middleware(NewLimiter(), enabled(20), nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, request("10.0.0.1"))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimit); h != "20" {
		t.Errorf("expected RateLimit-Limit=20, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitRemaining); h != "19" {
		t.Errorf("expected RateLimit-Remaining=19, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitReset); h != "3" {
		t.Errorf("expected RateLimit-Reset=3 (one token at 20/min), got %s", h)
	}
	if h := rec.Header().Get(headerRetryAfter); h != "" {
		t.Errorf("Retry-After should only be set on 429, got %s", h)
	}
}

func TestMiddleware_TwentyFirstRequestLimited(t *testing.T) {
	hits := 0
	handler := Middleware(NewLimiter(), enabled(20), func() { hits++ })(okHandler())

	for i := 1; i <= 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, request("10.0.0.1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, request("10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(body) != 2 || body["error"] != httputil.RateLimitError || body["message"] != httputil.RateLimitMessage {
		t.Errorf("unexpected body: %v", body)
	}

	retry, err := strconv.Atoi(rec.Header().Get(headerRetryAfter))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("unexpected Retry-After %q", rec.Header().Get(headerRetryAfter))
	}
	if rec.Header().Get(headerRateLimitRemaining) != "0" {
		t.Errorf("expected RateLimit-Remaining=0, got %s", rec.Header().Get(headerRateLimitRemaining))
	}
	for _, legacy := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if rec.Header().Get(legacy) != "" {
			t.Errorf("legacy header %s should not be set", legacy)
		}
	}
	if hits != 1 {
		t.Errorf("expected 1 limited hook call, got %d", hits)
	}
}

func TestMiddleware_PerClientIP(t *testing.T) {
	handler := Middleware(NewLimiter(), enabled(1), nil)(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), request("10.0.0.1"))
	limited := httptest.NewRecorder()
	handler.ServeHTTP(limited, request("10.0.0.1"))
	other := httptest.NewRecorder()
	handler.ServeHTTP(other, request("10.0.0.2"))

	if limited.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for repeat client, got %d", limited.Code)
	}
	if other.Code != http.StatusOK {
		t.Errorf("expected 200 for other client, got %d", other.Code)
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	cfg := func() config.RateLimitConfig { return config.RateLimitConfig{Enabled: false} }
	handler := Middleware(NewLimiter(), cfg, nil)(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, request("10.0.0.1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with limiting disabled, got %d", i, rec.Code)
		}
		if rec.Header().Get(headerRateLimit) != "" {
			t.Fatal("no headers expected when disabled")
		}
	}
}
