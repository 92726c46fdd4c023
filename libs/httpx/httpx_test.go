package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler(), mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("expected a,b got %v", order)
	}
}

func TestRateLimiter_BlocksAfterLimitAndResets(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware()(okHandler())

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}
	for i := 0; i < 2; i++ {
		if rw := call(); rw.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rw.Code)
		}
	}
	rw := call()
	if rw.Code != http.StatusTooManyRequests || !strings.Contains(rw.Body.String(), "RATE_LIMITED") || rw.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected JSON 429, got %d %q", rw.Code, rw.Body.String())
	}

	now = now.Add(61 * time.Second)
	if rw := call(); rw.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rw.Code)
	}
}

func TestRateLimiter_SweepsExpiredVisitors(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.allow("a")
	rl.allow("b")
	now = now.Add(2 * time.Minute)
	rl.allow("c")
	if len(rl.visitors) != 1 {
		t.Fatalf("expected only the fresh visitor, got %d", len(rl.visitors))
	}
}

func TestClientKey_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientKey(req); got != "203.0.113.7" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "abc-123" || rw.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected caller id to be kept, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 32 {
		t.Fatalf("expected a minted id, got %q", seen)
	}
}

func TestWithCORS_Preflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://shop.example"},
		AllowedMethods: []string{"GET", "POST"},
	})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent || rw.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
		t.Fatalf("unexpected preflight response %d %v", rw.Code, rw.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected CORS header for foreign origin")
	}
}

func TestWithCORS_WildcardAndDefaults(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"*"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://any.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %v", rw.Header())
	}
	if rw.Header().Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" {
		t.Fatalf("expected default methods, got %q", rw.Header().Get("Access-Control-Allow-Methods"))
	}

	if got := WithCORS(CORSPolicy{})(okHandler()); got == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestWithBodyLimit(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	rw := httptest.NewRecorder()
	WithBodyLimit(4)(read).ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	if rw.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected the body cap to trip, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	WithBodyLimit(0)(read).ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected no cap for a zero limit, got %d", rw.Code)
	}
}

func TestParseWindowResult(t *testing.T) {
	count, remaining, err := parseWindowResult([]any{int64(7), int64(1500)})
	if err != nil || count != 7 || remaining != 1500*time.Millisecond {
		t.Fatalf("unexpected result count=%d remaining=%v err=%v", count, remaining, err)
	}
	if _, _, err := parseWindowResult(int64(7)); err == nil {
		t.Fatal("expected error for a bare integer")
	}
	if _, _, err := parseWindowResult([]any{"x", int64(1)}); err == nil {
		t.Fatal("expected error for a non-numeric count")
	}
}

func TestTooManyRequests_RoundsRetryAfterUp(t *testing.T) {
	rw := httptest.NewRecorder()
	tooManyRequests(rw, 1500*time.Millisecond)
	if rw.Code != http.StatusTooManyRequests || rw.Header().Get("Retry-After") != "2" {
		t.Fatalf("unexpected response %d Retry-After=%q", rw.Code, rw.Header().Get("Retry-After"))
	}
}
