package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		token          string
		header         string
		value          string
		expectedStatus int
	}{
		{"no token configured rejects", "", "X-Admin-Token", "anything", http.StatusUnauthorized},
		{"no token configured rejects empty", "", "", "", http.StatusUnauthorized},
		{"valid header token", "test-token-12345", "X-Admin-Token", "test-token-12345", http.StatusOK},
		{"valid bearer token", "test-token-12345", "Authorization", "Bearer test-token-12345", http.StatusOK},
		{"invalid header token", "test-token-12345", "X-Admin-Token", "wrong-token", http.StatusUnauthorized},
		{"invalid bearer token", "test-token-12345", "Authorization", "Bearer wrong", http.StatusUnauthorized},
		{"missing credentials", "test-token-12345", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := adminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			}), tt.token)

			req := httptest.NewRequest(http.MethodGet, "/admin/test", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized {
				if auth := rr.Header().Get("WWW-Authenticate"); auth == "" {
					t.Error("expected WWW-Authenticate header on 401 response")
				}
			}
		})
	}
}

func TestRateLimiterRefill(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 90 * time.Millisecond})

	for i := range 3 {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Fatal("request over burst allowed")
	}
	if !limiter.allow("192.168.1.2") {
		t.Fatal("second address shares the first address's bucket")
	}

	time.Sleep(120 * time.Millisecond)
	if !limiter.allow("192.168.1.1") {
		t.Fatal("bucket did not refill after the window")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{requestsPerIP: 1, window: time.Hour})
	for i := range 50 {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d denied while disabled", i+1)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"ipv4 with port", "192.168.1.1:12345", "", "192.168.1.1"},
		{"ipv6 with port", "[2001:db8::1]:12345", "", "2001:db8::1"},
		{"forwarded chain uses first hop", "10.0.0.1:12345", "203.0.113.1, 10.0.0.2", "203.0.113.1"},
		{"forwarded ipv6 without port", "127.0.0.1:8080", "2001:db8::42", "2001:db8::42"},
		{"forwarded ipv4 without port", "10.0.0.1:8080", " 192.0.2.1 ", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: 10 * time.Second})
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	send := func(remote, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/magick/size", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	// Different source ports and proxies resolve to the same client.
	steps := []struct {
		remote, forwarded string
		want              int
	}{
		{"[2001:db8::1]:1111", "", http.StatusOK},
		{"[2001:db8::1]:2222", "", http.StatusOK},
		{"[2001:db8::1]:3333", "", http.StatusTooManyRequests},
		{"10.0.0.1:8080", "203.0.113.1, 10.0.0.2", http.StatusOK},
		{"10.0.0.9:8080", "203.0.113.1", http.StatusOK},
		{"10.0.0.1:8080", "203.0.113.1", http.StatusTooManyRequests},
	}
	for i, st := range steps {
		rr := send(st.remote, st.forwarded)
		if rr.Code != st.want {
			t.Fatalf("step %d: status = %d, want %d", i, rr.Code, st.want)
		}
		if st.want == http.StatusTooManyRequests {
			ra, err := strconv.Atoi(rr.Header().Get("Retry-After"))
			if err != nil || ra < 1 || ra > 10 {
				t.Errorf("step %d: Retry-After = %q, want 1..10 seconds", i, rr.Header().Get("Retry-After"))
			}
		}
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		enabled bool
		perIP   int
		window  time.Duration
	}{
		{"defaults", map[string]string{}, true, 30, time.Minute},
		{"disabled", map[string]string{"RATE_LIMIT_ENABLED": "0"}, false, 30, time.Minute},
		{"custom", map[string]string{"RATE_LIMIT_REQUESTS_PER_IP": "5", "RATE_LIMIT_WINDOW_SECONDS": "10"}, true, 5, 10 * time.Second},
		{"invalid values ignored", map[string]string{"RATE_LIMIT_REQUESTS_PER_IP": "-3", "RATE_LIMIT_WINDOW_SECONDS": "soon"}, true, 30, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"RATE_LIMIT_ENABLED", "RATE_LIMIT_REQUESTS_PER_IP", "RATE_LIMIT_WINDOW_SECONDS"} {
				t.Setenv(k, tt.env[k])
			}
			cfg := loadRateLimiterConfig()
			if cfg.enabled != tt.enabled || cfg.requestsPerIP != tt.perIP || cfg.window != tt.window {
				t.Errorf("got %+v, want enabled=%v perIP=%d window=%v", *cfg, tt.enabled, tt.perIP, tt.window)
			}
		})
	}
}

func TestParseIntQuery(t *testing.T) {
	tests := []struct {
		input      string
		defaultVal int
		want       int
	}{
		{"123", 0, 123},
		{"", 42, 42},
		{"invalid", 42, 42},
		{"-1", 0, -1},
		{"0", 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x?limit="+tt.input, nil)
			got := parseIntQuery(req, "limit", tt.defaultVal)
			if got != tt.want {
				t.Errorf("parseIntQuery(%q, %d) = %d, want %d", tt.input, tt.defaultVal, got, tt.want)
			}
		})
	}
}
