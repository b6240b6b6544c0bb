package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageRouter mounts the middleware in front of the page routes the host
// serves
func pageRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)

	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	router.GET("/pages", ok)
	router.POST("/pages", ok)
	router.DELETE("/pages/:id", ok)
	router.POST("/pages/:id/scripts", ok)
	router.GET("/pages/:id/document", ok)
	return router
}

func serve(router http.Handler, method, path, ip string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":4000"
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORSDefaults(t *testing.T) {
	router := pageRouter(CORS(DefaultCORSConfig()))

	tests := []struct {
		name        string
		method      string
		path        string
		header      http.Header
		wantStatus  int
		wantHeaders map[string]string
	}{
		{
			name:   "preflight for script evaluation",
			method: http.MethodOptions,
			path:   "/pages/1/scripts",
			header: http.Header{
				"Origin":                         {"http://localhost:3000"},
				"Access-Control-Request-Method":  {"POST"},
				"Access-Control-Request-Headers": {"Content-Type, X-Request-ID"},
			},
			wantStatus: http.StatusNoContent,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Origin":  "*",
				"Access-Control-Allow-Methods": "DELETE",
				"Access-Control-Allow-Headers": "x-request-id",
				"Access-Control-Max-Age":       "43200",
			},
		},
		{
			name:   "preflight for page close",
			method: http.MethodOptions,
			path:   "/pages/1",
			header: http.Header{
				"Origin":                        {"http://localhost:3000"},
				"Access-Control-Request-Method": {"DELETE"},
			},
			wantStatus:  http.StatusNoContent,
			wantHeaders: map[string]string{"Access-Control-Allow-Methods": "DELETE"},
		},
		{
			name:       "document read exposes request id",
			method:     http.MethodGet,
			path:       "/pages/1/document",
			header:     http.Header{"Origin": {"http://localhost:3000"}},
			wantStatus: http.StatusOK,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Origin":   "*",
				"Access-Control-Expose-Headers": "x-request-id",
			},
		},
		{
			name:       "same origin request untouched",
			method:     http.MethodGet,
			path:       "/pages",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.method, tt.path, "10.1.0.1", tt.header)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantHeaders == nil {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
			for name, want := range tt.wantHeaders {
				assert.Contains(t, strings.ToLower(w.Header().Get(name)), strings.ToLower(want), name)
			}
		})
	}
}

func TestCORSRestrictedOrigin(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://console.example.com"}
	cfg.AllowCredentials = true
	router := pageRouter(CORS(cfg))

	tests := []struct {
		name       string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"listed origin", "https://console.example.com", http.StatusOK, "https://console.example.com"},
		{"unlisted origin", "https://evil.example.com", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPost, "/pages", "10.1.0.2", http.Header{"Origin": {tt.origin}})

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()

	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
	assert.ElementsMatch(t, []string{"GET", "POST", "DELETE", "OPTIONS"}, cfg.AllowMethods)
	assert.Contains(t, cfg.AllowHeaders, RequestIDHeader)
	assert.Equal(t, []string{RequestIDHeader}, cfg.ExposeHeaders)
	assert.False(t, cfg.AllowCredentials)
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)
}

func TestRateLimitPerClient(t *testing.T) {
	router := pageRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	// The bucket is per client, not per route.
	steps := []struct {
		ip     string
		method string
		path   string
		want   int
	}{
		{"10.2.0.1", http.MethodPost, "/pages", http.StatusOK},
		{"10.2.0.1", http.MethodPost, "/pages/1/scripts", http.StatusOK},
		{"10.2.0.1", http.MethodGet, "/pages/1/document", http.StatusTooManyRequests},
		{"10.2.0.2", http.MethodPost, "/pages/1/scripts", http.StatusOK},
		{"10.2.0.1", http.MethodDelete, "/pages/1", http.StatusTooManyRequests},
	}

	for i, step := range steps {
		w := serve(router, step.method, step.path, step.ip, nil)
		require.Equal(t, step.want, w.Code, "step %d: %s %s from %s", i, step.method, step.path, step.ip)
		if step.want == http.StatusTooManyRequests {
			assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
		}
	}
}

func TestGlobalRateLimit(t *testing.T) {
	router := pageRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 3}))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := serve(router, http.MethodPost, "/pages/1/scripts", fmt.Sprintf("10.3.0.%d", i+1), nil)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRejectedRequestKeepsRequestID(t *testing.T) {
	router := pageRouter(RequestID(), RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	first := serve(router, http.MethodPost, "/pages/1/scripts", "10.4.0.1", nil)
	require.Equal(t, http.StatusOK, first.Code)

	id := "6f1c2a3e-9b6d-4c1e-8a0f-2b3c4d5e6f70"
	second := serve(router, http.MethodPost, "/pages/1/scripts", "10.4.0.1", http.Header{RequestIDHeader: {id}})

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, id, second.Header().Get(RequestIDHeader))
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	assert.Equal(t, 100, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.Burst)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
}

func TestRateLimitEvictsIdleClients(t *testing.T) {
	l := &limiters{
		cfg:       RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute},
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
	}

	start := time.Now()
	l.get("10.0.0.1", start)
	l.get("10.0.0.2", start)
	assert.Equal(t, 2, l.size())

	l.get("10.0.0.2", start.Add(50*time.Second))
	l.get("10.0.0.3", start.Add(100*time.Second))

	assert.Equal(t, 2, l.size())
	_, kept := l.clients["10.0.0.2"]
	assert.True(t, kept)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/pages/:id/document", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"assigns when missing", "", false},
		{"keeps valid id", "6f1c2a3e-9b6d-4c1e-8a0f-2b3c4d5e6f70", true},
		{"replaces garbage", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.incoming != "" {
				header.Set(RequestIDHeader, tt.incoming)
			}
			w := serve(router, http.MethodGet, "/pages/1/document", "10.5.0.1", header)

			got := w.Header().Get(RequestIDHeader)
			assert.NotEmpty(t, got)
			assert.Equal(t, got, w.Body.String())
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.NotEqual(t, tt.incoming, got)
			}
		})
	}
}
