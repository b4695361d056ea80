package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-location-simulator/internal/auth"
	"github.com/ukydev/fleet-location-simulator/internal/models"
)

func newTestMiddleware(t *testing.T) (*AuthMiddleware, *auth.Service) {
	t.Helper()
	authService := auth.NewService("test-secret", time.Hour)
	logger, _ := test.NewNullLogger()
	return NewAuthMiddleware(authService, logger), authService
}

func tokenFor(t *testing.T, svc *auth.Service, subject string, role models.Role) string {
	t.Helper()
	token, _, err := svc.GenerateToken(subject, role)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	middleware, authService := newTestMiddleware(t)

	t.Run("valid token", func(t *testing.T) {
		token := tokenFor(t, authService, "alice", models.RoleOperator)

		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetClaimsFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "alice", claims.Subject)
			assert.Equal(t, models.RoleOperator, claims.Role)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	for name, header := range map[string]string{
		"token without scheme": tokenFor(t, authService, "dispatcher", models.RoleOperator),
		"wrong scheme":         "Token " + tokenFor(t, authService, "dispatcher", models.RoleOperator),
		"scheme only":          "Bearer",
	} {
		t.Run("malformed header "+name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.False(t, handlerCalled)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "Invalid authorization header")
		})
	}

	t.Run("token signed with another secret", func(t *testing.T) {
		other := auth.NewService("other-secret", time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, other, "mallory", models.RoleAdmin))
		w := httptest.NewRecorder()

		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("websocket token query parameter", func(t *testing.T) {
		token := tokenFor(t, authService, "viewer", models.RoleViewer)
		req := httptest.NewRequest(http.MethodGet, "/api/stream?token="+token, nil)
		req.Header.Set("Upgrade", "websocket")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
	})

	t.Run("token query parameter ignored without upgrade", func(t *testing.T) {
		token := tokenFor(t, authService, "viewer", models.RoleViewer)
		req := httptest.NewRequest(http.MethodGet, "/api/simulations?token="+token, nil)
		w := httptest.NewRecorder()

		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	for _, path := range []string{"/api/auth/login", "/health"} {
		t.Run("skip auth "+path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestAuthMiddleware_RequireControl(t *testing.T) {
	middleware, authService := newTestMiddleware(t)

	tests := []struct {
		role     models.Role
		expected int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RoleOperator, http.StatusOK},
		{models.RoleViewer, http.StatusForbidden},
		{models.RoleService, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/simulations/V1/start", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, "someone", tt.role))
			w := httptest.NewRecorder()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			middleware.Authenticate(middleware.RequireControl(handler)).ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}

	t.Run("no claims in context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/simulations/stop", nil)
		w := httptest.NewRecorder()

		middleware.RequireControl(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	rateLimiter := NewRateLimitMiddleware()
	rateLimiter.now = func() time.Time { return current }

	handler := rateLimiter.RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"), "limits are per client")

	current = current.Add(61 * time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1"), "window slides")
}

func TestRateLimitMiddleware_RetryAfterFollowsWindow(t *testing.T) {
	for _, tt := range []struct {
		window   time.Duration
		expected string
	}{
		{time.Minute, "60"},
		{30 * time.Second, "30"},
		{1500 * time.Millisecond, "2"},
		{100 * time.Millisecond, "1"},
	} {
		t.Run(tt.window.String(), func(t *testing.T) {
			rateLimiter := NewRateLimitMiddleware()
			fixed := time.Unix(1_700_000_000, 0)
			rateLimiter.now = func() time.Time { return fixed }
			handler := rateLimiter.RateLimit(1, tt.window)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			first := httptest.NewRecorder()
			handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/simulations", nil))
			require.Equal(t, http.StatusOK, first.Code)

			second := httptest.NewRecorder()
			handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/simulations", nil))
			assert.Equal(t, http.StatusTooManyRequests, second.Code)
			assert.Equal(t, tt.expected, second.Header().Get("Retry-After"))
		})
	}
}

func TestRateLimitMiddleware_ForgetsIdleClients(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	rateLimiter := NewRateLimitMiddleware()
	rateLimiter.now = func() time.Time { return current }

	handler := rateLimiter.RateLimit(5, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	call := func(ip string) {
		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		req.RemoteAddr = ip + ":1234"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	call("10.0.0.1")
	call("10.0.0.2")
	assert.Len(t, rateLimiter.requests, 2)

	current = current.Add(30 * time.Second)
	call("10.0.0.2")

	current = current.Add(61 * time.Second)
	call("10.0.0.3")

	assert.NotContains(t, rateLimiter.requests, "10.0.0.1")
	assert.NotContains(t, rateLimiter.requests, "10.0.0.2")
	assert.Contains(t, rateLimiter.requests, "10.0.0.3")
	assert.Len(t, rateLimiter.requests, 1)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	rateLimiter := NewRateLimitMiddleware()
	next := http.NotFoundHandler()
	handler := rateLimiter.RateLimit(0, time.Minute)(next)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		value    string
		remote   string
		expected string
	}{
		{"forwarded for", "X-Forwarded-For", "203.0.113.7, 10.0.0.1", "10.0.0.1:5000", "203.0.113.7"},
		{"real ip", "X-Real-IP", "198.51.100.2", "10.0.0.1:5000", "198.51.100.2"},
		{"remote addr", "", "", "192.0.2.10:5000", "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, log.InfoLevel, entry.Level)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/health", entry.Data["path"])
}
