package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type memoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memoryLimiter) Hit(_ context.Context, key string) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], 30 * time.Second, nil
}

func newApp(t *testing.T, handlers ...fiber.Handler) *fiber.App {
	t.Helper()
	app := fiber.New()
	for _, h := range handlers {
		app.Use(h)
	}
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })
	return app
}

func TestRequestID(t *testing.T) {
	app := newApp(t, RequestID())

	req := httptest.NewRequest(fiber.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "rid-1", resp.Header.Get(RequestIDHeader))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/ok", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	app := newApp(t, RequestID(), Recovery(zaptest.NewLogger(t)), Logger(zaptest.NewLogger(t)))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestRateLimit_PerSubject(t *testing.T) {
	limiter := &memoryLimiter{}
	app := newApp(t, RateLimit(limiter, RateLimitConfig{
		MaxRequests: 2,
		KeyPrefix:   "test",
		Key:         func(c *fiber.Ctx) string { return c.Get("X-Identity") },
	}, zaptest.NewLogger(t)))

	hit := func(identity string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/ok", nil)
		if identity != "" {
			req.Header.Set("X-Identity", identity)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, hit("U1"))
	assert.Equal(t, fiber.StatusOK, hit("U1"))
	assert.Equal(t, fiber.StatusTooManyRequests, hit("U1"))
	assert.Equal(t, fiber.StatusOK, hit("U2"), "limits are per subject")
	assert.Equal(t, fiber.StatusOK, hit(""), "requests without a subject are not limited")
	assert.EqualValues(t, 3, limiter.counts["test:U1"])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	app := newApp(t, RateLimit(&memoryLimiter{err: errors.New("redis down")}, RateLimitConfig{MaxRequests: 1}, zap.NewNop()))

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ok", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	app := newApp(t, CORS([]string{"https://dash.example/"}))

	req := httptest.NewRequest(fiber.MethodOptions, "/ok", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://dash.example")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(fiber.MethodOptions, "/ok", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	open := newApp(t, CORS(nil))
	resp, err = open.Test(httptest.NewRequest(fiber.MethodGet, "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}
