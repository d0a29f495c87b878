package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sifan077/KrunkLink/internal/app/command"
	"github.com/sifan077/KrunkLink/internal/http/middleware"
	"go.uber.org/zap/zaptest"
)

func TestNew_RegistersHealthRoutesAndMiddleware(t *testing.T) {
	s := New(Dependencies{
		Logger:   zaptest.NewLogger(t),
		Commands: command.NewRouter(command.Deps{}),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "rid-1")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get(middleware.RequestIDHeader); got != "rid-1" {
		t.Fatalf("request id = %q, want rid-1", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q, want *", got)
	}

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d, want 200 with no backends configured", resp.StatusCode)
	}
}

func TestNew_PageRouteRejectsUnsignedLinks(t *testing.T) {
	s := New(Dependencies{Logger: zaptest.NewLogger(t)})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/verify/42/bogus", nil))
	if err != nil {
		t.Fatalf("page request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when pages are disabled", resp.StatusCode)
	}
}

func TestReadinessChecks_OnlyConfiguredBackends(t *testing.T) {
	s := New(Dependencies{})
	if got := len(s.readinessChecks()); got != 0 {
		t.Fatalf("checks = %d, want 0", got)
	}
}
