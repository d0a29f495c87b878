package handler

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// Check reports whether one backing service is reachable
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness checks
type HealthHandler struct {
	checks map[string]Check
	now    func() time.Time
}

// NewHealthHandler creates a health handler running checks on /ready.
func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		now:    time.Now,
	}
}

// Register wires the health routes
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "krunklink",
		"status":  "ok",
		"time":    h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. Every check must pass.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(fiber.Map, len(names))
	status := fiber.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(requestContext(c), readinessTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != fiber.StatusOK {
		state = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": results,
	})
}
