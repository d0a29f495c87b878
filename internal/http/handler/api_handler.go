package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/KrunkLink/internal/app/command"
	"github.com/sifan077/KrunkLink/internal/app/model"
	"github.com/sifan077/KrunkLink/internal/app/repository"
	"github.com/sifan077/KrunkLink/internal/app/service"
	"github.com/sifan077/KrunkLink/internal/http/middleware"
	"github.com/sifan077/KrunkLink/internal/infra/krunker"
	"go.uber.org/zap"
)

const maxEventsLimit = 100

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger    *zap.Logger
	Verifier  service.VerificationService
	Events    repository.VerificationEventRepository
	Commands  *command.Router
	Pages     command.PageLinker
	Limiter   middleware.Limiter
	RateLimit int
}

// APIHandler implements the verification, link and command endpoints.
type APIHandler struct {
	logger    *zap.Logger
	verifier  service.VerificationService
	events    repository.VerificationEventRepository
	commands  *command.Router
	pages     command.PageLinker
	limiter   middleware.Limiter
	rateLimit int
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:    logger,
		verifier:  deps.Verifier,
		events:    deps.Events,
		commands:  deps.Commands,
		pages:     deps.Pages,
		limiter:   deps.Limiter,
		rateLimit: deps.RateLimit,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		verifications := api.Group("/verifications")
		{
			verifications.Post("/", h.StartVerification)
			verifications.Get("/:identity", h.GetVerification)
			verifications.Post("/:identity/check", h.CheckVerification)
			verifications.Post("/:identity/complete", h.CompleteVerification)
		}

		links := api.Group("/links")
		{
			links.Get("/:identity", h.GetLink)
			links.Delete("/:identity", h.Unlink)
			links.Get("/:identity/events", h.ListEvents)
		}

		if h.commands != nil {
			handlers := []fiber.Handler{}
			if h.limiter != nil && h.rateLimit > 0 {
				handlers = append(handlers, middleware.RateLimit(h.limiter, middleware.RateLimitConfig{
					MaxRequests: h.rateLimit,
					KeyPrefix:   "ratelimit:commands",
					Key:         commandIdentity,
				}, h.logger))
			}
			handlers = append(handlers, h.RunCommand)
			api.Post("/commands", handlers...)
		}
	}
}

// StartVerificationRequest is the body of POST /api/verifications.
type StartVerificationRequest struct {
	Identity string `json:"identity"`
	Username string `json:"username"`
}

// VerificationResponse describes a pending challenge.
type VerificationResponse struct {
	Identity        string    `json:"identity"`
	Username        string    `json:"username"`
	Token           string    `json:"token"`
	ExpiresAt       time.Time `json:"expires_at"`
	Attempts        int       `json:"attempts"`
	InstructionsURL string    `json:"instructions_url,omitempty"`
}

// CheckResponse reports an evidence check.
type CheckResponse struct {
	Status    string `json:"status"`
	Token     string `json:"token,omitempty"`
	Username  string `json:"username,omitempty"`
	Attempts  int    `json:"attempts"`
	Remaining int    `json:"remaining"`
}

// LinkResponse describes a committed link.
type LinkResponse struct {
	Identity  string    `json:"identity"`
	Username  string    `json:"username"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StartVerification handles POST /api/verifications
func (h *APIHandler) StartVerification(c *fiber.Ctx) error {
	var req StartVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	started, err := h.verifier.StartVerification(requestContext(c), req.Identity, req.Username)
	if err != nil {
		return h.fail(c, "start verification", err)
	}

	resp := VerificationResponse{
		Identity:  req.Identity,
		Username:  started.Username,
		Token:     started.Token,
		ExpiresAt: started.ExpiresAt,
	}
	if h.pages != nil {
		if url, err := h.pages.InstructionsURL(req.Identity); err != nil {
			h.logger.Warn("failed to build instructions url", zap.Error(err))
		} else {
			resp.InstructionsURL = url
		}
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetVerification handles GET /api/verifications/:identity
func (h *APIHandler) GetVerification(c *fiber.Ctx) error {
	identity := c.Params("identity")

	ch, err := h.verifier.PendingChallenge(requestContext(c), identity)
	if err != nil {
		return h.fail(c, "load verification", err)
	}
	return c.JSON(challengeResponse(ch))
}

// CheckVerification handles POST /api/verifications/:identity/check
func (h *APIHandler) CheckVerification(c *fiber.Ctx) error {
	res, err := h.verifier.CheckVerification(requestContext(c), c.Params("identity"))
	if err != nil {
		return h.fail(c, "check verification", err)
	}
	return c.JSON(checkResponse(res))
}

// CompleteVerificationRequest is the optional body of the complete endpoint.
type CompleteVerificationRequest struct {
	Username string `json:"username"`
	Region   string `json:"region"`
}

// CompleteVerification handles POST /api/verifications/:identity/complete.
// The link is only committed when the evidence check finds the code.
func (h *APIHandler) CompleteVerification(c *fiber.Ctx) error {
	identity := c.Params("identity")
	ctx := requestContext(c)

	var req CompleteVerificationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	res, err := h.verifier.CheckVerification(ctx, identity)
	if err != nil {
		return h.fail(c, "check verification", err)
	}

	switch res.Status {
	case service.CheckNoChallenge:
		// A replayed complete finds the link instead of the challenge.
		link, err := h.verifier.GetLink(ctx, identity)
		if err == nil && (req.Username == "" || link.Username == req.Username) {
			return c.JSON(linkResponse(link))
		}
		return c.Status(fiber.StatusNotFound).JSON(checkResponse(res))
	case service.CheckNotFound:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(checkResponse(res))
	}

	if req.Username != "" && req.Username != res.Username {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "username does not match the pending verification",
		})
	}

	if err := h.verifier.CompleteVerification(ctx, identity, res.Username, service.LinkMetadata{Region: req.Region}); err != nil {
		return h.fail(c, "complete verification", err)
	}

	link, err := h.verifier.GetLink(ctx, identity)
	if err != nil {
		return h.fail(c, "load link", err)
	}
	return c.Status(fiber.StatusCreated).JSON(linkResponse(link))
}

// GetLink handles GET /api/links/:identity
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	link, err := h.verifier.GetLink(requestContext(c), c.Params("identity"))
	if err != nil {
		return h.fail(c, "load link", err)
	}
	return c.JSON(linkResponse(link))
}

// Unlink handles DELETE /api/links/:identity
func (h *APIHandler) Unlink(c *fiber.Ctx) error {
	if err := h.verifier.Unlink(requestContext(c), c.Params("identity")); err != nil {
		return h.fail(c, "unlink", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListEvents handles GET /api/links/:identity/events
func (h *APIHandler) ListEvents(c *fiber.Ctx) error {
	if h.events == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "audit trail is not enabled",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxEventsLimit {
		limit = 20
	}

	events, err := h.events.ListByIdentity(requestContext(c), c.Params("identity"), limit)
	if err != nil {
		return h.fail(c, "list events", err)
	}
	if events == nil {
		events = []model.VerificationEvent{}
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

// CommandRequest is a chat message forwarded by a gateway.
type CommandRequest struct {
	Identity string `json:"identity"`
	Content  string `json:"content"`
}

// RunCommand handles POST /api/commands
func (h *APIHandler) RunCommand(c *fiber.Ctx) error {
	var req CommandRequest
	if err := c.BodyParser(&req); err != nil || req.Identity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "identity and content are required",
		})
	}

	reply, ok := h.commands.Handle(requestContext(c), command.Message{Identity: req.Identity, Content: req.Content})
	return c.JSON(command.Reply{Reply: reply, Ignored: !ok})
}

func commandIdentity(c *fiber.Ctx) string {
	var req CommandRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return ""
	}
	return req.Identity
}

// fail maps domain errors to status codes and logs everything unexpected.
func (h *APIHandler) fail(c *fiber.Ctx, op string, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, code = fiber.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrAlreadyLinked):
		status, code = fiber.StatusConflict, "already_linked"
	case errors.Is(err, service.ErrUsernameTaken):
		status, code = fiber.StatusConflict, "username_taken"
	case errors.Is(err, service.ErrTooManyAttempts):
		status, code = fiber.StatusGone, "too_many_attempts"
	case errors.Is(err, service.ErrNotLinked):
		status, code = fiber.StatusNotFound, "not_linked"
	case errors.Is(err, service.ErrNoChallenge):
		status, code = fiber.StatusNotFound, "no_challenge"
	case errors.Is(err, service.ErrCodeCollision):
		status, code = fiber.StatusServiceUnavailable, "code_collision"
	case errors.Is(err, krunker.ErrPlayerNotFound):
		status, code = fiber.StatusUnprocessableEntity, "player_not_found"
	case errors.Is(err, service.ErrEvidenceUnavailable):
		status, code = fiber.StatusBadGateway, "evidence_unavailable"
	}

	if status == fiber.StatusBadGateway {
		h.logger.Warn("evidence source failed",
			zap.String("op", op),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err),
		)
	} else if status >= fiber.StatusInternalServerError {
		h.logger.Error("api request failed",
			zap.String("op", op),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(fiber.Map{
		"error": code,
	})
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func challengeResponse(ch *model.Challenge) VerificationResponse {
	return VerificationResponse{
		Identity:  ch.Identity,
		Username:  ch.Username,
		Token:     ch.Token,
		ExpiresAt: ch.ExpiresAt,
		Attempts:  ch.Attempts,
	}
}

func checkResponse(res *service.CheckResult) CheckResponse {
	return CheckResponse{
		Status:    res.Status.String(),
		Token:     res.Token,
		Username:  res.Username,
		Attempts:  res.Attempts,
		Remaining: res.Remaining(),
	}
}

func linkResponse(link *model.Link) LinkResponse {
	return LinkResponse{
		Identity:  link.Identity,
		Username:  link.Username,
		Region:    link.Region,
		CreatedAt: link.CreatedAt,
	}
}
