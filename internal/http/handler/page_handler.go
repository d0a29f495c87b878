package handler

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/KrunkLink/internal/app/service"
	"github.com/sifan077/KrunkLink/internal/http/util"
	"github.com/sifan077/KrunkLink/internal/http/view"
	"go.uber.org/zap"
)

// PageDeps groups dependencies of the verification instructions page.
type PageDeps struct {
	Logger      *zap.Logger
	Verifier    service.VerificationService
	Signer      *util.TokenSigner
	MaxAttempts int
}

// PageHandler renders the page linked from the link command reply.
type PageHandler struct {
	logger      *zap.Logger
	verifier    service.VerificationService
	signer      *util.TokenSigner
	maxAttempts int
}

// NewPageHandler creates a page handler.
func NewPageHandler(deps PageDeps) *PageHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageHandler{
		logger:      logger,
		verifier:    deps.Verifier,
		signer:      deps.Signer,
		maxAttempts: deps.MaxAttempts,
	}
}

// Register wires the page route.
func (h *PageHandler) Register(router fiber.Router) {
	router.Get("/verify/:identity/:sig", h.Show)
}

// Show handles GET /verify/:identity/:sig
func (h *PageHandler) Show(c *fiber.Ctx) error {
	identity, err := url.PathUnescape(c.Params("identity"))
	if err != nil || identity == "" {
		return c.Status(fiber.StatusBadRequest).SendString("invalid link")
	}
	if h.signer == nil {
		return c.Status(fiber.StatusNotFound).SendString("not found")
	}
	if err := h.signer.Validate(identity, c.Params("sig")); err != nil {
		return c.Status(fiber.StatusForbidden).SendString("this link is invalid or has expired")
	}

	ctx := requestContext(c)
	data := view.VerificationPageData{}

	if link, err := h.verifier.GetLink(ctx, identity); err == nil {
		data.Linked = true
		data.Username = link.Username
		data.Title = "Account linked"
	} else if !errors.Is(err, service.ErrNotLinked) {
		return h.internalError(c, err)
	} else {
		ch, err := h.verifier.PendingChallenge(ctx, identity)
		switch {
		case err == nil:
			data.Pending = true
			data.Username = ch.Username
			data.Token = ch.Token
			data.ExpiresAt = ch.ExpiresAt
			data.Attempts = ch.Attempts
			data.Remaining = h.maxAttempts - ch.Attempts
			if data.Remaining < 0 {
				data.Remaining = 0
			}
		case errors.Is(err, service.ErrNoChallenge):
		default:
			return h.internalError(c, err)
		}
	}

	html, err := view.RenderVerificationPage(data)
	if err != nil {
		return h.internalError(c, err)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("html", "utf-8")
	return c.SendString(html)
}

func (h *PageHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error("failed to render verification page", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).SendString("internal server error")
}
