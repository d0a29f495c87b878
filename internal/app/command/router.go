package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sifan077/KrunkLink/internal/app/service"
	"github.com/sifan077/KrunkLink/internal/infra/krunker"
	"go.uber.org/zap"
)

// Prefix marks a chat message as a command.
const Prefix = "&"

const (
	maxLinkRetries = 3
	replyUnknown   = "Not a valid command!"
)

// Message is an incoming chat message.
type Message struct {
	Identity string `json:"identity"`
	Content  string `json:"content"`
}

// ProfileSource looks up a player's public profile.
type ProfileSource interface {
	FetchProfile(ctx context.Context, username string) (*krunker.Profile, error)
}

// PageLinker builds the URL of the verification instructions page for an identity.
type PageLinker interface {
	InstructionsURL(identity string) (string, error)
}

// Recorder counts handled commands.
type Recorder interface {
	RecordCommand(command string, ok bool)
}

// Deps bundles the collaborators of the router.
type Deps struct {
	Logger   *zap.Logger
	Verifier service.VerificationService
	Profiles ProfileSource
	Pages    PageLinker
	Metrics  Recorder
}

// Router dispatches prefixed chat messages to commands and renders text replies.
type Router struct {
	logger   *zap.Logger
	verifier service.VerificationService
	profiles ProfileSource
	pages    PageLinker
	metrics  Recorder
	commands map[string]*command
}

// NewRouter indexes the command table by name and alias.
func NewRouter(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		logger:   logger,
		verifier: deps.Verifier,
		profiles: deps.Profiles,
		pages:    deps.Pages,
		metrics:  deps.Metrics,
		commands: make(map[string]*command),
	}
	for _, cmd := range commandTable {
		r.commands[cmd.meta.Name] = cmd
		for _, alias := range cmd.meta.Aliases {
			r.commands[alias] = cmd
		}
	}
	return r
}

// Handle runs the command in msg. ok is false when the message is not a command
// and must be left unanswered.
func (r *Router) Handle(ctx context.Context, msg Message) (reply string, ok bool) {
	name, args, isCommand := parseCommand(msg.Content)
	if !isCommand {
		return "", false
	}

	cmd, found := r.commands[name]
	if !found {
		return replyUnknown, true
	}

	reply, err := cmd.run(ctx, r, msg.Identity, args)
	if r.metrics != nil {
		r.metrics.RecordCommand(cmd.meta.Name, err == nil)
	}
	if err != nil {
		return "Error: " + r.describe(cmd.meta.Name, msg.Identity, err), true
	}
	return reply, true
}

func parseCommand(content string) (string, []string, bool) {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, Prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, Prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// describe turns a command error into text a chat user can act on.
func (r *Router) describe(name, identity string, err error) string {
	switch {
	case errors.Is(err, service.ErrAlreadyLinked):
		return "You have already linked to a Krunker account. Use &unlink first."
	case errors.Is(err, service.ErrUsernameTaken):
		return "This Krunker username is already linked to another account."
	case errors.Is(err, service.ErrTooManyAttempts):
		return "Too many verification attempts. Please start over with &link <username>."
	case errors.Is(err, service.ErrNotLinked):
		return "You are not linked to any Krunker account."
	case errors.Is(err, service.ErrInvalidInput):
		return "That does not look like a Krunker username."
	case errors.Is(err, service.ErrCodeCollision):
		return "Could not issue a verification code right now, please try again."
	case errors.Is(err, krunker.ErrPlayerNotFound):
		return "Krunker does not know that player."
	}

	var apiErr *krunker.APIError
	if errors.As(err, &apiErr) {
		r.logger.Warn("krunker api rejected command",
			zap.String("command", name),
			zap.String("identity", identity),
			zap.Int("status", apiErr.StatusCode),
			zap.Error(err),
		)
		return fmt.Sprintf("Krunker API is unavailable (status %d), try again later.", apiErr.StatusCode)
	}
	if errors.Is(err, service.ErrEvidenceUnavailable) {
		r.logger.Warn("krunker api unreachable",
			zap.String("command", name),
			zap.String("identity", identity),
			zap.Error(err),
		)
		return "Krunker API is unavailable, try again later."
	}

	r.logger.Error("command failed",
		zap.String("command", name),
		zap.String("identity", identity),
		zap.Error(err),
	)
	return "Something went wrong, please try again later."
}
