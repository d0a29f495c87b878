package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sifan077/KrunkLink/internal/app/service"
	"go.uber.org/zap"
)

// Metadata describes a command in help output.
type Metadata struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string
}

type command struct {
	meta Metadata
	run  func(ctx context.Context, r *Router, identity string, args []string) (string, error)
}

var commandTable []*command

func init() {
	commandTable = []*command{
		{
			meta: Metadata{Name: "help", Description: "Show this help message", Usage: "&help", Aliases: []string{"h"}},
			run:  runHelp,
		},
		{
			meta: Metadata{Name: "ping", Description: "Check that the bot is alive", Usage: "&ping"},
			run:  runPing,
		},
		{
			meta: Metadata{Name: "link", Description: "Start linking your Krunker account", Usage: "&link <username>"},
			run:  runLink,
		},
		{
			meta: Metadata{Name: "verify", Description: "Verify your linked Krunker account", Usage: "&verify"},
			run:  runVerify,
		},
		{
			meta: Metadata{Name: "unlink", Description: "Unlink your Krunker account", Usage: "&unlink"},
			run:  runUnlink,
		},
		{
			meta: Metadata{Name: "whoami", Description: "Show the Krunker account you are linked to", Usage: "&whoami", Aliases: []string{"me"}},
			run:  runWhoami,
		},
	}
}

// Commands lists the registered commands in help order.
func Commands() []Metadata {
	out := make([]Metadata, len(commandTable))
	for i, cmd := range commandTable {
		out[i] = cmd.meta
	}
	return out
}

func runHelp(_ context.Context, _ *Router, _ string, _ []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Available commands (prefix: " + Prefix + ")")
	for _, meta := range Commands() {
		sb.WriteString("\n`" + meta.Usage + "` " + meta.Description)
		if len(meta.Aliases) > 0 {
			sb.WriteString(" (aliases: " + strings.Join(meta.Aliases, ", ") + ")")
		}
	}
	return sb.String(), nil
}

func runPing(context.Context, *Router, string, []string) (string, error) {
	return "ping back", nil
}

func runLink(ctx context.Context, r *Router, identity string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: &link <username>", nil
	}
	username := args[0]

	var (
		started *service.StartResult
		err     error
	)
	for i := 0; i < maxLinkRetries; i++ {
		started, err = r.verifier.StartVerification(ctx, identity, username)
		if !errors.Is(err, service.ErrCodeCollision) {
			break
		}
		r.logger.Warn("verification code collision, regenerating",
			zap.String("identity", identity),
			zap.Int("attempt", i+1),
		)
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Post this code on the Krunker social feed of %s:\n%s\n", started.Username, started.Token)
	fmt.Fprintf(&sb, "It expires at %s UTC. Then run &verify.", started.ExpiresAt.UTC().Format("15:04:05"))

	if r.pages != nil {
		if url, err := r.pages.InstructionsURL(identity); err != nil {
			r.logger.Warn("failed to build instructions url", zap.String("identity", identity), zap.Error(err))
		} else if url != "" {
			sb.WriteString("\nInstructions: " + url)
		}
	}
	return sb.String(), nil
}

func runVerify(ctx context.Context, r *Router, identity string, _ []string) (string, error) {
	res, err := r.verifier.CheckVerification(ctx, identity)
	if err != nil {
		return "", err
	}

	switch res.Status {
	case service.CheckNoChallenge:
		return "No pending verification. Start with &link <username>.", nil
	case service.CheckNotFound:
		return fmt.Sprintf("Code %s not found in the recent posts of %s. %d attempts left.",
			res.Token, res.Username, res.Remaining()), nil
	}

	var meta service.LinkMetadata
	if r.profiles != nil {
		profile, err := r.profiles.FetchProfile(ctx, res.Username)
		if err != nil {
			r.logger.Warn("failed to fetch profile, linking without region",
				zap.String("username", res.Username),
				zap.Error(err),
			)
		} else {
			meta.Region = profile.Region
		}
	}

	if err := r.verifier.CompleteVerification(ctx, identity, res.Username, meta); err != nil {
		return "", err
	}
	return fmt.Sprintf("Verified! Your account is now linked to %s.", res.Username), nil
}

func runUnlink(ctx context.Context, r *Router, identity string, _ []string) (string, error) {
	link, err := r.verifier.GetLink(ctx, identity)
	if err != nil {
		return "", err
	}
	if err := r.verifier.Unlink(ctx, identity); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unlinked from %s. You can now link a new one with &link <username>.", link.Username), nil
}

func runWhoami(ctx context.Context, r *Router, identity string, _ []string) (string, error) {
	link, err := r.verifier.GetLink(ctx, identity)
	if errors.Is(err, service.ErrNotLinked) {
		if ch, pendingErr := r.verifier.PendingChallenge(ctx, identity); pendingErr == nil {
			return fmt.Sprintf("Not linked yet. Verification of %s is pending, run &verify.", ch.Username), nil
		}
		return "You are not linked to any Krunker account. Use &link <username>.", nil
	}
	if err != nil {
		return "", err
	}

	if link.Region != "" {
		return fmt.Sprintf("You are linked to %s (%s).", link.Username, link.Region), nil
	}
	return fmt.Sprintf("You are linked to %s.", link.Username), nil
}
