package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/KrunkLink/internal/app/model"
	"github.com/sifan077/KrunkLink/internal/app/repository"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyLinked means the chat identity already holds a committed link.
	ErrAlreadyLinked = errors.New("account already linked")
	// ErrUsernameTaken means the username is linked to a different chat identity.
	ErrUsernameTaken = errors.New("username already linked to another account")
	// ErrTooManyAttempts means the attempt budget ran out and the challenge was discarded.
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrNotLinked means the chat identity has no committed link.
	ErrNotLinked = errors.New("account not linked")
	// ErrNoChallenge means the chat identity has no live challenge.
	ErrNoChallenge = errors.New("no pending verification")
	// ErrInvalidInput rejects empty identities and malformed usernames.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCodeCollision means the generated code is already held by another
	// challenge; callers may generate a new one.
	ErrCodeCollision = repository.ErrTokenCollision
	// ErrEvidenceUnavailable wraps every failure of the evidence source.
	ErrEvidenceUnavailable = errors.New("evidence source unavailable")

	errLinkChanged = errors.New("link changed concurrently")
)

const maxUsernameLength = 64

// EvidenceSource fetches the public content a challenge token is published on.
type EvidenceSource interface {
	FetchRecentPosts(ctx context.Context, username string, limit int) ([]string, error)
}

// EventSink receives audit events of the verification flow.
type EventSink interface {
	Publish(ctx context.Context, event model.VerificationEvent) error
}

// MetricsRecorder counts verification outcomes.
type MetricsRecorder interface {
	RecordOperation(operation, outcome string)
	RecordSwept(count int64)
}

// VerificationService drives the account verification state machine:
// NoChallenge -> Pending -> {Linked, Aborted}.
type VerificationService interface {
	StartVerification(ctx context.Context, identity, username string) (*StartResult, error)
	CheckVerification(ctx context.Context, identity string) (*CheckResult, error)
	CompleteVerification(ctx context.Context, identity, username string, meta LinkMetadata) error
	PendingChallenge(ctx context.Context, identity string) (*model.Challenge, error)
	GetLink(ctx context.Context, identity string) (*model.Link, error)
	Unlink(ctx context.Context, identity string) error
}

// VerificationOptions tunes the verification flow.
type VerificationOptions struct {
	TTL         time.Duration
	MaxAttempts int
	PostLimit   int
}

// VerificationDeps bundles the collaborators of the verification service.
type VerificationDeps struct {
	Logger     *zap.Logger
	Challenges repository.ChallengeRepository
	Links      repository.LinkRepository
	Evidence   EvidenceSource
	Codes      TokenGenerator
	Events     EventSink
	Metrics    MetricsRecorder
	Options    VerificationOptions
}

// StartResult is what the user needs to publish the code.
type StartResult struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}

// CheckStatus is the non-error outcome of an evidence check.
type CheckStatus int

const (
	CheckNoChallenge CheckStatus = iota
	CheckFound
	CheckNotFound
)

func (s CheckStatus) String() string {
	switch s {
	case CheckFound:
		return "found"
	case CheckNotFound:
		return "not_found"
	default:
		return "no_challenge"
	}
}

// CheckResult reports an evidence check. Token, Username and Attempts are
// empty for CheckNoChallenge.
type CheckResult struct {
	Status      CheckStatus
	Token       string
	Username    string
	Attempts    int
	MaxAttempts int
}

// Remaining returns how many failed checks are left before the challenge is discarded.
func (r *CheckResult) Remaining() int {
	if r.MaxAttempts <= r.Attempts {
		return 0
	}
	return r.MaxAttempts - r.Attempts
}

// LinkMetadata is optional profile data stored with a link.
type LinkMetadata struct {
	Region string
}

type verificationService struct {
	logger     *zap.Logger
	challenges repository.ChallengeRepository
	links      repository.LinkRepository
	evidence   EvidenceSource
	codes      TokenGenerator
	events     EventSink
	metrics    MetricsRecorder
	opts       VerificationOptions
	now        func() time.Time
}

// NewVerificationService returns a VerificationService backed by the given stores
// and evidence source. The stores are the only state; the service caches nothing.
func NewVerificationService(deps VerificationDeps) VerificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	opts := deps.Options
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.PostLimit <= 0 {
		opts.PostLimit = 5
	}
	return &verificationService{
		logger:     logger,
		challenges: deps.Challenges,
		links:      deps.Links,
		evidence:   deps.Evidence,
		codes:      deps.Codes,
		events:     deps.Events,
		metrics:    metrics,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *verificationService) StartVerification(ctx context.Context, identity, username string) (*StartResult, error) {
	username = strings.TrimSpace(username)
	if err := validate(identity, username); err != nil {
		return nil, err
	}

	if _, err := s.links.GetByIdentity(ctx, identity); err == nil {
		s.metrics.RecordOperation("start", "already_linked")
		return nil, ErrAlreadyLinked
	} else if !errors.Is(err, repository.ErrLinkNotFound) {
		return nil, fmt.Errorf("load link: %w", err)
	}

	token, err := s.codes.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now()
	ch := &model.Challenge{
		Identity:  identity,
		Username:  username,
		Token:     token,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}
	if err := s.challenges.Replace(ctx, ch); err != nil {
		if errors.Is(err, repository.ErrTokenCollision) {
			s.metrics.RecordOperation("start", "code_collision")
		}
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	s.logger.Info("verification started",
		zap.String("identity", identity),
		zap.String("username", username),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	s.metrics.RecordOperation("start", "ok")
	s.emit(ctx, model.EventStarted, identity, username, 0)

	return &StartResult{
		Token:     token,
		Username:  username,
		ExpiresAt: ch.ExpiresAt,
	}, nil
}

func (s *verificationService) CheckVerification(ctx context.Context, identity string) (*CheckResult, error) {
	now := s.now()

	ch, err := s.challenges.GetLive(ctx, identity, now)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			s.metrics.RecordOperation("check", CheckNoChallenge.String())
			return &CheckResult{Status: CheckNoChallenge, MaxAttempts: s.opts.MaxAttempts}, nil
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}

	// Exhausted by a concurrent call, or left behind by an abort whose delete failed.
	if ch.Attempts >= s.opts.MaxAttempts {
		return s.abort(ctx, ch, ch.Attempts)
	}

	posts, err := s.evidence.FetchRecentPosts(ctx, ch.Username, s.opts.PostLimit)
	if err != nil {
		s.metrics.RecordOperation("check", "evidence_error")
		return nil, fmt.Errorf("fetch posts for %s: %w: %w", ch.Username, ErrEvidenceUnavailable, err)
	}

	if containsToken(posts, ch.Token) {
		s.logger.Info("verification evidence found",
			zap.String("identity", identity),
			zap.String("username", ch.Username),
		)
		s.metrics.RecordOperation("check", CheckFound.String())
		s.emit(ctx, model.EventEvidenceFound, identity, ch.Username, ch.Attempts)
		return &CheckResult{
			Status:      CheckFound,
			Token:       ch.Token,
			Username:    ch.Username,
			Attempts:    ch.Attempts,
			MaxAttempts: s.opts.MaxAttempts,
		}, nil
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, identity, ch.Token, now, s.opts.MaxAttempts)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			// Replaced, expired or aborted by a concurrent call.
			s.metrics.RecordOperation("check", CheckNoChallenge.String())
			return &CheckResult{Status: CheckNoChallenge, MaxAttempts: s.opts.MaxAttempts}, nil
		}
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	if attempts >= s.opts.MaxAttempts {
		return s.abort(ctx, ch, attempts)
	}

	s.logger.Debug("verification evidence missing",
		zap.String("identity", identity),
		zap.String("username", ch.Username),
		zap.Int("attempts", attempts),
	)
	s.metrics.RecordOperation("check", CheckNotFound.String())
	s.emit(ctx, model.EventEvidenceMissing, identity, ch.Username, attempts)

	return &CheckResult{
		Status:      CheckNotFound,
		Token:       ch.Token,
		Username:    ch.Username,
		Attempts:    attempts,
		MaxAttempts: s.opts.MaxAttempts,
	}, nil
}

// abort discards an exhausted challenge. Only the caller whose delete removed the
// row reports ErrTooManyAttempts; concurrent callers see NoChallenge.
func (s *verificationService) abort(ctx context.Context, ch *model.Challenge, attempts int) (*CheckResult, error) {
	removed, err := s.challenges.DeleteByToken(ctx, ch.Identity, ch.Token)
	if err != nil {
		return nil, fmt.Errorf("discard exhausted challenge: %w", err)
	}
	if !removed {
		s.metrics.RecordOperation("check", CheckNoChallenge.String())
		return &CheckResult{Status: CheckNoChallenge, MaxAttempts: s.opts.MaxAttempts}, nil
	}

	s.logger.Info("verification aborted",
		zap.String("identity", ch.Identity),
		zap.String("username", ch.Username),
		zap.Int("attempts", attempts),
	)
	s.metrics.RecordOperation("check", "too_many_attempts")
	s.emit(ctx, model.EventAborted, ch.Identity, ch.Username, attempts)
	return nil, ErrTooManyAttempts
}

func (s *verificationService) CompleteVerification(ctx context.Context, identity, username string, meta LinkMetadata) error {
	if err := validate(identity, username); err != nil {
		return err
	}

	link := &model.Link{
		Identity:  identity,
		Username:  username,
		Region:    meta.Region,
		CreatedAt: s.now(),
	}

	inserted, err := s.links.CreateIfAbsent(ctx, link)
	if err != nil {
		s.metrics.RecordOperation("complete", "storage_error")
		return fmt.Errorf("create link: %w", err)
	}
	if !inserted {
		if err := s.resolveLinkConflict(ctx, identity, username); err != nil {
			return err
		}
	}

	if err := s.challenges.Delete(ctx, identity); err != nil {
		s.logger.Warn("failed to discard completed challenge",
			zap.String("identity", identity),
			zap.Error(err),
		)
	}

	if inserted {
		s.logger.Info("account linked",
			zap.String("identity", identity),
			zap.String("username", username),
		)
		s.metrics.RecordOperation("complete", "ok")
		s.emit(ctx, model.EventLinked, identity, username, 0)
	} else {
		s.metrics.RecordOperation("complete", "replayed")
	}
	return nil
}

// resolveLinkConflict explains why a link insert was skipped. A replay of the
// same pair is success.
func (s *verificationService) resolveLinkConflict(ctx context.Context, identity, username string) error {
	owner, err := s.links.GetByUsername(ctx, username)
	switch {
	case err == nil && owner.Identity == identity:
		return nil
	case err == nil:
		s.metrics.RecordOperation("complete", "username_taken")
		return ErrUsernameTaken
	case !errors.Is(err, repository.ErrLinkNotFound):
		return fmt.Errorf("load link by username: %w", err)
	}

	if _, err := s.links.GetByIdentity(ctx, identity); err == nil {
		s.metrics.RecordOperation("complete", "already_linked")
		return ErrAlreadyLinked
	} else if !errors.Is(err, repository.ErrLinkNotFound) {
		return fmt.Errorf("load link: %w", err)
	}

	return fmt.Errorf("create link: %w", errLinkChanged)
}

func (s *verificationService) PendingChallenge(ctx context.Context, identity string) (*model.Challenge, error) {
	ch, err := s.challenges.GetLive(ctx, identity, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return nil, ErrNoChallenge
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	return ch, nil
}

func (s *verificationService) GetLink(ctx context.Context, identity string) (*model.Link, error) {
	link, err := s.links.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("load link: %w", err)
	}
	return link, nil
}

func (s *verificationService) Unlink(ctx context.Context, identity string) error {
	link, err := s.GetLink(ctx, identity)
	if err != nil {
		return err
	}

	if err := s.links.DeleteByIdentity(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotLinked
		}
		return fmt.Errorf("delete link: %w", err)
	}

	s.logger.Info("account unlinked",
		zap.String("identity", identity),
		zap.String("username", link.Username),
	)
	s.metrics.RecordOperation("unlink", "ok")
	s.emit(ctx, model.EventUnlinked, identity, link.Username, 0)
	return nil
}

func (s *verificationService) emit(ctx context.Context, typ model.VerificationEventType, identity, username string, attempts int) {
	if s.events == nil {
		return
	}
	event := model.VerificationEvent{
		ID:         uuid.New().String(),
		Type:       typ,
		Identity:   identity,
		Username:   username,
		Attempts:   attempts,
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish verification event",
			zap.String("type", string(typ)),
			zap.String("identity", identity),
			zap.Error(err),
		)
	}
}

func containsToken(posts []string, token string) bool {
	for _, post := range posts {
		if strings.Contains(post, token) {
			return true
		}
	}
	return false
}

func validate(identity, username string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(username) > maxUsernameLength || strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("%w: %q is not a valid username", ErrInvalidInput, username)
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, string) {}
func (nopMetrics) RecordSwept(int64)              {}
