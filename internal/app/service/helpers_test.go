package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sifan077/KrunkLink/internal/app/model"
	"github.com/sifan077/KrunkLink/internal/app/repository"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.Link{}, &model.Challenge{}, &model.VerificationEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeEvidence serves posts per username.
type fakeEvidence struct {
	mu    sync.Mutex
	posts map[string][]string
	err   error
	calls int
}

func newFakeEvidence() *fakeEvidence {
	return &fakeEvidence{posts: make(map[string][]string)}
}

func (f *fakeEvidence) publish(username, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[username] = append([]string{body}, f.posts[username]...)
}

func (f *fakeEvidence) FetchRecentPosts(_ context.Context, username string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	posts := f.posts[username]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return append([]string(nil), posts...), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.VerificationEvent
	err    error
}

func (r *recordingSink) Publish(_ context.Context, event model.VerificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) types() []model.VerificationEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.VerificationEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	db         *gorm.DB
	svc        *verificationService
	challenges repository.ChallengeRepository
	links      repository.LinkRepository
	evidence   *fakeEvidence
	events     *recordingSink
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	f := &fixture{
		db:         db,
		challenges: repository.NewChallengeRepository(db),
		links:      repository.NewLinkRepository(db),
		evidence:   newFakeEvidence(),
		events:     &recordingSink{},
		now:        testNow,
	}
	f.svc = NewVerificationService(VerificationDeps{
		Logger:     zaptest.NewLogger(t),
		Challenges: f.challenges,
		Links:      f.links,
		Evidence:   f.evidence,
		Codes:      NewCodeGenerator("VERIFY-", 8),
		Events:     f.events,
		Options: VerificationOptions{
			TTL:         2 * time.Minute,
			MaxAttempts: 5,
			PostLimit:   5,
		},
	}).(*verificationService)
	f.svc.now = func() time.Time { return f.now }
	return f
}

type mockChallengeRepository struct {
	replaceFn    func(ctx context.Context, ch *model.Challenge) error
	getLiveFn    func(ctx context.Context, identity string, now time.Time) (*model.Challenge, error)
	incrementFn  func(ctx context.Context, identity, token string, now time.Time, limit int) (int, error)
	deleteFn     func(ctx context.Context, identity string) error
	deleteByTkFn func(ctx context.Context, identity, token string) (bool, error)
	expiredFn    func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockChallengeRepository) Replace(ctx context.Context, ch *model.Challenge) error {
	if m.replaceFn != nil {
		return m.replaceFn(ctx, ch)
	}
	return nil
}

func (m *mockChallengeRepository) GetLive(ctx context.Context, identity string, now time.Time) (*model.Challenge, error) {
	if m.getLiveFn != nil {
		return m.getLiveFn(ctx, identity, now)
	}
	return nil, repository.ErrChallengeNotFound
}

func (m *mockChallengeRepository) IncrementAttempts(ctx context.Context, identity, token string, now time.Time, limit int) (int, error) {
	if m.incrementFn != nil {
		return m.incrementFn(ctx, identity, token, now, limit)
	}
	return 1, nil
}

func (m *mockChallengeRepository) Delete(ctx context.Context, identity string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, identity)
	}
	return nil
}

func (m *mockChallengeRepository) DeleteByToken(ctx context.Context, identity, token string) (bool, error) {
	if m.deleteByTkFn != nil {
		return m.deleteByTkFn(ctx, identity, token)
	}
	return true, nil
}

func (m *mockChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.expiredFn != nil {
		return m.expiredFn(ctx, now)
	}
	return 0, nil
}

type mockLinkRepository struct {
	createFn     func(ctx context.Context, link *model.Link) (bool, error)
	byIdentityFn func(ctx context.Context, identity string) (*model.Link, error)
	byUsernameFn func(ctx context.Context, username string) (*model.Link, error)
	deleteFn     func(ctx context.Context, identity string) error
}

func (m *mockLinkRepository) CreateIfAbsent(ctx context.Context, link *model.Link) (bool, error) {
	if m.createFn != nil {
		return m.createFn(ctx, link)
	}
	return true, nil
}

func (m *mockLinkRepository) GetByIdentity(ctx context.Context, identity string) (*model.Link, error) {
	if m.byIdentityFn != nil {
		return m.byIdentityFn(ctx, identity)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) GetByUsername(ctx context.Context, username string) (*model.Link, error) {
	if m.byUsernameFn != nil {
		return m.byUsernameFn(ctx, username)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) DeleteByIdentity(ctx context.Context, identity string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, identity)
	}
	return nil
}
