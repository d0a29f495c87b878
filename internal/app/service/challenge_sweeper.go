package service

import (
	"context"
	"time"

	apprepository "github.com/sifan077/KrunkLink/internal/app/repository"
	"go.uber.org/zap"
)

// ChallengeSweeper periodically removes expired challenges. Reads already treat
// expired rows as absent, so the sweep only reclaims space
type ChallengeSweeper struct {
	logger   *zap.Logger
	repo     apprepository.ChallengeRepository
	metrics  MetricsRecorder
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewChallengeSweeper creates a sweeper running every interval
func NewChallengeSweeper(logger *zap.Logger, repo apprepository.ChallengeRepository, metrics MetricsRecorder, interval time.Duration) *ChallengeSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &ChallengeSweeper{
		logger:   logger,
		repo:     repo,
		metrics:  metrics,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *ChallengeSweeper) Start() {
	go s.run()
}

// Stop stops the periodic sweep
func (s *ChallengeSweeper) Stop() {
	close(s.stopChan)
}

func (s *ChallengeSweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("failed to sweep expired challenges", zap.Error(err))
			}
		case <-s.stopChan:
			s.logger.Info("challenge sweeper stopped")
			return
		}
	}
}

// Sweep deletes every challenge that has expired and returns how many were removed
func (s *ChallengeSweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now()

	removed, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.metrics.RecordSwept(removed)
		s.logger.Info("removed expired challenges",
			zap.Int64("count", removed),
			zap.Time("expired_before", now),
		)
	}
	return removed, nil
}
