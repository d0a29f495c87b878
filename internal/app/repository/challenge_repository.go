package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/KrunkLink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChallengeRepository defines the data access contract for pending verification
// challenges. Every read treats rows with expires_at <= now as absent.
type ChallengeRepository interface {
	// Replace stores ch as the identity's only challenge, discarding any previous
	// one in the same statement. A token already held by another row yields
	// ErrTokenCollision.
	Replace(ctx context.Context, ch *model.Challenge) error
	GetLive(ctx context.Context, identity string, now time.Time) (*model.Challenge, error)
	// IncrementAttempts bumps the attempt counter of the live challenge carrying
	// token, never past limit, and returns the new count.
	IncrementAttempts(ctx context.Context, identity, token string, now time.Time, limit int) (int, error)
	Delete(ctx context.Context, identity string) error
	// DeleteByToken removes the identity's challenge only while it still carries
	// token and reports whether this call removed it.
	DeleteByToken(ctx context.Context, identity, token string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type challengeRepository struct {
	db *gorm.DB
}

// NewChallengeRepository returns a GORM-backed ChallengeRepository.
func NewChallengeRepository(db *gorm.DB) ChallengeRepository {
	return &challengeRepository{db: db}
}

func (r *challengeRepository) Replace(ctx context.Context, ch *model.Challenge) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chat_identity"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "token", "attempts", "created_at", "expires_at",
			}),
		}).
		Create(ch).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenCollision
		}
		return err
	}
	return nil
}

func (r *challengeRepository) GetLive(ctx context.Context, identity string, now time.Time) (*model.Challenge, error) {
	var ch model.Challenge
	err := r.db.WithContext(ctx).
		Where("chat_identity = ? AND expires_at > ?", identity, now.UTC()).
		First(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return &ch, nil
}

func (r *challengeRepository) IncrementAttempts(ctx context.Context, identity, token string, now time.Time, limit int) (int, error) {
	var counts []int
	err := r.db.WithContext(ctx).Raw(`
		UPDATE verification_challenges
		SET attempts = attempts + 1
		WHERE chat_identity = ? AND token = ? AND expires_at > ? AND attempts < ?
		RETURNING attempts`,
		identity, token, now.UTC(), limit,
	).Scan(&counts).Error
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, ErrChallengeNotFound
	}
	return counts[0], nil
}

func (r *challengeRepository) Delete(ctx context.Context, identity string) error {
	return r.db.WithContext(ctx).
		Where("chat_identity = ?", identity).
		Delete(&model.Challenge{}).Error
}

func (r *challengeRepository) DeleteByToken(ctx context.Context, identity, token string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("chat_identity = ? AND token = ?", identity, token).
		Delete(&model.Challenge{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *challengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&model.Challenge{})
	return result.RowsAffected, result.Error
}
