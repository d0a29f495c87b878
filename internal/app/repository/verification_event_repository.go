package repository

import (
	"context"

	"github.com/sifan077/KrunkLink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VerificationEventRepository defines the data access contract for the verification audit trail.
type VerificationEventRepository interface {
	Create(ctx context.Context, event *model.VerificationEvent) error
	ListByIdentity(ctx context.Context, identity string, limit int) ([]model.VerificationEvent, error)
}

type verificationEventRepository struct {
	db *gorm.DB
}

// NewVerificationEventRepository returns a GORM-backed VerificationEventRepository.
func NewVerificationEventRepository(db *gorm.DB) VerificationEventRepository {
	return &verificationEventRepository{db: db}
}

// Create ignores events whose ID is already stored, so redelivered messages are harmless.
func (r *verificationEventRepository) Create(ctx context.Context, event *model.VerificationEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event).Error
}

func (r *verificationEventRepository) ListByIdentity(ctx context.Context, identity string, limit int) ([]model.VerificationEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	var result []model.VerificationEvent
	if err := r.db.WithContext(ctx).
		Where("chat_identity = ?", identity).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
