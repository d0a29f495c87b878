package repository

import (
	"context"
	"errors"

	"github.com/sifan077/KrunkLink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LinkRepository defines the data access contract for account links.
type LinkRepository interface {
	// CreateIfAbsent inserts link unless its identity or username is already
	// linked. It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, link *model.Link) (bool, error)
	GetByIdentity(ctx context.Context, identity string) (*model.Link, error)
	GetByUsername(ctx context.Context, username string) (*model.Link, error)
	DeleteByIdentity(ctx context.Context, identity string) error
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) CreateIfAbsent(ctx context.Context, link *model.Link) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(link)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *linkRepository) GetByIdentity(ctx context.Context, identity string) (*model.Link, error) {
	return r.first(ctx, "chat_identity = ?", identity)
}

func (r *linkRepository) GetByUsername(ctx context.Context, username string) (*model.Link, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *linkRepository) DeleteByIdentity(ctx context.Context, identity string) error {
	result := r.db.WithContext(ctx).
		Where("chat_identity = ?", identity).
		Delete(&model.Link{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) first(ctx context.Context, query string, arg string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where(query, arg).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}
