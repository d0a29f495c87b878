package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/KrunkLink/config"
	"github.com/sifan077/KrunkLink/internal/app/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultConnMaxLifetime = 5 * time.Minute

// NewGorm opens the GORM handle used by the repositories. Unique violations are
// translated to gorm.ErrDuplicatedKey.
func NewGorm(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(ConnString(cfg)), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}

	lifetime := defaultConnMaxLifetime
	if d, ok := parseDuration(cfg.MaxConnLifetime); ok {
		lifetime = d
	}
	sqlDB.SetConnMaxLifetime(lifetime)
	if d, ok := parseDuration(cfg.MaxConnIdleTime); ok {
		sqlDB.SetConnMaxIdleTime(d)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		sqlDB.SetMaxIdleConns(int(cfg.MinConns))
	}

	return db, nil
}

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&model.Link{},
		&model.Challenge{},
		&model.VerificationEvent{},
	}
}

// AutoMigrate creates or updates the service tables.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}
	return nil
}
