package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that no account link exists for the lookup key.
	ErrLinkNotFound = errors.New("link not found")
	// ErrChallengeNotFound signals that no live challenge exists for the identity.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrTokenCollision signals that a challenge token is already in use by another row.
	ErrTokenCollision = errors.New("challenge token collision")
)

const pgUniqueViolation = "23505"

// isUniqueViolation recognises unique constraint failures from Postgres (pgx)
// and SQLite, with or without GORM error translation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
