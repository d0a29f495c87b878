package model

import "time"

// Challenge is a pending, time-boxed request to prove control of Username by
// publishing Token on its public feed. One row per chat identity.
type Challenge struct {
	Identity  string    `db:"chat_identity" gorm:"column:chat_identity;primaryKey;size:64"`
	Username  string    `db:"username" gorm:"size:64;not null"`
	Token     string    `db:"token" gorm:"size:32;not null;uniqueIndex"`
	Attempts  int       `db:"attempts" gorm:"not null"`
	CreatedAt time.Time `db:"created_at" gorm:"not null"`
	ExpiresAt time.Time `db:"expires_at" gorm:"not null;index"`
}

func (Challenge) TableName() string { return "verification_challenges" }
