package model

import "time"

// Link is a committed association between a chat identity and a Krunker username.
// Each side is unique: an identity holds one link and a username is claimed once.
type Link struct {
	ID        uint      `db:"id" gorm:"primaryKey"`
	Identity  string    `db:"chat_identity" gorm:"column:chat_identity;size:64;not null;uniqueIndex"`
	Username  string    `db:"username" gorm:"size:64;not null;uniqueIndex"`
	Region    string    `db:"region" gorm:"size:16"`
	CreatedAt time.Time `db:"created_at" gorm:"not null"`
}

func (Link) TableName() string { return "account_links" }
