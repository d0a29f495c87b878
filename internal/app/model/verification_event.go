package model

import "time"

// VerificationEventType names a step of the account verification flow.
type VerificationEventType string

const (
	EventStarted         VerificationEventType = "started"
	EventEvidenceFound   VerificationEventType = "evidence_found"
	EventEvidenceMissing VerificationEventType = "evidence_missing"
	EventAborted         VerificationEventType = "aborted"
	EventLinked          VerificationEventType = "linked"
	EventUnlinked        VerificationEventType = "unlinked"
)

// VerificationEvent is an audit record of the verification flow.
type VerificationEvent struct {
	ID         string                `json:"id" gorm:"primaryKey;size:36"`
	Type       VerificationEventType `json:"type" gorm:"size:32;not null;index"`
	Identity   string                `json:"identity" gorm:"column:chat_identity;size:64;not null;index"`
	Username   string                `json:"username" gorm:"size:64"`
	Attempts   int                   `json:"attempts" gorm:"not null"`
	OccurredAt time.Time             `json:"occurred_at" gorm:"not null"`
}

const (
	EventStreamName     = "VERIFICATIONS"
	EventStreamSubject  = "verifications.events"
	EventConsumerName   = "verification-auditor"
	EventStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
