// This file defines the persistence model backing safe client retries of
// message sends. The record is mapped with GORM onto the local SQLite
// store; the live and archive message stores are not involved.
package domain

import "time"

// Idempotency records the outcome of a previously processed send request,
// keyed by (user_id, conversation_id, key). A retried request carrying the
// same Idempotency-Key returns the originally committed message instead of
// appending a second copy, which keeps the client-generated message id the
// single canonical identity across retries.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_conv_key,priority:1"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_conv_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_conv_key,priority:3"`
	MessageID      string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
