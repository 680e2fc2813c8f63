package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one chat entry for a webinar. Messages are soft-deleted to
// preserve the moderation audit trail; OffsetSeconds is the session elapsed
// time when the message was sent.
type ChatMessage struct {
	ID            uuid.UUID  `json:"id"`
	WebinarID     uuid.UUID  `json:"webinar_id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	SenderName    string     `json:"sender_name"`
	Content       string     `json:"content"`
	OffsetSeconds int        `json:"offset_seconds"`
	IsPinned      bool       `json:"is_pinned"`
	IsDeleted     bool       `json:"is_deleted"`
	IsAutomated   bool       `json:"is_automated"`
	CreatedAt     time.Time  `json:"created_at"`
}
