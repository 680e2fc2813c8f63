package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded for operator and automated lifecycle activity.
const (
	ActionWebinarCreated      = "WEBINAR_CREATED"
	ActionWebinarUpdated      = "WEBINAR_UPDATED"
	ActionWebinarDeleted      = "WEBINAR_DELETED"
	ActionWebinarStarted      = "WEBINAR_STARTED"
	ActionWebinarStartedAuto  = "WEBINAR_STARTED_AUTOMATICALLY"
	ActionWebinarStopped      = "WEBINAR_STOPPED"
	ActionWebinarStoppedAuto  = "WEBINAR_ENDED_AUTOMATICALLY"
	ActionAutomationsImported = "AUTOMATIONS_IMPORTED"
	ActionChatMessagePinned   = "CHAT_MESSAGE_PINNED"
	ActionChatMessageUnpinned = "CHAT_MESSAGE_UNPINNED"
	ActionChatMessageDeleted  = "CHAT_MESSAGE_DELETED"
)

// AuditLog records an admin or lifecycle action against a webinar.
type AuditLog struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	WebinarID *uuid.UUID      `json:"webinar_id,omitempty"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
