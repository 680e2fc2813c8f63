package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the mutable live-session record for a webinar.
// Elapsed time is always derived from StartedAt, never stored as a running
// counter; LastKnownOffsetSeconds is only a resume/status hint written
// periodically by the sync broadcaster.
//
// Invariant: IsLive == true iff StartedAt != nil && EndedAt == nil.
type SessionState struct {
	WebinarID              uuid.UUID  `json:"webinar_id"`
	IsLive                 bool       `json:"is_live"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	EndedAt                *time.Time `json:"ended_at,omitempty"`
	LastKnownOffsetSeconds int        `json:"last_known_offset_seconds"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
