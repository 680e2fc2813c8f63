package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AutomationKind discriminates the automation event payload.
type AutomationKind string

const (
	KindTimedMessage AutomationKind = "TIMED_MESSAGE"
	KindCTAPopup     AutomationKind = "CTA_POPUP"
	KindOfferBanner  AutomationKind = "OFFER_BANNER"
	KindKeywordReply AutomationKind = "KEYWORD_REPLY"
)

// AutomationEvent is one timeline entry for a webinar. TriggerOffsetSeconds is
// the elapsed-time offset at which it fires; ignored for KEYWORD_REPLY, which
// is condition-triggered from incoming chat instead.
//
// FiredAt transitions nil -> non-nil at most once; the transition is guarded by
// a conditional update so concurrent schedulers cannot double-fire.
type AutomationEvent struct {
	ID                   uuid.UUID       `json:"id"`
	WebinarID            uuid.UUID       `json:"webinar_id"`
	Kind                 AutomationKind  `json:"kind"`
	TriggerOffsetSeconds int             `json:"trigger_offset_seconds"`
	Payload              json.RawMessage `json:"payload"`
	Enabled              bool            `json:"enabled"`
	FiredAt              *time.Time      `json:"fired_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Pending reports whether the event is still eligible to fire.
func (e *AutomationEvent) Pending() bool {
	return e.Enabled && e.FiredAt == nil
}
