package models

import (
	"time"

	"github.com/google/uuid"
)

// Registration is an attendee registration for a webinar. UniqueLink is the
// join-link token used to classify the attendee on the live channel.
type Registration struct {
	ID         uuid.UUID  `json:"id"`
	WebinarID  uuid.UUID  `json:"webinar_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone,omitempty"`
	Consent    bool       `json:"consent"`
	UniqueLink string     `json:"unique_link"`
	AttendedAt *time.Time `json:"attended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
