package models

import (
	"time"

	"github.com/google/uuid"
)

// WebinarStatus is the lifecycle state of a webinar.
type WebinarStatus string

const (
	StatusDraft     WebinarStatus = "DRAFT"
	StatusScheduled WebinarStatus = "SCHEDULED"
	StatusLive      WebinarStatus = "LIVE"
	StatusEnded     WebinarStatus = "ENDED"
)

// Webinar is a simulated-live webinar backed by a pre-recorded asset.
type Webinar struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	Slug            string        `json:"slug"`
	Description     string        `json:"description,omitempty"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	Timezone        string        `json:"timezone"`
	DurationMinutes int           `json:"duration_minutes"`
	VideoURL        string        `json:"video_url,omitempty"`
	ThumbnailURL    string        `json:"thumbnail_url,omitempty"`
	AccentColor     string        `json:"accent_color,omitempty"`
	Status          WebinarStatus `json:"status"`
	HostID          uuid.UUID     `json:"host_id"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
