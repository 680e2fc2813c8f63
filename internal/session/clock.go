package session

import (
	"time"

	"github.com/evergreen-live/backend/internal/models"
)

// Elapsed derives the current playback position in whole seconds for a
// session. It is the single source of truth for "current time": the scheduler,
// the sync broadcaster and status queries all go through it, and no component
// keeps its own running counter.
//
// Not live (or missing start instant): the last known offset, frozen.
// Live: floor(now - startedAt), clamped to >= 0. Repeated calls with the same
// state yield a non-decreasing sequence.
func Elapsed(st *models.SessionState, now time.Time) int {
	if st == nil {
		return 0
	}
	if !st.IsLive || st.StartedAt == nil {
		return st.LastKnownOffsetSeconds
	}
	sec := int(now.Sub(*st.StartedAt) / time.Second)
	if sec < 0 {
		return 0
	}
	return sec
}
