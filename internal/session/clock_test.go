package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evergreen-live/backend/internal/models"
)

func TestElapsedLive(t *testing.T) {
	started := time.Now().Add(-90500 * time.Millisecond)
	st := &models.SessionState{IsLive: true, StartedAt: &started}

	assert.Equal(t, 90, Elapsed(st, time.Now()))
}

func TestElapsedMonotonicWhileLive(t *testing.T) {
	started := time.Now()
	st := &models.SessionState{IsLive: true, StartedAt: &started}

	prev := -1
	now := started
	for i := 0; i < 10; i++ {
		now = now.Add(347 * time.Millisecond)
		e := Elapsed(st, now)
		assert.GreaterOrEqual(t, e, prev)
		prev = e
	}
}

func TestElapsedFrozenWhenNotLive(t *testing.T) {
	started := time.Now().Add(-10 * time.Minute)
	st := &models.SessionState{
		IsLive:                 false,
		StartedAt:              &started,
		LastKnownOffsetSeconds: 123,
	}

	assert.Equal(t, 123, Elapsed(st, time.Now()))
	assert.Equal(t, 123, Elapsed(st, time.Now().Add(time.Hour)))
}

func TestElapsedClampedToZero(t *testing.T) {
	started := time.Now().Add(30 * time.Second) // clock skew: start in the future
	st := &models.SessionState{IsLive: true, StartedAt: &started}

	assert.Equal(t, 0, Elapsed(st, time.Now()))
}

func TestElapsedNilState(t *testing.T) {
	assert.Equal(t, 0, Elapsed(nil, time.Now()))
}
