package automation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/observability"
	"github.com/evergreen-live/backend/internal/session"
)

// EventStore is the timeline persistence the scheduler needs.
type EventStore interface {
	ListPending(ctx context.Context, webinarID uuid.UUID) ([]models.AutomationEvent, error)
	ListKeywordReplies(ctx context.Context, webinarID uuid.UUID) ([]models.AutomationEvent, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	ResetFiredForEnded(ctx context.Context) (int64, error)
}

// SessionSource reads live session state.
type SessionSource interface {
	Get(ctx context.Context, webinarID uuid.UUID) (*models.SessionState, error)
	LiveWebinarIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ChatStore persists automated chat messages.
type ChatStore interface {
	CreateAutomated(ctx context.Context, webinarID uuid.UUID, senderName, content string, offsetSeconds int) (*models.ChatMessage, error)
}

// Broadcaster pushes an event to a webinar's broadcast group.
type Broadcaster interface {
	BroadcastToWebinar(webinarID uuid.UUID, event string, payload interface{})
}

// timeline is the armed in-memory schedule for one live webinar.
type timeline struct {
	timers map[uuid.UUID]*time.Timer
}

// Scheduler arms one-shot timers for the automation timelines of live webinars.
// Timers are a latency optimization only: the fired_at column is the source of
// truth, and every fire passes through an atomic claim, so a timer racing the
// reconcile loop (or another instance) cannot dispatch an event twice.
type Scheduler struct {
	events   EventStore
	sessions SessionSource
	chat     ChatStore
	hub      Broadcaster
	logger   *zap.Logger

	reconcileInterval time.Duration
	cleanupInterval   time.Duration
	replyDelay        time.Duration

	mu        sync.Mutex
	timelines map[uuid.UUID]*timeline
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a timeline scheduler. Intervals at or below zero fall
// back to the defaults (5s reconcile, 60m cleanup, 1s keyword reply delay).
func NewScheduler(events EventStore, sessions SessionSource, chat ChatStore, hub Broadcaster, reconcileIntervalSec, cleanupIntervalMin, replyDelayMS int, logger *zap.Logger) *Scheduler {
	if reconcileIntervalSec <= 0 {
		reconcileIntervalSec = 5
	}
	if cleanupIntervalMin <= 0 {
		cleanupIntervalMin = 60
	}
	if replyDelayMS <= 0 {
		replyDelayMS = 1000
	}
	return &Scheduler{
		events:            events,
		sessions:          sessions,
		chat:              chat,
		hub:               hub,
		logger:            logger,
		reconcileInterval: time.Duration(reconcileIntervalSec) * time.Second,
		cleanupInterval:   time.Duration(cleanupIntervalMin) * time.Minute,
		replyDelay:        time.Duration(replyDelayMS) * time.Millisecond,
		timelines:         make(map[uuid.UUID]*timeline),
	}
}

// Start begins the reconcile and cleanup loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Info("automation scheduler started",
		zap.Duration("reconcile_interval", s.reconcileInterval),
		zap.Duration("cleanup_interval", s.cleanupInterval))
}

// Stop halts the loops and cancels every armed timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	done := s.done
	for id, tl := range s.timelines {
		for _, t := range tl.timers {
			t.Stop()
		}
		delete(s.timelines, id)
	}
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("automation scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	reconcile := time.NewTicker(s.reconcileInterval)
	defer reconcile.Stop()
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			s.reconcile(ctx)
		case <-cleanup.C:
			s.cleanupFired(ctx)
		}
	}
}

// reconcile converges armed timelines with the set of live sessions: attach
// webinars that went live without one, detach webinars that are no longer live.
// Detached events stay unfired and simply re-arm if the session comes back.
func (s *Scheduler) reconcile(ctx context.Context) {
	liveIDs, err := s.sessions.LiveWebinarIDs(ctx)
	if err != nil {
		s.logger.Warn("live session enumeration failed", zap.Error(err))
		return
	}
	live := make(map[uuid.UUID]bool, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = true
	}

	s.mu.Lock()
	var stale []uuid.UUID
	for id := range s.timelines {
		if !live[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.Detach(id)
	}
	for _, id := range liveIDs {
		if err := s.Attach(ctx, id); err != nil {
			s.logger.Warn("timeline attach failed", zap.Error(err), zap.String("webinar_id", id.String()))
		}
	}
}

// Attach loads the pending timeline for a live webinar and arms a one-shot
// timer per event. Events whose offset has already passed are skipped, not
// fired late: a viewer joining mid-session should not be blasted with the
// whole backlog. Attaching an already-attached webinar is a no-op.
func (s *Scheduler) Attach(ctx context.Context, webinarID uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.timelines[webinarID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	st, err := s.sessions.Get(ctx, webinarID)
	if err != nil {
		return err
	}
	if !st.IsLive || st.StartedAt == nil {
		return nil
	}

	pending, err := s.events.ListPending(ctx, webinarID)
	if err != nil {
		return err
	}

	startedAt := *st.StartedAt
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil // scheduler stopping
	}
	if _, ok := s.timelines[webinarID]; ok {
		return nil // lost the race to another attach
	}

	tl := &timeline{timers: make(map[uuid.UUID]*time.Timer)}
	armed, skipped := 0, 0
	for i := range pending {
		e := pending[i]
		delay := time.Duration(e.TriggerOffsetSeconds)*time.Second - time.Since(startedAt)
		if delay < 0 {
			skipped++
			continue
		}
		tl.timers[e.ID] = time.AfterFunc(delay, func() {
			s.fire(webinarID, &e)
		})
		armed++
	}
	s.timelines[webinarID] = tl

	s.logger.Info("timeline attached",
		zap.String("webinar_id", webinarID.String()),
		zap.Int("armed", armed),
		zap.Int("skipped", skipped))
	return nil
}

// Detach cancels every armed timer for a webinar. Events that have not fired
// keep fired_at NULL.
func (s *Scheduler) Detach(webinarID uuid.UUID) {
	s.mu.Lock()
	tl, ok := s.timelines[webinarID]
	if ok {
		for _, t := range tl.timers {
			t.Stop()
		}
		delete(s.timelines, webinarID)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("timeline detached", zap.String("webinar_id", webinarID.String()))
	}
}

// fire claims and dispatches one timeline event. Losing the claim means
// another timer or instance got there first; that is the normal outcome of a
// race, not an error.
func (s *Scheduler) fire(webinarID uuid.UUID, e *models.AutomationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	if tl, ok := s.timelines[webinarID]; ok {
		delete(tl.timers, e.ID)
	}
	s.mu.Unlock()

	claimed, err := s.events.Claim(ctx, e.ID)
	if err != nil {
		s.logger.Error("automation claim failed", zap.Error(err), zap.String("event_id", e.ID.String()))
		return
	}
	if !claimed {
		observability.IncClaimConflict()
		return
	}

	if err := s.dispatch(ctx, webinarID, e); err != nil {
		// The claim stands: a half-delivered event is not retried.
		s.logger.Error("automation dispatch failed", zap.Error(err),
			zap.String("event_id", e.ID.String()),
			zap.String("kind", string(e.Kind)))
		return
	}

	observability.IncAutomationFire(string(e.Kind))
	s.logger.Info("automation fired",
		zap.String("webinar_id", webinarID.String()),
		zap.String("event_id", e.ID.String()),
		zap.String("kind", string(e.Kind)),
		zap.Int("trigger_offset_seconds", e.TriggerOffsetSeconds))
}

func (s *Scheduler) dispatch(ctx context.Context, webinarID uuid.UUID, e *models.AutomationEvent) error {
	switch e.Kind {
	case models.KindTimedMessage:
		p := DecodeMessage(e.Payload)
		return s.postAutomatedMessage(ctx, webinarID, p.SenderName, p.Message)
	case models.KindCTAPopup:
		s.hub.BroadcastToWebinar(webinarID, "automation:cta", DecodeCTA(e.Payload))
	case models.KindOfferBanner:
		s.hub.BroadcastToWebinar(webinarID, "automation:banner", DecodeBanner(e.Payload))
	default:
		s.logger.Warn("unknown automation kind", zap.String("kind", string(e.Kind)))
	}
	return nil
}

func (s *Scheduler) postAutomatedMessage(ctx context.Context, webinarID uuid.UUID, senderName, content string) error {
	st, err := s.sessions.Get(ctx, webinarID)
	if err != nil {
		return err
	}
	msg, err := s.chat.CreateAutomated(ctx, webinarID, senderName, content, session.Elapsed(st, time.Now()))
	if err != nil {
		return err
	}
	s.hub.BroadcastToWebinar(webinarID, "chat:message", msg)
	return nil
}

// OnChatReceived is the keyword hook invoked by the gateway for every viewer
// chat message. Each matching rule independently schedules a short-delayed
// automated reply so the bot reads as responding, not echoing.
func (s *Scheduler) OnChatReceived(webinarID uuid.UUID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rules, err := s.events.ListKeywordReplies(ctx, webinarID)
	if err != nil {
		s.logger.Warn("keyword rule lookup failed", zap.Error(err), zap.String("webinar_id", webinarID.String()))
		return
	}
	for i := range rules {
		p := DecodeKeyword(rules[i].Payload)
		if !p.Matches(text) || p.Reply == "" {
			continue
		}
		rule := rules[i]
		time.AfterFunc(s.replyDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.postAutomatedMessage(ctx, webinarID, p.SenderName, p.Reply); err != nil {
				s.logger.Error("keyword reply failed", zap.Error(err), zap.String("event_id", rule.ID.String()))
				return
			}
			observability.IncAutomationFire(string(models.KindKeywordReply))
		})
	}
}

// cleanupFired resets fired flags for events of ended webinars so the timeline
// is fresh for the next simulated-live run.
func (s *Scheduler) cleanupFired(ctx context.Context) {
	n, err := s.events.ResetFiredForEnded(ctx)
	if err != nil {
		s.logger.Warn("fired-flag cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("fired flags reset for ended webinars", zap.Int64("count", n))
	}
}
