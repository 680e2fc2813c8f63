package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
)

// ErrInvalidState is returned for transitions not allowed from the webinar's
// current status (e.g. start on an ended webinar).
var ErrInvalidState = errors.New("invalid session state for transition")

// Stop reasons carried on the ended event.
const (
	ReasonManuallyEnded = "MANUALLY_ENDED"
	ReasonAutoEnded     = "AUTO_ENDED"
)

// StateStore is the session state persistence the controller needs.
type StateStore interface {
	Get(ctx context.Context, webinarID uuid.UUID) (*models.SessionState, error)
	SetLive(ctx context.Context, webinarID uuid.UUID, startedAt time.Time) error
	SetEnded(ctx context.Context, webinarID uuid.UUID, endedAt time.Time, finalOffset int) error
}

// WebinarStore is the webinar status persistence the controller needs.
type WebinarStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Webinar, error)
	// TransitionStatus flips status from -> to and reports whether this caller
	// won the transition. Losing means another path already moved the webinar.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.WebinarStatus) (bool, error)
	ListByStatus(ctx context.Context, status models.WebinarStatus) ([]models.Webinar, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]models.Webinar, error)
}

// Broadcaster pushes an event to every viewer in a webinar's broadcast group.
type Broadcaster interface {
	BroadcastToWebinar(webinarID uuid.UUID, event string, payload interface{})
}

// AuditRecorder writes an audit log row.
type AuditRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, webinarID *uuid.UUID, action string, details interface{}) error
}

// TimelineDetacher cancels all armed automation timers for a webinar.
type TimelineDetacher interface {
	Detach(webinarID uuid.UUID)
}

// StartNotifier is invoked after a webinar goes live (e.g. to enqueue
// notification jobs for registrants).
type StartNotifier func(ctx context.Context, w *models.Webinar)

// Controller drives the SCHEDULED -> LIVE -> ENDED state machine and owns the
// auto-start watcher. All transitions funnel through Start/Stop so side
// effects (clock reset, cache population, broadcast, audit) happen in one
// place, whether triggered by an operator or by a timer.
type Controller struct {
	states       StateStore
	webinars     WebinarStore
	hub          Broadcaster
	audit        AuditRecorder
	logger       *zap.Logger
	redirectPath string

	detach TimelineDetacher
	notify StartNotifier

	sweepInterval time.Duration

	mu          sync.Mutex
	startTimers map[uuid.UUID]*time.Timer
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewController creates a lifecycle controller. sweepIntervalSec is the
// auto-start watcher period.
func NewController(states StateStore, webinars WebinarStore, hub Broadcaster, audit AuditRecorder, redirectPath string, sweepIntervalSec int, logger *zap.Logger) *Controller {
	if sweepIntervalSec <= 0 {
		sweepIntervalSec = 30
	}
	return &Controller{
		states:        states,
		webinars:      webinars,
		hub:           hub,
		audit:         audit,
		logger:        logger,
		redirectPath:  redirectPath,
		sweepInterval: time.Duration(sweepIntervalSec) * time.Second,
		startTimers:   make(map[uuid.UUID]*time.Timer),
	}
}

// SetTimelineDetacher wires the automation scheduler so Stop can cancel armed
// timers synchronously.
func (c *Controller) SetTimelineDetacher(d TimelineDetacher) {
	c.detach = d
}

// SetStartNotifier sets the post-start notification hook.
func (c *Controller) SetStartNotifier(fn StartNotifier) {
	c.notify = fn
}

// Start flips a webinar to LIVE. Allowed only from SCHEDULED; calling it on an
// already-live webinar is a no-op (the clock is never reset by a repeat call),
// and any other status returns ErrInvalidState.
func (c *Controller) Start(ctx context.Context, webinarID, actorID uuid.UUID, auto bool) error {
	w, err := c.webinars.GetByID(ctx, webinarID)
	if err != nil {
		return err
	}

	won, err := c.webinars.TransitionStatus(ctx, webinarID, models.StatusScheduled, models.StatusLive)
	if err != nil {
		return err
	}
	if !won {
		if w.Status == models.StatusLive {
			return nil // concurrent or repeat start; keep the running clock
		}
		return ErrInvalidState
	}

	c.cancelStartTimer(webinarID)

	startedAt := time.Now().UTC()
	if err := c.states.SetLive(ctx, webinarID, startedAt); err != nil {
		return err
	}

	c.hub.BroadcastToWebinar(webinarID, "started", map[string]interface{}{
		"webinar_id": webinarID,
		"started_at": startedAt,
	})

	action := models.ActionWebinarStarted
	if auto {
		action = models.ActionWebinarStartedAuto
	}
	if err := c.audit.Record(ctx, actorID, &webinarID, action, map[string]interface{}{
		"title":      w.Title,
		"started_at": startedAt,
	}); err != nil {
		c.logger.Warn("audit log write failed", zap.Error(err), zap.String("webinar_id", webinarID.String()))
	}

	if c.notify != nil {
		c.notify(ctx, w)
	}

	c.logger.Info("webinar started",
		zap.String("webinar_id", webinarID.String()),
		zap.Bool("auto", auto))
	return nil
}

// Stop flips a webinar to ENDED. Allowed only from LIVE. Armed automation
// timers for the session are cancelled before Stop returns, so nothing fires
// after the ended event.
func (c *Controller) Stop(ctx context.Context, webinarID, actorID uuid.UUID, reason string, auto bool) error {
	w, err := c.webinars.GetByID(ctx, webinarID)
	if err != nil {
		return err
	}

	won, err := c.webinars.TransitionStatus(ctx, webinarID, models.StatusLive, models.StatusEnded)
	if err != nil {
		return err
	}
	if !won {
		if w.Status == models.StatusEnded {
			return nil
		}
		return ErrInvalidState
	}

	if c.detach != nil {
		c.detach.Detach(webinarID)
	}

	endedAt := time.Now().UTC()
	finalOffset := 0
	if st, err := c.states.Get(ctx, webinarID); err == nil {
		finalOffset = Elapsed(st, endedAt)
	}
	if err := c.states.SetEnded(ctx, webinarID, endedAt, finalOffset); err != nil {
		return err
	}

	if reason == "" {
		reason = ReasonManuallyEnded
	}
	c.hub.BroadcastToWebinar(webinarID, "ended", map[string]interface{}{
		"webinar_id":   webinarID,
		"ended_at":     endedAt,
		"reason":       reason,
		"redirect_url": c.redirectPath + "/" + webinarID.String(),
	})

	action := models.ActionWebinarStopped
	if auto {
		action = models.ActionWebinarStoppedAuto
	}
	if err := c.audit.Record(ctx, actorID, &webinarID, action, map[string]interface{}{
		"reason":   reason,
		"ended_at": endedAt,
	}); err != nil {
		c.logger.Warn("audit log write failed", zap.Error(err), zap.String("webinar_id", webinarID.String()))
	}

	c.logger.Info("webinar ended",
		zap.String("webinar_id", webinarID.String()),
		zap.String("reason", reason))
	return nil
}

// StartWatcher begins the auto-start sweep loop. The first pass runs
// immediately so due sessions are re-discovered from durable storage after a
// process restart. Call StopWatcher to release resources.
func (c *Controller) StartWatcher() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
	c.logger.Info("lifecycle watcher started", zap.Duration("interval", c.sweepInterval))
}

// StopWatcher stops the sweep loop and cancels all pending start timers.
func (c *Controller) StopWatcher() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel = nil
	done := c.done
	for id, t := range c.startTimers {
		t.Stop()
		delete(c.startTimers, id)
	}
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("lifecycle watcher stopped")
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	c.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep arms start timers for due SCHEDULED webinars, cancels timers for
// webinars that left SCHEDULED (started manually or deleted), and auto-ends
// LIVE webinars that ran past their configured duration. In-memory timers are
// never authoritative; every pass rebuilds from durable state.
func (c *Controller) sweep(ctx context.Context) {
	now := time.Now()

	due, err := c.webinars.ListDueScheduled(ctx, now)
	if err != nil {
		c.logger.Warn("auto-start sweep query failed", zap.Error(err))
		return
	}
	for _, w := range due {
		c.armStartTimer(w, now)
	}

	c.reapStaleTimers(ctx)
	c.autoEndOverdue(ctx, now)
}

func (c *Controller) armStartTimer(w models.Webinar, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return // watcher stopping
	}
	if _, armed := c.startTimers[w.ID]; armed {
		return
	}

	delay := w.ScheduledAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	id, hostID := w.ID, w.HostID
	c.startTimers[id] = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Start(ctx, id, hostID, true); err != nil && !errors.Is(err, ErrInvalidState) {
			c.logger.Error("auto-start failed", zap.Error(err), zap.String("webinar_id", id.String()))
		}
		c.mu.Lock()
		delete(c.startTimers, id)
		c.mu.Unlock()
	})
	c.logger.Info("auto-start armed",
		zap.String("webinar_id", id.String()),
		zap.Duration("delay", delay))
}

func (c *Controller) reapStaleTimers(ctx context.Context) {
	c.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.startTimers))
	for id := range c.startTimers {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		w, err := c.webinars.GetByID(ctx, id)
		if err != nil || w.Status != models.StatusScheduled {
			c.cancelStartTimer(id)
		}
	}
}

func (c *Controller) autoEndOverdue(ctx context.Context, now time.Time) {
	live, err := c.webinars.ListByStatus(ctx, models.StatusLive)
	if err != nil {
		c.logger.Warn("auto-end sweep query failed", zap.Error(err))
		return
	}
	for _, w := range live {
		if w.DurationMinutes <= 0 {
			continue
		}
		st, err := c.states.Get(ctx, w.ID)
		if err != nil {
			continue
		}
		if Elapsed(st, now) >= w.DurationMinutes*60 {
			if err := c.Stop(ctx, w.ID, w.HostID, ReasonAutoEnded, true); err != nil && !errors.Is(err, ErrInvalidState) {
				c.logger.Error("auto-end failed", zap.Error(err), zap.String("webinar_id", w.ID.String()))
			}
		}
	}
}

func (c *Controller) cancelStartTimer(webinarID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.startTimers[webinarID]; ok {
		t.Stop()
		delete(c.startTimers, webinarID)
	}
}
