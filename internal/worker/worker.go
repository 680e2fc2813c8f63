package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/pkg/queue"
)

// Worker consumes notification jobs from the Redis queue and records the
// outcome in email_logs. Actual delivery goes through the provider hook;
// without one the worker records the email as sent, which keeps local
// development free of SMTP credentials.
type Worker struct {
	queue  *queue.Queue
	pool   *pgxpool.Pool
	logger *zap.Logger

	send func(ctx context.Context, p queue.StartNotificationPayload, subject string) error
}

// New creates a worker.
func New(q *queue.Queue, pool *pgxpool.Pool, logger *zap.Logger) *Worker {
	return &Worker{queue: q, pool: pool, logger: logger}
}

// SetSender sets the delivery hook.
func (w *Worker) SetSender(fn func(ctx context.Context, p queue.StartNotificationPayload, subject string) error) {
	w.send = fn
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("notification worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		if err := w.process(ctx, job); err != nil {
			w.logger.Error("job failed", zap.Error(err), zap.String("job_id", job.ID))
			if err := w.queue.Retry(ctx, job); err != nil {
				w.logger.Error("retry failed", zap.Error(err), zap.String("job_id", job.ID))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeStartNotification:
		var p queue.StartNotificationPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return w.processStartNotification(ctx, p)
	default:
		w.logger.Warn("unknown job type dropped", zap.String("type", string(job.Type)))
		return nil
	}
}

func (w *Worker) processStartNotification(ctx context.Context, p queue.StartNotificationPayload) error {
	subject := fmt.Sprintf("%s is live now", p.WebinarTitle)

	status := models.EmailLogStatusSent
	errMsg := ""
	if w.send != nil {
		if err := w.send(ctx, p, subject); err != nil {
			status = models.EmailLogStatusFailed
			errMsg = err.Error()
		}
	}

	const q = `INSERT INTO email_logs (webinar_id, registration_id, email_type, recipient_email, subject, status, sent_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $6 = 'sent' THEN NOW() END, NULLIF($7, ''))`
	if _, err := w.pool.Exec(ctx, q, p.WebinarID, p.RegistrationID, models.EmailTypeWebinarStarted,
		p.RecipientEmail, subject, status, errMsg); err != nil {
		return fmt.Errorf("record email log: %w", err)
	}

	if status == models.EmailLogStatusFailed {
		return fmt.Errorf("delivery failed: %s", errMsg)
	}
	w.logger.Info("start notification processed",
		zap.String("webinar_id", p.WebinarID.String()),
		zap.String("recipient", p.RecipientEmail))
	return nil
}
