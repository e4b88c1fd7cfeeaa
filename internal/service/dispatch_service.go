package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-approval-api/internal/models"
	"github.com/noah-isme/coop-approval-api/internal/transport"
	"github.com/noah-isme/coop-approval-api/pkg/config"
	"github.com/noah-isme/coop-approval-api/pkg/jobs"
)

// RecipientSource resolves delivery targets for an enrollment.
type RecipientSource interface {
	ForEnrollment(ctx context.Context, enrollmentID string) (*models.NotificationRecipient, error)
}

// dispatchJob is the payload carried through the queue: one committed
// transition bound to one channel.
type dispatchJob struct {
	channel   transport.Transport
	record    models.TransitionRecord
	payload   models.NotificationPayload
	recipient *models.NotificationRecipient
}

// DispatchService fans committed transitions out to notification
// channels. Dispatch is fire-and-forget: a committed transition is
// never rolled back because a channel failed, and channels fail
// independently of each other.
type DispatchService struct {
	recipients RecipientSource
	transports []transport.Transport
	metrics    *MetricsService
	logger     *zap.Logger

	maxRetries int
	retryDelay time.Duration

	queue *jobs.Queue

	mu      sync.Mutex
	log     []models.NotificationJob
	logSize int
}

// NewDispatchService wires the dispatcher. Only transports whose
// channel appears in cfg.Channels are used.
func NewDispatchService(recipients RecipientSource, transports []transport.Transport, metrics *MetricsService, logger *zap.Logger, cfg config.NotificationsConfig) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}

	enabled := make(map[string]bool, len(cfg.Channels))
	for _, name := range cfg.Channels {
		enabled[name] = true
	}
	active := make([]transport.Transport, 0, len(transports))
	for _, t := range transports {
		if len(enabled) == 0 || enabled[string(t.Channel())] {
			active = append(active, t)
		}
	}

	logSize := cfg.LogSize
	if logSize <= 0 {
		logSize = 256
	}

	s := &DispatchService{
		recipients: recipients,
		transports: active,
		metrics:    metrics,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logSize:    logSize,
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: workers * 8,
		MaxRetries: 1,
		Logger:     logger,
	})

	return s
}

// Start begins background delivery workers.
func (s *DispatchService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *DispatchService) Stop() {
	s.queue.Stop()
}

// NotifyTransition enqueues one delivery per active channel for a
// committed transition. Errors are logged, never returned: the caller's
// transition has already committed.
func (s *DispatchService) NotifyTransition(ctx context.Context, record models.TransitionRecord) {
	if len(s.transports) == 0 {
		return
	}

	recipient, err := s.recipients.ForEnrollment(ctx, record.EnrollmentID)
	if err != nil {
		s.logger.Error("resolve notification recipients",
			zap.String("enrollment_id", record.EnrollmentID),
			zap.Error(err))
		return
	}

	payload := payloadFor(record)
	for _, t := range s.transports {
		job := jobs.Job{
			ID:   uuid.NewString(),
			Type: string(t.Channel()),
			Payload: dispatchJob{
				channel:   t,
				record:    record,
				payload:   payload,
				recipient: recipient,
			},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Error("enqueue notification",
				zap.String("channel", job.Type),
				zap.String("enrollment_id", record.EnrollmentID),
				zap.Error(err))
		}
	}
}

// Recent returns the most recent dispatch outcomes, newest first.
func (s *DispatchService) Recent() []models.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.NotificationJob, len(s.log))
	for i, entry := range s.log {
		out[len(s.log)-1-i] = entry
	}
	return out
}

// handle performs delivery for one channel with bounded retries on
// transient failures. Permanent failures are recorded immediately. The
// handler never reports an error to the queue: retry policy lives here
// so only transient failures are retried.
func (s *DispatchService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(dispatchJob)
	if !ok {
		s.logger.Error("unexpected notification payload type", zap.String("job_id", job.ID))
		return nil
	}

	var lastErr error
	attempts := s.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		err := payload.channel.Send(ctx, payload.recipient, payload.payload)
		if err == nil {
			s.record(payload, attempt, models.OutcomeSent, nil)
			return nil
		}
		lastErr = err
		if !transport.IsTransient(err) {
			break
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				s.record(payload, attempt, models.OutcomeFailed, ctx.Err())
				return nil
			case <-time.After(s.retryDelay):
			}
		}
	}

	s.logger.Warn("notification delivery failed",
		zap.String("channel", string(payload.channel.Channel())),
		zap.String("enrollment_id", payload.record.EnrollmentID),
		zap.Error(lastErr))
	s.record(payload, attempts, models.OutcomeFailed, lastErr)
	return nil
}

func (s *DispatchService) record(payload dispatchJob, attempt int, outcome models.NotificationOutcome, err error) {
	entry := models.NotificationJob{
		EnrollmentID: payload.record.EnrollmentID,
		Channel:      payload.channel.Channel(),
		Payload:      payload.payload,
		Attempt:      attempt,
		Outcome:      outcome,
		FinishedAt:   time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	s.metrics.RecordDispatch(string(entry.Channel), string(outcome))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	if len(s.log) > s.logSize {
		s.log = s.log[len(s.log)-s.logSize:]
	}
}

// payloadFor renders the channel-agnostic message for a transition.
func payloadFor(record models.TransitionRecord) models.NotificationPayload {
	var title string
	switch record.ToStatus {
	case models.StatusAdvisorApproved:
		title = "Internship approved by advisor"
	case models.StatusCommitteeApproved:
		title = "Internship approved by committee"
	case models.StatusRejected:
		title = "Internship request rejected"
	case models.StatusCancelled:
		title = "Internship request cancelled"
	default:
		title = "Internship status updated"
	}

	body := fmt.Sprintf("Enrollment %s moved from %s to %s.", record.EnrollmentID, record.FromStatus, record.ToStatus)
	if record.Reason != nil && *record.Reason != "" {
		body = fmt.Sprintf("%s Reason: %s", body, *record.Reason)
	}

	return models.NotificationPayload{Title: title, Body: body}
}
