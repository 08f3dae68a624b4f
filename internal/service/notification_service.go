package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/training-admin-api/pkg/jobs"
	"github.com/noah-isme/training-admin-api/pkg/notify"
)

// NotificationJobType tags queued participant notifications.
const NotificationJobType = "notification"

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// NotificationService queues participant notifications and delivers them from
// the worker pool. Delivery failures never reach the enqueuing operation.
type NotificationService struct {
	sender  notify.Sender
	queue   jobQueue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the service. Without a queue, Dispatch
// delivers inline.
func NewNotificationService(sender notify.Sender, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, metrics: metrics, logger: logger}
}

// UseQueue routes Dispatch through the given queue.
func (s *NotificationService) UseQueue(queue jobQueue) {
	s.queue = queue
}

// Dispatch schedules n for delivery. The returned error only reports that the
// notification could not be scheduled.
func (s *NotificationService) Dispatch(ctx context.Context, n notify.Notification) error {
	if n.Recipient.Address == "" {
		s.metrics.RecordNotification(string(n.Template), "dropped")
		return fmt.Errorf("notification %s has no recipient", n.Template)
	}
	if s.queue == nil {
		return s.deliver(ctx, n)
	}
	if err := s.queue.Enqueue(jobs.Job{Type: NotificationJobType, Payload: n}); err != nil {
		s.metrics.RecordNotification(string(n.Template), "dropped")
		s.logger.Warn("notification not queued", zap.String("template", string(n.Template)), zap.Error(err))
		return err
	}
	s.metrics.RecordNotification(string(n.Template), "queued")
	return nil
}

// Handle is the queue handler delivering one notification job.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(notify.Notification)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.deliver(ctx, n)
}

func (s *NotificationService) deliver(ctx context.Context, n notify.Notification) error {
	if s.sender == nil {
		return fmt.Errorf("notification sender not configured")
	}
	if err := s.sender.Send(ctx, n); err != nil {
		s.metrics.RecordNotification(string(n.Template), "failed")
		s.logger.Warn("notification delivery failed",
			zap.String("template", string(n.Template)),
			zap.String("recipient", n.Recipient.Address),
			zap.Error(err))
		return err
	}
	s.metrics.RecordNotification(string(n.Template), "sent")
	return nil
}
