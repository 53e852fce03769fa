package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/jobs"
)

const jobTypeAppointmentEvent = "appointment_event"

// Notifier is told about appointment changes after they commit. Implementations
// must not block the caller and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, event models.AppointmentEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.AppointmentEvent) {}

type eventPublisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) (int64, error)
}

// QueueNotifier hands events to a worker pool that publishes them on a Redis channel.
type QueueNotifier struct {
	queue   *jobs.Queue
	channel string
	logger  *zap.Logger
}

// NewQueueNotifier builds the notifier and its queue. Call Start before use.
func NewQueueNotifier(publisher eventPublisher, channel string, cfg jobs.QueueConfig, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	n := &QueueNotifier{channel: channel, logger: logger}
	n.queue = jobs.NewQueue("appointment-notifications", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.AppointmentEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		_, err := publisher.Publish(ctx, channel, event)
		return err
	}, cfg)
	return n
}

// Start launches the publishing workers.
func (n *QueueNotifier) Start(ctx context.Context) { n.queue.Start(ctx) }

// Stop waits for workers to exit. Events still buffered are dropped.
func (n *QueueNotifier) Stop() { n.queue.Stop() }

// Stats exposes queue counters.
func (n *QueueNotifier) Stats() jobs.Stats { return n.queue.Stats() }

// Notify enqueues event without blocking.
func (n *QueueNotifier) Notify(_ context.Context, event models.AppointmentEvent) {
	err := n.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: jobTypeAppointmentEvent, Payload: event})
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event", event.Type),
		zap.String("appointment_id", event.AppointmentID),
		zap.Error(err),
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		n.logger.Warn("notification dropped, queue full", fields...)
		return
	}
	n.logger.Warn("notification not queued", fields...)
}
