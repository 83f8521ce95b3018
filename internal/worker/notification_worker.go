package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/notification"
	"github.com/spec-kit/hiccup-service/internal/observability"
)

// NotificationWorker drains the outbound queue into the gateway. A failed
// delivery is logged and counted; the message is not retried.
type NotificationWorker struct {
	queue   notification.Queue
	gateway notification.Gateway
	logger  *zap.Logger
	metrics *observability.Metrics
	backoff time.Duration

	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewNotificationWorker creates the worker.
func NewNotificationWorker(queue notification.Queue, gateway notification.Gateway, logger *zap.Logger, metrics *observability.Metrics) *NotificationWorker {
	return &NotificationWorker{
		queue:   queue,
		gateway: gateway,
		logger:  logger,
		metrics: metrics,
		backoff: time.Second,
		doneCh:  make(chan struct{}),
	}
}

// Start begins draining in a background goroutine.
func (w *NotificationWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("notification worker starting")
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the in-flight delivery.
func (w *NotificationWorker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel == nil {
			close(w.doneCh)
			return
		}
		w.cancel()
		<-w.doneCh
		w.logger.Info("notification worker stopped")
	})
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("dequeue notification failed", zap.Error(err))
			select {
			case <-time.After(w.backoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		w.deliver(ctx, msg)
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, msg notification.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.RecordNotification("failed")
			w.logger.Error("notification delivery panicked", zap.Any("panic", r), zap.String("case_id", msg.CaseID))
		}
	}()

	if len(msg.To) == 0 {
		w.metrics.RecordNotification("dropped")
		w.logger.Info("notification has no recipients",
			zap.String("kind", msg.Kind),
			zap.String("case_id", msg.CaseID))
		return
	}
	if err := w.gateway.Send(ctx, msg); err != nil {
		w.metrics.RecordNotification("failed")
		w.logger.Warn("notification delivery failed",
			zap.String("kind", msg.Kind),
			zap.String("case_id", msg.CaseID),
			zap.Error(err))
		return
	}
	w.metrics.RecordNotification("sent")
	w.logger.Debug("notification sent", zap.String("kind", msg.Kind), zap.String("case_id", msg.CaseID))
}
