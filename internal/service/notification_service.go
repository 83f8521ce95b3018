package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/events"
	"github.com/spec-kit/hiccup-service/internal/notification"
	"github.com/spec-kit/hiccup-service/internal/observability"
)

// NotificationService turns domain events into outbound messages.
type NotificationService struct {
	dispatcher events.Dispatcher
	queue      notification.Queue
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig
	location   *time.Location
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, queue notification.Queue, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig, location *time.Location) *NotificationService {
	if location == nil {
		location = time.UTC
	}
	return &NotificationService{
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		location:   location,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventCaseCreated, n.handleCaseCreated)
	n.dispatcher.Subscribe(events.EventCaseResponded, n.handleCaseLogged)
	n.dispatcher.Subscribe(events.EventCaseStatusChanged, n.handleCaseLogged)
	n.dispatcher.Subscribe(events.EventCaseFollowup, n.handleCaseLogged)
	n.dispatcher.Subscribe(events.EventOverdueScan, n.handleOverdueScan)
	n.dispatcher.Subscribe(events.EventDailyDigest, n.handleDailyDigest)
}

func (n *NotificationService) handleCaseCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CasePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return n.enqueue(ctx, notification.Message{
		To:     n.createdRecipients(payload),
		Body:   n.createdMessage(payload),
		CaseID: event.CaseID,
		Kind:   string(event.Type),
	})
}

// createdRecipients sends person-directed cases to the target when a contact
// is known and everything else to the management list.
func (n *NotificationService) createdRecipients(payload events.CasePayload) []string {
	if payload.Case.Kind == domain.CaseKindPerson && payload.TargetPhone != nil && *payload.TargetPhone != "" {
		return []string{*payload.TargetPhone}
	}
	return n.cfg.ManagementNumbers
}

func (n *NotificationService) createdMessage(payload events.CasePayload) string {
	c := payload.Case
	return strings.Join([]string{
		"⚠️ New Hiccup Raised!",
		"ID: " + c.ID,
		"Raised By: " + c.CreatorName,
		"Type: " + string(c.Kind),
		"Time: " + c.CreatedAt.In(n.location).Format("2006-01-02 15:04"),
		"Summary: " + shorten(c.Description, 120),
	}, "\n")
}

func (n *NotificationService) handleCaseLogged(_ context.Context, event events.Event) error {
	n.logger.Debug("case event",
		zap.String("event_type", string(event.Type)),
		zap.String("case_id", event.CaseID),
		zap.String("actor_id", event.ActorID))
	return nil
}

func (n *NotificationService) handleOverdueScan(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.OverdueScanPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if len(payload.Cases) == 0 {
		return nil
	}
	lines := []string{fmt.Sprintf("⏰ Overdue Hiccups: %d", len(payload.Cases))}
	for _, oc := range payload.Cases {
		reason := "closure overdue"
		if oc.ResponseOverdue {
			reason = "response overdue"
		}
		lines = append(lines, fmt.Sprintf("#%s – %s – %.0fh (%s)", oc.CaseID, oc.Status, oc.HoursOpen, reason))
	}
	return n.enqueue(ctx, notification.Message{
		To:   n.cfg.ManagementNumbers,
		Body: strings.Join(lines, "\n"),
		Kind: string(event.Type),
	})
}

func (n *NotificationService) handleDailyDigest(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DigestPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return n.enqueue(ctx, notification.Message{
		To:   n.cfg.ManagementNumbers,
		Body: payload.Text,
		Kind: string(event.Type),
	})
}

func (n *NotificationService) enqueue(ctx context.Context, msg notification.Message) error {
	if n.queue == nil {
		return nil
	}
	msg.EnqueuedAt = time.Now().UTC()
	if err := n.queue.Enqueue(ctx, msg); err != nil {
		n.metrics.RecordNotification("dropped")
		return fmt.Errorf("enqueue %s notification: %w", msg.Kind, err)
	}
	return nil
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
