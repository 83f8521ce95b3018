package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/events"
	"github.com/spec-kit/hiccup-service/internal/observability"
	"github.com/spec-kit/hiccup-service/internal/repository"
)

// MonitorService runs the scheduled scans over open and closed cases.
type MonitorService struct {
	cases      repository.CaseRepository
	reports    *ReportService
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	policy     domain.SLAPolicy
}

// MonitorDependencies wires the monitor.
type MonitorDependencies struct {
	CaseRepo   repository.CaseRepository
	Reports    *ReportService
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Policy     domain.SLAPolicy
}

// NewMonitorService constructs the monitor.
func NewMonitorService(deps MonitorDependencies) *MonitorService {
	m := &MonitorService{
		cases:      deps.CaseRepo,
		reports:    deps.Reports,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		policy:     deps.Policy,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.policy.ResponseWithin <= 0 || m.policy.ClosureWithin <= 0 {
		m.policy = domain.DefaultSLAPolicy
	}
	return m
}

// CheckOverdues logs every open case past an SLA threshold and sends one
// summary to management when any are found.
func (m *MonitorService) CheckOverdues(ctx context.Context, now time.Time) ([]events.OverdueCase, error) {
	open, err := m.cases.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	var (
		overdue           []events.OverdueCase
		response, closure int
	)
	for i := range open {
		c := &open[i]
		flags := c.Overdue(now, m.policy)
		if !flags.Any() {
			continue
		}
		if flags.ResponseOverdue {
			response++
		}
		if flags.ClosureOverdue {
			closure++
		}
		m.logger.Info("overdue case",
			zap.String("case_id", c.ID),
			zap.String("status", string(c.Status)),
			zap.Bool("response_overdue", flags.ResponseOverdue),
			zap.Bool("closure_overdue", flags.ClosureOverdue),
			zap.Float64("hours_since_creation", flags.HoursSinceCreation))
		overdue = append(overdue, events.OverdueCase{
			CaseID:          c.ID,
			Status:          string(c.Status),
			ResponseOverdue: flags.ResponseOverdue,
			ClosureOverdue:  flags.ClosureOverdue,
			HoursOpen:       flags.HoursSinceCreation,
		})
	}
	m.metrics.SetOverdue(response, closure)

	if len(overdue) > 0 && m.dispatcher != nil {
		_ = m.dispatcher.Publish(ctx, events.Event{
			Type:      events.EventOverdueScan,
			ActorID:   domain.SystemActorID,
			Timestamp: now,
			Payload:   events.OverdueScanPayload{Cases: overdue},
		})
	}
	return overdue, nil
}

// SweepFollowups reports closed cases whose follow-up is due and still
// pending. It changes no state.
func (m *MonitorService) SweepFollowups(ctx context.Context, now time.Time) ([]domain.Case, error) {
	due, err := m.cases.ListFollowupsDue(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range due {
		m.logger.Info("follow-up pending",
			zap.String("case_id", due[i].ID),
			zap.String("creator_id", due[i].CreatorID),
			zap.Timep("followup_due", due[i].Followup.DueAt))
	}
	m.metrics.SetFollowupsDue(len(due))
	return due, nil
}

// SendDailyDigest builds the digest and hands it to the notification path.
func (m *MonitorService) SendDailyDigest(ctx context.Context, now time.Time) (*Digest, error) {
	digest, err := m.reports.DailyDigest(ctx, now)
	if err != nil {
		return nil, err
	}
	m.logger.Info("daily digest",
		zap.Int("raised", digest.Raised),
		zap.Int("responded", digest.Responded),
		zap.Int("closed", digest.Closed),
		zap.Int("escalated", digest.Escalated))
	if m.dispatcher != nil {
		_ = m.dispatcher.Publish(ctx, events.Event{
			Type:      events.EventDailyDigest,
			ActorID:   domain.SystemActorID,
			Timestamp: now,
			Payload:   events.DigestPayload{Date: digest.Date.Format("2006-01-02"), Text: FormatDigest(digest)},
		})
	}
	return digest, nil
}
