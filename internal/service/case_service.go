package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/access"
	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/events"
	"github.com/spec-kit/hiccup-service/internal/observability"
	"github.com/spec-kit/hiccup-service/internal/repository"
	"github.com/spec-kit/hiccup-service/internal/storage"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

const maxCreateAttempts = 3

// CaseService coordinates case workflows.
type CaseService struct {
	cases       repository.CaseRepository
	staff       repository.StaffRepository
	attachments storage.AttachmentStore
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	clock       func() time.Time
	location    *time.Location
	policy      domain.SLAPolicy
	cfg         config.CaseConfig
}

// CaseDependencies bundles collaborators for the case service.
type CaseDependencies struct {
	CaseRepo    repository.CaseRepository
	StaffRepo   repository.StaffRepository
	Attachments storage.AttachmentStore
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
	Location    *time.Location
	Config      config.CaseConfig
}

// CreateCaseInput describes case creation payload.
type CreateCaseInput struct {
	Kind            domain.CaseKind
	Target          string
	Description     string
	ImmediateEffect *string
	SourceModule    *string
	Confidential    bool
	// Attachment is the raw uploaded file, if any.
	Attachment []byte
}

// AutoCaseInput describes a case raised by an internal module.
type AutoCaseInput struct {
	Target          string
	Description     string
	ImmediateEffect *string
	SourceModule    string
	// Credential names the internal token that raised the case, if known.
	Credential string
}

// StatusChangeInput describes a supervisory status change.
type StatusChangeInput struct {
	Status            domain.CaseStatus
	ClosureNotes      *string
	RootCause         *string
	CorrectiveAction  *string
	RootCauseCategory *domain.RootCauseCategory
	Confidential      *bool
}

// FollowupInput describes a follow-up submission.
type FollowupInput struct {
	Status  domain.FollowupStatus
	Comment *string
}

// CaseView is a case with its derived flags and audit trail.
type CaseView struct {
	Case  domain.Case
	Flags domain.OverdueFlags
	Audit []domain.AuditEntry
}

// NewCaseService constructs the service.
func NewCaseService(deps CaseDependencies) *CaseService {
	s := &CaseService{
		cases:       deps.CaseRepo,
		staff:       deps.StaffRepo,
		attachments: deps.Attachments,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		clock:       deps.Clock,
		location:    deps.Location,
		cfg:         deps.Config,
		policy: domain.SLAPolicy{
			ResponseWithin: time.Duration(deps.Config.ResponseSLAHours) * time.Hour,
			ClosureWithin:  time.Duration(deps.Config.ClosureSLAHours) * time.Hour,
		},
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.policy.ResponseWithin <= 0 || s.policy.ClosureWithin <= 0 {
		s.policy = domain.DefaultSLAPolicy
	}
	if s.cfg.IDPrefix == "" {
		s.cfg.IDPrefix = "HCP"
	}
	if s.cfg.FollowupDays <= 0 {
		s.cfg.FollowupDays = 7
	}
	return s
}

// Policy returns the SLA thresholds in effect.
func (s *CaseService) Policy() domain.SLAPolicy {
	return s.policy
}

func (s *CaseService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// CreateCase raises a new case on behalf of actor.
func (s *CaseService) CreateCase(ctx context.Context, actor domain.Actor, input CreateCaseInput) (*domain.Case, error) {
	draft := &domain.Case{
		CreatorID:       actor.ID,
		CreatorName:     actor.Name,
		CreatorUnit:     actor.Unit,
		Kind:            input.Kind,
		Target:          strings.TrimSpace(input.Target),
		Description:     strings.TrimSpace(input.Description),
		ImmediateEffect: trimmed(input.ImmediateEffect),
		SourceModule:    trimmed(input.SourceModule),
		Confidential:    input.Confidential,
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	if len(input.Attachment) > 0 {
		if s.attachments == nil {
			return nil, apperrors.NewValidationError("attachments are not accepted", nil)
		}
		if _, err := s.attachments.Sniff(input.Attachment); err != nil {
			return nil, err
		}
	}

	var targetPhone *string
	if draft.Kind == domain.CaseKindPerson {
		targetPhone = s.resolveTarget(ctx, draft)
	}
	return s.create(ctx, actor, draft, input.Attachment, targetPhone, nil)
}

// CreateAutoCase raises a system-directed case on behalf of an internal module.
func (s *CaseService) CreateAutoCase(ctx context.Context, input AutoCaseInput) (*domain.Case, error) {
	actor := domain.SystemActor(s.cfg.SystemUnit)
	source := strings.TrimSpace(input.SourceModule)
	if source == "" {
		return nil, apperrors.NewValidationError("source_module required", nil)
	}
	draft := &domain.Case{
		CreatorID:       actor.ID,
		CreatorName:     actor.Name,
		CreatorUnit:     actor.Unit,
		Kind:            domain.CaseKindSystem,
		Target:          strings.TrimSpace(input.Target),
		Description:     strings.TrimSpace(input.Description),
		ImmediateEffect: trimmed(input.ImmediateEffect),
		SourceModule:    &source,
		AutoGenerated:   true,
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	var remarks *string
	if credential := strings.TrimSpace(input.Credential); credential != "" {
		via := "raised via token " + credential
		remarks = &via
	}
	return s.create(ctx, actor, draft, nil, nil, remarks)
}

func validateDraft(c *domain.Case) error {
	details := map[string]any{}
	if !c.Kind.Valid() {
		details["kind"] = "must be PERSON or SYSTEM"
	}
	if c.Target == "" {
		details["target"] = "required"
	} else if c.Kind == domain.CaseKindPerson && len(strings.Fields(c.Target)) != 1 {
		details["target"] = "must be a staff identifier"
	}
	if c.Description == "" {
		details["description"] = "required"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid case", details)
	}
	return nil
}

// resolveTarget fills the target unit from the staff directory and returns
// the target's contact. An unknown target is accepted without a unit.
func (s *CaseService) resolveTarget(ctx context.Context, c *domain.Case) *string {
	if s.staff == nil {
		return nil
	}
	member, err := s.staff.GetByID(ctx, c.Target)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("staff lookup failed", zap.String("target", c.Target), zap.Error(err))
		}
		return nil
	}
	if member.Unit != "" {
		unit := member.Unit
		c.TargetUnit = &unit
	}
	return member.Phone
}

func (s *CaseService) create(ctx context.Context, actor domain.Actor, draft *domain.Case, attachment []byte, targetPhone, remarks *string) (*domain.Case, error) {
	now := s.now()
	prefix := domain.CaseIDPrefix(s.cfg.IDPrefix, now.In(s.location))

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		seq, err := s.cases.ReserveSequence(ctx, prefix)
		if err != nil {
			return nil, err
		}

		c := *draft
		c.ID = domain.FormatCaseID(prefix, seq)
		c.Status = domain.CaseStatusOpen
		c.CreatedAt = now
		c.UpdatedAt = now

		if len(attachment) > 0 {
			path, err := s.attachments.Save(ctx, c.ID, attachment)
			if err != nil {
				return nil, err
			}
			c.AttachmentPath = &path
		}

		entry := &domain.AuditEntry{CaseID: c.ID, Action: domain.AuditCreated, ActorID: actor.ID, Remarks: remarks, CreatedAt: now}
		err = s.cases.Create(ctx, &c, entry)
		if err == nil {
			s.metrics.RecordTransition(string(domain.AuditCreated), string(c.Status))
			s.logger.Info("case created",
				zap.String("case_id", c.ID),
				zap.String("kind", string(c.Kind)),
				zap.Bool("auto_generated", c.AutoGenerated))
			s.publish(ctx, events.Event{
				Type:      events.EventCaseCreated,
				CaseID:    c.ID,
				ActorID:   actor.ID,
				Timestamp: now,
				Payload:   events.CasePayload{Case: c, ActorName: actor.Name, TargetPhone: targetPhone},
			})
			return &c, nil
		}

		s.discardAttachment(ctx, c.AttachmentPath)
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		s.logger.Warn("case identifier collision; retrying", zap.String("case_id", c.ID), zap.Int("attempt", attempt))
	}
	return nil, apperrors.NewConflict("could not allocate a unique case identifier", map[string]any{"prefix": prefix})
}

func (s *CaseService) discardAttachment(ctx context.Context, path *string) {
	if path == nil || s.attachments == nil {
		return
	}
	if err := s.attachments.Remove(ctx, *path); err != nil {
		s.logger.Warn("remove orphaned attachment failed", zap.String("path", *path), zap.Error(err))
	}
}

// Respond records a response from the target or a supervisor.
func (s *CaseService) Respond(ctx context.Context, actor domain.Actor, caseID, text string) (*domain.Case, error) {
	text = strings.TrimSpace(text)

	now := s.now()
	updated, err := s.cases.Mutate(ctx, caseID, func(c *domain.Case) (*domain.AuditEntry, error) {
		if !access.CanView(c, actor) || !access.CanRespond(c, actor) {
			return nil, apperrors.NewForbidden("not permitted to respond to this case")
		}
		if text == "" {
			return nil, apperrors.NewValidationError("response_text required", nil)
		}
		if !c.CanRespond() {
			return nil, apperrors.NewValidationError("case no longer accepts responses", map[string]any{"status": c.Status})
		}
		responder := actor.ID
		c.ResponderID = &responder
		c.ResponseText = &text
		c.Status = domain.CaseStatusResponded
		c.Touch(now)
		return &domain.AuditEntry{CaseID: c.ID, Action: domain.AuditResponded, ActorID: actor.ID, CreatedAt: c.UpdatedAt}, nil
	})
	if err != nil {
		return nil, mapCaseErr(err)
	}

	s.metrics.RecordTransition(string(domain.AuditResponded), string(updated.Status))
	s.publish(ctx, events.Event{
		Type:      events.EventCaseResponded,
		CaseID:    updated.ID,
		ActorID:   actor.ID,
		Timestamp: updated.UpdatedAt,
		Payload:   events.CasePayload{Case: *updated, ActorName: actor.Name},
	})
	return updated, nil
}

// ChangeStatus moves a case through its lifecycle. Supervisory roles only.
func (s *CaseService) ChangeStatus(ctx context.Context, actor domain.Actor, caseID string, input StatusChangeInput) (*domain.Case, error) {
	if !input.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": input.Status})
	}
	if input.RootCauseCategory != nil && !input.RootCauseCategory.Valid() {
		return nil, apperrors.NewValidationError("unknown root cause category", map[string]any{"root_cause_category": *input.RootCauseCategory})
	}
	notes := trimmed(input.ClosureNotes)
	rootCause := trimmed(input.RootCause)
	corrective := trimmed(input.CorrectiveAction)

	now := s.now()
	var oldStatus domain.CaseStatus
	updated, err := s.cases.Mutate(ctx, caseID, func(c *domain.Case) (*domain.AuditEntry, error) {
		if !access.CanView(c, actor) || !access.CanChangeStatus(actor) {
			return nil, apperrors.NewForbidden("not permitted to change case status")
		}
		if !c.CanMoveTo(input.Status) {
			return nil, apperrors.NewValidationError("invalid status transition", map[string]any{
				"from": c.Status,
				"to":   input.Status,
			})
		}
		if input.Status == domain.CaseStatusClosed && notes == nil {
			return nil, apperrors.NewValidationError("closure notes required", nil)
		}
		if input.Status == domain.CaseStatusEscalated && (rootCause == nil || corrective == nil) {
			return nil, apperrors.NewValidationError("root cause and corrective action required to escalate", nil)
		}
		oldStatus = c.Status

		c.Status = input.Status
		if notes != nil {
			c.ClosureNotes = notes
		}
		if rootCause != nil {
			c.RootCause = rootCause
		}
		if corrective != nil {
			c.CorrectiveAction = corrective
		}
		if input.RootCauseCategory != nil {
			category := *input.RootCauseCategory
			c.RootCauseCategory = &category
		}
		if input.Confidential != nil {
			c.Confidential = *input.Confidential
		}
		c.Touch(now)
		if c.Status.Terminal() {
			closedAt := c.UpdatedAt
			due := closedAt.Add(s.cfg.FollowupWindow())
			c.ClosedAt = &closedAt
			c.Followup = domain.Followup{Status: domain.FollowupPending, DueAt: &due}
		}
		if c.Status == domain.CaseStatusEscalated {
			by := actor.ID
			c.EscalatedBy = &by
		}
		remark := string(c.Status)
		return &domain.AuditEntry{CaseID: c.ID, Action: domain.AuditStatusChanged, ActorID: actor.ID, Remarks: &remark, CreatedAt: c.UpdatedAt}, nil
	})
	if err != nil {
		return nil, mapCaseErr(err)
	}

	s.metrics.RecordTransition(string(domain.AuditStatusChanged), string(updated.Status))
	s.logger.Info("case status changed",
		zap.String("case_id", updated.ID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_id", actor.ID))
	s.publish(ctx, events.Event{
		Type:      events.EventCaseStatusChanged,
		CaseID:    updated.ID,
		ActorID:   actor.ID,
		Timestamp: updated.UpdatedAt,
		Payload: events.StatusChangedPayload{
			CasePayload: events.CasePayload{Case: *updated, ActorName: actor.Name},
			OldStatus:   oldStatus,
			NewStatus:   updated.Status,
		},
	})
	return updated, nil
}

// SubmitFollowup records the creator's post-closure confirmation. The
// follow-up sub-state exists only once a case is Closed or Escalated, so
// earlier submissions are rejected.
func (s *CaseService) SubmitFollowup(ctx context.Context, actor domain.Actor, caseID string, input FollowupInput) (*domain.Case, error) {
	if !input.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown follow-up status", map[string]any{"status": input.Status})
	}
	comment := trimmed(input.Comment)

	now := s.now()
	updated, err := s.cases.Mutate(ctx, caseID, func(c *domain.Case) (*domain.AuditEntry, error) {
		if !access.CanView(c, actor) || !access.CanSubmitFollowup(c, actor) {
			return nil, apperrors.NewForbidden("only the creator may submit a follow-up")
		}
		if !c.Status.Terminal() {
			return nil, apperrors.NewValidationError("follow-up is only available after closure or escalation", map[string]any{"status": c.Status})
		}
		c.Followup.Status = input.Status
		if comment != nil {
			c.Followup.Comment = comment
		}
		c.Touch(now)
		remark := string(input.Status)
		return &domain.AuditEntry{CaseID: c.ID, Action: domain.AuditFollowup, ActorID: actor.ID, Remarks: &remark, CreatedAt: c.UpdatedAt}, nil
	})
	if err != nil {
		return nil, mapCaseErr(err)
	}

	s.metrics.RecordTransition(string(domain.AuditFollowup), string(updated.Followup.Status))
	s.publish(ctx, events.Event{
		Type:      events.EventCaseFollowup,
		CaseID:    updated.ID,
		ActorID:   actor.ID,
		Timestamp: updated.UpdatedAt,
		Payload:   events.CasePayload{Case: *updated, ActorName: actor.Name},
	})
	return updated, nil
}

// ListCases returns the cases visible to actor, newest first.
func (s *CaseService) ListCases(ctx context.Context, actor domain.Actor, status *domain.CaseStatus) ([]CaseView, error) {
	filter := repository.CaseFilter{Scope: access.ScopeFor(actor)}
	if status != nil {
		if !status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": *status})
		}
		filter.Statuses = []domain.CaseStatus{*status}
	}
	cases, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, cases)
}

// GetCase returns one case if actor may see it.
func (s *CaseService) GetCase(ctx context.Context, actor domain.Actor, caseID string) (*CaseView, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, mapCaseErr(err)
	}
	if !access.CanView(c, actor) {
		return nil, apperrors.NewForbidden("not permitted to view this case")
	}
	views, err := s.views(ctx, []domain.Case{*c})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *CaseService) views(ctx context.Context, cases []domain.Case) ([]CaseView, error) {
	ids := make([]string, len(cases))
	for i := range cases {
		ids[i] = cases[i].ID
	}
	audit, err := s.cases.ListAudit(ctx, ids...)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	views := make([]CaseView, len(cases))
	for i := range cases {
		views[i] = CaseView{
			Case:  cases[i],
			Flags: cases[i].Overdue(now, s.policy),
			Audit: audit[cases[i].ID],
		}
	}
	return views, nil
}

func (s *CaseService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func mapCaseErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("case", nil)
	}
	return err
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
