package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/hiccup-service/internal/api/dto"
	"github.com/spec-kit/hiccup-service/internal/auth"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/service"
	"github.com/spec-kit/hiccup-service/internal/storage"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

const (
	attachmentField       = "attachment"
	defaultMaxUploadBytes = 10 << 20
)

// CasesHandler exposes the case lifecycle endpoints.
type CasesHandler struct {
	service        *service.CaseService
	maxUploadBytes int64
}

// NewCasesHandler constructs handler.
func NewCasesHandler(caseService *service.CaseService, maxUploadBytes int64) *CasesHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &CasesHandler{service: caseService, maxUploadBytes: maxUploadBytes}
}

// CreateCase POST /api/cases.
func (h *CasesHandler) CreateCase(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}

	attachment, err := h.readAttachment(c)
	if err != nil {
		return err
	}

	created, err := h.service.CreateCase(c.UserContext(), actor, service.CreateCaseInput{
		Kind:            domain.CaseKind(req.Kind),
		Target:          req.Target,
		Description:     req.Description,
		ImmediateEffect: req.ImmediateEffect,
		SourceModule:    req.SourceModule,
		Confidential:    req.Confidential,
		Attachment:      attachment,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": caseResponse(created, nil)})
}

// readAttachment returns the optional multipart upload, bounded by the
// configured size limit.
func (h *CasesHandler) readAttachment(c *fiber.Ctx) ([]byte, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	header, err := c.FormFile(attachmentField)
	if err != nil {
		// No file part is fine; the upload is optional.
		return nil, nil
	}
	tooLarge := apperrors.NewValidationError("attachment too large", map[string]any{"max_bytes": h.maxUploadBytes})
	if header.Size > h.maxUploadBytes {
		return nil, tooLarge
	}
	file, err := header.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("unreadable attachment", nil)
	}
	defer file.Close()

	data, err := storage.ReadLimited(file, h.maxUploadBytes)
	if err != nil {
		return nil, apperrors.NewValidationError("unreadable attachment", nil)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return nil, tooLarge
	}
	return data, nil
}

// CreateAutoCase POST /api/cases/auto.
func (h *CasesHandler) CreateAutoCase(c *fiber.Ctx) error {
	var req dto.AutoCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}
	input := service.AutoCaseInput{
		Target:          req.Target,
		Description:     req.Description,
		ImmediateEffect: req.ImmediateEffect,
		SourceModule:    req.SourceModule,
	}
	if token, ok := auth.SystemTokenFromContext(c); ok {
		input.Credential = token.ID
	}
	created, err := h.service.CreateAutoCase(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": caseResponse(created, nil)})
}

// ListCases GET /api/cases.
func (h *CasesHandler) ListCases(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var status *domain.CaseStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		s := domain.CaseStatus(raw)
		status = &s
	}
	views, err := h.service.ListCases(c.UserContext(), actor, status)
	if err != nil {
		return err
	}
	items := make([]dto.CaseDetailResponse, 0, len(views))
	for i := range views {
		items = append(items, caseDetail(&views[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetCase GET /api/cases/:id.
func (h *CasesHandler) GetCase(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	view, err := h.service.GetCase(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseDetail(view)})
}

// Respond PATCH /api/cases/:id/respond.
func (h *CasesHandler) Respond(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.RespondRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}
	updated, err := h.service.Respond(c.UserContext(), actor, c.Params("id"), req.ResponseText)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseResponse(updated, nil)})
}

// ChangeStatus PATCH /api/cases/:id/status.
func (h *CasesHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.StatusChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}
	input := service.StatusChangeInput{
		Status:           domain.CaseStatus(req.Status),
		ClosureNotes:     req.ClosureNotes,
		RootCause:        req.RootCause,
		CorrectiveAction: req.CorrectiveAction,
		Confidential:     req.Confidential,
	}
	if req.RootCauseCategory != nil {
		category := domain.RootCauseCategory(*req.RootCauseCategory)
		input.RootCauseCategory = &category
	}
	updated, err := h.service.ChangeStatus(c.UserContext(), actor, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseResponse(updated, nil)})
}

// SubmitFollowup PATCH /api/cases/:id/followup.
func (h *CasesHandler) SubmitFollowup(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.FollowupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(&req); err != nil {
		return err
	}
	updated, err := h.service.SubmitFollowup(c.UserContext(), actor, c.Params("id"), service.FollowupInput{
		Status:  domain.FollowupStatus(req.Status),
		Comment: req.Comment,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseResponse(updated, nil)})
}

func requireActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func caseResponse(c *domain.Case, flags *domain.OverdueFlags) dto.CaseResponse {
	resp := dto.CaseResponse{
		ID:                c.ID,
		CreatorID:         c.CreatorID,
		CreatorName:       c.CreatorName,
		CreatorUnit:       c.CreatorUnit,
		Kind:              c.Kind,
		Target:            c.Target,
		TargetUnit:        c.TargetUnit,
		Description:       c.Description,
		ImmediateEffect:   c.ImmediateEffect,
		HasAttachment:     c.AttachmentPath != nil,
		Status:            c.Status,
		ResponderID:       c.ResponderID,
		ResponseText:      c.ResponseText,
		EscalatedBy:       c.EscalatedBy,
		RootCauseCategory: c.RootCauseCategory,
		RootCause:         c.RootCause,
		CorrectiveAction:  c.CorrectiveAction,
		ClosureNotes:      c.ClosureNotes,
		ClosedAt:          c.ClosedAt,
		AutoGenerated:     c.AutoGenerated,
		SourceModule:      c.SourceModule,
		Confidential:      c.Confidential,
		Followup: dto.FollowupResponse{
			Status:  c.Followup.Status,
			Comment: c.Followup.Comment,
			DueAt:   c.Followup.DueAt,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if flags != nil {
		resp.Overdue = &dto.OverdueResponse{
			ResponseOverdue:    flags.ResponseOverdue,
			ClosureOverdue:     flags.ClosureOverdue,
			HoursSinceCreation: flags.HoursSinceCreation,
		}
	}
	return resp
}

func caseDetail(view *service.CaseView) dto.CaseDetailResponse {
	audit := make([]dto.AuditEntryResponse, 0, len(view.Audit))
	for _, entry := range view.Audit {
		audit = append(audit, dto.AuditEntryResponse{
			ID:        entry.ID,
			Action:    entry.Action,
			ActorID:   entry.ActorID,
			Remarks:   entry.Remarks,
			CreatedAt: entry.CreatedAt,
		})
	}
	return dto.CaseDetailResponse{
		CaseResponse: caseResponse(&view.Case, &view.Flags),
		Audit:        audit,
	}
}
