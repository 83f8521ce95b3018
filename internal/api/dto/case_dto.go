package dto

import (
	"time"

	"github.com/spec-kit/hiccup-service/internal/domain"
)

// CreateCaseRequest payload. Accepted as JSON or multipart form fields.
type CreateCaseRequest struct {
	Kind            string  `json:"kind" form:"kind" validate:"required,oneof=PERSON SYSTEM"`
	Target          string  `json:"target" form:"target" validate:"required,max=200"`
	Description     string  `json:"description" form:"description" validate:"required,max=4000"`
	ImmediateEffect *string `json:"immediate_effect" form:"immediate_effect" validate:"omitempty,max=2000"`
	SourceModule    *string `json:"source_module" form:"source_module" validate:"omitempty,max=100"`
	Confidential    bool    `json:"confidential" form:"confidential"`
}

// AutoCaseRequest is raised by internal modules.
type AutoCaseRequest struct {
	Target          string  `json:"target" validate:"required,max=200"`
	Description     string  `json:"description" validate:"required,max=4000"`
	ImmediateEffect *string `json:"immediate_effect" validate:"omitempty,max=2000"`
	SourceModule    string  `json:"source_module" validate:"required,max=100"`
}

// RespondRequest payload.
type RespondRequest struct {
	ResponseText string `json:"response_text" validate:"required,max=4000"`
}

// StatusChangeRequest payload.
type StatusChangeRequest struct {
	Status            string  `json:"status" validate:"required"`
	ClosureNotes      *string `json:"closure_notes"`
	RootCause         *string `json:"root_cause"`
	CorrectiveAction  *string `json:"corrective_action"`
	RootCauseCategory *string `json:"root_cause_category"`
	Confidential      *bool   `json:"confidential"`
}

// FollowupRequest payload.
type FollowupRequest struct {
	Status  string  `json:"status" validate:"required,oneof=Pending Resolved Unresolved"`
	Comment *string `json:"comment"`
}

// OverdueResponse carries the derived SLA flags.
type OverdueResponse struct {
	ResponseOverdue    bool    `json:"response_overdue"`
	ClosureOverdue     bool    `json:"closure_overdue"`
	HoursSinceCreation float64 `json:"hours_since_creation"`
}

// FollowupResponse is the post-closure sub-state.
type FollowupResponse struct {
	Status  domain.FollowupStatus `json:"status,omitempty"`
	Comment *string               `json:"comment"`
	DueAt   *time.Time            `json:"due_at"`
}

// CaseResponse is the wire form of a case.
type CaseResponse struct {
	ID                string                    `json:"id"`
	CreatorID         string                    `json:"creator_id"`
	CreatorName       string                    `json:"creator_name"`
	CreatorUnit       string                    `json:"creator_unit"`
	Kind              domain.CaseKind           `json:"kind"`
	Target            string                    `json:"target"`
	TargetUnit        *string                   `json:"target_unit"`
	Description       string                    `json:"description"`
	ImmediateEffect   *string                   `json:"immediate_effect"`
	HasAttachment     bool                      `json:"has_attachment"`
	Status            domain.CaseStatus         `json:"status"`
	ResponderID       *string                   `json:"responder_id"`
	ResponseText      *string                   `json:"response_text"`
	EscalatedBy       *string                   `json:"escalated_by"`
	RootCauseCategory *domain.RootCauseCategory `json:"root_cause_category"`
	RootCause         *string                   `json:"root_cause"`
	CorrectiveAction  *string                   `json:"corrective_action"`
	ClosureNotes      *string                   `json:"closure_notes"`
	ClosedAt          *time.Time                `json:"closed_at"`
	AutoGenerated     bool                      `json:"auto_generated"`
	SourceModule      *string                   `json:"source_module"`
	Confidential      bool                      `json:"confidential"`
	Followup          FollowupResponse          `json:"followup"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
	Overdue           *OverdueResponse          `json:"overdue,omitempty"`
}

// AuditEntryResponse is one audit trail line.
type AuditEntryResponse struct {
	ID        int64              `json:"id"`
	Action    domain.AuditAction `json:"action"`
	ActorID   string             `json:"actor_id"`
	Remarks   *string            `json:"remarks"`
	CreatedAt time.Time          `json:"created_at"`
}

// CaseDetailResponse is a case with its audit trail.
type CaseDetailResponse struct {
	CaseResponse
	Audit []AuditEntryResponse `json:"audit"`
}
