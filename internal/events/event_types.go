package events

import (
	"time"

	"github.com/spec-kit/hiccup-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseCreated       EventType = "case_created"
	EventCaseResponded     EventType = "case_responded"
	EventCaseStatusChanged EventType = "case_status_changed"
	EventCaseFollowup      EventType = "case_followup"
	EventOverdueScan       EventType = "overdue_scan"
	EventDailyDigest       EventType = "daily_digest"
)

// Event represents a domain event emitted after a commit or by a scheduled job.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	CaseID    string      `json:"case_id,omitempty"`
	ActorID   string      `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CasePayload carries the committed case snapshot. TargetPhone is the
// resolved contact of a person-directed target, when known.
type CasePayload struct {
	Case        domain.Case `json:"case"`
	ActorName   string      `json:"actor_name"`
	TargetPhone *string     `json:"target_phone,omitempty"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	CasePayload
	OldStatus domain.CaseStatus `json:"old_status"`
	NewStatus domain.CaseStatus `json:"new_status"`
}

// OverdueCase summarizes a case that breached an SLA.
type OverdueCase struct {
	CaseID          string  `json:"case_id"`
	Status          string  `json:"status"`
	ResponseOverdue bool    `json:"response_overdue"`
	ClosureOverdue  bool    `json:"closure_overdue"`
	HoursOpen       float64 `json:"hours_open"`
}

// OverdueScanPayload payload.
type OverdueScanPayload struct {
	Cases []OverdueCase `json:"cases"`
}

// DigestPayload carries the preformatted daily digest text.
type DigestPayload struct {
	Date string `json:"date"`
	Text string `json:"text"`
}
