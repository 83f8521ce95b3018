package domain

import "time"

// AuditAction tags an audit entry.
type AuditAction string

const (
	AuditCreated       AuditAction = "Created"
	AuditResponded     AuditAction = "Responded"
	AuditStatusChanged AuditAction = "StatusChanged"
	AuditFollowup      AuditAction = "Followup"
)

// AuditEntry is an immutable audit trail entry.
type AuditEntry struct {
	ID        int64
	CaseID    string
	Action    AuditAction
	ActorID   string
	Remarks   *string
	CreatedAt time.Time
}
