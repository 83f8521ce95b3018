package domain

import "time"

// CaseKind distinguishes who a case is raised against.
type CaseKind string

const (
	CaseKindPerson CaseKind = "PERSON"
	CaseKindSystem CaseKind = "SYSTEM"
)

// Valid reports whether k is a known kind.
func (k CaseKind) Valid() bool {
	return k == CaseKindPerson || k == CaseKindSystem
}

// CaseStatus enumerates lifecycle states for cases.
type CaseStatus string

const (
	CaseStatusOpen        CaseStatus = "Open"
	CaseStatusResponded   CaseStatus = "Responded"
	CaseStatusUnderReview CaseStatus = "Under Review"
	CaseStatusClosed      CaseStatus = "Closed"
	CaseStatusEscalated   CaseStatus = "Escalated to NC"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the main lifecycle ends at s.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusClosed || s == CaseStatusEscalated
}

var statusRank = map[CaseStatus]int{
	CaseStatusOpen:        0,
	CaseStatusResponded:   1,
	CaseStatusUnderReview: 2,
	CaseStatusClosed:      3,
	CaseStatusEscalated:   3,
}

// RootCauseCategory classifies why a case happened.
type RootCauseCategory string

const (
	RootCauseTraining         RootCauseCategory = "Training Need"
	RootCauseProcessGap       RootCauseCategory = "Process Gap"
	RootCauseNegligence       RootCauseCategory = "Negligence"
	RootCauseSystemError      RootCauseCategory = "System Error"
	RootCauseExternal         RootCauseCategory = "External Factor"
	RootCauseResourceShortage RootCauseCategory = "Resource Shortage"
)

// Valid reports whether c is a known category.
func (c RootCauseCategory) Valid() bool {
	switch c {
	case RootCauseTraining, RootCauseProcessGap, RootCauseNegligence,
		RootCauseSystemError, RootCauseExternal, RootCauseResourceShortage:
		return true
	}
	return false
}

// FollowupStatus tracks post-closure confirmation.
type FollowupStatus string

const (
	FollowupPending    FollowupStatus = "Pending"
	FollowupResolved   FollowupStatus = "Resolved"
	FollowupUnresolved FollowupStatus = "Unresolved"
)

// Valid reports whether s is a known follow-up status.
func (s FollowupStatus) Valid() bool {
	return s == FollowupPending || s == FollowupResolved || s == FollowupUnresolved
}

// Followup is the secondary state that continues after a case ends.
type Followup struct {
	Status  FollowupStatus
	Comment *string
	DueAt   *time.Time
}

// Case is the aggregate for raised issues.
type Case struct {
	ID                string
	CreatorID         string
	CreatorName       string
	CreatorUnit       string
	Kind              CaseKind
	Target            string
	TargetUnit        *string
	Description       string
	ImmediateEffect   *string
	AttachmentPath    *string
	Status            CaseStatus
	ResponderID       *string
	ResponseText      *string
	EscalatedBy       *string
	RootCauseCategory *RootCauseCategory
	RootCause         *string
	CorrectiveAction  *string
	ClosureNotes      *string
	ClosedAt          *time.Time
	AutoGenerated     bool
	SourceModule      *string
	Confidential      bool
	Followup          Followup
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Targets reports whether the case is person-directed against actorID.
func (c *Case) Targets(actorID string) bool {
	return c.Kind == CaseKindPerson && c.Target == actorID
}

// Touch advances UpdatedAt to now, keeping it strictly increasing even when
// the clock has not moved past the previous value.
func (c *Case) Touch(now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Microsecond)
	}
	c.UpdatedAt = now
}

// SLAPolicy holds the overdue thresholds.
type SLAPolicy struct {
	ResponseWithin time.Duration
	ClosureWithin  time.Duration
}

// DefaultSLAPolicy is 24h to first response and 72h from response to closure.
var DefaultSLAPolicy = SLAPolicy{
	ResponseWithin: 24 * time.Hour,
	ClosureWithin:  72 * time.Hour,
}

// OverdueFlags are derived on read and never stored.
type OverdueFlags struct {
	ResponseOverdue    bool
	ClosureOverdue     bool
	HoursSinceCreation float64
}

// Overdue computes the SLA flags for the case at now.
func (c *Case) Overdue(now time.Time, policy SLAPolicy) OverdueFlags {
	flags := OverdueFlags{HoursSinceCreation: now.Sub(c.CreatedAt).Hours()}
	if c.Status == CaseStatusOpen && now.Sub(c.CreatedAt) > policy.ResponseWithin {
		flags.ResponseOverdue = true
	}
	if c.Status == CaseStatusResponded && now.Sub(c.UpdatedAt) > policy.ClosureWithin {
		flags.ClosureOverdue = true
	}
	return flags
}

// Any reports whether either SLA is breached.
func (f OverdueFlags) Any() bool {
	return f.ResponseOverdue || f.ClosureOverdue
}

// CanRespond reports whether a response may be recorded in the current status.
func (c *Case) CanRespond() bool {
	return c.Status == CaseStatusOpen || c.Status == CaseStatusResponded
}

// CanMoveTo reports whether a supervisory status change from the current status
// to next keeps the lifecycle monotonic. Responded is only reachable via a response.
func (c *Case) CanMoveTo(next CaseStatus) bool {
	if !next.Valid() || c.Status.Terminal() {
		return false
	}
	switch next {
	case CaseStatusOpen, CaseStatusResponded:
		return false
	}
	return statusRank[next] > statusRank[c.Status]
}
