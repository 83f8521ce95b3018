// Package access decides which cases an actor may see and act on.
package access

import "github.com/spec-kit/hiccup-service/internal/domain"

// ScopeKind names the branch of the visibility rules that applies to an actor.
type ScopeKind int

const (
	// ScopeAll grants every case.
	ScopeAll ScopeKind = iota
	// ScopeUnit grants cases whose creator unit or target unit matches.
	ScopeUnit
	// ScopeOwn grants cases the actor created or is the named target of.
	ScopeOwn
)

// Scope is the query-level form of the visibility predicate. Stores translate
// it into their own filter so collections are never materialized just to be
// discarded.
type Scope struct {
	Kind    ScopeKind
	ActorID string
	Unit    string
	// RestrictConfidential limits confidential cases to ones created by ActorID.
	RestrictConfidential bool
}

// ScopeFor returns the visibility scope for actor.
func ScopeFor(actor domain.Actor) Scope {
	switch actor.Role {
	case domain.RoleManagement, domain.RoleAdmin:
		return Scope{Kind: ScopeAll, ActorID: actor.ID}
	case domain.RoleUnitHead:
		return Scope{Kind: ScopeUnit, ActorID: actor.ID, Unit: actor.Unit, RestrictConfidential: true}
	default:
		return Scope{Kind: ScopeOwn, ActorID: actor.ID, RestrictConfidential: true}
	}
}

// Allows evaluates the scope against a single case.
func (s Scope) Allows(c *domain.Case) bool {
	if c == nil {
		return false
	}
	granted := false
	switch s.Kind {
	case ScopeAll:
		granted = true
	case ScopeUnit:
		granted = s.Unit != "" && (c.CreatorUnit == s.Unit || (c.TargetUnit != nil && *c.TargetUnit == s.Unit))
	case ScopeOwn:
		granted = c.CreatorID == s.ActorID || c.Targets(s.ActorID)
	}
	if granted && c.Confidential && s.RestrictConfidential {
		granted = c.CreatorID == s.ActorID
	}
	return granted
}

// CanView is the per-case predicate shared by list and detail paths.
func CanView(c *domain.Case, actor domain.Actor) bool {
	return ScopeFor(actor).Allows(c)
}

// CanRespond reports whether actor may record a response on c.
func CanRespond(c *domain.Case, actor domain.Actor) bool {
	if c.Kind == domain.CaseKindPerson {
		return c.Target == actor.ID
	}
	return actor.Role.Supervisory()
}

// CanChangeStatus reports whether actor may move c through the lifecycle.
func CanChangeStatus(actor domain.Actor) bool {
	return actor.Role.Supervisory()
}

// CanSubmitFollowup reports whether actor may update the follow-up sub-state.
func CanSubmitFollowup(c *domain.Case, actor domain.Actor) bool {
	return c.CreatorID == actor.ID
}

// CanViewReports reports whether actor may read aggregate reports.
func CanViewReports(actor domain.Actor) bool {
	return actor.Role.Supervisory()
}
