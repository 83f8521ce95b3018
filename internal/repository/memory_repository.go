package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/hiccup-service/internal/domain"
)

// MemoryStore is a process-local store used when no database is configured
// and in tests. A single lock serializes all writers.
type MemoryStore struct {
	mu        sync.RWMutex
	cases     map[string]*domain.Case
	audit     []domain.AuditEntry
	sequences map[string]int
	staff     map[string]*domain.StaffMember
	tokens    map[string]*domain.SystemToken
	nextAudit int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:     make(map[string]*domain.Case),
		sequences: make(map[string]int),
		staff:     make(map[string]*domain.StaffMember),
		tokens:    make(map[string]*domain.SystemToken),
	}
}

// Cases returns the case repository view of the store.
func (m *MemoryStore) Cases() CaseRepository { return (*memoryCases)(m) }

// Staff returns the staff directory view of the store.
func (m *MemoryStore) Staff() StaffRepository { return (*memoryStaff)(m) }

// SystemTokens returns the system token view of the store.
func (m *MemoryStore) SystemTokens() SystemTokenRepository { return (*memoryTokens)(m) }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyCase(c *domain.Case) *domain.Case {
	out := *c
	out.TargetUnit = cloneString(c.TargetUnit)
	out.ImmediateEffect = cloneString(c.ImmediateEffect)
	out.AttachmentPath = cloneString(c.AttachmentPath)
	out.ResponderID = cloneString(c.ResponderID)
	out.ResponseText = cloneString(c.ResponseText)
	out.EscalatedBy = cloneString(c.EscalatedBy)
	out.RootCause = cloneString(c.RootCause)
	out.CorrectiveAction = cloneString(c.CorrectiveAction)
	out.ClosureNotes = cloneString(c.ClosureNotes)
	out.ClosedAt = cloneTime(c.ClosedAt)
	out.SourceModule = cloneString(c.SourceModule)
	out.Followup.Comment = cloneString(c.Followup.Comment)
	out.Followup.DueAt = cloneTime(c.Followup.DueAt)
	if c.RootCauseCategory != nil {
		v := *c.RootCauseCategory
		out.RootCauseCategory = &v
	}
	return &out
}

type memoryCases MemoryStore

func (r *memoryCases) ReserveSequence(_ context.Context, periodPrefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.sequences[periodPrefix]
	if !ok {
		for id := range r.cases {
			if !strings.HasPrefix(id, periodPrefix) {
				continue
			}
			if seq, ok := domain.CaseIDSequence(id); ok && seq > last {
				last = seq
			}
		}
	}
	r.sequences[periodPrefix] = last + 1
	return last + 1, nil
}

func (r *memoryCases) Create(_ context.Context, c *domain.Case, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cases[c.ID]; exists {
		return fmt.Errorf("case %s: %w", c.ID, ErrDuplicate)
	}
	r.cases[c.ID] = copyCase(c)
	r.appendAudit(entry)
	return nil
}

func (r *memoryCases) Mutate(_ context.Context, id string, fn CaseMutation) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := copyCase(stored)
	entry, err := fn(working)
	if err != nil {
		return nil, err
	}
	r.cases[id] = copyCase(working)
	if entry != nil {
		r.appendAudit(entry)
	}
	return working, nil
}

func (r *memoryCases) appendAudit(entry *domain.AuditEntry) {
	r.nextAudit++
	entry.ID = r.nextAudit
	stored := *entry
	stored.Remarks = cloneString(entry.Remarks)
	r.audit = append(r.audit, stored)
}

func (r *memoryCases) GetByID(_ context.Context, id string) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCase(c), nil
}

func (r *memoryCases) List(_ context.Context, filter CaseFilter) ([]domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[domain.CaseStatus]struct{}, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = struct{}{}
	}

	var result []domain.Case
	for _, c := range r.cases {
		if !filter.Scope.Allows(c) {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[c.Status]; !ok {
				continue
			}
		}
		if filter.CreatedFrom != nil && c.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && c.CreatedAt.After(*filter.CreatedTo) {
			continue
		}
		result = append(result, *copyCase(c))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *memoryCases) ListOpen(_ context.Context) ([]domain.Case, error) {
	return r.collect(func(c *domain.Case) bool {
		return c.Status == domain.CaseStatusOpen || c.Status == domain.CaseStatusResponded
	}, func(a, b *domain.Case) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (r *memoryCases) ListFollowupsDue(_ context.Context, now time.Time) ([]domain.Case, error) {
	return r.collect(func(c *domain.Case) bool {
		return c.Followup.Status == domain.FollowupPending && c.Followup.DueAt != nil && !c.Followup.DueAt.After(now)
	}, func(a, b *domain.Case) bool { return a.Followup.DueAt.Before(*b.Followup.DueAt) }), nil
}

func (r *memoryCases) collect(keep func(*domain.Case) bool, less func(a, b *domain.Case) bool) []domain.Case {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Case
	for _, c := range r.cases {
		if keep(c) {
			result = append(result, *copyCase(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(&result[i], &result[j]) })
	return result
}

func (r *memoryCases) ListAudit(_ context.Context, caseIDs ...string) (map[string][]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]domain.AuditEntry, len(caseIDs))
	wanted := make(map[string]struct{}, len(caseIDs))
	for _, id := range caseIDs {
		wanted[id] = struct{}{}
	}
	for _, entry := range r.audit {
		if _, ok := wanted[entry.CaseID]; ok {
			result[entry.CaseID] = append(result[entry.CaseID], entry)
		}
	}
	return result, nil
}

func (r *memoryCases) ListAuditSince(_ context.Context, since time.Time) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.AuditEntry
	for _, entry := range r.audit {
		if !entry.CreatedAt.Before(since) {
			result = append(result, entry)
		}
	}
	return result, nil
}

type memoryStaff MemoryStore

func (r *memoryStaff) Upsert(_ context.Context, staff *domain.StaffMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := r.staff[staff.ID]
	if !ok {
		stored := *staff
		stored.Phone = cloneString(staff.Phone)
		stored.CreatedAt, stored.UpdatedAt = now, now
		r.staff[staff.ID] = &stored
		staff.CreatedAt, staff.UpdatedAt = now, now
		return nil
	}
	existing.Name = staff.Name
	existing.Role = staff.Role
	existing.Unit = staff.Unit
	if staff.Phone != nil {
		existing.Phone = cloneString(staff.Phone)
	}
	existing.UpdatedAt = now
	staff.Phone = cloneString(existing.Phone)
	staff.CreatedAt, staff.UpdatedAt = existing.CreatedAt, existing.UpdatedAt
	return nil
}

func (r *memoryStaff) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	staff, ok := r.staff[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *staff
	out.Phone = cloneString(staff.Phone)
	return &out, nil
}

type memoryTokens MemoryStore

func (r *memoryTokens) Create(_ context.Context, token *domain.SystemToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.ID]; exists {
		return fmt.Errorf("system token %s: %w", token.ID, ErrDuplicate)
	}
	token.CreatedAt = time.Now().UTC()
	stored := *token
	r.tokens[token.ID] = &stored
	return nil
}

func (r *memoryTokens) GetByID(_ context.Context, id string) (*domain.SystemToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *token
	return &out, nil
}
