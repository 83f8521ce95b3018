package repository

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/hiccup-service/internal/access"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/persistence"
)

func TestScopeClauses(t *testing.T) {
	tests := []struct {
		name    string
		scope   access.Scope
		prior   []any
		clauses []string
		args    []any
	}{
		{
			name:  "all",
			scope: access.Scope{Kind: access.ScopeAll, ActorID: "mgr"},
		},
		{
			name:    "all with confidential restriction",
			scope:   access.Scope{Kind: access.ScopeAll, ActorID: "mgr", RestrictConfidential: true},
			clauses: []string{"(NOT confidential OR creator_id = $1)"},
			args:    []any{"mgr"},
		},
		{
			name:    "unit",
			scope:   access.Scope{Kind: access.ScopeUnit, ActorID: "hod", Unit: "ICU"},
			clauses: []string{"(creator_unit = $1 OR target_unit = $1)"},
			args:    []any{"ICU"},
		},
		{
			name:  "unit with confidential restriction",
			scope: access.Scope{Kind: access.ScopeUnit, ActorID: "hod", Unit: "ICU", RestrictConfidential: true},
			clauses: []string{
				"(creator_unit = $1 OR target_unit = $1)",
				"(NOT confidential OR creator_id = $2)",
			},
			args: []any{"ICU", "hod"},
		},
		{
			name:    "unit without a unit sees nothing",
			scope:   access.Scope{Kind: access.ScopeUnit, ActorID: "hod", RestrictConfidential: true},
			clauses: []string{"FALSE"},
		},
		{
			name:    "own",
			scope:   access.Scope{Kind: access.ScopeOwn, ActorID: "alice"},
			clauses: []string{"(creator_id = $1 OR (kind = $2 AND target = $1))"},
			args:    []any{"alice", domain.CaseKindPerson},
		},
		{
			name:  "own with confidential restriction numbers after prior args",
			scope: access.Scope{Kind: access.ScopeOwn, ActorID: "alice", RestrictConfidential: true},
			prior: []any{"Open"},
			clauses: []string{
				"(creator_id = $2 OR (kind = $3 AND target = $2))",
				"(NOT confidential OR creator_id = $4)",
			},
			args: []any{"Open", "alice", domain.CaseKindPerson, "alice"},
		},
		{
			name:    "unknown kind sees nothing",
			scope:   access.Scope{Kind: access.ScopeKind(42), ActorID: "x"},
			clauses: []string{"FALSE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]any{}, tt.prior...)
			clauses := scopeClauses(tt.scope, &args)
			assert.Equal(t, tt.clauses, clauses)
			if tt.args == nil {
				assert.Equal(t, len(tt.prior), len(args))
				return
			}
			assert.Equal(t, tt.args, args)
		})
	}
}

func newPostgresCases(t *testing.T) CaseRepository {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, persistence.RunMigrations(ctx, pool, "../../migrations", zap.NewNop()))
	return NewCaseRepository(pool)
}

// testPrefix isolates each run's identifiers from other data in the database.
func testPrefix() string {
	return "T" + strings.ToUpper(uuid.NewString()[:8]) + "-26-"
}

func TestPostgresCases_ReserveSequenceConcurrent(t *testing.T) {
	repo := newPostgresCases(t)
	ctx := context.Background()
	prefix := testPrefix()

	results := make([]int, 20)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			seq, err := repo.ReserveSequence(gctx, prefix)
			results[i] = seq
			return err
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(results)
	for i, seq := range results {
		assert.Equal(t, i+1, seq)
	}
}

func TestPostgresCases_MutateRollsBack(t *testing.T) {
	repo := newPostgresCases(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	c := newCase(domain.FormatCaseID(testPrefix(), 1), "alice", "ICU", t0)
	require.NoError(t, repo.Create(ctx, c, auditFor(c)))

	dup := *c
	err := repo.Create(ctx, &dup, auditFor(&dup))
	assert.True(t, errors.Is(err, ErrDuplicate))

	rejected := errors.New("guard failed")
	_, err = repo.Mutate(ctx, c.ID, func(locked *domain.Case) (*domain.AuditEntry, error) {
		locked.Status = domain.CaseStatusClosed
		return nil, rejected
	})
	assert.ErrorIs(t, err, rejected)

	stored, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusOpen, stored.Status)
	audit, err := repo.ListAudit(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, audit[c.ID], 1)

	updated, err := repo.Mutate(ctx, c.ID, func(locked *domain.Case) (*domain.AuditEntry, error) {
		locked.Status = domain.CaseStatusUnderReview
		locked.Touch(t0.Add(time.Minute))
		remark := string(locked.Status)
		return &domain.AuditEntry{CaseID: locked.ID, Action: domain.AuditStatusChanged, ActorID: "mgr", Remarks: &remark, CreatedAt: locked.UpdatedAt}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusUnderReview, updated.Status)
	audit, err = repo.ListAudit(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, audit[c.ID], 2)

	_, err = repo.Mutate(ctx, "missing-"+c.ID, func(*domain.Case) (*domain.AuditEntry, error) {
		t.Fatal("mutation must not run for an unknown case")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresCases_ListMatchesScope(t *testing.T) {
	repo := newPostgresCases(t)
	ctx := context.Background()
	prefix := testPrefix()
	t0 := time.Now().UTC().Truncate(time.Microsecond)
	suffix := strings.TrimSuffix(prefix, "-26-")
	alice, bob, unit := "alice"+suffix, "bob"+suffix, "ICU"+suffix

	var cases []*domain.Case
	add := func(c *domain.Case) {
		require.NoError(t, repo.Create(ctx, c, auditFor(c)))
		cases = append(cases, c)
	}
	add(newCase(domain.FormatCaseID(prefix, 1), alice, unit, t0))
	targeted := newCase(domain.FormatCaseID(prefix, 2), bob, "Lab", t0.Add(time.Second))
	targeted.Kind, targeted.Target, targeted.TargetUnit = domain.CaseKindPerson, alice, &unit
	add(targeted)
	secret := newCase(domain.FormatCaseID(prefix, 3), bob, unit, t0.Add(2*time.Second))
	secret.Confidential = true
	add(secret)
	add(newCase(domain.FormatCaseID(prefix, 4), bob, "Lab", t0.Add(3*time.Second)))

	scopes := []access.Scope{
		access.ScopeFor(domain.Actor{ID: alice, Role: domain.RoleStaff}),
		access.ScopeFor(domain.Actor{ID: bob, Role: domain.RoleStaff}),
		access.ScopeFor(domain.Actor{ID: "hod" + suffix, Role: domain.RoleUnitHead, Unit: unit}),
		access.ScopeFor(domain.Actor{ID: bob, Role: domain.RoleUnitHead, Unit: unit}),
	}
	for _, scope := range scopes {
		listed, err := repo.List(ctx, CaseFilter{Scope: scope, CreatedFrom: &t0})
		require.NoError(t, err)
		got := []string{}
		for _, c := range listed {
			if strings.HasPrefix(c.ID, prefix) {
				got = append(got, c.ID)
			}
		}
		want := []string{}
		for i := len(cases) - 1; i >= 0; i-- {
			if scope.Allows(cases[i]) {
				want = append(want, cases[i].ID)
			}
		}
		assert.Equal(t, want, got, "scope %+v", scope)
	}
}
