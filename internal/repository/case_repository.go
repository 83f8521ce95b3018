package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/hiccup-service/internal/access"
	"github.com/spec-kit/hiccup-service/internal/domain"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// CaseFilter captures listing parameters. Scope is always applied.
type CaseFilter struct {
	Scope       access.Scope
	Statuses    []domain.CaseStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// CaseMutation changes a locked case in place and returns the audit entry to
// append with it. Returning an error aborts the unit of work without writes.
type CaseMutation func(c *domain.Case) (*domain.AuditEntry, error)

// CaseRepository encapsulates case and audit persistence.
type CaseRepository interface {
	ReserveSequence(ctx context.Context, periodPrefix string) (int, error)
	Create(ctx context.Context, c *domain.Case, entry *domain.AuditEntry) error
	Mutate(ctx context.Context, id string, fn CaseMutation) (*domain.Case, error)
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	List(ctx context.Context, filter CaseFilter) ([]domain.Case, error)
	ListOpen(ctx context.Context) ([]domain.Case, error)
	ListFollowupsDue(ctx context.Context, now time.Time) ([]domain.Case, error)
	ListAudit(ctx context.Context, caseIDs ...string) (map[string][]domain.AuditEntry, error)
	ListAuditSince(ctx context.Context, since time.Time) ([]domain.AuditEntry, error)
}

type caseRepository struct {
	pool *pgxpool.Pool
}

// NewCaseRepository instantiates the Postgres-backed repository.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{pool: pool}
}

const caseColumns = `id, creator_id, creator_name, creator_unit, kind, target, target_unit, description,
               immediate_effect, attachment_path, status, responder_id, response_text, escalated_by,
               root_cause_category, root_cause, corrective_action, closure_notes, closed_at,
               auto_generated, source_module, confidential, followup_status, followup_comment,
               followup_due, created_at, updated_at`

// ReserveSequence atomically takes the next sequence value for a period
// prefix. The counter row is seeded from the highest identifier already
// stored under the prefix.
func (r *caseRepository) ReserveSequence(ctx context.Context, periodPrefix string) (int, error) {
	const query = `
        INSERT INTO case_sequences (prefix, last_value)
        VALUES ($1, COALESCE((
            SELECT MAX(CAST(substring(id FROM '([0-9]+)$') AS INTEGER))
            FROM cases WHERE id LIKE $1 || '%'
        ), 0) + 1)
        ON CONFLICT (prefix) DO UPDATE SET last_value = case_sequences.last_value + 1
        RETURNING last_value`
	var seq int
	if err := r.pool.QueryRow(ctx, query, periodPrefix).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reserve sequence %s: %w", periodPrefix, err)
	}
	return seq, nil
}

func (r *caseRepository) Create(ctx context.Context, c *domain.Case, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO cases (` + caseColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, query, caseArgs(c)...); err != nil {
		if apperrors.IsUniqueViolation(err) {
			return fmt.Errorf("case %s: %w", c.ID, ErrDuplicate)
		}
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Mutate locks the case row, applies fn and writes the case together with the
// returned audit entry in one transaction.
func (r *caseRepository) Mutate(ctx context.Context, id string, fn CaseMutation) (*domain.Case, error) {
	const update = `
        UPDATE cases SET status=$1, responder_id=$2, response_text=$3, escalated_by=$4,
            root_cause_category=$5, root_cause=$6, corrective_action=$7, closure_notes=$8, closed_at=$9,
            confidential=$10, followup_status=$11, followup_comment=$12, followup_due=$13, updated_at=$14
        WHERE id=$15`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	c, err := scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	entry, err := fn(c)
	if err != nil {
		return nil, err
	}

	cmd, err := tx.Exec(ctx, update,
		c.Status,
		c.ResponderID,
		c.ResponseText,
		c.EscalatedBy,
		c.RootCauseCategory,
		c.RootCause,
		c.CorrectiveAction,
		c.ClosureNotes,
		c.ClosedAt,
		c.Confidential,
		c.Followup.Status,
		c.Followup.Comment,
		c.Followup.DueAt,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if entry != nil {
		if err := insertAudit(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	return scanCase(r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=$1`, id))
}

func (r *caseRepository) List(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	args := []any{}

	clauses = append(clauses, scopeClauses(filter.Scope, &args)...)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM cases WHERE %s ORDER BY created_at DESC, id DESC`,
		caseColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (r *caseRepository) ListOpen(ctx context.Context) ([]domain.Case, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE status IN ($1,$2) ORDER BY created_at ASC`,
		domain.CaseStatusOpen, domain.CaseStatusResponded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (r *caseRepository) ListFollowupsDue(ctx context.Context, now time.Time) ([]domain.Case, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE followup_due <= $1 AND followup_status = $2 ORDER BY followup_due ASC`,
		now, domain.FollowupPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (r *caseRepository) ListAudit(ctx context.Context, caseIDs ...string) (map[string][]domain.AuditEntry, error) {
	result := make(map[string][]domain.AuditEntry, len(caseIDs))
	if len(caseIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, case_id, action, actor_id, remarks, created_at
        FROM case_audit_log WHERE case_id = ANY($1) ORDER BY created_at ASC, id ASC`, caseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanAudit(rows)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		result[entry.CaseID] = append(result[entry.CaseID], entry)
	}
	return result, nil
}

func (r *caseRepository) ListAuditSince(ctx context.Context, since time.Time) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, case_id, action, actor_id, remarks, created_at
        FROM case_audit_log WHERE created_at >= $1 ORDER BY created_at ASC, id ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAudit(rows)
}

func scopeClauses(scope access.Scope, args *[]any) []string {
	var clauses []string
	switch scope.Kind {
	case access.ScopeAll:
	case access.ScopeUnit:
		if scope.Unit == "" {
			return []string{"FALSE"}
		}
		*args = append(*args, scope.Unit)
		n := len(*args)
		clauses = append(clauses, fmt.Sprintf("(creator_unit = $%d OR target_unit = $%d)", n, n))
	case access.ScopeOwn:
		*args = append(*args, scope.ActorID, domain.CaseKindPerson)
		n := len(*args)
		clauses = append(clauses, fmt.Sprintf("(creator_id = $%d OR (kind = $%d AND target = $%d))", n-1, n, n-1))
	default:
		return []string{"FALSE"}
	}
	if scope.RestrictConfidential {
		*args = append(*args, scope.ActorID)
		clauses = append(clauses, fmt.Sprintf("(NOT confidential OR creator_id = $%d)", len(*args)))
	}
	return clauses
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO case_audit_log (case_id, action, actor_id, remarks, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	return tx.QueryRow(ctx, query,
		entry.CaseID,
		entry.Action,
		entry.ActorID,
		entry.Remarks,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

func caseArgs(c *domain.Case) []any {
	return []any{
		c.ID,
		c.CreatorID,
		c.CreatorName,
		c.CreatorUnit,
		c.Kind,
		c.Target,
		c.TargetUnit,
		c.Description,
		c.ImmediateEffect,
		c.AttachmentPath,
		c.Status,
		c.ResponderID,
		c.ResponseText,
		c.EscalatedBy,
		c.RootCauseCategory,
		c.RootCause,
		c.CorrectiveAction,
		c.ClosureNotes,
		c.ClosedAt,
		c.AutoGenerated,
		c.SourceModule,
		c.Confidential,
		c.Followup.Status,
		c.Followup.Comment,
		c.Followup.DueAt,
		c.CreatedAt,
		c.UpdatedAt,
	}
}

func caseDest(c *domain.Case) []any {
	return []any{
		&c.ID,
		&c.CreatorID,
		&c.CreatorName,
		&c.CreatorUnit,
		&c.Kind,
		&c.Target,
		&c.TargetUnit,
		&c.Description,
		&c.ImmediateEffect,
		&c.AttachmentPath,
		&c.Status,
		&c.ResponderID,
		&c.ResponseText,
		&c.EscalatedBy,
		&c.RootCauseCategory,
		&c.RootCause,
		&c.CorrectiveAction,
		&c.ClosureNotes,
		&c.ClosedAt,
		&c.AutoGenerated,
		&c.SourceModule,
		&c.Confidential,
		&c.Followup.Status,
		&c.Followup.Comment,
		&c.Followup.DueAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	if err := row.Scan(caseDest(&c)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanCases(rows pgx.Rows) ([]domain.Case, error) {
	var result []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(caseDest(&c)...); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	var result []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.CaseID,
			&entry.Action,
			&entry.ActorID,
			&entry.Remarks,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
