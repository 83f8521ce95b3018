package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/hiccup-service/internal/domain"
)

// StaffRepository keeps the directory of known actors.
type StaffRepository interface {
	Upsert(ctx context.Context, staff *domain.StaffMember) error
	GetByID(ctx context.Context, id string) (*domain.StaffMember, error)
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

// Upsert records identity attributes. The phone number is owned by the
// directory and only overwritten when a value is supplied.
func (r *staffRepository) Upsert(ctx context.Context, staff *domain.StaffMember) error {
	const query = `
        INSERT INTO staff_members (id, name, role, unit, phone)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE
        SET name=EXCLUDED.name, role=EXCLUDED.role, unit=EXCLUDED.unit,
            phone=COALESCE(EXCLUDED.phone, staff_members.phone), updated_at=NOW()
        WHERE (staff_members.name, staff_members.role, staff_members.unit) IS DISTINCT FROM (EXCLUDED.name, EXCLUDED.role, EXCLUDED.unit)
           OR EXCLUDED.phone IS NOT NULL
        RETURNING phone, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		staff.ID,
		staff.Name,
		staff.Role,
		staff.Unit,
		staff.Phone,
	).Scan(&staff.Phone, &staff.CreatedAt, &staff.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unchanged row; nothing was written.
		return nil
	}
	return err
}

func (r *staffRepository) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	const query = `
        SELECT id, name, role, unit, phone, created_at, updated_at
        FROM staff_members WHERE id=$1`

	var staff domain.StaffMember
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&staff.ID,
		&staff.Name,
		&staff.Role,
		&staff.Unit,
		&staff.Phone,
		&staff.CreatedAt,
		&staff.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &staff, nil
}
