package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/hiccup-service/internal/domain"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

// SystemTokenRepository manages internal caller credentials.
type SystemTokenRepository interface {
	Create(ctx context.Context, token *domain.SystemToken) error
	GetByID(ctx context.Context, id string) (*domain.SystemToken, error)
}

type systemTokenRepository struct {
	pool *pgxpool.Pool
}

// NewSystemTokenRepository constructs repository.
func NewSystemTokenRepository(pool *pgxpool.Pool) SystemTokenRepository {
	return &systemTokenRepository{pool: pool}
}

func (r *systemTokenRepository) Create(ctx context.Context, token *domain.SystemToken) error {
	const query = `
        INSERT INTO system_tokens (id, secret_hash, description, active)
        VALUES ($1,$2,$3,$4)
        RETURNING created_at`
	err := r.pool.QueryRow(ctx, query,
		token.ID,
		token.SecretHash,
		token.Description,
		token.Active,
	).Scan(&token.CreatedAt)
	if apperrors.IsUniqueViolation(err) {
		return fmt.Errorf("system token %s: %w", token.ID, ErrDuplicate)
	}
	return err
}

func (r *systemTokenRepository) GetByID(ctx context.Context, id string) (*domain.SystemToken, error) {
	const query = `
        SELECT id, secret_hash, description, active, created_at
        FROM system_tokens WHERE id=$1`
	var token domain.SystemToken
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&token.ID,
		&token.SecretHash,
		&token.Description,
		&token.Active,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}
