package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the chart of accounts. The directory is read-mostly;
// writes happen through configuration flows outside the posting core.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, org_id, code, name, type, nature, parent_id, is_postable, is_blocked_for_posting,
is_multi_currency, effective_from, effective_to, required_dimensions, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Type, &a.Nature, &a.ParentID,
		&a.IsPostable, &a.IsBlockedForPosting, &a.IsMultiCurrency,
		&a.EffectiveFrom, &a.EffectiveTo, &a.RequiredDimensions, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// Get loads a single account scoped to a tenant.
func (r *Repository) Get(ctx context.Context, orgID, id uuid.UUID) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE org_id=$1 AND id=$2`, orgID, id))
}

// List returns the tenant's chart of accounts ordered by code.
func (r *Repository) List(ctx context.Context, orgID uuid.UUID) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE org_id=$1 ORDER BY code`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RequiredDimensions resolves the required dimension names for an account.
func (r *Repository) RequiredDimensions(ctx context.Context, orgID, accountID uuid.UUID) ([]string, error) {
	var dims []string
	err := r.pool.QueryRow(ctx, `SELECT required_dimensions FROM accounts WHERE org_id=$1 AND id=$2`, orgID, accountID).Scan(&dims)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return dims, nil
}
