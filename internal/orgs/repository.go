package orgs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/currency"

	"github.com/meridian-erp/meridian/internal/shared"
)

// Repository persists tenant settings and journals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSettings loads the settings row for a tenant.
func (r *Repository) GetSettings(ctx context.Context, orgID uuid.UUID) (Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `SELECT org_id, base_currency, retained_earnings_account_id, fiscal_archive_after_years, created_at, updated_at
FROM organization_settings WHERE org_id=$1`, orgID).
		Scan(&s.OrgID, &s.BaseCurrency, &s.RetainedEarningsAccountID, &s.FiscalArchiveAfterYears, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, shared.NotConfigured("organization settings")
		}
		return Settings{}, err
	}
	return s, nil
}

// UpsertSettings writes the settings row, validating the base currency code.
func (r *Repository) UpsertSettings(ctx context.Context, s Settings) error {
	if _, err := currency.ParseISO(s.BaseCurrency); err != nil {
		return errors.New("orgs: base currency must be a valid ISO 4217 code")
	}
	if s.FiscalArchiveAfterYears <= 0 {
		s.FiscalArchiveAfterYears = 7
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO organization_settings (org_id, base_currency, retained_earnings_account_id, fiscal_archive_after_years)
VALUES ($1,$2,$3,$4)
ON CONFLICT (org_id) DO UPDATE SET base_currency=EXCLUDED.base_currency,
  retained_earnings_account_id=EXCLUDED.retained_earnings_account_id,
  fiscal_archive_after_years=EXCLUDED.fiscal_archive_after_years,
  updated_at=NOW()`, s.OrgID, s.BaseCurrency, s.RetainedEarningsAccountID, s.FiscalArchiveAfterYears)
	return err
}

// GetJournalByCode resolves a journal book by its code.
func (r *Repository) GetJournalByCode(ctx context.Context, orgID uuid.UUID, code string) (Journal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	var j Journal
	err := r.pool.QueryRow(ctx, `SELECT id, org_id, code, name, created_at, updated_at
FROM journals WHERE org_id=$1 AND code=$2`, orgID, normalized).
		Scan(&j.ID, &j.OrgID, &j.Code, &j.Name, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, shared.NotConfigured("journal code " + normalized)
		}
		return Journal{}, err
	}
	return j, nil
}

// ListOrgIDs returns every tenant known to the settings table, used by sweeps.
func (r *Repository) ListOrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT org_id FROM organization_settings ORDER BY org_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
