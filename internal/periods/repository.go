package periods

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort abstracts period and fiscal-year storage for the service
// and for test doubles.
type RepositoryPort interface {
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	FindPeriodByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (Period, error)
	FindPeriodAfter(ctx context.Context, orgID uuid.UUID, endDate time.Time) (Period, error)
	ListPeriods(ctx context.Context, orgID uuid.UUID) ([]Period, error)
	CountOverlappingPeriods(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int, error)
	UpdateModuleStatus(ctx context.Context, orgID, id uuid.UUID, ms ModuleStatus) error

	InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error)
	GetFiscalYear(ctx context.Context, orgID, id uuid.UUID) (FiscalYear, error)
	FindFiscalYearByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (FiscalYear, error)
	CountOverlappingFiscalYears(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int, error)
}

// Repository persists periods and fiscal years. Status flips that belong to
// a closing run happen through the closing package's transaction, not here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const periodColumns = `id, org_id, name, start_date, end_date, status,
gl_status, ap_status, ar_status, inventory_status, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.StartDate, &p.EndDate, &p.Status,
		&p.ModuleStatus.GL, &p.ModuleStatus.AP, &p.ModuleStatus.AR, &p.ModuleStatus.Inventory,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// InsertPeriod stores a new period.
func (r *Repository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO accounting_periods
(id, org_id, name, start_date, end_date, status, gl_status, ap_status, ar_status, inventory_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING created_at, updated_at`,
		p.ID, p.OrgID, p.Name, p.StartDate, p.EndDate, p.Status,
		p.ModuleStatus.GL, p.ModuleStatus.AP, p.ModuleStatus.AR, p.ModuleStatus.Inventory)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	return p, nil
}

// GetPeriod loads one period scoped to a tenant.
func (r *Repository) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE org_id=$1 AND id=$2`, orgID, id))
}

// FindPeriodByDate resolves the period containing the date.
func (r *Repository) FindPeriodByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE org_id=$1 AND start_date<=$2 AND end_date>=$2`, orgID, date))
}

// FindPeriodAfter resolves the earliest period starting after the given end
// date. Used to build the next period's opening entry.
func (r *Repository) FindPeriodAfter(ctx context.Context, orgID uuid.UUID, endDate time.Time) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE org_id=$1 AND start_date>$2 ORDER BY start_date LIMIT 1`, orgID, endDate))
}

// ListPeriods returns the tenant's periods ordered by start date.
func (r *Repository) ListPeriods(ctx context.Context, orgID uuid.UUID) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE org_id=$1 ORDER BY start_date`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountOverlappingPeriods counts periods intersecting [start, end].
func (r *Repository) CountOverlappingPeriods(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounting_periods
WHERE org_id=$1 AND start_date<=$3 AND end_date>=$2`, orgID, start, end).Scan(&n)
	return n, err
}

// UpdateModuleStatus persists the per-module close state of a period.
func (r *Repository) UpdateModuleStatus(ctx context.Context, orgID, id uuid.UUID, ms ModuleStatus) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounting_periods
SET gl_status=$3, ap_status=$4, ar_status=$5, inventory_status=$6, updated_at=NOW()
WHERE org_id=$1 AND id=$2`, orgID, id, ms.GL, ms.AP, ms.AR, ms.Inventory)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

const fiscalYearColumns = `id, org_id, name, start_date, end_date, status, closing_entry_id, created_at, updated_at`

func scanFiscalYear(row pgx.Row) (FiscalYear, error) {
	var fy FiscalYear
	err := row.Scan(&fy.ID, &fy.OrgID, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Status,
		&fy.ClosingEntryID, &fy.CreatedAt, &fy.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalYear{}, ErrFiscalYearNotFound
		}
		return FiscalYear{}, err
	}
	return fy, nil
}

// InsertFiscalYear stores a new fiscal year.
func (r *Repository) InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO fiscal_years (id, org_id, name, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at, updated_at`,
		fy.ID, fy.OrgID, fy.Name, fy.StartDate, fy.EndDate, fy.Status)
	if err := row.Scan(&fy.CreatedAt, &fy.UpdatedAt); err != nil {
		return FiscalYear{}, err
	}
	return fy, nil
}

// GetFiscalYear loads one fiscal year scoped to a tenant.
func (r *Repository) GetFiscalYear(ctx context.Context, orgID, id uuid.UUID) (FiscalYear, error) {
	return scanFiscalYear(r.pool.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE org_id=$1 AND id=$2`, orgID, id))
}

// FindFiscalYearByDate resolves the fiscal year containing the date.
func (r *Repository) FindFiscalYearByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (FiscalYear, error) {
	return scanFiscalYear(r.pool.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years
WHERE org_id=$1 AND start_date<=$2 AND end_date>=$2`, orgID, date))
}

// CountOverlappingFiscalYears counts fiscal years intersecting [start, end].
func (r *Repository) CountOverlappingFiscalYears(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fiscal_years
WHERE org_id=$1 AND start_date<=$3 AND end_date>=$2`, orgID, start, end).Scan(&n)
	return n, err
}
