package closing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/journal"
	"github.com/meridian-erp/meridian/internal/orgs"
	"github.com/meridian-erp/meridian/internal/periods"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort abstracts closing storage for the service and test doubles.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindPeriodByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.Period, error)
	LockedAccountIDs(ctx context.Context, orgID, periodID uuid.UUID) ([]uuid.UUID, error)
	InsertAccountLock(ctx context.Context, lock AccountPeriodLock) error
	DeleteAccountLock(ctx context.Context, orgID, accountID, periodID uuid.UUID) error
	ListArchivableFiscalYears(ctx context.Context, orgID uuid.UUID, before time.Time) ([]periods.FiscalYear, error)
	LockFiscalYear(ctx context.Context, orgID, yearID uuid.UUID) error
}

// TxRepository is the closing orchestrator's view of one transaction. The
// embedded journal transaction lets system entries post atomically with the
// period state change.
type TxRepository interface {
	Journal() journal.TxRepository

	GetPeriodForUpdate(ctx context.Context, orgID, id uuid.UUID) (periods.Period, error)
	UpdatePeriodStatus(ctx context.Context, orgID, id uuid.UUID, status periods.Status) error
	FindPeriodAfter(ctx context.Context, orgID uuid.UUID, endDate time.Time) (periods.Period, error)
	CountUnposted(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int, error)
	GetJournalByCode(ctx context.Context, orgID uuid.UUID, code string) (orgs.Journal, error)
	TemporaryBalances(ctx context.Context, orgID, ledgerID uuid.UUID, asOf time.Time) ([]AccountBalanceLine, error)
	BalanceSheetBalances(ctx context.Context, orgID, ledgerID uuid.UUID, asOf time.Time) ([]AccountBalanceLine, error)
	FindActiveEntryID(ctx context.Context, orgID uuid.UUID, entryType journal.EntryType, date time.Time) (uuid.UUID, error)

	GetFiscalYearForUpdate(ctx context.Context, orgID, id uuid.UUID) (periods.FiscalYear, error)
	UpdateFiscalYear(ctx context.Context, orgID, id uuid.UUID, status periods.Status, closingEntryID *uuid.UUID) error
	ListOpenPeriodsInRange(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]periods.Period, error)
	InsertFiscalYear(ctx context.Context, fy periods.FiscalYear) (periods.FiscalYear, error)
}

// Repository persists closing state. Closing transactions run serializable
// because they post through the engine.
type Repository struct {
	pool        *pgxpool.Pool
	journalRepo *journal.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, journalRepo: journal.NewRepository(pool)}
}

type txRepository struct {
	tx pgx.Tx
	jr journal.TxRepository
}

func wrapTransient(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return shared.Transient(err)
		}
	}
	return err
}

// WithTx executes fn within a serializable transaction whose journal view
// shares the same underlying connection.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("closing repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	wrapped := &txRepository{tx: tx, jr: journal.NewTxRepository(tx)}
	if err := fn(ctx, wrapped); err != nil {
		_ = tx.Rollback(ctx)
		return wrapTransient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapTransient(err)
	}
	return nil
}

func (r *txRepository) Journal() journal.TxRepository {
	return r.jr
}

const periodColumns = `id, org_id, name, start_date, end_date, status,
gl_status, ap_status, ar_status, inventory_status, created_at, updated_at`

func scanPeriod(row pgx.Row) (periods.Period, error) {
	var p periods.Period
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.StartDate, &p.EndDate, &p.Status,
		&p.ModuleStatus.GL, &p.ModuleStatus.AP, &p.ModuleStatus.AR, &p.ModuleStatus.Inventory,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return p, err
}

// FindPeriodByDate resolves the period containing the date, outside any
// transaction. Used by the account-lock guard.
func (r *Repository) FindPeriodByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE org_id=$1 AND start_date<=$2 AND end_date>=$2`, orgID, date))
}

// LockedAccountIDs returns the accounts locked for one period.
func (r *Repository) LockedAccountIDs(ctx context.Context, orgID, periodID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id FROM account_period_locks WHERE org_id=$1 AND period_id=$2`, orgID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// InsertAccountLock stores a lock; a duplicate pair is rejected.
func (r *Repository) InsertAccountLock(ctx context.Context, lock AccountPeriodLock) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO account_period_locks (org_id, account_id, period_id, locked_by)
VALUES ($1,$2,$3,$4)`, lock.OrgID, lock.AccountID, lock.PeriodID, lock.LockedBy)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrLockExists
	}
	return err
}

// DeleteAccountLock removes a lock.
func (r *Repository) DeleteAccountLock(ctx context.Context, orgID, accountID, periodID uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM account_period_locks WHERE org_id=$1 AND account_id=$2 AND period_id=$3`,
		orgID, accountID, periodID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLockNotFound
	}
	return nil
}

const fiscalYearColumns = `id, org_id, name, start_date, end_date, status, closing_entry_id, created_at, updated_at`

func scanFiscalYear(row pgx.Row) (periods.FiscalYear, error) {
	var fy periods.FiscalYear
	err := row.Scan(&fy.ID, &fy.OrgID, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Status,
		&fy.ClosingEntryID, &fy.CreatedAt, &fy.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.FiscalYear{}, periods.ErrFiscalYearNotFound
	}
	return fy, err
}

// ListArchivableFiscalYears returns closed years ending before the cutoff.
func (r *Repository) ListArchivableFiscalYears(ctx context.Context, orgID uuid.UUID, before time.Time) ([]periods.FiscalYear, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years
WHERE org_id=$1 AND status='CLOSED' AND end_date < $2 ORDER BY end_date`, orgID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []periods.FiscalYear
	for rows.Next() {
		fy, err := scanFiscalYear(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fy)
	}
	return out, rows.Err()
}

// LockFiscalYear archives a closed year. A year that is not CLOSED is left
// untouched.
func (r *Repository) LockFiscalYear(ctx context.Context, orgID, yearID uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE fiscal_years SET status='LOCKED', updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND status='CLOSED'`, orgID, yearID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return periods.ErrInvalidTransition
	}
	return nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, orgID, id uuid.UUID) (periods.Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, orgID, id uuid.UUID, status periods.Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`,
		orgID, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return periods.ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) FindPeriodAfter(ctx context.Context, orgID uuid.UUID, endDate time.Time) (periods.Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE org_id=$1 AND start_date>$2 ORDER BY start_date LIMIT 1`, orgID, endDate))
}

func (r *txRepository) CountUnposted(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries
WHERE org_id=$1 AND entry_date BETWEEN $2 AND $3 AND status IN ('DRAFT','PENDING_APPROVAL')`, orgID, start, end).Scan(&n)
	return n, err
}

func (r *txRepository) GetJournalByCode(ctx context.Context, orgID uuid.UUID, code string) (orgs.Journal, error) {
	var j orgs.Journal
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, code, name, created_at, updated_at
FROM journals WHERE org_id=$1 AND code=$2`, orgID, code).
		Scan(&j.ID, &j.OrgID, &j.Code, &j.Name, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orgs.Journal{}, shared.NotConfigured("journal code " + code)
	}
	return j, err
}

// balancesByType sums posted valuations per account up to a date, filtered
// by account type. Balances are computed from the valuations themselves so
// entries posted earlier in this transaction are included.
func (r *txRepository) balancesByType(ctx context.Context, orgID, ledgerID uuid.UUID, asOf time.Time, types []string) ([]AccountBalanceLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT v.account_id, SUM(v.debit - v.credit) AS net
FROM journal_line_valuations v
JOIN journal_lines l ON l.id = v.line_id
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = v.account_id
WHERE e.org_id=$1 AND v.ledger_id=$2 AND e.entry_date<=$3
  AND e.status IN ('POSTED','MODIFIED') AND a.type = ANY($4)
GROUP BY v.account_id
HAVING SUM(v.debit - v.credit) <> 0
ORDER BY v.account_id`, orgID, ledgerID, asOf, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalanceLine
	for rows.Next() {
		var line AccountBalanceLine
		if err := rows.Scan(&line.AccountID, &line.Net); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (r *txRepository) TemporaryBalances(ctx context.Context, orgID, ledgerID uuid.UUID, asOf time.Time) ([]AccountBalanceLine, error) {
	return r.balancesByType(ctx, orgID, ledgerID, asOf, []string{"REVENUE", "EXPENSE"})
}

func (r *txRepository) BalanceSheetBalances(ctx context.Context, orgID, ledgerID uuid.UUID, asOf time.Time) ([]AccountBalanceLine, error) {
	return r.balancesByType(ctx, orgID, ledgerID, asOf, []string{"ASSET", "LIABILITY", "EQUITY"})
}

// FindActiveEntryID locates the not-yet-reversed system entry of one type on
// an exact date. Reopen uses this to find what to unwind.
func (r *txRepository) FindActiveEntryID(ctx context.Context, orgID uuid.UUID, entryType journal.EntryType, date time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.tx.QueryRow(ctx, `SELECT id FROM journal_entries
WHERE org_id=$1 AND type=$2 AND entry_date=$3 AND status='POSTED' AND NOT is_reversed
ORDER BY created_at DESC LIMIT 1`, orgID, entryType, date).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, journal.ErrEntryNotFound
	}
	return id, err
}

func (r *txRepository) GetFiscalYearForUpdate(ctx context.Context, orgID, id uuid.UUID) (periods.FiscalYear, error) {
	return scanFiscalYear(r.tx.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years
WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (r *txRepository) UpdateFiscalYear(ctx context.Context, orgID, id uuid.UUID, status periods.Status, closingEntryID *uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET status=$3, closing_entry_id=$4, updated_at=NOW()
WHERE org_id=$1 AND id=$2`, orgID, id, status, closingEntryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return periods.ErrFiscalYearNotFound
	}
	return nil
}

func (r *txRepository) ListOpenPeriodsInRange(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]periods.Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE org_id=$1 AND start_date>=$2 AND end_date<=$3 AND status='OPEN' ORDER BY start_date`, orgID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []periods.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertFiscalYear(ctx context.Context, fy periods.FiscalYear) (periods.FiscalYear, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (id, org_id, name, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at, updated_at`,
		fy.ID, fy.OrgID, fy.Name, fy.StartDate, fy.EndDate, fy.Status)
	if err := row.Scan(&fy.CreatedAt, &fy.UpdatedAt); err != nil {
		return periods.FiscalYear{}, err
	}
	return fy, nil
}
