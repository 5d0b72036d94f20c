package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/accounts"
	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/ledgers"
	"github.com/meridian-erp/meridian/internal/orgs"
	"github.com/meridian-erp/meridian/internal/periods"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort abstracts posting storage for the service and test doubles.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error)
	ListDueAutoReversals(ctx context.Context, before time.Time) ([]JournalEntry, error)
}

// TxRepository is everything the posting algorithm touches inside one
// transaction.
type TxRepository interface {
	FindPeriodByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.Period, error)
	FindFiscalYearByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.FiscalYear, error)
	GetSettings(ctx context.Context, orgID uuid.UUID) (orgs.Settings, error)
	GetDefaultLedger(ctx context.Context, orgID uuid.UUID) (ledgers.Ledger, error)
	LoadRules(ctx context.Context, orgID uuid.UUID) ([]ledgers.MappingRule, error)
	LockAccounts(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error)
	InsertEntry(ctx context.Context, entry *JournalEntry) error
	GetEntry(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error)
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status EntryStatus) error
	DeleteEntry(ctx context.Context, orgID, id uuid.UUID) error
	MarkReversed(ctx context.Context, orgID, id, reversalID uuid.UUID) error
	SetModified(ctx context.Context, orgID, id, replacementID uuid.UUID) error
	QueueBalanceDeltas(ctx context.Context, entryID uuid.UUID, deltas []balances.Delta) error
}

// Repository persists journal entries. Posting transactions run serializable;
// serialization failures surface as transient errors for the caller to retry.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction in the posting view.
// The closing orchestrator uses this to post system entries atomically with
// its own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// transient SQLSTATEs: serialization_failure, deadlock_detected,
// lock_not_available.
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

// WithTx executes fn within a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("journal repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return wrapTransient(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapTransient(err)
	}
	return nil
}

const entryColumns = `id, org_id, journal_id, type, status, entry_date, description, reference,
currency_code, exchange_rate, reverses_entry_id, modified_to_entry_id, is_reversed,
reverses_next_period, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.OrgID, &e.JournalID, &e.Type, &e.Status, &e.Date, &e.Description, &e.Reference,
		&e.CurrencyCode, &e.ExchangeRate, &e.ReversesEntryID, &e.ModifiedToEntryID, &e.IsReversed,
		&e.ReversesNextPeriod, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getEntry(ctx context.Context, q querier, orgID, id uuid.UUID) (JournalEntry, error) {
	entry, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		return JournalEntry{}, err
	}

	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, foreign_debit, foreign_credit,
description, dimensions, is_reconciled FROM journal_lines WHERE entry_id=$1 ORDER BY id`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	lineIdx := make(map[uuid.UUID]int)
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &l.ForeignDebit, &l.ForeignCredit,
			&l.Description, &l.Dimensions, &l.IsReconciled); err != nil {
			return JournalEntry{}, err
		}
		lineIdx[l.ID] = len(entry.Lines)
		entry.Lines = append(entry.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return JournalEntry{}, err
	}

	valRows, err := q.Query(ctx, `SELECT v.id, v.line_id, v.ledger_id, v.account_id, v.debit, v.credit
FROM journal_line_valuations v JOIN journal_lines l ON l.id = v.line_id WHERE l.entry_id=$1 ORDER BY v.id`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer valRows.Close()
	for valRows.Next() {
		var v LineValuation
		if err := valRows.Scan(&v.ID, &v.LineID, &v.LedgerID, &v.AccountID, &v.Debit, &v.Credit); err != nil {
			return JournalEntry{}, err
		}
		if idx, ok := lineIdx[v.LineID]; ok {
			entry.Lines[idx].Valuations = append(entry.Lines[idx].Valuations, v)
		}
	}
	return entry, valRows.Err()
}

// GetEntry loads one entry with lines and valuations.
func (r *Repository) GetEntry(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	return getEntry(ctx, r.pool, orgID, id)
}

// ListDueAutoReversals returns posted entries flagged for next-period
// reversal dated before the cutoff. Lines are not loaded; the reversal
// re-reads each entry inside its own transaction.
func (r *Repository) ListDueAutoReversals(ctx context.Context, before time.Time) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE reverses_next_period AND NOT is_reversed AND status='POSTED' AND entry_date < $1 ORDER BY entry_date`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepository) FindPeriodByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, name, start_date, end_date, status,
gl_status, ap_status, ar_status, inventory_status, created_at, updated_at
FROM accounting_periods WHERE org_id=$1 AND start_date<=$2 AND end_date>=$2`, orgID, date).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.StartDate, &p.EndDate, &p.Status,
			&p.ModuleStatus.GL, &p.ModuleStatus.AP, &p.ModuleStatus.AR, &p.ModuleStatus.Inventory,
			&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) FindFiscalYearByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.FiscalYear, error) {
	var fy periods.FiscalYear
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, name, start_date, end_date, status, closing_entry_id, created_at, updated_at
FROM fiscal_years WHERE org_id=$1 AND start_date<=$2 AND end_date>=$2`, orgID, date).
		Scan(&fy.ID, &fy.OrgID, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Status, &fy.ClosingEntryID, &fy.CreatedAt, &fy.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.FiscalYear{}, periods.ErrFiscalYearNotFound
	}
	return fy, err
}

func (r *txRepository) GetSettings(ctx context.Context, orgID uuid.UUID) (orgs.Settings, error) {
	var st orgs.Settings
	err := r.tx.QueryRow(ctx, `SELECT org_id, base_currency, retained_earnings_account_id, fiscal_archive_after_years, created_at, updated_at
FROM organization_settings WHERE org_id=$1`, orgID).
		Scan(&st.OrgID, &st.BaseCurrency, &st.RetainedEarningsAccountID, &st.FiscalArchiveAfterYears, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orgs.Settings{}, shared.NotConfigured("organization settings")
	}
	return st, err
}

func (r *txRepository) GetDefaultLedger(ctx context.Context, orgID uuid.UUID) (ledgers.Ledger, error) {
	var l ledgers.Ledger
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, name, description, currency, is_default, is_active, created_at, updated_at
FROM ledgers WHERE org_id=$1 AND is_default`, orgID).
		Scan(&l.ID, &l.OrgID, &l.Name, &l.Description, &l.Currency, &l.IsDefault, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledgers.Ledger{}, ledgers.ErrNoDefaultLedger
	}
	return l, err
}

func (r *txRepository) LoadRules(ctx context.Context, orgID uuid.UUID) ([]ledgers.MappingRule, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, org_id, source_ledger_id, target_ledger_id, source_account_id, target_account_id, multiplier, created_at, updated_at
FROM ledger_mapping_rules WHERE org_id=$1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []ledgers.MappingRule
	byID := make(map[uuid.UUID]int)
	for rows.Next() {
		var rule ledgers.MappingRule
		if err := rows.Scan(&rule.ID, &rule.OrgID, &rule.SourceLedgerID, &rule.TargetLedgerID,
			&rule.SourceAccountID, &rule.TargetAccountID, &rule.Multiplier, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		byID[rule.ID] = len(rules)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	condRows, err := r.tx.Query(ctx, `SELECT c.id, c.rule_id, c.dimension_name, c.operator, c.values
FROM ledger_mapping_rule_conditions c JOIN ledger_mapping_rules m ON m.id = c.rule_id WHERE m.org_id=$1`, orgID)
	if err != nil {
		return nil, err
	}
	defer condRows.Close()
	for condRows.Next() {
		var cond ledgers.RuleCondition
		if err := condRows.Scan(&cond.ID, &cond.RuleID, &cond.DimensionName, &cond.Operator, &cond.Values); err != nil {
			return nil, err
		}
		if idx, ok := byID[cond.RuleID]; ok {
			rules[idx].Conditions = append(rules[idx].Conditions, cond)
		}
	}
	return rules, condRows.Err()
}

// LockAccounts takes row locks in ascending id order so concurrent postings
// never deadlock on each other.
func (r *txRepository) LockAccounts(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, org_id, code, name, type, nature, parent_id, is_postable, is_blocked_for_posting,
is_multi_currency, effective_from, effective_to, required_dimensions, created_at, updated_at
FROM accounts WHERE org_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]accounts.Account, len(ids))
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Type, &a.Nature, &a.ParentID,
			&a.IsPostable, &a.IsBlockedForPosting, &a.IsMultiCurrency,
			&a.EffectiveFrom, &a.EffectiveTo, &a.RequiredDimensions, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) InsertEntry(ctx context.Context, entry *JournalEntry) error {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(id, org_id, journal_id, type, status, entry_date, description, reference, currency_code, exchange_rate,
 reverses_entry_id, is_reversed, reverses_next_period, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING created_at, updated_at`,
		entry.ID, entry.OrgID, entry.JournalID, entry.Type, entry.Status, entry.Date, entry.Description,
		entry.Reference, entry.CurrencyCode, entry.ExchangeRate, entry.ReversesEntryID, entry.IsReversed,
		entry.ReversesNextPeriod, entry.CreatedBy)
	if err := row.Scan(&entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return err
	}
	for _, line := range entry.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines
(id, entry_id, account_id, debit, credit, foreign_debit, foreign_credit, description, dimensions, is_reconciled)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			line.ID, entry.ID, line.AccountID, line.Debit, line.Credit, line.ForeignDebit, line.ForeignCredit,
			line.Description, line.Dimensions, line.IsReconciled); err != nil {
			return err
		}
		for _, v := range line.Valuations {
			if _, err := r.tx.Exec(ctx, `INSERT INTO journal_line_valuations
(id, line_id, ledger_id, account_id, debit, credit) VALUES ($1,$2,$3,$4,$5,$6)`,
				v.ID, line.ID, v.LedgerID, v.AccountID, v.Debit, v.Credit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *txRepository) GetEntry(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	return getEntry(ctx, r.tx, orgID, id)
}

func (r *txRepository) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status EntryStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, orgID, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE org_id=$1 AND id=$2`, orgID, id)
	return err
}

// MarkReversed flips the reversed flag. The back-link lives on the reversal
// entry itself, so reversalID is only there for test doubles to assert on.
func (r *txRepository) MarkReversed(ctx context.Context, orgID, id, _ uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET is_reversed=TRUE, updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND NOT is_reversed`, orgID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) SetModified(ctx context.Context, orgID, id, replacementID uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='MODIFIED', modified_to_entry_id=$3, updated_at=NOW()
WHERE org_id=$1 AND id=$2`, orgID, id, replacementID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) QueueBalanceDeltas(ctx context.Context, entryID uuid.UUID, deltas []balances.Delta) error {
	for _, d := range deltas {
		if _, err := r.tx.Exec(ctx, `INSERT INTO balance_outbox (entry_id, org_id, ledger_id, account_id, net)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (entry_id, ledger_id, account_id) DO NOTHING`,
			entryID, d.OrgID, d.LedgerID, d.AccountID, d.Net); err != nil {
			return err
		}
	}
	return nil
}
