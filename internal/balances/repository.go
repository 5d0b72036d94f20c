package balances

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts outbox and balance storage for the accumulator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOutboxForEntry(ctx context.Context, entryID uuid.UUID) ([]OutboxRow, error)
	ListOutbox(ctx context.Context, limit int) ([]OutboxRow, error)
	GetBalance(ctx context.Context, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error)
}

// TxRepository applies one outbox row atomically.
type TxRepository interface {
	ClaimMarker(ctx context.Context, entryID, ledgerID, accountID uuid.UUID) (bool, error)
	GetBalance(ctx context.Context, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error)
	InsertBalance(ctx context.Context, b AccountBalance) (bool, error)
	UpdateBalanceVersioned(ctx context.Context, orgID, ledgerID, accountID uuid.UUID, balance decimal.Decimal, expectedVersion int64) (bool, error)
	DeleteOutboxRow(ctx context.Context, id int64) error
}

// ErrBalanceNotFound indicates no balance row exists yet for the pair.
var ErrBalanceNotFound = errors.New("balances: balance not found")

// Repository persists account balances and reads the posting outbox.
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

// WithTx executes fn within a read-committed transaction. The optimistic
// version loop needs to observe concurrent commits between attempts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("balances repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const outboxColumns = `id, entry_id, org_id, ledger_id, account_id, net, created_at`

func scanOutbox(rows pgx.Rows) ([]OutboxRow, error) {
	defer rows.Close()
	var out []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.ID, &row.EntryID, &row.Delta.OrgID, &row.Delta.LedgerID,
			&row.Delta.AccountID, &row.Delta.Net, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListOutboxForEntry loads the queued deltas of one posted entry.
func (r *Repository) ListOutboxForEntry(ctx context.Context, entryID uuid.UUID) ([]OutboxRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+outboxColumns+` FROM balance_outbox WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	return scanOutbox(rows)
}

// ListOutbox loads the oldest queued deltas across all entries, for the
// sweep that catches lost notifications.
func (r *Repository) ListOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+outboxColumns+` FROM balance_outbox ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanOutbox(rows)
}

func getBalance(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error) {
	var b AccountBalance
	err := q.QueryRow(ctx, `SELECT org_id, ledger_id, account_id, balance, version, updated_at
FROM account_balances WHERE org_id=$1 AND ledger_id=$2 AND account_id=$3`, orgID, ledgerID, accountID).
		Scan(&b.OrgID, &b.LedgerID, &b.AccountID, &b.Balance, &b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountBalance{}, ErrBalanceNotFound
	}
	return b, err
}

// GetBalance loads the running balance of one (ledger, account) pair.
func (r *Repository) GetBalance(ctx context.Context, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error) {
	return getBalance(ctx, r.pool, orgID, ledgerID, accountID)
}

// ClaimMarker records that one (entry, ledger, account) delta is being
// applied. Returns false when an earlier delivery already claimed it.
func (r *txRepository) ClaimMarker(ctx context.Context, entryID, ledgerID, accountID uuid.UUID) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `INSERT INTO balance_applied_markers (entry_id, ledger_id, account_id)
VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, entryID, ledgerID, accountID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *txRepository) GetBalance(ctx context.Context, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error) {
	return getBalance(ctx, r.tx, orgID, ledgerID, accountID)
}

// InsertBalance creates the initial balance row. Returns false when a
// concurrent writer got there first.
func (r *txRepository) InsertBalance(ctx context.Context, b AccountBalance) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `INSERT INTO account_balances (org_id, ledger_id, account_id, balance, version)
VALUES ($1,$2,$3,$4,1) ON CONFLICT DO NOTHING`, b.OrgID, b.LedgerID, b.AccountID, b.Balance)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// UpdateBalanceVersioned bumps the balance only when the version still
// matches. Returns false when the row moved underneath us.
func (r *txRepository) UpdateBalanceVersioned(ctx context.Context, orgID, ledgerID, accountID uuid.UUID, balance decimal.Decimal, expectedVersion int64) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE account_balances SET balance=$4, version=version+1, updated_at=NOW()
WHERE org_id=$1 AND ledger_id=$2 AND account_id=$3 AND version=$5`, orgID, ledgerID, accountID, balance, expectedVersion)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *txRepository) DeleteOutboxRow(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM balance_outbox WHERE id=$1`, id)
	return err
}
