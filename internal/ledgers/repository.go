package ledgers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort abstracts transactional registry behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDefault(ctx context.Context, orgID uuid.UUID) (Ledger, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (Ledger, error)
	List(ctx context.Context, orgID uuid.UUID) ([]Ledger, error)
	ListRules(ctx context.Context, orgID uuid.UUID) ([]MappingRule, error)
}

// TxRepository exposes registry writes inside one transaction.
type TxRepository interface {
	ClearDefault(ctx context.Context, orgID uuid.UUID) error
	InsertLedger(ctx context.Context, l Ledger) (Ledger, error)
	UpdateLedger(ctx context.Context, l Ledger) (Ledger, error)
	GetLedger(ctx context.Context, orgID, id uuid.UUID) (Ledger, error)
	DeleteRulesForPair(ctx context.Context, orgID, sourceLedgerID, targetLedgerID uuid.UUID) error
	InsertRule(ctx context.Context, rule MappingRule) (MappingRule, error)
}

// Repository persists ledgers and mapping rules.
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

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledgers repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const ledgerColumns = `id, org_id, name, description, currency, is_default, is_active, created_at, updated_at`

func scanLedger(row pgx.Row) (Ledger, error) {
	var l Ledger
	err := row.Scan(&l.ID, &l.OrgID, &l.Name, &l.Description, &l.Currency, &l.IsDefault, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, ErrLedgerNotFound
		}
		return Ledger{}, err
	}
	return l, nil
}

// GetDefault loads the tenant's default book of record.
func (r *Repository) GetDefault(ctx context.Context, orgID uuid.UUID) (Ledger, error) {
	l, err := scanLedger(r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND is_default`, orgID))
	if errors.Is(err, ErrLedgerNotFound) {
		return Ledger{}, ErrNoDefaultLedger
	}
	return l, err
}

// Get loads one ledger scoped to a tenant.
func (r *Repository) Get(ctx context.Context, orgID, id uuid.UUID) (Ledger, error) {
	return scanLedger(r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND id=$2`, orgID, id))
}

// List returns the tenant's ledgers.
func (r *Repository) List(ctx context.Context, orgID uuid.UUID) ([]Ledger, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListRules loads every mapping rule of the tenant with conditions attached.
func (r *Repository) ListRules(ctx context.Context, orgID uuid.UUID) ([]MappingRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, source_ledger_id, target_ledger_id, source_account_id, target_account_id, multiplier, created_at, updated_at
FROM ledger_mapping_rules WHERE org_id=$1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []MappingRule
	byID := make(map[uuid.UUID]int)
	for rows.Next() {
		var rule MappingRule
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

	condRows, err := r.pool.Query(ctx, `SELECT c.id, c.rule_id, c.dimension_name, c.operator, c.values
FROM ledger_mapping_rule_conditions c
JOIN ledger_mapping_rules r ON r.id = c.rule_id
WHERE r.org_id=$1`, orgID)
	if err != nil {
		return nil, err
	}
	defer condRows.Close()
	for condRows.Next() {
		var cond RuleCondition
		if err := condRows.Scan(&cond.ID, &cond.RuleID, &cond.DimensionName, &cond.Operator, &cond.Values); err != nil {
			return nil, err
		}
		if idx, ok := byID[cond.RuleID]; ok {
			rules[idx].Conditions = append(rules[idx].Conditions, cond)
		}
	}
	return rules, condRows.Err()
}

func (r *txRepository) ClearDefault(ctx context.Context, orgID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE ledgers SET is_default=FALSE, updated_at=NOW() WHERE org_id=$1 AND is_default`, orgID)
	return err
}

func (r *txRepository) InsertLedger(ctx context.Context, l Ledger) (Ledger, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledgers (id, org_id, name, description, currency, is_default, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at, updated_at`,
		l.ID, l.OrgID, l.Name, l.Description, l.Currency, l.IsDefault, l.IsActive)
	if err := row.Scan(&l.CreatedAt, &l.UpdatedAt); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (r *txRepository) UpdateLedger(ctx context.Context, l Ledger) (Ledger, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledgers SET name=$3, description=$4, currency=$5, is_default=$6, is_active=$7, updated_at=NOW()
WHERE org_id=$1 AND id=$2`, l.OrgID, l.ID, l.Name, l.Description, l.Currency, l.IsDefault, l.IsActive)
	if err != nil {
		return Ledger{}, err
	}
	if cmd.RowsAffected() == 0 {
		return Ledger{}, ErrLedgerNotFound
	}
	return l, nil
}

func (r *txRepository) GetLedger(ctx context.Context, orgID, id uuid.UUID) (Ledger, error) {
	return scanLedger(r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (r *txRepository) DeleteRulesForPair(ctx context.Context, orgID, sourceLedgerID, targetLedgerID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM ledger_mapping_rules WHERE org_id=$1 AND source_ledger_id=$2 AND target_ledger_id=$3`,
		orgID, sourceLedgerID, targetLedgerID)
	return err
}

func (r *txRepository) InsertRule(ctx context.Context, rule MappingRule) (MappingRule, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_mapping_rules (id, org_id, source_ledger_id, target_ledger_id, source_account_id, target_account_id, multiplier)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at, updated_at`,
		rule.ID, rule.OrgID, rule.SourceLedgerID, rule.TargetLedgerID, rule.SourceAccountID, rule.TargetAccountID, rule.Multiplier)
	if err := row.Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return MappingRule{}, err
	}
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		cond.RuleID = rule.ID
		if cond.ID == uuid.Nil {
			cond.ID = uuid.New()
		}
		if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_mapping_rule_conditions (id, rule_id, dimension_name, operator, values)
VALUES ($1,$2,$3,$4,$5)`, cond.ID, cond.RuleID, cond.DimensionName, cond.Operator, cond.Values); err != nil {
			return MappingRule{}, err
		}
	}
	return rule, nil
}
