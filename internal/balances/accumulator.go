package balances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/shared"
)

// maxApplyAttempts bounds the optimistic version loop per outbox row.
const maxApplyAttempts = 5

// Accumulator drains the posting outbox into running account balances.
// Application is idempotent per (entry, ledger, account) and safe under
// concurrent workers through per-row version checks.
type Accumulator struct {
	repo RepositoryPort
	log  *slog.Logger
}

// NewAccumulator constructs the accumulator.
func NewAccumulator(repo RepositoryPort, log *slog.Logger) *Accumulator {
	if log == nil {
		log = slog.Default()
	}
	return &Accumulator{repo: repo, log: log}
}

// ApplyEntry applies every queued delta of one posted entry. Called from the
// task handler that reacts to post-commit notifications.
func (a *Accumulator) ApplyEntry(ctx context.Context, entryID uuid.UUID) error {
	rows, err := a.repo.ListOutboxForEntry(ctx, entryID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := a.applyRow(ctx, row); err != nil {
			return fmt.Errorf("apply delta for entry %s account %s: %w", row.EntryID, row.Delta.AccountID, err)
		}
	}
	return nil
}

// SweepOutbox applies up to limit queued deltas regardless of origin entry.
// It exists for notifications that never arrived; failures are isolated per
// row so one poisoned delta does not stall the backlog.
func (a *Accumulator) SweepOutbox(ctx context.Context, limit int) (int, error) {
	rows, err := a.repo.ListOutbox(ctx, limit)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, row := range rows {
		if err := a.applyRow(ctx, row); err != nil {
			a.log.Error("outbox apply failed", "outbox_id", row.ID, "entry_id", row.EntryID, "err", err)
			continue
		}
		applied++
	}
	return applied, nil
}

// Balance returns the running balance of one (ledger, account) pair.
func (a *Accumulator) Balance(ctx context.Context, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error) {
	return a.repo.GetBalance(ctx, orgID, ledgerID, accountID)
}

func (a *Accumulator) applyRow(ctx context.Context, row OutboxRow) error {
	return a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		claimed, err := tx.ClaimMarker(ctx, row.EntryID, row.Delta.LedgerID, row.Delta.AccountID)
		if err != nil {
			return err
		}
		if !claimed {
			// A previous delivery applied this delta; only the
			// outbox row is left to clean up.
			return tx.DeleteOutboxRow(ctx, row.ID)
		}
		for attempt := 0; attempt < maxApplyAttempts; attempt++ {
			current, err := tx.GetBalance(ctx, row.Delta.OrgID, row.Delta.LedgerID, row.Delta.AccountID)
			if err != nil {
				if !errors.Is(err, ErrBalanceNotFound) {
					return err
				}
				inserted, err := tx.InsertBalance(ctx, AccountBalance{
					OrgID:     row.Delta.OrgID,
					LedgerID:  row.Delta.LedgerID,
					AccountID: row.Delta.AccountID,
					Balance:   row.Delta.Net,
				})
				if err != nil {
					return err
				}
				if inserted {
					return tx.DeleteOutboxRow(ctx, row.ID)
				}
				continue
			}
			ok, err := tx.UpdateBalanceVersioned(ctx, current.OrgID, current.LedgerID, current.AccountID,
				current.Balance.Add(row.Delta.Net), current.Version)
			if err != nil {
				return err
			}
			if ok {
				return tx.DeleteOutboxRow(ctx, row.ID)
			}
		}
		return shared.Transient(ErrVersionConflict)
	})
}
