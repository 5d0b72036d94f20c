package balances

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Delta is the signed balance movement one posted entry causes on one
// account within one ledger. Net is debit minus credit.
type Delta struct {
	OrgID     uuid.UUID
	LedgerID  uuid.UUID
	AccountID uuid.UUID
	Net       decimal.Decimal
}

// OutboxRow is a queued delta written in the same transaction as its entry.
type OutboxRow struct {
	ID        int64
	EntryID   uuid.UUID
	Delta     Delta
	CreatedAt time.Time
}

// AccountBalance is the running per-ledger balance of one account. Version
// guards concurrent application with optimistic retries.
type AccountBalance struct {
	OrgID     uuid.UUID
	LedgerID  uuid.UUID
	AccountID uuid.UUID
	Balance   decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// ErrVersionConflict signals an optimistic update that lost the race and
// should be retried after a re-read.
var ErrVersionConflict = errors.New("balances: version conflict")

// Aggregate folds per-valuation movements into one delta per
// (ledger, account) pair. Zero nets are dropped.
func Aggregate(orgID uuid.UUID, movements []Delta) []Delta {
	type key struct {
		ledger  uuid.UUID
		account uuid.UUID
	}
	sums := make(map[key]decimal.Decimal)
	var order []key
	for _, m := range movements {
		k := key{ledger: m.LedgerID, account: m.AccountID}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(m.Net)
	}
	out := make([]Delta, 0, len(order))
	for _, k := range order {
		if sums[k].IsZero() {
			continue
		}
		out = append(out, Delta{OrgID: orgID, LedgerID: k.ledger, AccountID: k.account, Net: sums[k]})
	}
	return out
}
