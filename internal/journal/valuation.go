package journal

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/ledgers"
)

// deriveValuations produces the per-ledger valuations of one line.
//
// Caller-supplied valuations are kept as given. A default-ledger valuation
// is synthesized from the line's base amounts when the caller did not supply
// one. Mapping rules then derive further valuations from the initial set in
// a single hop: derived valuations never feed another rule, and a ledger
// already holding a valuation is never overwritten (first writer wins).
func deriveValuations(line LineInput, baseDebit, baseCredit decimal.Decimal, defaultLedgerID uuid.UUID, rules *ledgers.RuleSet) ([]LineValuation, error) {
	seen := make(map[uuid.UUID]struct{}, len(line.Valuations)+1)
	out := make([]LineValuation, 0, len(line.Valuations)+1)

	for _, v := range line.Valuations {
		accountID := v.AccountID
		if accountID == uuid.Nil {
			accountID = line.AccountID
		}
		out = append(out, LineValuation{
			ID:        uuid.New(),
			LedgerID:  v.LedgerID,
			AccountID: accountID,
			Debit:     v.Debit,
			Credit:    v.Credit,
		})
		seen[v.LedgerID] = struct{}{}
	}

	if _, ok := seen[defaultLedgerID]; !ok {
		out = append(out, LineValuation{
			ID:        uuid.New(),
			LedgerID:  defaultLedgerID,
			AccountID: line.AccountID,
			Debit:     baseDebit,
			Credit:    baseCredit,
		})
		seen[defaultLedgerID] = struct{}{}
	}

	// Snapshot the sources so derived valuations stay single-hop.
	sources := make([]LineValuation, len(out))
	copy(sources, out)

	for _, src := range sources {
		for _, rule := range rules.For(src.LedgerID, src.AccountID) {
			if _, taken := seen[rule.TargetLedgerID]; taken {
				continue
			}
			applies, err := rule.Applies(line.Dimensions)
			if err != nil {
				return nil, err
			}
			if !applies {
				continue
			}
			debit := src.Debit.Mul(rule.Multiplier).Round(2)
			credit := src.Credit.Mul(rule.Multiplier).Round(2)
			// A negative multiplier flips the side rather than
			// producing negative amounts.
			if rule.Multiplier.IsNegative() {
				debit, credit = credit.Neg(), debit.Neg()
			}
			out = append(out, LineValuation{
				ID:        uuid.New(),
				LedgerID:  rule.TargetLedgerID,
				AccountID: rule.TargetAccountID,
				Debit:     debit,
				Credit:    credit,
			})
			seen[rule.TargetLedgerID] = struct{}{}
		}
	}
	return out, nil
}
