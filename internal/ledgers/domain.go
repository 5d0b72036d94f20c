package ledgers

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is a tenant-scoped book of record carrying its own valuation basis.
type Ledger struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Name        string
	Description string
	Currency    string
	IsDefault   bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConditionOperator enumerates the closed set of dimension comparisons.
type ConditionOperator string

const (
	OperatorEquals    ConditionOperator = "EQUALS"
	OperatorNotEquals ConditionOperator = "NOT_EQUALS"
	OperatorIn        ConditionOperator = "IN"
)

// RuleCondition gates a mapping rule on a line dimension value.
type RuleCondition struct {
	ID            uuid.UUID
	RuleID        uuid.UUID
	DimensionName string
	Operator      ConditionOperator
	Values        []string
}

// MappingRule derives a valuation on a target ledger from a source valuation.
// Unique per (source ledger, target ledger, source account).
type MappingRule struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	SourceLedgerID  uuid.UUID
	TargetLedgerID  uuid.UUID
	SourceAccountID uuid.UUID
	TargetAccountID uuid.UUID
	Multiplier      decimal.Decimal
	Conditions      []RuleCondition
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	// ErrLedgerNotFound indicates a missing ledger.
	ErrLedgerNotFound = errors.New("ledgers: ledger not found")
	// ErrNoDefaultLedger indicates the tenant has no default book configured.
	ErrNoDefaultLedger = errors.New("ledgers: no default ledger configured")
	// ErrInvalidCurrency indicates a non ISO 4217 currency code.
	ErrInvalidCurrency = errors.New("ledgers: currency must be a valid ISO 4217 code")
	// ErrUnknownOperator indicates a condition operator outside the closed set.
	ErrUnknownOperator = errors.New("ledgers: unknown condition operator")
)

// Matches evaluates the condition against a line's dimension map. An absent
// dimension only satisfies NOT_EQUALS.
func (c RuleCondition) Matches(dimensions map[string]string) (bool, error) {
	value, present := dimensions[c.DimensionName]
	switch c.Operator {
	case OperatorEquals:
		return present && len(c.Values) > 0 && value == c.Values[0], nil
	case OperatorNotEquals:
		if !present {
			return true, nil
		}
		return len(c.Values) == 0 || value != c.Values[0], nil
	case OperatorIn:
		if !present {
			return false, nil
		}
		for _, v := range c.Values {
			if v == value {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, ErrUnknownOperator
	}
}

// Applies reports whether every condition on the rule matches the dimensions.
func (r MappingRule) Applies(dimensions map[string]string) (bool, error) {
	for _, cond := range r.Conditions {
		ok, err := cond.Matches(dimensions)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

type sourceKey struct {
	LedgerID  uuid.UUID
	AccountID uuid.UUID
}

// RuleSet indexes a tenant's mapping rules by (source ledger, source account)
// so the posting engine resolves candidates in O(1) per line valuation.
type RuleSet struct {
	bySource map[sourceKey][]MappingRule
}

// NewRuleSet builds the index from a flat rule list.
func NewRuleSet(rules []MappingRule) *RuleSet {
	set := &RuleSet{bySource: make(map[sourceKey][]MappingRule, len(rules))}
	for _, rule := range rules {
		key := sourceKey{LedgerID: rule.SourceLedgerID, AccountID: rule.SourceAccountID}
		set.bySource[key] = append(set.bySource[key], rule)
	}
	return set
}

// For returns the rules keyed by the given source ledger and account.
func (s *RuleSet) For(ledgerID, accountID uuid.UUID) []MappingRule {
	if s == nil {
		return nil
	}
	return s.bySource[sourceKey{LedgerID: ledgerID, AccountID: accountID}]
}

// Len reports the number of indexed source keys.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.bySource)
}

// Rules flattens the index back into a stable rule list ordered by source
// ledger, source account, then rule id.
func (s *RuleSet) Rules() []MappingRule {
	if s == nil {
		return nil
	}
	var out []MappingRule
	for _, rules := range s.bySource {
		out = append(out, rules...)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].SourceLedgerID[:], out[j].SourceLedgerID[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(out[i].SourceAccountID[:], out[j].SourceAccountID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
