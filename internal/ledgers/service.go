package ledgers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Service maintains the ledger registry and its mapping table.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the registry service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// CreateLedgerInput carries fields for registering a new book of record.
type CreateLedgerInput struct {
	OrgID       uuid.UUID
	Name        string
	Description string
	Currency    string
	IsDefault   bool
}

// Validate checks registry invariants that need no storage access.
func (in CreateLedgerInput) Validate() error {
	if in.OrgID == uuid.Nil {
		return errors.New("ledgers: org id required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("ledgers: name required")
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return ErrInvalidCurrency
	}
	return nil
}

// CreateLedger registers a ledger. When the new ledger is flagged default,
// any prior default is cleared in the same transaction so exactly one
// default exists per tenant.
func (s *Service) CreateLedger(ctx context.Context, in CreateLedgerInput) (Ledger, error) {
	if err := in.Validate(); err != nil {
		return Ledger{}, err
	}
	ledger := Ledger{
		ID:          uuid.New(),
		OrgID:       in.OrgID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Currency:    strings.ToUpper(in.Currency),
		IsDefault:   in.IsDefault,
		IsActive:    true,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if ledger.IsDefault {
			if err := tx.ClearDefault(ctx, in.OrgID); err != nil {
				return err
			}
		}
		var e error
		ledger, e = tx.InsertLedger(ctx, ledger)
		return e
	})
	if err != nil {
		return Ledger{}, err
	}
	return ledger, nil
}

// UpdateLedgerInput carries mutable ledger fields.
type UpdateLedgerInput struct {
	OrgID       uuid.UUID
	LedgerID    uuid.UUID
	Name        string
	Description string
	Currency    string
	IsDefault   bool
	IsActive    bool
}

// UpdateLedger mutates a ledger, preserving the single-default invariant.
func (s *Service) UpdateLedger(ctx context.Context, in UpdateLedgerInput) (Ledger, error) {
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return Ledger{}, ErrInvalidCurrency
	}
	var updated Ledger
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLedger(ctx, in.OrgID, in.LedgerID)
		if err != nil {
			return err
		}
		if in.IsDefault && !current.IsDefault {
			if err := tx.ClearDefault(ctx, in.OrgID); err != nil {
				return err
			}
		}
		current.Name = strings.TrimSpace(in.Name)
		current.Description = in.Description
		current.Currency = strings.ToUpper(in.Currency)
		current.IsDefault = in.IsDefault
		current.IsActive = in.IsActive
		updated, err = tx.UpdateLedger(ctx, current)
		return err
	})
	if err != nil {
		return Ledger{}, err
	}
	return updated, nil
}

// Default resolves the tenant's default ledger.
func (s *Service) Default(ctx context.Context, orgID uuid.UUID) (Ledger, error) {
	return s.repo.GetDefault(ctx, orgID)
}

// List returns the tenant's ledgers.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Ledger, error) {
	return s.repo.List(ctx, orgID)
}

// MappingInput is one rule of a ReplaceMappings batch.
type MappingInput struct {
	SourceAccountID uuid.UUID
	TargetAccountID uuid.UUID
	Multiplier      decimal.Decimal
	Conditions      []RuleCondition
}

// ReplaceMappingsInput rewrites the rule set for one ledger pair.
type ReplaceMappingsInput struct {
	OrgID          uuid.UUID
	SourceLedgerID uuid.UUID
	TargetLedgerID uuid.UUID
	Mappings       []MappingInput
}

// ReplaceMappings transactionally swaps the rules for a (source, target)
// ledger pair: existing rules are deleted and the supplied set inserted.
func (s *Service) ReplaceMappings(ctx context.Context, in ReplaceMappingsInput) (int, error) {
	if in.SourceLedgerID == in.TargetLedgerID {
		return 0, errors.New("ledgers: source and target ledger must differ")
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Mappings))
	for _, m := range in.Mappings {
		if _, dup := seen[m.SourceAccountID]; dup {
			return 0, errors.New("ledgers: duplicate source account in mapping batch")
		}
		seen[m.SourceAccountID] = struct{}{}
		if m.Multiplier.Sign() == 0 {
			return 0, errors.New("ledgers: mapping multiplier must be non-zero")
		}
		for _, cond := range m.Conditions {
			switch cond.Operator {
			case OperatorEquals, OperatorNotEquals, OperatorIn:
			default:
				return 0, ErrUnknownOperator
			}
		}
	}
	created := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetLedger(ctx, in.OrgID, in.SourceLedgerID); err != nil {
			return err
		}
		if _, err := tx.GetLedger(ctx, in.OrgID, in.TargetLedgerID); err != nil {
			return err
		}
		if err := tx.DeleteRulesForPair(ctx, in.OrgID, in.SourceLedgerID, in.TargetLedgerID); err != nil {
			return err
		}
		for _, m := range in.Mappings {
			rule := MappingRule{
				ID:              uuid.New(),
				OrgID:           in.OrgID,
				SourceLedgerID:  in.SourceLedgerID,
				TargetLedgerID:  in.TargetLedgerID,
				SourceAccountID: m.SourceAccountID,
				TargetAccountID: m.TargetAccountID,
				Multiplier:      m.Multiplier,
				Conditions:      m.Conditions,
			}
			if _, err := tx.InsertRule(ctx, rule); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// LoadRuleSet loads and indexes every mapping rule of the tenant.
func (s *Service) LoadRuleSet(ctx context.Context, orgID uuid.UUID) (*RuleSet, error) {
	rules, err := s.repo.ListRules(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(rules), nil
}
