package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	TypeAsset     AccountType = "ASSET"
	TypeLiability AccountType = "LIABILITY"
	TypeEquity    AccountType = "EQUITY"
	TypeRevenue   AccountType = "REVENUE"
	TypeExpense   AccountType = "EXPENSE"
)

// Nature describes which side increases the account balance.
type Nature string

const (
	NatureDebit  Nature = "DEBIT"
	NatureCredit Nature = "CREDIT"
)

// Account models a chart of accounts node.
type Account struct {
	ID                  uuid.UUID
	OrgID               uuid.UUID
	Code                string
	Name                string
	Type                AccountType
	Nature              Nature
	ParentID            *uuid.UUID
	IsPostable          bool
	IsBlockedForPosting bool
	IsMultiCurrency     bool
	EffectiveFrom       *time.Time
	EffectiveTo         *time.Time
	RequiredDimensions  []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

var (
	// ErrAccountNotFound indicates a referenced account does not exist for the tenant.
	ErrAccountNotFound = errors.New("accounts: account not found")
)

// NotPostableError names the account that rejected a posting.
type NotPostableError struct {
	Code   string
	Name   string
	Reason string
}

func (e *NotPostableError) Error() string {
	return fmt.Sprintf("accounts: account %s (%s) %s", e.Code, e.Name, e.Reason)
}

// EligibleForPosting reports whether posted lines may touch this account on
// the given date. Blocked accounts are a hard stop regardless of other flags.
func (a Account) EligibleForPosting(on time.Time) error {
	if !a.IsPostable {
		return &NotPostableError{Code: a.Code, Name: a.Name, Reason: "does not allow posting"}
	}
	if a.IsBlockedForPosting {
		return &NotPostableError{Code: a.Code, Name: a.Name, Reason: "is blocked for new transactions"}
	}
	if a.EffectiveFrom != nil && on.Before(*a.EffectiveFrom) {
		return &NotPostableError{Code: a.Code, Name: a.Name, Reason: "is not yet effective"}
	}
	if a.EffectiveTo != nil && on.After(*a.EffectiveTo) {
		return &NotPostableError{Code: a.Code, Name: a.Name, Reason: "is no longer effective"}
	}
	return nil
}

// IsTemporary reports whether the account is zeroed at closing.
func (a Account) IsTemporary() bool {
	return a.Type == TypeRevenue || a.Type == TypeExpense
}
