package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryStatus enumerates the journal entry lifecycle.
type EntryStatus string

const (
	StatusDraft           EntryStatus = "DRAFT"
	StatusPendingApproval EntryStatus = "PENDING_APPROVAL"
	StatusPosted          EntryStatus = "POSTED"
	StatusModified        EntryStatus = "MODIFIED"
	StatusVoid            EntryStatus = "VOID"
	StatusRejected        EntryStatus = "REJECTED"
)

// EntryType distinguishes user postings from system-generated ones.
type EntryType string

const (
	TypeManual          EntryType = "MANUAL"
	TypeClosingEntry    EntryType = "CLOSING_ENTRY"
	TypeOpeningBalance  EntryType = "OPENING_BALANCE"
	TypeSystem          EntryType = "SYSTEM"
	TypeAuditAdjustment EntryType = "AUDIT_ADJUSTMENT"
)

// JournalEntry is the posted (or pending) document. Reversal and
// modification links are unidirectional: the newer entry points back.
type JournalEntry struct {
	ID                 uuid.UUID
	OrgID              uuid.UUID
	JournalID          *uuid.UUID
	Type               EntryType
	Status             EntryStatus
	Date               time.Time
	Description        string
	Reference          string
	CurrencyCode       string
	ExchangeRate       decimal.Decimal
	ReversesEntryID    *uuid.UUID
	ModifiedToEntryID  *uuid.UUID
	IsReversed         bool
	ReversesNextPeriod bool
	CreatedBy          uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Lines              []JournalLine
}

// JournalLine is one leg of an entry. Debit and Credit are base-currency
// amounts; the foreign pair is stamped when the entry carries a non-base
// currency.
type JournalLine struct {
	ID            uuid.UUID
	EntryID       uuid.UUID
	AccountID     uuid.UUID
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	ForeignDebit  decimal.Decimal
	ForeignCredit decimal.Decimal
	Description   string
	Dimensions    map[string]string
	IsReconciled  bool
	Valuations    []LineValuation
}

// LineValuation is the line's amount expressed on one ledger. At most one
// valuation per ledger per line.
type LineValuation struct {
	ID        uuid.UUID
	LineID    uuid.UUID
	LedgerID  uuid.UUID
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

var (
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("journal: entry not found")
	// ErrTooFewLines rejects entries with fewer than two lines.
	ErrTooFewLines = errors.New("journal: an entry requires at least two lines")
	// ErrUnbalanced rejects entries whose debit and credit totals diverge
	// beyond the rounding tolerance.
	ErrUnbalanced = errors.New("journal: entry is not balanced")
	// ErrNegativeAmount rejects negative debit or credit values.
	ErrNegativeAmount = errors.New("journal: amounts must be non-negative")
	// ErrAmountPrecision rejects amounts with more than two decimal places.
	ErrAmountPrecision = errors.New("journal: amounts must have at most two decimal places")
	// ErrTwoSidedLine rejects lines carrying both a debit and a credit.
	ErrTwoSidedLine = errors.New("journal: a line must be either debit or credit, not both")
	// ErrEmptyLine rejects lines carrying neither a debit nor a credit.
	ErrEmptyLine = errors.New("journal: a line must carry a debit or a credit")
	// ErrPeriodNotOpen rejects postings into closed or locked periods.
	ErrPeriodNotOpen = errors.New("journal: accounting period is not open")
	// ErrFiscalYearLocked rejects postings into archived fiscal years.
	ErrFiscalYearLocked = errors.New("journal: fiscal year is locked")
	// ErrMissingExchangeRate rejects foreign-currency entries without a
	// positive exchange rate.
	ErrMissingExchangeRate = errors.New("journal: foreign currency entries require a positive exchange rate")
	// ErrAlreadyReversed rejects reversing an entry twice.
	ErrAlreadyReversed = errors.New("journal: entry is already reversed")
	// ErrLineReconciled rejects reversing entries with reconciled lines.
	ErrLineReconciled = errors.New("journal: entry has reconciled lines")
	// ErrNotPosted rejects reversal or modification of non-posted entries.
	ErrNotPosted = errors.New("journal: entry is not posted")
	// ErrDuplicateValuationLedger rejects two valuations on the same ledger
	// within one line.
	ErrDuplicateValuationLedger = errors.New("journal: duplicate valuation ledger on a line")
	// ErrTwoSidedValuation rejects valuations carrying both a debit and a
	// credit.
	ErrTwoSidedValuation = errors.New("journal: a valuation must be either debit or credit, not both")
	// ErrEmptyValuation rejects valuations carrying neither side.
	ErrEmptyValuation = errors.New("journal: a valuation must carry a debit or a credit")
)

// MissingDimensionError names the account and dimension that blocked a
// posting.
type MissingDimensionError struct {
	AccountCode string
	Dimension   string
}

func (e *MissingDimensionError) Error() string {
	return fmt.Sprintf("journal: account %s requires dimension %q", e.AccountCode, e.Dimension)
}

// balanceTolerance absorbs per-line rounding drift across an entry.
var balanceTolerance = decimal.RequireFromString("0.01")

// ValuationInput is a caller-supplied per-ledger amount on a line. Amounts
// are base-currency values and are persisted as given.
type ValuationInput struct {
	LedgerID  uuid.UUID
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// LineInput is one leg of a posting request.
type LineInput struct {
	AccountID   uuid.UUID
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	Dimensions  map[string]string
	Valuations  []ValuationInput
}

// PostingInput is the full posting request.
type PostingInput struct {
	OrgID              uuid.UUID
	ActorID            uuid.UUID
	JournalID          *uuid.UUID
	Type               EntryType
	Date               time.Time
	Description        string
	Reference          string
	CurrencyCode       string
	ExchangeRate       decimal.Decimal
	ReversesEntryID    *uuid.UUID
	ReversesNextPeriod bool
	Lines              []LineInput
}

func twoDecimals(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Validate performs the storage-free shape checks: line count, sidedness,
// sign, precision and the balance invariant.
func (in PostingInput) Validate() error {
	if in.OrgID == uuid.Nil {
		return errors.New("journal: org id required")
	}
	if in.Date.IsZero() {
		return errors.New("journal: entry date required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for _, line := range in.Lines {
		if line.AccountID == uuid.Nil {
			return errors.New("journal: line account required")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return ErrNegativeAmount
		}
		if !twoDecimals(line.Debit) || !twoDecimals(line.Credit) {
			return ErrAmountPrecision
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return ErrTwoSidedLine
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return ErrEmptyLine
		}
		seen := make(map[uuid.UUID]struct{}, len(line.Valuations))
		for _, v := range line.Valuations {
			if _, dup := seen[v.LedgerID]; dup {
				return ErrDuplicateValuationLedger
			}
			seen[v.LedgerID] = struct{}{}
			if v.Debit.IsNegative() || v.Credit.IsNegative() {
				return ErrNegativeAmount
			}
			if !twoDecimals(v.Debit) || !twoDecimals(v.Credit) {
				return ErrAmountPrecision
			}
			if v.Debit.IsPositive() && v.Credit.IsPositive() {
				return ErrTwoSidedValuation
			}
			if v.Debit.IsZero() && v.Credit.IsZero() {
				return ErrEmptyValuation
			}
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	if totalDebit.Sub(totalCredit).Abs().GreaterThan(balanceTolerance) {
		return ErrUnbalanced
	}
	return nil
}

// TotalDebit sums the debit side, used for approval thresholds.
func (in PostingInput) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range in.Lines {
		total = total.Add(line.Debit)
	}
	return total
}
