package closing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrPeriodNotOpen rejects closing a period that is not open.
	ErrPeriodNotOpen = errors.New("closing: period is not open")
	// ErrPeriodNotClosed rejects reopening a period that is not closed.
	ErrPeriodNotClosed = errors.New("closing: period is not closed")
	// ErrNextPeriodClosed enforces strictly sequential reopening.
	ErrNextPeriodClosed = errors.New("closing: the following period must be reopened first")
	// ErrFiscalYearNotOpen rejects closing a fiscal year twice.
	ErrFiscalYearNotOpen = errors.New("closing: fiscal year is not open")
	// ErrLockExists rejects locking the same account twice in a period.
	ErrLockExists = errors.New("closing: account is already locked for this period")
	// ErrLockNotFound indicates no matching account lock.
	ErrLockNotFound = errors.New("closing: account lock not found")
)

// UnpostedEntriesError rejects closing over draft or pending entries.
type UnpostedEntriesError struct {
	Count int
}

func (e *UnpostedEntriesError) Error() string {
	return fmt.Sprintf("closing: %d unposted entries in range", e.Count)
}

// PreCloseTaskError names the preparatory task that aborted the close.
type PreCloseTaskError struct {
	Task string
	Err  error
}

func (e *PreCloseTaskError) Error() string {
	return fmt.Sprintf("closing: pre-close task %s failed: %v", e.Task, e.Err)
}

func (e *PreCloseTaskError) Unwrap() error { return e.Err }

// OpenPeriodsError names the periods blocking a fiscal-year close.
type OpenPeriodsError struct {
	Names []string
}

func (e *OpenPeriodsError) Error() string {
	return fmt.Sprintf("closing: periods still open: %s", strings.Join(e.Names, ", "))
}

// AccountLockedError names the account a period lock rejected.
type AccountLockedError struct {
	AccountID  uuid.UUID
	PeriodName string
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("closing: account %s is locked for period %s", e.AccountID, e.PeriodName)
}

// AccountPeriodLock blocks postings to one account within one period.
type AccountPeriodLock struct {
	OrgID     uuid.UUID
	AccountID uuid.UUID
	PeriodID  uuid.UUID
	LockedBy  uuid.UUID
	CreatedAt time.Time
}

// AccountBalanceLine is a per-account net balance used to build closing and
// opening entries. Net follows the debit-positive convention.
type AccountBalanceLine struct {
	AccountID uuid.UUID
	Net       decimal.Decimal
}

// ClosePeriodInput identifies the period to close.
type ClosePeriodInput struct {
	OrgID    uuid.UUID
	PeriodID uuid.UUID
	ActorID  uuid.UUID
}

// ReopenPeriodInput identifies the period to reopen.
type ReopenPeriodInput struct {
	OrgID    uuid.UUID
	PeriodID uuid.UUID
	ActorID  uuid.UUID
	Reason   string
}

// CloseFiscalYearInput identifies the year to close. The retained-earnings
// account falls back to the tenant settings when unset.
type CloseFiscalYearInput struct {
	OrgID                     uuid.UUID
	FiscalYearID              uuid.UUID
	ActorID                   uuid.UUID
	RetainedEarningsAccountID *uuid.UUID
}
