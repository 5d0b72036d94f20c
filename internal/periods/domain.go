package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the lifecycle of periods and fiscal years.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
	StatusLocked Status = "LOCKED"
)

// ValidTransition reports whether a status move is allowed. LOCKED is
// terminal; reopening is only possible from CLOSED.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusClosed
	case StatusClosed:
		return to == StatusOpen || to == StatusLocked
	default:
		return false
	}
}

// Module enumerates sub-ledgers that close independently within a period.
type Module string

const (
	ModuleGL        Module = "GL"
	ModuleAP        Module = "AP"
	ModuleAR        Module = "AR"
	ModuleInventory Module = "INVENTORY"
)

// ModuleStatus tracks per-module close state inside one period.
type ModuleStatus struct {
	GL        Status
	AP        Status
	AR        Status
	Inventory Status
}

// OpenModuleStatus returns the state of a freshly created period.
func OpenModuleStatus() ModuleStatus {
	return ModuleStatus{GL: StatusOpen, AP: StatusOpen, AR: StatusOpen, Inventory: StatusOpen}
}

// Get returns the status of one module.
func (m ModuleStatus) Get(module Module) (Status, error) {
	switch module {
	case ModuleGL:
		return m.GL, nil
	case ModuleAP:
		return m.AP, nil
	case ModuleAR:
		return m.AR, nil
	case ModuleInventory:
		return m.Inventory, nil
	default:
		return "", fmt.Errorf("periods: %w: %s", ErrUnknownModule, module)
	}
}

// Set returns a copy with one module's status replaced.
func (m ModuleStatus) Set(module Module, status Status) (ModuleStatus, error) {
	switch module {
	case ModuleGL:
		m.GL = status
	case ModuleAP:
		m.AP = status
	case ModuleAR:
		m.AR = status
	case ModuleInventory:
		m.Inventory = status
	default:
		return m, fmt.Errorf("periods: %w: %s", ErrUnknownModule, module)
	}
	return m, nil
}

// Period is an accounting period of a tenant. Ranges never overlap within
// one tenant.
type Period struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	Status       Status
	ModuleStatus ModuleStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains reports whether the date falls inside the period range, inclusive
// on both ends.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// FiscalYear groups periods for annual closing and archival.
type FiscalYear struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	Name           string
	StartDate      time.Time
	EndDate        time.Time
	Status         Status
	ClosingEntryID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	// ErrPeriodNotFound indicates no period matches the lookup.
	ErrPeriodNotFound = errors.New("periods: period not found")
	// ErrFiscalYearNotFound indicates no fiscal year matches the lookup.
	ErrFiscalYearNotFound = errors.New("periods: fiscal year not found")
	// ErrRangeOverlap indicates the new range overlaps an existing one.
	ErrRangeOverlap = errors.New("periods: date range overlaps an existing one")
	// ErrInvalidRange indicates start is not strictly before end.
	ErrInvalidRange = errors.New("periods: start date must precede end date")
	// ErrInvalidTransition indicates a status move outside the lifecycle.
	ErrInvalidTransition = errors.New("periods: invalid status transition")
	// ErrUnknownModule indicates a module name outside the closed set.
	ErrUnknownModule = errors.New("unknown module")
	// ErrModuleReopenWhileClosed forbids reopening a sub-ledger inside a
	// period that is closed as a whole.
	ErrModuleReopenWhileClosed = errors.New("periods: cannot reopen a module while the period is closed")
)
