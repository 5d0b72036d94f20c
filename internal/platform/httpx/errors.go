package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian/internal/accounts"
	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/closing"
	"github.com/meridian-erp/meridian/internal/journal"
	"github.com/meridian-erp/meridian/internal/ledgers"
	"github.com/meridian-erp/meridian/internal/periods"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		unposted *closing.UnpostedEntriesError
		preClose *closing.PreCloseTaskError
		openPers *closing.OpenPeriodsError
		acctLock *closing.AccountLockedError
		missDim  *journal.MissingDimensionError
		notPost  *accounts.NotPostableError
	)
	switch {
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, journal.ErrEntryNotFound),
		errors.Is(err, periods.ErrPeriodNotFound),
		errors.Is(err, periods.ErrFiscalYearNotFound),
		errors.Is(err, ledgers.ErrLedgerNotFound),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, balances.ErrBalanceNotFound),
		errors.Is(err, closing.ErrLockNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrLockHeld),
		errors.Is(err, closing.ErrLockExists),
		errors.Is(err, periods.ErrRangeOverlap),
		errors.Is(err, journal.ErrAlreadyReversed),
		errors.Is(err, closing.ErrNextPeriodClosed):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrTransient):
		Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", "please retry the request")
	case errors.As(err, &unposted),
		errors.As(err, &preClose),
		errors.As(err, &openPers),
		errors.As(err, &acctLock),
		errors.As(err, &missDim),
		errors.As(err, &notPost),
		errors.Is(err, shared.ErrNotConfigured),
		errors.Is(err, journal.ErrPeriodNotOpen),
		errors.Is(err, journal.ErrFiscalYearLocked),
		errors.Is(err, journal.ErrLineReconciled),
		errors.Is(err, journal.ErrNotPosted),
		errors.Is(err, closing.ErrPeriodNotOpen),
		errors.Is(err, closing.ErrPeriodNotClosed),
		errors.Is(err, closing.ErrFiscalYearNotOpen),
		errors.Is(err, periods.ErrInvalidTransition),
		errors.Is(err, periods.ErrModuleReopenWhileClosed):
		Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, journal.ErrTooFewLines),
		errors.Is(err, journal.ErrUnbalanced),
		errors.Is(err, journal.ErrNegativeAmount),
		errors.Is(err, journal.ErrAmountPrecision),
		errors.Is(err, journal.ErrTwoSidedLine),
		errors.Is(err, journal.ErrEmptyLine),
		errors.Is(err, journal.ErrMissingExchangeRate),
		errors.Is(err, journal.ErrDuplicateValuationLedger),
		errors.Is(err, periods.ErrInvalidRange),
		errors.Is(err, periods.ErrUnknownModule),
		errors.Is(err, ledgers.ErrInvalidCurrency),
		errors.Is(err, ledgers.ErrUnknownOperator),
		errors.Is(err, ledgers.ErrNoDefaultLedger):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
