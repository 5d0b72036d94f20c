package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian/internal/journal"
	"github.com/meridian-erp/meridian/internal/orgs"
	"github.com/meridian-erp/meridian/internal/periods"
	"github.com/meridian-erp/meridian/internal/shared"
)

// archiveSweepConcurrency bounds the per-tenant fan-out of the archival run.
const archiveSweepConcurrency = 4

// defaultArchiveAfterYears applies when a tenant has no retention setting.
const defaultArchiveAfterYears = 7

// Engine is the slice of the posting service the orchestrators drive inside
// their own transactions.
type Engine interface {
	PostTx(ctx context.Context, tx journal.TxRepository, in journal.PostingInput) (journal.JournalEntry, error)
	ReverseTx(ctx context.Context, tx journal.TxRepository, in journal.ReverseInput) (journal.JournalEntry, error)
}

// Mutex serializes close runs per period across processes.
type Mutex interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// PreCloseTask is a preparatory computation that must succeed before a
// period closes. A failure aborts the close naming the task.
type PreCloseTask interface {
	Name() string
	Run(ctx context.Context, orgID uuid.UUID, period periods.Period) error
}

// TenantSource enumerates tenants and their settings for scheduled sweeps.
type TenantSource interface {
	ListOrgIDs(ctx context.Context) ([]uuid.UUID, error)
	GetSettings(ctx context.Context, orgID uuid.UUID) (orgs.Settings, error)
}

// Notifier signals the balance accumulator after commit.
type Notifier interface {
	EntryPosted(ctx context.Context, orgID, entryID uuid.UUID) error
}

// Auditor records closing activity.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates period and fiscal-year closing.
type Service struct {
	repo     RepositoryPort
	engine   Engine
	mutex    Mutex
	preClose []PreCloseTask
	tenants  TenantSource
	notify   Notifier
	audit    Auditor
	log      *slog.Logger
}

// NewService constructs the orchestrator. mutex, tenants, notify and audit
// may be nil; preClose may be empty.
func NewService(repo RepositoryPort, engine Engine, mutex Mutex, preClose []PreCloseTask, tenants TenantSource, notify Notifier, audit Auditor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		mutex:    mutex,
		preClose: preClose,
		tenants:  tenants,
		notify:   notify,
		audit:    audit,
		log:      log,
	}
}

// CloseResult reports the system entries a close produced.
type CloseResult struct {
	ClosingEntryID *uuid.UUID
	OpeningEntryID *uuid.UUID
}

func (s *Service) acquire(ctx context.Context, orgID, id uuid.UUID) (func(), error) {
	if s.mutex == nil {
		return func() {}, nil
	}
	return s.mutex.Acquire(ctx, shared.CloseLockKey(orgID, id))
}

func (s *Service) notifyPosted(ctx context.Context, orgID uuid.UUID, entryIDs []uuid.UUID) {
	if s.notify == nil {
		return
	}
	for _, id := range entryIDs {
		if err := s.notify.EntryPosted(ctx, orgID, id); err != nil {
			s.log.Warn("balance notification failed", "entry_id", id, "err", err)
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.log.Warn("audit record failed", "action", log.Action, "err", err)
	}
}

// ClosePeriod runs the full closing sequence in one transaction: pre-close
// tasks, draft check, closing entry zeroing the temporary accounts into
// retained earnings, the status flip, and the next period's opening entry.
func (s *Service) ClosePeriod(ctx context.Context, in ClosePeriodInput) (CloseResult, error) {
	release, err := s.acquire(ctx, in.OrgID, in.PeriodID)
	if err != nil {
		return CloseResult{}, err
	}
	defer release()

	var result CloseResult
	var posted []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.OrgID, in.PeriodID)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusOpen {
			return fmt.Errorf("%w: %s is %s", ErrPeriodNotOpen, period.Name, period.Status)
		}

		for _, task := range s.preClose {
			if err := task.Run(ctx, in.OrgID, period); err != nil {
				return &PreCloseTaskError{Task: task.Name(), Err: err}
			}
		}
		if n, err := tx.CountUnposted(ctx, in.OrgID, period.StartDate, period.EndDate); err != nil {
			return err
		} else if n > 0 {
			return &UnpostedEntriesError{Count: n}
		}

		jtx := tx.Journal()
		settings, err := jtx.GetSettings(ctx, in.OrgID)
		if err != nil {
			return err
		}
		if settings.RetainedEarningsAccountID == uuid.Nil {
			return shared.NotConfigured("retained earnings account")
		}
		closingJournal, err := tx.GetJournalByCode(ctx, in.OrgID, orgs.JournalCodeClosing)
		if err != nil {
			return err
		}
		ledger, err := jtx.GetDefaultLedger(ctx, in.OrgID)
		if err != nil {
			return err
		}

		temps, err := tx.TemporaryBalances(ctx, in.OrgID, ledger.ID, period.EndDate)
		if err != nil {
			return err
		}
		if len(temps) > 0 {
			input := buildClosingInput(in.OrgID, in.ActorID, closingJournal.ID, period.EndDate,
				"Closing entry for "+period.Name, settings.RetainedEarningsAccountID, temps)
			entry, err := s.engine.PostTx(ctx, jtx, input)
			if err != nil {
				return err
			}
			result.ClosingEntryID = &entry.ID
			posted = append(posted, entry.ID)
		}

		if err := tx.UpdatePeriodStatus(ctx, in.OrgID, in.PeriodID, periods.StatusClosed); err != nil {
			return err
		}

		next, err := tx.FindPeriodAfter(ctx, in.OrgID, period.EndDate)
		switch {
		case errors.Is(err, periods.ErrPeriodNotFound):
			s.log.Info("no following period, opening entry skipped", "period", period.Name)
			return nil
		case err != nil:
			return err
		case next.Status != periods.StatusOpen:
			return nil
		}
		openingID, err := s.postOpeningEntry(ctx, tx, in.OrgID, in.ActorID, ledger.ID, period.EndDate, next)
		if err != nil {
			return err
		}
		if openingID != nil {
			result.OpeningEntryID = openingID
			posted = append(posted, *openingID)
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	s.notifyPosted(ctx, in.OrgID, posted)
	s.recordAudit(ctx, shared.AuditLog{
		OrgID:    in.OrgID,
		ActorID:  in.ActorID,
		Action:   "period.closed",
		Entity:   "accounting_period",
		EntityID: in.PeriodID.String(),
	})
	return result, nil
}

// postOpeningEntry carries the non-zero balance-sheet balances into the
// period starting right after asOf.
func (s *Service) postOpeningEntry(ctx context.Context, tx TxRepository, orgID, actorID, ledgerID uuid.UUID, asOf time.Time, next periods.Period) (*uuid.UUID, error) {
	openingJournal, err := tx.GetJournalByCode(ctx, orgID, orgs.JournalCodeOpening)
	if err != nil {
		return nil, err
	}
	lines, err := tx.BalanceSheetBalances(ctx, orgID, ledgerID, asOf)
	if err != nil {
		return nil, err
	}
	if len(lines) < 2 {
		return nil, nil
	}
	input := journal.PostingInput{
		OrgID:       orgID,
		ActorID:     actorID,
		JournalID:   &openingJournal.ID,
		Type:        journal.TypeOpeningBalance,
		Date:        next.StartDate,
		Description: "Opening balances for " + next.Name,
	}
	for _, line := range lines {
		li := journal.LineInput{AccountID: line.AccountID}
		if line.Net.IsPositive() {
			li.Debit = line.Net
		} else {
			li.Credit = line.Net.Neg()
		}
		input.Lines = append(input.Lines, li)
	}
	entry, err := s.engine.PostTx(ctx, tx.Journal(), input)
	if err != nil {
		return nil, err
	}
	return &entry.ID, nil
}

// buildClosingInput zeroes each temporary balance and books the difference
// against retained earnings.
func buildClosingInput(orgID, actorID, journalID uuid.UUID, date time.Time, description string, retainedEarnings uuid.UUID, temps []AccountBalanceLine) journal.PostingInput {
	input := journal.PostingInput{
		OrgID:       orgID,
		ActorID:     actorID,
		JournalID:   &journalID,
		Type:        journal.TypeClosingEntry,
		Date:        date,
		Description: description,
	}
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for _, t := range temps {
		li := journal.LineInput{AccountID: t.AccountID}
		if t.Net.IsPositive() {
			li.Credit = t.Net
			totalCredit = totalCredit.Add(t.Net)
		} else {
			li.Debit = t.Net.Neg()
			totalDebit = totalDebit.Add(t.Net.Neg())
		}
		input.Lines = append(input.Lines, li)
	}
	diff := totalDebit.Sub(totalCredit)
	if !diff.IsZero() {
		li := journal.LineInput{AccountID: retainedEarnings}
		if diff.IsPositive() {
			li.Credit = diff
		} else {
			li.Debit = diff.Neg()
		}
		input.Lines = append(input.Lines, li)
	}
	return input
}

// ReopenPeriod unwinds a close: the period flips open first so the engine
// accepts the unwinding reversals, then the closing entry and the next
// period's opening entry are reversed. Reopening is strictly sequential: the
// following period must not itself be closed.
func (s *Service) ReopenPeriod(ctx context.Context, in ReopenPeriodInput) error {
	release, err := s.acquire(ctx, in.OrgID, in.PeriodID)
	if err != nil {
		return err
	}
	defer release()

	var posted []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.OrgID, in.PeriodID)
		if err != nil {
			return err
		}
		if period.Status != periods.StatusClosed {
			return fmt.Errorf("%w: %s is %s", ErrPeriodNotClosed, period.Name, period.Status)
		}

		var next periods.Period
		hasNext := true
		next, err = tx.FindPeriodAfter(ctx, in.OrgID, period.EndDate)
		switch {
		case errors.Is(err, periods.ErrPeriodNotFound):
			hasNext = false
		case err != nil:
			return err
		case next.Status != periods.StatusOpen:
			return fmt.Errorf("%w: %s", ErrNextPeriodClosed, next.Name)
		}

		if err := tx.UpdatePeriodStatus(ctx, in.OrgID, in.PeriodID, periods.StatusOpen); err != nil {
			return err
		}
		reopeningJournal, err := tx.GetJournalByCode(ctx, in.OrgID, orgs.JournalCodeReopening)
		if err != nil {
			return err
		}

		jtx := tx.Journal()
		reason := in.Reason
		if reason == "" {
			reason = "Reopening of " + period.Name
		}
		closingID, err := tx.FindActiveEntryID(ctx, in.OrgID, journal.TypeClosingEntry, period.EndDate)
		switch {
		case err == nil:
			rev, err := s.engine.ReverseTx(ctx, jtx, journal.ReverseInput{
				OrgID:     in.OrgID,
				EntryID:   closingID,
				ActorID:   in.ActorID,
				Date:      period.EndDate,
				Reason:    reason,
				JournalID: &reopeningJournal.ID,
			})
			if err != nil {
				return err
			}
			posted = append(posted, rev.ID)
		case !errors.Is(err, journal.ErrEntryNotFound):
			return err
		}

		if !hasNext {
			return nil
		}
		openingID, err := tx.FindActiveEntryID(ctx, in.OrgID, journal.TypeOpeningBalance, next.StartDate)
		switch {
		case err == nil:
			rev, err := s.engine.ReverseTx(ctx, jtx, journal.ReverseInput{
				OrgID:     in.OrgID,
				EntryID:   openingID,
				ActorID:   in.ActorID,
				Date:      next.StartDate,
				Reason:    reason,
				JournalID: &reopeningJournal.ID,
			})
			if err != nil {
				return err
			}
			posted = append(posted, rev.ID)
		case !errors.Is(err, journal.ErrEntryNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyPosted(ctx, in.OrgID, posted)
	s.recordAudit(ctx, shared.AuditLog{
		OrgID:    in.OrgID,
		ActorID:  in.ActorID,
		Action:   "period.reopened",
		Entity:   "accounting_period",
		EntityID: in.PeriodID.String(),
		Meta:     map[string]any{"reason": in.Reason},
	})
	return nil
}

// CloseFiscalYear closes the year once every contained period is closed,
// posts the annual closing entry, records it on the year, and creates the
// following year with its opening balances.
func (s *Service) CloseFiscalYear(ctx context.Context, in CloseFiscalYearInput) (CloseResult, error) {
	release, err := s.acquire(ctx, in.OrgID, in.FiscalYearID)
	if err != nil {
		return CloseResult{}, err
	}
	defer release()

	var result CloseResult
	var posted []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fy, err := tx.GetFiscalYearForUpdate(ctx, in.OrgID, in.FiscalYearID)
		if err != nil {
			return err
		}
		if fy.Status != periods.StatusOpen {
			return fmt.Errorf("%w: %s is %s", ErrFiscalYearNotOpen, fy.Name, fy.Status)
		}

		open, err := tx.ListOpenPeriodsInRange(ctx, in.OrgID, fy.StartDate, fy.EndDate)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			names := make([]string, len(open))
			for i, p := range open {
				names[i] = p.Name
			}
			return &OpenPeriodsError{Names: names}
		}
		if n, err := tx.CountUnposted(ctx, in.OrgID, fy.StartDate, fy.EndDate); err != nil {
			return err
		} else if n > 0 {
			return &UnpostedEntriesError{Count: n}
		}

		jtx := tx.Journal()
		settings, err := jtx.GetSettings(ctx, in.OrgID)
		if err != nil {
			return err
		}
		retainedEarnings := settings.RetainedEarningsAccountID
		if in.RetainedEarningsAccountID != nil {
			retainedEarnings = *in.RetainedEarningsAccountID
		}
		if retainedEarnings == uuid.Nil {
			return shared.NotConfigured("retained earnings account")
		}
		annualJournal, err := tx.GetJournalByCode(ctx, in.OrgID, orgs.JournalCodeClosingAnnual)
		if err != nil {
			return err
		}
		ledger, err := jtx.GetDefaultLedger(ctx, in.OrgID)
		if err != nil {
			return err
		}

		temps, err := tx.TemporaryBalances(ctx, in.OrgID, ledger.ID, fy.EndDate)
		if err != nil {
			return err
		}
		if len(temps) > 0 {
			input := buildClosingInput(in.OrgID, in.ActorID, annualJournal.ID, fy.EndDate,
				"Annual closing entry for "+fy.Name, retainedEarnings, temps)
			entry, err := s.engine.PostTx(ctx, jtx, input)
			if err != nil {
				return err
			}
			result.ClosingEntryID = &entry.ID
			posted = append(posted, entry.ID)
		}

		if err := tx.UpdateFiscalYear(ctx, in.OrgID, fy.ID, periods.StatusClosed, result.ClosingEntryID); err != nil {
			return err
		}

		nextStart := fy.EndDate.AddDate(0, 0, 1)
		nextEnd := nextStart.AddDate(1, 0, -1)
		if _, err := tx.InsertFiscalYear(ctx, periods.FiscalYear{
			ID:        uuid.New(),
			OrgID:     in.OrgID,
			Name:      fmt.Sprintf("FY%d", nextStart.Year()),
			StartDate: nextStart,
			EndDate:   nextEnd,
			Status:    periods.StatusOpen,
		}); err != nil {
			return err
		}

		next, err := tx.FindPeriodAfter(ctx, in.OrgID, fy.EndDate)
		switch {
		case errors.Is(err, periods.ErrPeriodNotFound):
			s.log.Info("no period after fiscal year, opening entry skipped", "fiscal_year", fy.Name)
			return nil
		case err != nil:
			return err
		case next.Status != periods.StatusOpen:
			return nil
		}
		openingID, err := s.postOpeningEntry(ctx, tx, in.OrgID, in.ActorID, ledger.ID, fy.EndDate, next)
		if err != nil {
			return err
		}
		if openingID != nil {
			result.OpeningEntryID = openingID
			posted = append(posted, *openingID)
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	s.notifyPosted(ctx, in.OrgID, posted)
	s.recordAudit(ctx, shared.AuditLog{
		OrgID:    in.OrgID,
		ActorID:  in.ActorID,
		Action:   "fiscal_year.closed",
		Entity:   "fiscal_year",
		EntityID: in.FiscalYearID.String(),
	})
	return result, nil
}

// LockAccount blocks one account for postings within one period.
func (s *Service) LockAccount(ctx context.Context, orgID, accountID, periodID, actorID uuid.UUID) error {
	err := s.repo.InsertAccountLock(ctx, AccountPeriodLock{
		OrgID:     orgID,
		AccountID: accountID,
		PeriodID:  periodID,
		LockedBy:  actorID,
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   "account.period_locked",
		Entity:   "account",
		EntityID: accountID.String(),
		Meta:     map[string]any{"period_id": periodID.String()},
	})
	return nil
}

// UnlockAccount removes a period lock.
func (s *Service) UnlockAccount(ctx context.Context, orgID, accountID, periodID, actorID uuid.UUID) error {
	if err := s.repo.DeleteAccountLock(ctx, orgID, accountID, periodID); err != nil {
		return err
	}
	s.recordAudit(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   "account.period_unlocked",
		Entity:   "account",
		EntityID: accountID.String(),
		Meta:     map[string]any{"period_id": periodID.String()},
	})
	return nil
}

// EnsureAccountsPostable rejects the posting when any touched account is
// locked for the period containing the entry date. Satisfies the posting
// engine's guard port.
func (s *Service) EnsureAccountsPostable(ctx context.Context, orgID uuid.UUID, accountIDs []uuid.UUID, date time.Time) error {
	period, err := s.repo.FindPeriodByDate(ctx, orgID, date)
	if err != nil {
		if errors.Is(err, periods.ErrPeriodNotFound) {
			// The engine rejects dates outside any period on its own.
			return nil
		}
		return err
	}
	locked, err := s.repo.LockedAccountIDs(ctx, orgID, period.ID)
	if err != nil {
		return err
	}
	if len(locked) == 0 {
		return nil
	}
	lockedSet := make(map[uuid.UUID]struct{}, len(locked))
	for _, id := range locked {
		lockedSet[id] = struct{}{}
	}
	for _, id := range accountIDs {
		if _, hit := lockedSet[id]; hit {
			return &AccountLockedError{AccountID: id, PeriodName: period.Name}
		}
	}
	return nil
}

// ArchiveSweep locks closed fiscal years older than each tenant's retention
// window. Tenant failures are isolated; the sweep reports how many years it
// archived.
func (s *Service) ArchiveSweep(ctx context.Context, now time.Time) (int, error) {
	if s.tenants == nil {
		return 0, errors.New("closing: tenant source not configured")
	}
	orgIDs, err := s.tenants.ListOrgIDs(ctx)
	if err != nil {
		return 0, err
	}
	var archived atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveSweepConcurrency)
	for _, orgID := range orgIDs {
		orgID := orgID
		g.Go(func() error {
			retention := defaultArchiveAfterYears
			settings, err := s.tenants.GetSettings(ctx, orgID)
			switch {
			case errors.Is(err, shared.ErrNotConfigured):
				// Unconfigured tenants keep the default window.
			case err != nil:
				s.log.Error("archive sweep settings lookup failed", "org_id", orgID, "err", err)
				return nil
			case settings.FiscalArchiveAfterYears > 0:
				retention = settings.FiscalArchiveAfterYears
			}
			cutoff := now.AddDate(-retention, 0, 0)
			years, err := s.repo.ListArchivableFiscalYears(ctx, orgID, cutoff)
			if err != nil {
				s.log.Error("archive sweep listing failed", "org_id", orgID, "err", err)
				return nil
			}
			for _, fy := range years {
				if err := s.repo.LockFiscalYear(ctx, orgID, fy.ID); err != nil {
					s.log.Error("archive failed", "org_id", orgID, "fiscal_year", fy.Name, "err", err)
					continue
				}
				archived.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(archived.Load()), err
	}
	return int(archived.Load()), nil
}
