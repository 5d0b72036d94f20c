package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/ledgers"
	"github.com/meridian-erp/meridian/internal/periods"
	"github.com/meridian-erp/meridian/internal/shared"
)

// ApprovalDecider decides whether a manual entry must wait for approval
// before posting. The decision is based on the entry's total debit.
type ApprovalDecider interface {
	RequiresApproval(ctx context.Context, orgID uuid.UUID, totalDebit decimal.Decimal) (bool, error)
}

// PostingGuard vetoes postings touching administratively locked accounts.
// Consulted before the posting transaction opens.
type PostingGuard interface {
	EnsureAccountsPostable(ctx context.Context, orgID uuid.UUID, accountIDs []uuid.UUID, date time.Time) error
}

// Notifier signals the balance accumulator after a successful commit.
type Notifier interface {
	EntryPosted(ctx context.Context, orgID, entryID uuid.UUID) error
}

// Auditor records posting activity for the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the posting engine.
type Service struct {
	repo    RepositoryPort
	guard   PostingGuard
	decider ApprovalDecider
	notify  Notifier
	audit   Auditor
	log     *slog.Logger
	now     func() time.Time
}

// NewService constructs the posting engine. guard, decider, notify and audit
// may be nil; the corresponding step is skipped.
func NewService(repo RepositoryPort, guard PostingGuard, decider ApprovalDecider, notify Notifier, audit Auditor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, guard: guard, decider: decider, notify: notify, audit: audit, log: log, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Post validates and posts an entry in one serializable transaction, then
// notifies the balance accumulator.
func (s *Service) Post(ctx context.Context, in PostingInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if s.guard != nil {
		ids := make([]uuid.UUID, 0, len(in.Lines))
		for _, line := range in.Lines {
			ids = append(ids, line.AccountID)
		}
		if err := s.guard.EnsureAccountsPostable(ctx, in.OrgID, ids, in.Date); err != nil {
			return JournalEntry{}, err
		}
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		entry, e = s.PostTx(ctx, tx, in)
		return e
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.notifyPosted(ctx, entry)
	return entry, nil
}

func (s *Service) notifyPosted(ctx context.Context, entry JournalEntry) {
	if s.notify == nil {
		return
	}
	if err := s.notify.EntryPosted(ctx, entry.OrgID, entry.ID); err != nil {
		// The outbox sweep picks up what the notification missed.
		s.log.Warn("balance notification failed", "entry_id", entry.ID, "err", err)
	}
}

// PostTx runs the full posting algorithm against an open transaction. The
// closing orchestrator calls this to post system entries atomically with its
// own state changes.
func (s *Service) PostTx(ctx context.Context, tx TxRepository, in PostingInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}

	period, err := tx.FindPeriodByDate(ctx, in.OrgID, in.Date)
	if err != nil {
		if errors.Is(err, periods.ErrPeriodNotFound) {
			return JournalEntry{}, fmt.Errorf("%w: no period contains %s", ErrPeriodNotOpen, in.Date.Format("2006-01-02"))
		}
		return JournalEntry{}, err
	}
	if period.Status != periods.StatusOpen {
		// The annual closing entry is the one posting that lands in an
		// already-closed (not locked) period: fiscal-year close requires
		// every period closed before it runs.
		if !(in.Type == TypeClosingEntry && period.Status == periods.StatusClosed) {
			return JournalEntry{}, fmt.Errorf("%w: %s is %s", ErrPeriodNotOpen, period.Name, period.Status)
		}
	}
	fy, err := tx.FindFiscalYearByDate(ctx, in.OrgID, in.Date)
	switch {
	case err == nil:
		if fy.Status == periods.StatusLocked && in.Type != TypeAuditAdjustment {
			return JournalEntry{}, fmt.Errorf("%w: %s", ErrFiscalYearLocked, fy.Name)
		}
	case errors.Is(err, periods.ErrFiscalYearNotFound):
		// Years are optional registry entries; absence does not block.
	default:
		return JournalEntry{}, err
	}

	settings, err := tx.GetSettings(ctx, in.OrgID)
	if err != nil {
		return JournalEntry{}, err
	}

	accountIDs := make([]uuid.UUID, 0, len(in.Lines))
	seen := make(map[uuid.UUID]struct{}, len(in.Lines))
	for _, line := range in.Lines {
		if _, dup := seen[line.AccountID]; dup {
			continue
		}
		seen[line.AccountID] = struct{}{}
		accountIDs = append(accountIDs, line.AccountID)
	}
	accts, err := tx.LockAccounts(ctx, in.OrgID, accountIDs)
	if err != nil {
		return JournalEntry{}, err
	}
	for _, line := range in.Lines {
		acct, ok := accts[line.AccountID]
		if !ok {
			return JournalEntry{}, fmt.Errorf("journal: account %s: %w", line.AccountID, shared.ErrNotFound)
		}
		if err := acct.EligibleForPosting(in.Date); err != nil {
			return JournalEntry{}, err
		}
		for _, dim := range acct.RequiredDimensions {
			if line.Dimensions[dim] == "" {
				return JournalEntry{}, &MissingDimensionError{AccountCode: acct.Code, Dimension: dim}
			}
		}
	}

	rate := decimal.NewFromInt(1)
	currency := settings.BaseCurrency
	foreign := in.CurrencyCode != "" && in.CurrencyCode != settings.BaseCurrency
	if foreign {
		if !in.ExchangeRate.IsPositive() {
			return JournalEntry{}, ErrMissingExchangeRate
		}
		rate = in.ExchangeRate
		currency = in.CurrencyCode
	}

	defaultLedger, err := tx.GetDefaultLedger(ctx, in.OrgID)
	if err != nil {
		return JournalEntry{}, err
	}
	ruleList, err := tx.LoadRules(ctx, in.OrgID)
	if err != nil {
		return JournalEntry{}, err
	}
	rules := ledgers.NewRuleSet(ruleList)

	entry := JournalEntry{
		ID:                 uuid.New(),
		OrgID:              in.OrgID,
		JournalID:          in.JournalID,
		Type:               in.Type,
		Status:             StatusPosted,
		Date:               in.Date,
		Description:        in.Description,
		Reference:          in.Reference,
		CurrencyCode:       currency,
		ExchangeRate:       rate,
		ReversesEntryID:    in.ReversesEntryID,
		ReversesNextPeriod: in.ReversesNextPeriod,
		CreatedBy:          in.ActorID,
	}
	if entry.Type == "" {
		entry.Type = TypeManual
	}

	var movements []balances.Delta
	for _, lineIn := range in.Lines {
		baseDebit, baseCredit := lineIn.Debit, lineIn.Credit
		line := JournalLine{
			ID:          uuid.New(),
			EntryID:     entry.ID,
			AccountID:   lineIn.AccountID,
			Description: lineIn.Description,
			Dimensions:  lineIn.Dimensions,
		}
		if foreign {
			baseDebit = lineIn.Debit.Mul(rate).Round(2)
			baseCredit = lineIn.Credit.Mul(rate).Round(2)
			line.ForeignDebit = lineIn.Debit
			line.ForeignCredit = lineIn.Credit
		}
		line.Debit, line.Credit = baseDebit, baseCredit

		valuations, err := deriveValuations(lineIn, baseDebit, baseCredit, defaultLedger.ID, rules)
		if err != nil {
			return JournalEntry{}, err
		}
		for i := range valuations {
			valuations[i].LineID = line.ID
			movements = append(movements, balances.Delta{
				OrgID:     in.OrgID,
				LedgerID:  valuations[i].LedgerID,
				AccountID: valuations[i].AccountID,
				Net:       valuations[i].Debit.Sub(valuations[i].Credit),
			})
		}
		line.Valuations = valuations
		entry.Lines = append(entry.Lines, line)
	}

	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return JournalEntry{}, err
	}
	deltas := balances.Aggregate(in.OrgID, movements)
	if err := tx.QueueBalanceDeltas(ctx, entry.ID, deltas); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Create posts immediately unless the approval decider asks for a review, in
// which case a PENDING_APPROVAL draft is persisted instead.
func (s *Service) Create(ctx context.Context, in PostingInput) (JournalEntry, bool, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, false, err
	}
	if s.decider != nil {
		required, err := s.decider.RequiresApproval(ctx, in.OrgID, in.TotalDebit())
		if err != nil {
			return JournalEntry{}, false, err
		}
		if required {
			draft, err := s.saveDraft(ctx, in)
			return draft, true, err
		}
	}
	entry, err := s.Post(ctx, in)
	return entry, false, err
}

func (s *Service) saveDraft(ctx context.Context, in PostingInput) (JournalEntry, error) {
	entry := JournalEntry{
		ID:                 uuid.New(),
		OrgID:              in.OrgID,
		JournalID:          in.JournalID,
		Type:               in.Type,
		Status:             StatusPendingApproval,
		Date:               in.Date,
		Description:        in.Description,
		Reference:          in.Reference,
		CurrencyCode:       in.CurrencyCode,
		ExchangeRate:       in.ExchangeRate,
		ReversesNextPeriod: in.ReversesNextPeriod,
		CreatedBy:          in.ActorID,
	}
	if entry.Type == "" {
		entry.Type = TypeManual
	}
	for _, lineIn := range in.Lines {
		line := JournalLine{
			ID:          uuid.New(),
			EntryID:     entry.ID,
			AccountID:   lineIn.AccountID,
			Debit:       lineIn.Debit,
			Credit:      lineIn.Credit,
			Description: lineIn.Description,
			Dimensions:  lineIn.Dimensions,
		}
		for _, v := range lineIn.Valuations {
			accountID := v.AccountID
			if accountID == uuid.Nil {
				accountID = lineIn.AccountID
			}
			line.Valuations = append(line.Valuations, LineValuation{
				ID:        uuid.New(),
				LineID:    line.ID,
				LedgerID:  v.LedgerID,
				AccountID: accountID,
				Debit:     v.Debit,
				Credit:    v.Credit,
			})
		}
		entry.Lines = append(entry.Lines, line)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertEntry(ctx, &entry)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// HandleApprovalGranted consumes the approval event. Delivery is
// at-least-once: a draft that is gone or no longer pending is skipped
// silently. On success the draft is replaced by a freshly posted entry in
// the same transaction.
func (s *Service) HandleApprovalGranted(ctx context.Context, orgID, draftID uuid.UUID) (JournalEntry, error) {
	var posted JournalEntry
	var skipped bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetEntry(ctx, orgID, draftID)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				skipped = true
				return nil
			}
			return err
		}
		if draft.Status != StatusPendingApproval {
			skipped = true
			return nil
		}
		posted, err = s.PostTx(ctx, tx, draftToInput(draft))
		if err != nil {
			return err
		}
		return tx.DeleteEntry(ctx, orgID, draftID)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if skipped {
		s.log.Info("approval event for non-pending entry skipped", "entry_id", draftID)
		return JournalEntry{}, nil
	}
	s.notifyPosted(ctx, posted)
	return posted, nil
}

// HandleApprovalRejected relabels a pending draft as rejected.
func (s *Service) HandleApprovalRejected(ctx context.Context, orgID, draftID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.GetEntry(ctx, orgID, draftID)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return nil
			}
			return err
		}
		if draft.Status != StatusPendingApproval {
			return nil
		}
		return tx.UpdateStatus(ctx, orgID, draftID, StatusRejected)
	})
}

func draftToInput(draft JournalEntry) PostingInput {
	in := PostingInput{
		OrgID:              draft.OrgID,
		ActorID:            draft.CreatedBy,
		JournalID:          draft.JournalID,
		Type:               draft.Type,
		Date:               draft.Date,
		Description:        draft.Description,
		Reference:          draft.Reference,
		CurrencyCode:       draft.CurrencyCode,
		ExchangeRate:       draft.ExchangeRate,
		ReversesNextPeriod: draft.ReversesNextPeriod,
	}
	for _, line := range draft.Lines {
		lineIn := LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
			Dimensions:  line.Dimensions,
		}
		for _, v := range line.Valuations {
			lineIn.Valuations = append(lineIn.Valuations, ValuationInput{
				LedgerID:  v.LedgerID,
				AccountID: v.AccountID,
				Debit:     v.Debit,
				Credit:    v.Credit,
			})
		}
		in.Lines = append(in.Lines, lineIn)
	}
	return in
}

// ReverseInput identifies the entry to reverse and how to date the reversal.
type ReverseInput struct {
	OrgID     uuid.UUID
	EntryID   uuid.UUID
	ActorID   uuid.UUID
	Date      time.Time
	Reason    string
	JournalID *uuid.UUID
}

// Reverse posts a mirror entry and links it to the original, atomically.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (JournalEntry, error) {
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		reversal, e = s.ReverseTx(ctx, tx, in)
		return e
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.notifyPosted(ctx, reversal)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			OrgID:    in.OrgID,
			ActorID:  in.ActorID,
			Action:   "journal.entry_reversed",
			Entity:   "journal_entry",
			EntityID: in.EntryID.String(),
			Meta:     map[string]any{"reversal_entry_id": reversal.ID.String(), "reason": in.Reason},
		}); err != nil {
			s.log.Warn("audit record failed", "entry_id", in.EntryID, "err", err)
		}
	}
	return reversal, nil
}

// ReverseTx reverses inside an open transaction: every line and every
// per-ledger valuation swaps sides, the mirror is posted through the full
// engine at the reversal date, and the original is flagged reversed.
func (s *Service) ReverseTx(ctx context.Context, tx TxRepository, in ReverseInput) (JournalEntry, error) {
	orig, err := tx.GetEntry(ctx, in.OrgID, in.EntryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if orig.Status != StatusPosted {
		return JournalEntry{}, ErrNotPosted
	}
	if orig.IsReversed {
		return JournalEntry{}, ErrAlreadyReversed
	}
	for _, line := range orig.Lines {
		if line.IsReconciled {
			return JournalEntry{}, ErrLineReconciled
		}
	}

	description := in.Reason
	if description == "" {
		description = "Reversal of " + orig.Description
	}
	journalID := in.JournalID
	if journalID == nil {
		journalID = orig.JournalID
	}
	input := PostingInput{
		OrgID:           in.OrgID,
		ActorID:         in.ActorID,
		JournalID:       journalID,
		Type:            TypeSystem,
		Date:            in.Date,
		Description:     description,
		Reference:       orig.Reference,
		ReversesEntryID: &orig.ID,
	}
	for _, line := range orig.Lines {
		lineIn := LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
			Dimensions:  line.Dimensions,
		}
		for _, v := range line.Valuations {
			lineIn.Valuations = append(lineIn.Valuations, ValuationInput{
				LedgerID:  v.LedgerID,
				AccountID: v.AccountID,
				Debit:     v.Credit,
				Credit:    v.Debit,
			})
		}
		input.Lines = append(input.Lines, lineIn)
	}

	reversal, err := s.PostTx(ctx, tx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.MarkReversed(ctx, in.OrgID, orig.ID, reversal.ID); err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

// ModifyInput carries the replacement content for a posted entry.
type ModifyInput struct {
	OrgID      uuid.UUID
	EntryID    uuid.UUID
	ActorID    uuid.UUID
	Reason     string
	NewContent PostingInput
}

// Modify atomically reverses the original as of now, posts the replacement,
// and links the original to it with status MODIFIED.
func (s *Service) Modify(ctx context.Context, in ModifyInput) (JournalEntry, error) {
	in.NewContent.OrgID = in.OrgID
	in.NewContent.ActorID = in.ActorID
	if err := in.NewContent.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var replacement JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.ReverseTx(ctx, tx, ReverseInput{
			OrgID:   in.OrgID,
			EntryID: in.EntryID,
			ActorID: in.ActorID,
			Date:    s.now(),
			Reason:  in.Reason,
		}); err != nil {
			return err
		}
		var err error
		replacement, err = s.PostTx(ctx, tx, in.NewContent)
		if err != nil {
			return err
		}
		return tx.SetModified(ctx, in.OrgID, in.EntryID, replacement.ID)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.notifyPosted(ctx, replacement)
	return replacement, nil
}

// Get loads one entry with lines and valuations.
func (s *Service) Get(ctx context.Context, orgID, entryID uuid.UUID) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, orgID, entryID)
}

// SweepAutoReversals reverses flagged entries whose period has passed: each
// is reversed on the first day of the month after its entry date. Failures
// are logged and isolated so one bad entry does not stall the sweep.
func (s *Service) SweepAutoReversals(ctx context.Context, now time.Time) (int, error) {
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	due, err := s.repo.ListDueAutoReversals(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reversed := 0
	for _, entry := range due {
		reversalDate := time.Date(entry.Date.Year(), entry.Date.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		_, err := s.Reverse(ctx, ReverseInput{
			OrgID:   entry.OrgID,
			EntryID: entry.ID,
			ActorID: entry.CreatedBy,
			Date:    reversalDate,
			Reason:  "Automatic reversal of " + entry.Description,
		})
		if err != nil {
			s.log.Error("auto reversal failed", "entry_id", entry.ID, "err", err)
			continue
		}
		reversed++
	}
	return reversed, nil
}
