package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/accounts"
	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/ledgers"
	"github.com/meridian-erp/meridian/internal/orgs"
	"github.com/meridian-erp/meridian/internal/periods"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// memoryStore implements RepositoryPort and TxRepository over maps. WithTx
// has no rollback; tests that exercise all-or-nothing rely on the engine
// failing before any write.
type memoryStore struct {
	settings orgs.Settings
	periods  []periods.Period
	years    []periods.FiscalYear
	accounts map[uuid.UUID]accounts.Account
	ledgers  []ledgers.Ledger
	rules    []ledgers.MappingRule
	entries  map[uuid.UUID]JournalEntry
	deltas   map[uuid.UUID][]balances.Delta
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) FindPeriodByDate(_ context.Context, orgID uuid.UUID, d time.Time) (periods.Period, error) {
	for _, p := range m.periods {
		if p.OrgID == orgID && p.Contains(d) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrPeriodNotFound
}

func (m *memoryStore) FindFiscalYearByDate(_ context.Context, orgID uuid.UUID, d time.Time) (periods.FiscalYear, error) {
	for _, fy := range m.years {
		if fy.OrgID == orgID && !d.Before(fy.StartDate) && !d.After(fy.EndDate) {
			return fy, nil
		}
	}
	return periods.FiscalYear{}, periods.ErrFiscalYearNotFound
}

func (m *memoryStore) GetSettings(_ context.Context, orgID uuid.UUID) (orgs.Settings, error) {
	return m.settings, nil
}

func (m *memoryStore) GetDefaultLedger(_ context.Context, orgID uuid.UUID) (ledgers.Ledger, error) {
	for _, l := range m.ledgers {
		if l.OrgID == orgID && l.IsDefault {
			return l, nil
		}
	}
	return ledgers.Ledger{}, ledgers.ErrNoDefaultLedger
}

func (m *memoryStore) LoadRules(_ context.Context, orgID uuid.UUID) ([]ledgers.MappingRule, error) {
	return m.rules, nil
}

func (m *memoryStore) LockAccounts(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error) {
	out := make(map[uuid.UUID]accounts.Account)
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok && a.OrgID == orgID {
			out[id] = a
		}
	}
	return out, nil
}

func (m *memoryStore) InsertEntry(_ context.Context, entry *JournalEntry) error {
	m.entries[entry.ID] = *entry
	return nil
}

func (m *memoryStore) GetEntry(_ context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	e, ok := m.entries[id]
	if !ok || e.OrgID != orgID {
		return JournalEntry{}, ErrEntryNotFound
	}
	return e, nil
}

func (m *memoryStore) UpdateStatus(_ context.Context, orgID, id uuid.UUID, status EntryStatus) error {
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = status
	m.entries[id] = e
	return nil
}

func (m *memoryStore) DeleteEntry(_ context.Context, orgID, id uuid.UUID) error {
	delete(m.entries, id)
	return nil
}

func (m *memoryStore) MarkReversed(_ context.Context, orgID, id, reversalID uuid.UUID) error {
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.IsReversed {
		return ErrAlreadyReversed
	}
	e.IsReversed = true
	m.entries[id] = e
	return nil
}

func (m *memoryStore) SetModified(_ context.Context, orgID, id, replacementID uuid.UUID) error {
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = StatusModified
	e.ModifiedToEntryID = &replacementID
	m.entries[id] = e
	return nil
}

func (m *memoryStore) QueueBalanceDeltas(_ context.Context, entryID uuid.UUID, deltas []balances.Delta) error {
	m.deltas[entryID] = append(m.deltas[entryID], deltas...)
	return nil
}

func (m *memoryStore) ListDueAutoReversals(_ context.Context, before time.Time) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range m.entries {
		if e.ReversesNextPeriod && !e.IsReversed && e.Status == StatusPosted && e.Date.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	store   *memoryStore
	svc     *Service
	orgID   uuid.UUID
	actorID uuid.UUID
	cash    uuid.UUID
	revenue uuid.UUID
	ledger  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orgID := uuid.New()
	f := &fixture{
		orgID:   orgID,
		actorID: uuid.New(),
		cash:    uuid.New(),
		revenue: uuid.New(),
		ledger:  uuid.New(),
	}
	f.store = &memoryStore{
		settings: orgs.Settings{OrgID: orgID, BaseCurrency: "EUR"},
		periods: []periods.Period{{
			ID: uuid.New(), OrgID: orgID, Name: "2026-01",
			StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 31),
			Status: periods.StatusOpen, ModuleStatus: periods.OpenModuleStatus(),
		}},
		accounts: map[uuid.UUID]accounts.Account{
			f.cash: {ID: f.cash, OrgID: orgID, Code: "1000", Name: "Cash",
				Type: accounts.TypeAsset, Nature: accounts.NatureDebit, IsPostable: true},
			f.revenue: {ID: f.revenue, OrgID: orgID, Code: "4000", Name: "Revenue",
				Type: accounts.TypeRevenue, Nature: accounts.NatureCredit, IsPostable: true},
		},
		ledgers: []ledgers.Ledger{{ID: f.ledger, OrgID: orgID, Name: "Local GAAP",
			Currency: "EUR", IsDefault: true, IsActive: true}},
		entries: map[uuid.UUID]JournalEntry{},
		deltas:  map[uuid.UUID][]balances.Delta{},
	}
	f.svc = NewService(f.store, nil, nil, nil, nil, nil)
	return f
}

func (f *fixture) basicInput() PostingInput {
	return PostingInput{
		OrgID:       f.orgID,
		ActorID:     f.actorID,
		Date:        date(2026, 1, 15),
		Description: "Cash sale",
		Lines: []LineInput{
			{AccountID: f.cash, Debit: dec("100.00")},
			{AccountID: f.revenue, Credit: dec("100.00")},
		},
	}
}

func TestPostBasicScenario(t *testing.T) {
	f := newFixture(t)

	entry, err := f.svc.Post(context.Background(), f.basicInput())
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if entry.Status != StatusPosted {
		t.Fatalf("status = %s, want POSTED", entry.Status)
	}
	if entry.Type != TypeManual {
		t.Fatalf("type = %s, want MANUAL", entry.Type)
	}
	if len(entry.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(entry.Lines))
	}
	for _, line := range entry.Lines {
		if len(line.Valuations) != 1 {
			t.Fatalf("valuations = %d, want 1 synthesized default", len(line.Valuations))
		}
		v := line.Valuations[0]
		if v.LedgerID != f.ledger || v.AccountID != line.AccountID {
			t.Fatalf("valuation = %+v", v)
		}
		if !v.Debit.Equal(line.Debit) || !v.Credit.Equal(line.Credit) {
			t.Fatalf("valuation amounts diverge from line: %+v", v)
		}
	}

	deltas := f.store.deltas[entry.ID]
	if len(deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(deltas))
	}
	byAccount := map[uuid.UUID]decimal.Decimal{}
	for _, d := range deltas {
		if d.LedgerID != f.ledger {
			t.Fatalf("delta ledger = %s", d.LedgerID)
		}
		byAccount[d.AccountID] = d.Net
	}
	if !byAccount[f.cash].Equal(dec("100.00")) || !byAccount[f.revenue].Equal(dec("-100.00")) {
		t.Fatalf("deltas = %v", byAccount)
	}
}

func TestPostBalanceTolerance(t *testing.T) {
	f := newFixture(t)

	in := f.basicInput()
	in.Lines[1].Credit = dec("99.99")
	if _, err := f.svc.Post(context.Background(), in); err != nil {
		t.Fatalf("one-cent drift should pass: %v", err)
	}

	in = f.basicInput()
	in.Lines[1].Credit = dec("99.98")
	if _, err := f.svc.Post(context.Background(), in); !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("err = %v, want ErrUnbalanced", err)
	}
}

func TestPostShapeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.basicInput()
	in.Lines = in.Lines[:1]
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrTooFewLines) {
		t.Fatalf("err = %v, want ErrTooFewLines", err)
	}

	in = f.basicInput()
	in.Lines[0].Credit = dec("50.00")
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrTwoSidedLine) {
		t.Fatalf("err = %v, want ErrTwoSidedLine", err)
	}

	in = f.basicInput()
	in.Lines[0].Debit = dec("-100.00")
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("err = %v, want ErrNegativeAmount", err)
	}

	in = f.basicInput()
	in.Lines[0].Debit = dec("100.005")
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrAmountPrecision) {
		t.Fatalf("err = %v, want ErrAmountPrecision", err)
	}

	in = f.basicInput()
	in.Lines[0].Debit = decimal.Zero
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrEmptyLine) {
		t.Fatalf("err = %v, want ErrEmptyLine", err)
	}
}

func TestPostValuationShapeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.basicInput()
	in.Lines[0].Valuations = []ValuationInput{{LedgerID: f.ledger, Debit: dec("100.00"), Credit: dec("100.00")}}
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrTwoSidedValuation) {
		t.Fatalf("err = %v, want ErrTwoSidedValuation", err)
	}

	in = f.basicInput()
	in.Lines[0].Valuations = []ValuationInput{{LedgerID: f.ledger}}
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrEmptyValuation) {
		t.Fatalf("err = %v, want ErrEmptyValuation", err)
	}

	in = f.basicInput()
	in.Lines[0].Valuations = []ValuationInput{{LedgerID: f.ledger, Debit: dec("100.005")}}
	if _, err := f.svc.Post(ctx, in); !errors.Is(err, ErrAmountPrecision) {
		t.Fatalf("err = %v, want ErrAmountPrecision", err)
	}

	if len(f.store.entries) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestPostClosedPeriodRejected(t *testing.T) {
	f := newFixture(t)
	f.store.periods[0].Status = periods.StatusClosed

	_, err := f.svc.Post(context.Background(), f.basicInput())
	if !errors.Is(err, ErrPeriodNotOpen) {
		t.Fatalf("err = %v, want ErrPeriodNotOpen", err)
	}
	if len(f.store.entries) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestPostNoPeriodRejected(t *testing.T) {
	f := newFixture(t)
	in := f.basicInput()
	in.Date = date(2026, 3, 15)
	if _, err := f.svc.Post(context.Background(), in); !errors.Is(err, ErrPeriodNotOpen) {
		t.Fatalf("err = %v, want ErrPeriodNotOpen", err)
	}
}

func TestPostLockedFiscalYear(t *testing.T) {
	f := newFixture(t)
	f.store.years = []periods.FiscalYear{{
		ID: uuid.New(), OrgID: f.orgID, Name: "FY2026",
		StartDate: date(2026, 1, 1), EndDate: date(2026, 12, 31),
		Status: periods.StatusLocked,
	}}

	if _, err := f.svc.Post(context.Background(), f.basicInput()); !errors.Is(err, ErrFiscalYearLocked) {
		t.Fatalf("err = %v, want ErrFiscalYearLocked", err)
	}

	in := f.basicInput()
	in.Type = TypeAuditAdjustment
	if _, err := f.svc.Post(context.Background(), in); err != nil {
		t.Fatalf("audit adjustment into locked year: %v", err)
	}
}

func TestPostMissingDimension(t *testing.T) {
	f := newFixture(t)
	a := f.store.accounts[f.revenue]
	a.RequiredDimensions = []string{"department"}
	f.store.accounts[f.revenue] = a

	_, err := f.svc.Post(context.Background(), f.basicInput())
	var dimErr *MissingDimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("err = %v, want MissingDimensionError", err)
	}
	if dimErr.AccountCode != "4000" || dimErr.Dimension != "department" {
		t.Fatalf("error names %s/%s", dimErr.AccountCode, dimErr.Dimension)
	}

	in := f.basicInput()
	in.Lines[1].Dimensions = map[string]string{"department": "D-100"}
	if _, err := f.svc.Post(context.Background(), in); err != nil {
		t.Fatalf("with dimension: %v", err)
	}
}

func TestPostEmptyDimensionValueRejected(t *testing.T) {
	f := newFixture(t)
	a := f.store.accounts[f.revenue]
	a.RequiredDimensions = []string{"cost_center"}
	f.store.accounts[f.revenue] = a

	in := f.basicInput()
	in.Lines[1].Dimensions = map[string]string{"cost_center": ""}
	_, err := f.svc.Post(context.Background(), in)
	var dimErr *MissingDimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("err = %v, want MissingDimensionError", err)
	}
	if dimErr.AccountCode != "4000" || dimErr.Dimension != "cost_center" {
		t.Fatalf("error names %s/%s", dimErr.AccountCode, dimErr.Dimension)
	}
	if len(f.store.entries) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestPostBlockedAccountAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.store.accounts[f.cash]
	a.IsBlockedForPosting = true
	f.store.accounts[f.cash] = a

	_, err := f.svc.Post(context.Background(), f.basicInput())
	var npErr *accounts.NotPostableError
	if !errors.As(err, &npErr) {
		t.Fatalf("err = %v, want NotPostableError", err)
	}
	if len(f.store.entries) != 0 || len(f.store.deltas) != 0 {
		t.Fatal("blocked account must leave no writes behind")
	}
}

func TestPostForeignCurrency(t *testing.T) {
	f := newFixture(t)

	in := f.basicInput()
	in.CurrencyCode = "USD"
	if _, err := f.svc.Post(context.Background(), in); !errors.Is(err, ErrMissingExchangeRate) {
		t.Fatalf("err = %v, want ErrMissingExchangeRate", err)
	}

	in.ExchangeRate = dec("0.92")
	entry, err := f.svc.Post(context.Background(), in)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if entry.CurrencyCode != "USD" || !entry.ExchangeRate.Equal(dec("0.92")) {
		t.Fatalf("entry currency = %s rate = %s", entry.CurrencyCode, entry.ExchangeRate)
	}
	line := entry.Lines[0]
	if !line.Debit.Equal(dec("92.00")) {
		t.Fatalf("base debit = %s, want 92.00", line.Debit)
	}
	if !line.ForeignDebit.Equal(dec("100.00")) {
		t.Fatalf("foreign debit = %s, want 100.00", line.ForeignDebit)
	}
	if !line.Valuations[0].Debit.Equal(dec("92.00")) {
		t.Fatalf("default valuation uses base amounts, got %s", line.Valuations[0].Debit)
	}
}

func TestPostMappedValuation(t *testing.T) {
	f := newFixture(t)
	target := uuid.New()
	ifrsRevenue := uuid.New()
	f.store.ledgers = append(f.store.ledgers, ledgers.Ledger{
		ID: target, OrgID: f.orgID, Name: "IFRS", Currency: "EUR", IsActive: true,
	})
	f.store.rules = []ledgers.MappingRule{{
		ID: uuid.New(), OrgID: f.orgID,
		SourceLedgerID: f.ledger, TargetLedgerID: target,
		SourceAccountID: f.revenue, TargetAccountID: ifrsRevenue,
		Multiplier: dec("0.5"),
	}}

	entry, err := f.svc.Post(context.Background(), f.basicInput())
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	revLine := entry.Lines[1]
	if len(revLine.Valuations) != 2 {
		t.Fatalf("valuations = %d, want default + mapped", len(revLine.Valuations))
	}
	var mapped *LineValuation
	for i := range revLine.Valuations {
		if revLine.Valuations[i].LedgerID == target {
			mapped = &revLine.Valuations[i]
		}
	}
	if mapped == nil {
		t.Fatal("no valuation derived on target ledger")
	}
	if mapped.AccountID != ifrsRevenue {
		t.Fatalf("mapped account = %s, want rule target", mapped.AccountID)
	}
	if !mapped.Credit.Equal(dec("50.00")) {
		t.Fatalf("mapped credit = %s, want 50.00", mapped.Credit)
	}
	// Cash line has no rule, only the default valuation.
	if len(entry.Lines[0].Valuations) != 1 {
		t.Fatalf("cash valuations = %d, want 1", len(entry.Lines[0].Valuations))
	}
}

func TestPostExplicitValuationBeatsMapping(t *testing.T) {
	f := newFixture(t)
	target := uuid.New()
	f.store.ledgers = append(f.store.ledgers, ledgers.Ledger{
		ID: target, OrgID: f.orgID, Name: "IFRS", Currency: "EUR", IsActive: true,
	})
	f.store.rules = []ledgers.MappingRule{{
		ID: uuid.New(), OrgID: f.orgID,
		SourceLedgerID: f.ledger, TargetLedgerID: target,
		SourceAccountID: f.revenue, TargetAccountID: uuid.New(),
		Multiplier: dec("0.5"),
	}}

	in := f.basicInput()
	in.Lines[1].Valuations = []ValuationInput{{LedgerID: target, Credit: dec("77.00")}}
	entry, err := f.svc.Post(context.Background(), in)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	revLine := entry.Lines[1]
	if len(revLine.Valuations) != 2 {
		t.Fatalf("valuations = %d, want explicit + default", len(revLine.Valuations))
	}
	for _, v := range revLine.Valuations {
		if v.LedgerID == target {
			if !v.Credit.Equal(dec("77.00")) {
				t.Fatalf("explicit valuation overwritten: %s", v.Credit)
			}
			if v.AccountID != f.revenue {
				t.Fatalf("explicit valuation defaults to line account, got %s", v.AccountID)
			}
		}
	}
}

func TestPostConditionGatedMapping(t *testing.T) {
	f := newFixture(t)
	target := uuid.New()
	f.store.ledgers = append(f.store.ledgers, ledgers.Ledger{
		ID: target, OrgID: f.orgID, Name: "IFRS", Currency: "EUR", IsActive: true,
	})
	f.store.rules = []ledgers.MappingRule{{
		ID: uuid.New(), OrgID: f.orgID,
		SourceLedgerID: f.ledger, TargetLedgerID: target,
		SourceAccountID: f.revenue, TargetAccountID: uuid.New(),
		Multiplier: dec("1"),
		Conditions: []ledgers.RuleCondition{{
			DimensionName: "region", Operator: ledgers.OperatorEquals, Values: []string{"EU"},
		}},
	}}

	entry, err := f.svc.Post(context.Background(), f.basicInput())
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(entry.Lines[1].Valuations) != 1 {
		t.Fatal("rule should not fire without the dimension")
	}

	in := f.basicInput()
	in.Lines[1].Dimensions = map[string]string{"region": "EU"}
	entry, err = f.svc.Post(context.Background(), in)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(entry.Lines[1].Valuations) != 2 {
		t.Fatal("rule should fire when the dimension matches")
	}
}

func TestReverseRoundTrip(t *testing.T) {
	f := newFixture(t)
	orig, err := f.svc.Post(context.Background(), f.basicInput())
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	reversal, err := f.svc.Reverse(context.Background(), ReverseInput{
		OrgID: f.orgID, EntryID: orig.ID, ActorID: f.actorID,
		Date: date(2026, 1, 20), Reason: "booked twice",
	})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.ReversesEntryID == nil || *reversal.ReversesEntryID != orig.ID {
		t.Fatal("reversal must link the original")
	}
	if reversal.Type != TypeSystem {
		t.Fatalf("reversal type = %s, want SYSTEM", reversal.Type)
	}
	if !reversal.Lines[0].Credit.Equal(orig.Lines[0].Debit) || !reversal.Lines[0].Debit.Equal(orig.Lines[0].Credit) {
		t.Fatal("line sides must swap")
	}
	if !reversal.Lines[0].Valuations[0].Credit.Equal(orig.Lines[0].Valuations[0].Debit) {
		t.Fatal("valuation sides must swap")
	}
	if !f.store.entries[orig.ID].IsReversed {
		t.Fatal("original must be flagged reversed")
	}

	// Net effect on balances is zero.
	total := decimal.Zero
	for _, ds := range f.store.deltas {
		for _, d := range ds {
			if d.AccountID == f.cash {
				total = total.Add(d.Net)
			}
		}
	}
	if !total.IsZero() {
		t.Fatalf("cash net after round trip = %s, want 0", total)
	}

	if _, err := f.svc.Reverse(context.Background(), ReverseInput{
		OrgID: f.orgID, EntryID: orig.ID, ActorID: f.actorID, Date: date(2026, 1, 21),
	}); !errors.Is(err, ErrAlreadyReversed) {
		t.Fatalf("err = %v, want ErrAlreadyReversed", err)
	}
}

func TestReverseReconciledLineRejected(t *testing.T) {
	f := newFixture(t)
	orig, _ := f.svc.Post(context.Background(), f.basicInput())
	stored := f.store.entries[orig.ID]
	stored.Lines[0].IsReconciled = true
	f.store.entries[orig.ID] = stored

	_, err := f.svc.Reverse(context.Background(), ReverseInput{
		OrgID: f.orgID, EntryID: orig.ID, ActorID: f.actorID, Date: date(2026, 1, 20),
	})
	if !errors.Is(err, ErrLineReconciled) {
		t.Fatalf("err = %v, want ErrLineReconciled", err)
	}
}

func TestModify(t *testing.T) {
	f := newFixture(t)
	f.svc.WithNow(func() time.Time { return date(2026, 1, 25) })
	orig, _ := f.svc.Post(context.Background(), f.basicInput())

	newContent := f.basicInput()
	newContent.Lines[0].Debit = dec("150.00")
	newContent.Lines[1].Credit = dec("150.00")
	replacement, err := f.svc.Modify(context.Background(), ModifyInput{
		OrgID: f.orgID, EntryID: orig.ID, ActorID: f.actorID,
		Reason: "wrong amount", NewContent: newContent,
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}

	stored := f.store.entries[orig.ID]
	if stored.Status != StatusModified {
		t.Fatalf("original status = %s, want MODIFIED", stored.Status)
	}
	if stored.ModifiedToEntryID == nil || *stored.ModifiedToEntryID != replacement.ID {
		t.Fatal("original must link its replacement")
	}
	if !stored.IsReversed {
		t.Fatal("original must be reversed")
	}
	if !replacement.Lines[0].Debit.Equal(dec("150.00")) {
		t.Fatalf("replacement debit = %s", replacement.Lines[0].Debit)
	}
}

type stubDecider struct {
	require bool
}

func (d stubDecider) RequiresApproval(context.Context, uuid.UUID, decimal.Decimal) (bool, error) {
	return d.require, nil
}

func TestCreateApprovalFlow(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.store, nil, stubDecider{require: true}, nil, nil, nil)

	draft, pending, err := f.svc.Create(context.Background(), f.basicInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !pending || draft.Status != StatusPendingApproval {
		t.Fatalf("pending = %v status = %s", pending, draft.Status)
	}
	if len(f.store.deltas) != 0 {
		t.Fatal("a pending draft must not queue deltas")
	}

	posted, err := f.svc.HandleApprovalGranted(context.Background(), f.orgID, draft.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if posted.Status != StatusPosted {
		t.Fatalf("status = %s, want POSTED", posted.Status)
	}
	if _, ok := f.store.entries[draft.ID]; ok {
		t.Fatal("draft must be deleted after posting")
	}

	// Redelivery of the same event is a no-op.
	again, err := f.svc.HandleApprovalGranted(context.Background(), f.orgID, draft.ID)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.ID != uuid.Nil {
		t.Fatal("redelivery must not post a second entry")
	}
	if len(f.store.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(f.store.entries))
	}
}

func TestCreateWithoutApprovalPostsDirectly(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.store, nil, stubDecider{require: false}, nil, nil, nil)

	entry, pending, err := f.svc.Create(context.Background(), f.basicInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pending || entry.Status != StatusPosted {
		t.Fatalf("pending = %v status = %s", pending, entry.Status)
	}
}

func TestHandleApprovalRejected(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.store, nil, stubDecider{require: true}, nil, nil, nil)
	draft, _, _ := f.svc.Create(context.Background(), f.basicInput())

	if err := f.svc.HandleApprovalRejected(context.Background(), f.orgID, draft.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := f.store.entries[draft.ID].Status; got != StatusRejected {
		t.Fatalf("status = %s, want REJECTED", got)
	}
}

func TestSweepAutoReversals(t *testing.T) {
	f := newFixture(t)
	f.store.periods = append(f.store.periods, periods.Period{
		ID: uuid.New(), OrgID: f.orgID, Name: "2026-02",
		StartDate: date(2026, 2, 1), EndDate: date(2026, 2, 28),
		Status: periods.StatusOpen, ModuleStatus: periods.OpenModuleStatus(),
	})

	in := f.basicInput()
	in.ReversesNextPeriod = true
	in.Description = "January accrual"
	accrual, err := f.svc.Post(context.Background(), in)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	// A second flagged entry whose reversal will fail: its lines become
	// reconciled after posting.
	in2 := f.basicInput()
	in2.ReversesNextPeriod = true
	stuck, err := f.svc.Post(context.Background(), in2)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	st := f.store.entries[stuck.ID]
	st.Lines[0].IsReconciled = true
	f.store.entries[stuck.ID] = st

	reversed, err := f.svc.SweepAutoReversals(context.Background(), date(2026, 2, 10))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reversed != 1 {
		t.Fatalf("reversed = %d, want 1 (failure isolated)", reversed)
	}
	if !f.store.entries[accrual.ID].IsReversed {
		t.Fatal("accrual must be reversed")
	}
	if f.store.entries[stuck.ID].IsReversed {
		t.Fatal("reconciled entry must stay untouched")
	}

	// Reversal lands on the first day of the following month.
	for _, e := range f.store.entries {
		if e.ReversesEntryID != nil && *e.ReversesEntryID == accrual.ID {
			if !e.Date.Equal(date(2026, 2, 1)) {
				t.Fatalf("reversal date = %s, want 2026-02-01", e.Date)
			}
		}
	}

	// Entries dated in the current month are not yet due.
	if n, _ := f.svc.SweepAutoReversals(context.Background(), date(2026, 1, 20)); n != 0 {
		t.Fatalf("reversed = %d, want 0 before month end", n)
	}
}
