package ledgers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memoryRepo struct {
	ledgers map[uuid.UUID]Ledger
	rules   map[uuid.UUID]MappingRule
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{ledgers: map[uuid.UUID]Ledger{}, rules: map[uuid.UUID]MappingRule{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) GetDefault(_ context.Context, orgID uuid.UUID) (Ledger, error) {
	for _, l := range m.ledgers {
		if l.OrgID == orgID && l.IsDefault {
			return l, nil
		}
	}
	return Ledger{}, ErrNoDefaultLedger
}

func (m *memoryRepo) Get(_ context.Context, orgID, id uuid.UUID) (Ledger, error) {
	l, ok := m.ledgers[id]
	if !ok || l.OrgID != orgID {
		return Ledger{}, ErrLedgerNotFound
	}
	return l, nil
}

func (m *memoryRepo) List(_ context.Context, orgID uuid.UUID) ([]Ledger, error) {
	var out []Ledger
	for _, l := range m.ledgers {
		if l.OrgID == orgID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListRules(_ context.Context, orgID uuid.UUID) ([]MappingRule, error) {
	var out []MappingRule
	for _, r := range m.rules {
		if r.OrgID == orgID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) ClearDefault(_ context.Context, orgID uuid.UUID) error {
	for id, l := range t.repo.ledgers {
		if l.OrgID == orgID && l.IsDefault {
			l.IsDefault = false
			t.repo.ledgers[id] = l
		}
	}
	return nil
}

func (t *memoryTx) InsertLedger(_ context.Context, l Ledger) (Ledger, error) {
	t.repo.ledgers[l.ID] = l
	return l, nil
}

func (t *memoryTx) UpdateLedger(_ context.Context, l Ledger) (Ledger, error) {
	if _, ok := t.repo.ledgers[l.ID]; !ok {
		return Ledger{}, ErrLedgerNotFound
	}
	t.repo.ledgers[l.ID] = l
	return l, nil
}

func (t *memoryTx) GetLedger(_ context.Context, orgID, id uuid.UUID) (Ledger, error) {
	return t.repo.Get(context.Background(), orgID, id)
}

func (t *memoryTx) DeleteRulesForPair(_ context.Context, orgID, src, dst uuid.UUID) error {
	for id, r := range t.repo.rules {
		if r.OrgID == orgID && r.SourceLedgerID == src && r.TargetLedgerID == dst {
			delete(t.repo.rules, id)
		}
	}
	return nil
}

func (t *memoryTx) InsertRule(_ context.Context, rule MappingRule) (MappingRule, error) {
	t.repo.rules[rule.ID] = rule
	return rule, nil
}

func TestCreateLedgerClearsPriorDefault(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	orgID := uuid.New()

	first, err := svc.CreateLedger(context.Background(), CreateLedgerInput{
		OrgID: orgID, Name: "Local GAAP", Currency: "EUR", IsDefault: true,
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.CreateLedger(context.Background(), CreateLedgerInput{
		OrgID: orgID, Name: "IFRS", Currency: "USD", IsDefault: true,
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	def, err := repo.GetDefault(context.Background(), orgID)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if def.ID != second.ID {
		t.Fatalf("default = %s, want %s", def.ID, second.ID)
	}
	if repo.ledgers[first.ID].IsDefault {
		t.Fatal("first ledger should have lost its default flag")
	}
}

func TestCreateLedgerRejectsBadCurrency(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.CreateLedger(context.Background(), CreateLedgerInput{
		OrgID: uuid.New(), Name: "Bad", Currency: "EURO",
	})
	if !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("err = %v, want ErrInvalidCurrency", err)
	}
}

func TestUpdateLedgerPromotesDefault(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	orgID := uuid.New()

	a, _ := svc.CreateLedger(context.Background(), CreateLedgerInput{OrgID: orgID, Name: "A", Currency: "EUR", IsDefault: true})
	b, _ := svc.CreateLedger(context.Background(), CreateLedgerInput{OrgID: orgID, Name: "B", Currency: "USD"})

	_, err := svc.UpdateLedger(context.Background(), UpdateLedgerInput{
		OrgID: orgID, LedgerID: b.ID, Name: "B", Currency: "USD", IsDefault: true, IsActive: true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if repo.ledgers[a.ID].IsDefault {
		t.Fatal("old default not cleared")
	}
	if !repo.ledgers[b.ID].IsDefault {
		t.Fatal("new default not set")
	}
}

func TestReplaceMappingsSwapsPairRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	orgID := uuid.New()

	src, _ := svc.CreateLedger(context.Background(), CreateLedgerInput{OrgID: orgID, Name: "Src", Currency: "EUR", IsDefault: true})
	dst, _ := svc.CreateLedger(context.Background(), CreateLedgerInput{OrgID: orgID, Name: "Dst", Currency: "EUR"})
	other, _ := svc.CreateLedger(context.Background(), CreateLedgerInput{OrgID: orgID, Name: "Other", Currency: "EUR"})

	acct := uuid.New()
	_, err := svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: src.ID, TargetLedgerID: dst.ID,
		Mappings: []MappingInput{{SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	// A rule on a different pair must survive the replace below.
	_, err = svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: src.ID, TargetLedgerID: other.ID,
		Mappings: []MappingInput{{SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("other pair: %v", err)
	}

	n, err := svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: src.ID, TargetLedgerID: dst.ID,
		Mappings: []MappingInput{
			{SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.RequireFromString("1.1")},
			{SourceAccountID: uuid.New(), TargetAccountID: uuid.New(), Multiplier: decimal.NewFromInt(-1)},
		},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if n != 2 {
		t.Fatalf("created = %d, want 2", n)
	}
	rules, _ := repo.ListRules(context.Background(), orgID)
	if len(rules) != 3 {
		t.Fatalf("total rules = %d, want 3 (2 replaced + 1 other pair)", len(rules))
	}
}

func TestReplaceMappingsValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	orgID := uuid.New()
	same := uuid.New()

	if _, err := svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: same, TargetLedgerID: same,
	}); err == nil {
		t.Fatal("expected error for identical ledgers")
	}

	acct := uuid.New()
	_, err := svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: uuid.New(), TargetLedgerID: uuid.New(),
		Mappings: []MappingInput{
			{SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.NewFromInt(1)},
			{SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.NewFromInt(1)},
		},
	})
	if err == nil {
		t.Fatal("expected error for duplicate source account")
	}

	_, err = svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: uuid.New(), TargetLedgerID: uuid.New(),
		Mappings: []MappingInput{{SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.Zero}},
	})
	if err == nil {
		t.Fatal("expected error for zero multiplier")
	}

	_, err = svc.ReplaceMappings(context.Background(), ReplaceMappingsInput{
		OrgID: orgID, SourceLedgerID: uuid.New(), TargetLedgerID: uuid.New(),
		Mappings: []MappingInput{{
			SourceAccountID: acct, TargetAccountID: uuid.New(), Multiplier: decimal.NewFromInt(1),
			Conditions: []RuleCondition{{DimensionName: "dept", Operator: "LIKE"}},
		}},
	})
	if !errors.Is(err, ErrUnknownOperator) {
		t.Fatalf("err = %v, want ErrUnknownOperator", err)
	}
}

func TestRuleConditionMatches(t *testing.T) {
	dims := map[string]string{"department": "D-100", "project": "P-1"}

	cases := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{"equals hit", RuleCondition{DimensionName: "department", Operator: OperatorEquals, Values: []string{"D-100"}}, true},
		{"equals miss", RuleCondition{DimensionName: "department", Operator: OperatorEquals, Values: []string{"D-200"}}, false},
		{"equals absent dimension", RuleCondition{DimensionName: "region", Operator: OperatorEquals, Values: []string{"EU"}}, false},
		{"not equals hit", RuleCondition{DimensionName: "department", Operator: OperatorNotEquals, Values: []string{"D-200"}}, true},
		{"not equals miss", RuleCondition{DimensionName: "department", Operator: OperatorNotEquals, Values: []string{"D-100"}}, false},
		{"not equals absent dimension", RuleCondition{DimensionName: "region", Operator: OperatorNotEquals, Values: []string{"EU"}}, true},
		{"in hit", RuleCondition{DimensionName: "project", Operator: OperatorIn, Values: []string{"P-2", "P-1"}}, true},
		{"in miss", RuleCondition{DimensionName: "project", Operator: OperatorIn, Values: []string{"P-2"}}, false},
		{"in absent dimension", RuleCondition{DimensionName: "region", Operator: OperatorIn, Values: []string{"EU"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cond.Matches(dims)
			if err != nil {
				t.Fatalf("matches: %v", err)
			}
			if got != tc.want {
				t.Fatalf("matches = %v, want %v", got, tc.want)
			}
		})
	}

	if _, err := (RuleCondition{DimensionName: "x", Operator: "BETWEEN"}).Matches(dims); !errors.Is(err, ErrUnknownOperator) {
		t.Fatalf("err = %v, want ErrUnknownOperator", err)
	}
}

func TestRuleSetIndexing(t *testing.T) {
	src, acct := uuid.New(), uuid.New()
	rules := []MappingRule{
		{ID: uuid.New(), SourceLedgerID: src, SourceAccountID: acct, TargetLedgerID: uuid.New()},
		{ID: uuid.New(), SourceLedgerID: src, SourceAccountID: acct, TargetLedgerID: uuid.New()},
		{ID: uuid.New(), SourceLedgerID: src, SourceAccountID: uuid.New(), TargetLedgerID: uuid.New()},
	}
	set := NewRuleSet(rules)
	if got := len(set.For(src, acct)); got != 2 {
		t.Fatalf("For = %d rules, want 2", got)
	}
	if got := set.For(uuid.New(), acct); got != nil {
		t.Fatalf("For unknown ledger = %v, want nil", got)
	}
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
}
