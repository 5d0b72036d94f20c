package balances

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type markerKey struct {
	entry   uuid.UUID
	ledger  uuid.UUID
	account uuid.UUID
}

type balanceKey struct {
	ledger  uuid.UUID
	account uuid.UUID
}

type memoryStore struct {
	outbox   []OutboxRow
	markers  map[markerKey]struct{}
	balances map[balanceKey]AccountBalance
	// failUpdates makes the next N versioned updates report a lost race.
	failUpdates int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		markers:  map[markerKey]struct{}{},
		balances: map[balanceKey]AccountBalance{},
	}
}

func (m *memoryStore) enqueue(entryID uuid.UUID, d Delta) {
	m.outbox = append(m.outbox, OutboxRow{ID: int64(len(m.outbox) + 1), EntryID: entryID, Delta: d})
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) ListOutboxForEntry(_ context.Context, entryID uuid.UUID) ([]OutboxRow, error) {
	var out []OutboxRow
	for _, row := range m.outbox {
		if row.EntryID == entryID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryStore) ListOutbox(_ context.Context, limit int) ([]OutboxRow, error) {
	if len(m.outbox) > limit {
		return m.outbox[:limit], nil
	}
	return m.outbox, nil
}

func (m *memoryStore) GetBalance(_ context.Context, orgID, ledgerID, accountID uuid.UUID) (AccountBalance, error) {
	b, ok := m.balances[balanceKey{ledger: ledgerID, account: accountID}]
	if !ok {
		return AccountBalance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (m *memoryStore) ClaimMarker(_ context.Context, entryID, ledgerID, accountID uuid.UUID) (bool, error) {
	k := markerKey{entry: entryID, ledger: ledgerID, account: accountID}
	if _, taken := m.markers[k]; taken {
		return false, nil
	}
	m.markers[k] = struct{}{}
	return true, nil
}

func (m *memoryStore) InsertBalance(_ context.Context, b AccountBalance) (bool, error) {
	k := balanceKey{ledger: b.LedgerID, account: b.AccountID}
	if _, exists := m.balances[k]; exists {
		return false, nil
	}
	b.Version = 1
	m.balances[k] = b
	return true, nil
}

func (m *memoryStore) UpdateBalanceVersioned(_ context.Context, orgID, ledgerID, accountID uuid.UUID, balance decimal.Decimal, expectedVersion int64) (bool, error) {
	if m.failUpdates > 0 {
		m.failUpdates--
		return false, nil
	}
	k := balanceKey{ledger: ledgerID, account: accountID}
	b, ok := m.balances[k]
	if !ok || b.Version != expectedVersion {
		return false, nil
	}
	b.Balance = balance
	b.Version++
	m.balances[k] = b
	return true, nil
}

func (m *memoryStore) DeleteOutboxRow(_ context.Context, id int64) error {
	for i, row := range m.outbox {
		if row.ID == id {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func TestAggregate(t *testing.T) {
	orgID := uuid.New()
	ledger := uuid.New()
	cash, revenue := uuid.New(), uuid.New()

	deltas := Aggregate(orgID, []Delta{
		{LedgerID: ledger, AccountID: cash, Net: dec("100")},
		{LedgerID: ledger, AccountID: cash, Net: dec("-40")},
		{LedgerID: ledger, AccountID: revenue, Net: dec("-100")},
		{LedgerID: ledger, AccountID: revenue, Net: dec("100")},
	})
	require.Len(t, deltas, 1, "zero nets must be dropped")
	require.Equal(t, cash, deltas[0].AccountID)
	require.True(t, deltas[0].Net.Equal(dec("60")))
	require.Equal(t, orgID, deltas[0].OrgID)
}

func TestApplyEntry(t *testing.T) {
	store := newMemoryStore()
	acc := NewAccumulator(store, nil)
	orgID, ledger, account := uuid.New(), uuid.New(), uuid.New()
	entry := uuid.New()

	store.enqueue(entry, Delta{OrgID: orgID, LedgerID: ledger, AccountID: account, Net: dec("250.00")})
	require.NoError(t, acc.ApplyEntry(context.Background(), entry))

	b, err := acc.Balance(context.Background(), orgID, ledger, account)
	require.NoError(t, err)
	require.True(t, b.Balance.Equal(dec("250.00")))
	require.EqualValues(t, 1, b.Version)
	require.Empty(t, store.outbox, "applied rows must leave the outbox")
}

func TestApplyEntryIdempotent(t *testing.T) {
	store := newMemoryStore()
	acc := NewAccumulator(store, nil)
	orgID, ledger, account := uuid.New(), uuid.New(), uuid.New()
	entry := uuid.New()
	delta := Delta{OrgID: orgID, LedgerID: ledger, AccountID: account, Net: dec("250.00")}

	store.enqueue(entry, delta)
	require.NoError(t, acc.ApplyEntry(context.Background(), entry))

	// Redelivery with the outbox row resurrected must not double-apply.
	store.enqueue(entry, delta)
	require.NoError(t, acc.ApplyEntry(context.Background(), entry))

	b, err := acc.Balance(context.Background(), orgID, ledger, account)
	require.NoError(t, err)
	require.True(t, b.Balance.Equal(dec("250.00")), "balance = %s", b.Balance)
	require.Empty(t, store.outbox)
}

func TestApplyVersionedUpdate(t *testing.T) {
	store := newMemoryStore()
	acc := NewAccumulator(store, nil)
	orgID, ledger, account := uuid.New(), uuid.New(), uuid.New()

	store.enqueue(uuid.New(), Delta{OrgID: orgID, LedgerID: ledger, AccountID: account, Net: dec("100.00")})
	store.enqueue(uuid.New(), Delta{OrgID: orgID, LedgerID: ledger, AccountID: account, Net: dec("-30.00")})

	applied, err := acc.SweepOutbox(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	b, err := acc.Balance(context.Background(), orgID, ledger, account)
	require.NoError(t, err)
	require.True(t, b.Balance.Equal(dec("70.00")), "balance = %s", b.Balance)
	require.EqualValues(t, 2, b.Version)
}

func TestApplyRetriesLostRace(t *testing.T) {
	store := newMemoryStore()
	acc := NewAccumulator(store, nil)
	orgID, ledger, account := uuid.New(), uuid.New(), uuid.New()
	store.balances[balanceKey{ledger: ledger, account: account}] = AccountBalance{
		OrgID: orgID, LedgerID: ledger, AccountID: account, Balance: dec("10.00"), Version: 3,
	}
	store.failUpdates = 2
	store.enqueue(uuid.New(), Delta{OrgID: orgID, LedgerID: ledger, AccountID: account, Net: dec("5.00")})

	require.NoError(t, acc.ApplyEntry(context.Background(), store.outbox[0].EntryID))
	b, _ := acc.Balance(context.Background(), orgID, ledger, account)
	require.True(t, b.Balance.Equal(dec("15.00")))
}

func TestApplyGivesUpAsTransient(t *testing.T) {
	store := newMemoryStore()
	acc := NewAccumulator(store, nil)
	orgID, ledger, account := uuid.New(), uuid.New(), uuid.New()
	store.balances[balanceKey{ledger: ledger, account: account}] = AccountBalance{
		OrgID: orgID, LedgerID: ledger, AccountID: account, Balance: dec("10.00"), Version: 3,
	}
	store.failUpdates = maxApplyAttempts
	entry := uuid.New()
	store.enqueue(entry, Delta{OrgID: orgID, LedgerID: ledger, AccountID: account, Net: dec("5.00")})

	err := acc.ApplyEntry(context.Background(), entry)
	require.ErrorIs(t, err, shared.ErrTransient)
}
