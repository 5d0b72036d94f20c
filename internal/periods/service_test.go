package periods

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memoryRepo struct {
	periods map[uuid.UUID]Period
	years   map[uuid.UUID]FiscalYear
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{periods: map[uuid.UUID]Period{}, years: map[uuid.UUID]FiscalYear{}}
}

func (m *memoryRepo) InsertPeriod(_ context.Context, p Period) (Period, error) {
	m.periods[p.ID] = p
	return p, nil
}

func (m *memoryRepo) GetPeriod(_ context.Context, orgID, id uuid.UUID) (Period, error) {
	p, ok := m.periods[id]
	if !ok || p.OrgID != orgID {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (m *memoryRepo) FindPeriodByDate(_ context.Context, orgID uuid.UUID, date time.Time) (Period, error) {
	for _, p := range m.periods {
		if p.OrgID == orgID && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

func (m *memoryRepo) FindPeriodAfter(_ context.Context, orgID uuid.UUID, endDate time.Time) (Period, error) {
	var best *Period
	for _, p := range m.periods {
		if p.OrgID != orgID || !p.StartDate.After(endDate) {
			continue
		}
		if best == nil || p.StartDate.Before(best.StartDate) {
			cp := p
			best = &cp
		}
	}
	if best == nil {
		return Period{}, ErrPeriodNotFound
	}
	return *best, nil
}

func (m *memoryRepo) ListPeriods(_ context.Context, orgID uuid.UUID) ([]Period, error) {
	var out []Period
	for _, p := range m.periods {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryRepo) CountOverlappingPeriods(_ context.Context, orgID uuid.UUID, start, end time.Time) (int, error) {
	n := 0
	for _, p := range m.periods {
		if p.OrgID == orgID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) UpdateModuleStatus(_ context.Context, orgID, id uuid.UUID, ms ModuleStatus) error {
	p, ok := m.periods[id]
	if !ok || p.OrgID != orgID {
		return ErrPeriodNotFound
	}
	p.ModuleStatus = ms
	m.periods[id] = p
	return nil
}

func (m *memoryRepo) InsertFiscalYear(_ context.Context, fy FiscalYear) (FiscalYear, error) {
	m.years[fy.ID] = fy
	return fy, nil
}

func (m *memoryRepo) GetFiscalYear(_ context.Context, orgID, id uuid.UUID) (FiscalYear, error) {
	fy, ok := m.years[id]
	if !ok || fy.OrgID != orgID {
		return FiscalYear{}, ErrFiscalYearNotFound
	}
	return fy, nil
}

func (m *memoryRepo) FindFiscalYearByDate(_ context.Context, orgID uuid.UUID, date time.Time) (FiscalYear, error) {
	for _, fy := range m.years {
		if fy.OrgID == orgID && !date.Before(fy.StartDate) && !date.After(fy.EndDate) {
			return fy, nil
		}
	}
	return FiscalYear{}, ErrFiscalYearNotFound
}

func (m *memoryRepo) CountOverlappingFiscalYears(_ context.Context, orgID uuid.UUID, start, end time.Time) (int, error) {
	n := 0
	for _, fy := range m.years {
		if fy.OrgID == orgID && !fy.StartDate.After(end) && !fy.EndDate.Before(start) {
			n++
		}
	}
	return n, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreatePeriodRejectsOverlap(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	orgID := uuid.New()

	_, err := svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: orgID, Name: "2026-01", StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 31),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: orgID, Name: "overlapping", StartDate: date(2026, 1, 15), EndDate: date(2026, 2, 15),
	})
	if !errors.Is(err, ErrRangeOverlap) {
		t.Fatalf("err = %v, want ErrRangeOverlap", err)
	}

	// Adjacent ranges are fine.
	if _, err := svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: orgID, Name: "2026-02", StartDate: date(2026, 2, 1), EndDate: date(2026, 2, 28),
	}); err != nil {
		t.Fatalf("adjacent: %v", err)
	}

	// Another tenant may reuse the range.
	if _, err := svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: uuid.New(), Name: "2026-01", StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 31),
	}); err != nil {
		t.Fatalf("other tenant: %v", err)
	}
}

func TestCreatePeriodRejectsInvertedRange(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: uuid.New(), Name: "bad", StartDate: date(2026, 2, 1), EndDate: date(2026, 1, 1),
	})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v, want ErrInvalidRange", err)
	}
}

func TestSetModuleStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	orgID := uuid.New()

	p, err := svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: orgID, Name: "2026-01", StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 31),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.SetModuleStatus(context.Background(), orgID, p.ID, uuid.New(), ModuleAP, StatusClosed)
	if err != nil {
		t.Fatalf("close AP: %v", err)
	}
	if got.ModuleStatus.AP != StatusClosed || got.ModuleStatus.GL != StatusOpen {
		t.Fatalf("module status = %+v", got.ModuleStatus)
	}

	// Reopening the sub-ledger while the period as a whole is open works.
	if _, err := svc.SetModuleStatus(context.Background(), orgID, p.ID, uuid.New(), ModuleAP, StatusOpen); err != nil {
		t.Fatalf("reopen AP: %v", err)
	}

	if _, err := svc.SetModuleStatus(context.Background(), orgID, p.ID, uuid.New(), "PAYROLL", StatusClosed); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("err = %v, want ErrUnknownModule", err)
	}
}

func TestSetModuleStatusReopenForbiddenWhileClosed(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	orgID := uuid.New()

	p, _ := svc.CreatePeriod(context.Background(), CreatePeriodInput{
		OrgID: orgID, Name: "2026-01", StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 31),
	})
	stored := repo.periods[p.ID]
	stored.Status = StatusClosed
	stored.ModuleStatus.AR = StatusClosed
	repo.periods[p.ID] = stored

	_, err := svc.SetModuleStatus(context.Background(), orgID, p.ID, uuid.New(), ModuleAR, StatusOpen)
	if !errors.Is(err, ErrModuleReopenWhileClosed) {
		t.Fatalf("err = %v, want ErrModuleReopenWhileClosed", err)
	}
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusClosed, true},
		{StatusClosed, StatusOpen, true},
		{StatusClosed, StatusLocked, true},
		{StatusOpen, StatusLocked, false},
		{StatusLocked, StatusOpen, false},
		{StatusLocked, StatusClosed, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCreateFiscalYearRejectsOverlap(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	orgID := uuid.New()

	if _, err := svc.CreateFiscalYear(context.Background(), CreateFiscalYearInput{
		OrgID: orgID, Name: "FY2026", StartDate: date(2026, 1, 1), EndDate: date(2026, 12, 31),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.CreateFiscalYear(context.Background(), CreateFiscalYearInput{
		OrgID: orgID, Name: "FY2026b", StartDate: date(2026, 6, 1), EndDate: date(2027, 5, 31),
	})
	if !errors.Is(err, ErrRangeOverlap) {
		t.Fatalf("err = %v, want ErrRangeOverlap", err)
	}
}
