package periods

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/shared"
)

// Auditor records state changes for the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the period and fiscal-year registries.
type Service struct {
	repo  RepositoryPort
	audit Auditor
	log   *slog.Logger
}

// NewService constructs the registry service.
func NewService(repo RepositoryPort, audit Auditor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, audit: audit, log: log}
}

// CreatePeriodInput carries fields for registering an accounting period.
type CreatePeriodInput struct {
	OrgID     uuid.UUID
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// CreatePeriod registers a period after rejecting overlapping ranges.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if !in.StartDate.Before(in.EndDate) {
		return Period{}, ErrInvalidRange
	}
	n, err := s.repo.CountOverlappingPeriods(ctx, in.OrgID, in.StartDate, in.EndDate)
	if err != nil {
		return Period{}, err
	}
	if n > 0 {
		return Period{}, ErrRangeOverlap
	}
	p := Period{
		ID:           uuid.New(),
		OrgID:        in.OrgID,
		Name:         strings.TrimSpace(in.Name),
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Status:       StatusOpen,
		ModuleStatus: OpenModuleStatus(),
	}
	return s.repo.InsertPeriod(ctx, p)
}

// CreateFiscalYearInput carries fields for registering a fiscal year.
type CreateFiscalYearInput struct {
	OrgID     uuid.UUID
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// CreateFiscalYear registers a fiscal year after rejecting overlaps.
func (s *Service) CreateFiscalYear(ctx context.Context, in CreateFiscalYearInput) (FiscalYear, error) {
	if !in.StartDate.Before(in.EndDate) {
		return FiscalYear{}, ErrInvalidRange
	}
	n, err := s.repo.CountOverlappingFiscalYears(ctx, in.OrgID, in.StartDate, in.EndDate)
	if err != nil {
		return FiscalYear{}, err
	}
	if n > 0 {
		return FiscalYear{}, ErrRangeOverlap
	}
	fy := FiscalYear{
		ID:        uuid.New(),
		OrgID:     in.OrgID,
		Name:      strings.TrimSpace(in.Name),
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    StatusOpen,
	}
	return s.repo.InsertFiscalYear(ctx, fy)
}

// SetModuleStatus closes or reopens one sub-ledger of a period. Reopening a
// module is forbidden while the overall period is closed or locked.
func (s *Service) SetModuleStatus(ctx context.Context, orgID, periodID, actorID uuid.UUID, module Module, status Status) (Period, error) {
	p, err := s.repo.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return Period{}, err
	}
	current, err := p.ModuleStatus.Get(module)
	if err != nil {
		return Period{}, err
	}
	if current == status {
		return p, nil
	}
	if status == StatusOpen && p.Status != StatusOpen {
		return Period{}, ErrModuleReopenWhileClosed
	}
	if !ValidTransition(current, status) {
		return Period{}, ErrInvalidTransition
	}
	ms, err := p.ModuleStatus.Set(module, status)
	if err != nil {
		return Period{}, err
	}
	if err := s.repo.UpdateModuleStatus(ctx, orgID, periodID, ms); err != nil {
		return Period{}, err
	}
	p.ModuleStatus = ms
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			OrgID:    orgID,
			ActorID:  actorID,
			Action:   "period.module_status_changed",
			Entity:   "accounting_period",
			EntityID: periodID.String(),
			Meta:     map[string]any{"module": string(module), "status": string(status)},
		}); err != nil {
			s.log.Warn("audit record failed", "err", err, "period_id", periodID)
		}
	}
	return p, nil
}

// Get loads one period.
func (s *Service) Get(ctx context.Context, orgID, periodID uuid.UUID) (Period, error) {
	return s.repo.GetPeriod(ctx, orgID, periodID)
}

// List returns the tenant's periods ordered by start date.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Period, error) {
	return s.repo.ListPeriods(ctx, orgID)
}

// FindByDate resolves the period containing a date.
func (s *Service) FindByDate(ctx context.Context, orgID uuid.UUID, date time.Time) (Period, error) {
	return s.repo.FindPeriodByDate(ctx, orgID, date)
}
