// Package periodshttp exposes the period and fiscal-year registry over JSON.
package periodshttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/periods"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves the period registry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *periods.Service
	validate *validator.Validate
}

// NewHandler constructs the period handler.
func NewHandler(logger *slog.Logger, service *periods.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.createPeriod)
	r.Get("/{periodID}", h.get)
	r.Put("/{periodID}/modules/{module}", h.setModuleStatus)
	r.Post("/fiscal-years", h.createFiscalYear)
}

type createPeriodRequest struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type periodResponse struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
	Status       periods.Status    `json:"status"`
	ModuleStatus map[string]string `json:"module_status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toPeriodResponse(p periods.Period) periodResponse {
	return periodResponse{
		ID:        p.ID,
		Name:      p.Name,
		StartDate: p.StartDate.Format("2006-01-02"),
		EndDate:   p.EndDate.Format("2006-01-02"),
		Status:    p.Status,
		ModuleStatus: map[string]string{
			string(periods.ModuleGL):        string(p.ModuleStatus.GL),
			string(periods.ModuleAP):        string(p.ModuleStatus.AP),
			string(periods.ModuleAR):        string(p.ModuleStatus.AR),
			string(periods.ModuleInventory): string(p.ModuleStatus.Inventory),
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, err := httpx.ParseDate(req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := httpx.ParseDate(req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end_date must be YYYY-MM-DD")
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), periods.CreatePeriodInput{
		OrgID:     orgID,
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPeriodResponse(period))
}

func (h *Handler) createFiscalYear(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, err := httpx.ParseDate(req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := httpx.ParseDate(req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end_date must be YYYY-MM-DD")
		return
	}
	fy, err := h.service.CreateFiscalYear(r.Context(), periods.CreateFiscalYearInput{
		OrgID:     orgID,
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":         fy.ID,
		"name":       fy.Name,
		"start_date": fy.StartDate.Format("2006-01-02"),
		"end_date":   fy.EndDate.Format("2006-01-02"),
		"status":     fy.Status,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	periodID, err := httpx.URLUUID(r, "periodID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed period id")
		return
	}
	period, err := h.service.Get(r.Context(), orgID, periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	all, err := h.service.List(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]periodResponse, 0, len(all))
	for _, p := range all {
		out = append(out, toPeriodResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type moduleStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=OPEN CLOSED LOCKED"`
}

func (h *Handler) setModuleStatus(w http.ResponseWriter, r *http.Request) {
	orgID, actorID, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	periodID, err := httpx.URLUUID(r, "periodID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed period id")
		return
	}
	var req moduleStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	module := periods.Module(chi.URLParam(r, "module"))
	period, err := h.service.SetModuleStatus(r.Context(), orgID, periodID, actorID, module, periods.Status(req.Status))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}
