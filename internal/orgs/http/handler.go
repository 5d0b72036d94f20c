// Package orgshttp exposes tenant settings over JSON.
package orgshttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/orgs"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves tenant settings endpoints.
type Handler struct {
	logger   *slog.Logger
	repo     *orgs.Repository
	validate *validator.Validate
}

// NewHandler constructs the orgs handler.
func NewHandler(logger *slog.Logger, repo *orgs.Repository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
}

type settingsRequest struct {
	BaseCurrency              string    `json:"base_currency" validate:"required,len=3"`
	RetainedEarningsAccountID uuid.UUID `json:"retained_earnings_account_id" validate:"required"`
	FiscalArchiveAfterYears   int       `json:"fiscal_archive_after_years" validate:"omitempty,min=1"`
}

type settingsResponse struct {
	BaseCurrency              string    `json:"base_currency"`
	RetainedEarningsAccountID uuid.UUID `json:"retained_earnings_account_id"`
	FiscalArchiveAfterYears   int       `json:"fiscal_archive_after_years"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	s, err := h.repo.GetSettings(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settingsResponse{
		BaseCurrency:              s.BaseCurrency,
		RetainedEarningsAccountID: s.RetainedEarningsAccountID,
		FiscalArchiveAfterYears:   s.FiscalArchiveAfterYears,
		CreatedAt:                 s.CreatedAt,
		UpdatedAt:                 s.UpdatedAt,
	})
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.repo.UpsertSettings(r.Context(), orgs.Settings{
		OrgID:                     orgID,
		BaseCurrency:              req.BaseCurrency,
		RetainedEarningsAccountID: req.RetainedEarningsAccountID,
		FiscalArchiveAfterYears:   req.FiscalArchiveAfterYears,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
