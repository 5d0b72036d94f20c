// Package closinghttp exposes the period and fiscal-year closing operations
// over JSON.
package closinghttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/closing"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves the closing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *closing.Service
	validate *validator.Validate
}

// NewHandler constructs the closing handler.
func NewHandler(logger *slog.Logger, service *closing.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches closing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{periodID}/close", h.closePeriod)
	r.Post("/periods/{periodID}/reopen", h.reopenPeriod)
	r.Post("/fiscal-years/{fiscalYearID}/close", h.closeFiscalYear)
	r.Post("/periods/{periodID}/account-locks/{accountID}", h.lockAccount)
	r.Delete("/periods/{periodID}/account-locks/{accountID}", h.unlockAccount)
}

type closeResultResponse struct {
	ClosingEntryID *uuid.UUID `json:"closing_entry_id,omitempty"`
	OpeningEntryID *uuid.UUID `json:"opening_entry_id,omitempty"`
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.service.ClosePeriod(r.Context(), closing.ClosePeriodInput{
		OrgID:    orgID,
		PeriodID: periodID,
		ActorID:  actorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closeResultResponse{
		ClosingEntryID: result.ClosingEntryID,
		OpeningEntryID: result.OpeningEntryID,
	})
}

type reopenRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
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
	var req reopenRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	if err := h.service.ReopenPeriod(r.Context(), closing.ReopenPeriodInput{
		OrgID:    orgID,
		PeriodID: periodID,
		ActorID:  actorID,
		Reason:   req.Reason,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type closeFiscalYearRequest struct {
	RetainedEarningsAccountID *uuid.UUID `json:"retained_earnings_account_id"`
}

func (h *Handler) closeFiscalYear(w http.ResponseWriter, r *http.Request) {
	orgID, actorID, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	fiscalYearID, err := httpx.URLUUID(r, "fiscalYearID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed fiscal year id")
		return
	}
	var req closeFiscalYearRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	result, err := h.service.CloseFiscalYear(r.Context(), closing.CloseFiscalYearInput{
		OrgID:                     orgID,
		FiscalYearID:              fiscalYearID,
		ActorID:                   actorID,
		RetainedEarningsAccountID: req.RetainedEarningsAccountID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closeResultResponse{
		ClosingEntryID: result.ClosingEntryID,
		OpeningEntryID: result.OpeningEntryID,
	})
}

func (h *Handler) lockAccount(w http.ResponseWriter, r *http.Request) {
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
	accountID, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed account id")
		return
	}
	if err := h.service.LockAccount(r.Context(), orgID, accountID, periodID, actorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unlockAccount(w http.ResponseWriter, r *http.Request) {
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
	accountID, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed account id")
		return
	}
	if err := h.service.UnlockAccount(r.Context(), orgID, accountID, periodID, actorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
