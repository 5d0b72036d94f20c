// Package accountshttp exposes the chart of accounts directory over JSON.
package accountshttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/accounts"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves the read side of the account directory.
type Handler struct {
	logger *slog.Logger
	repo   *accounts.Repository
}

// NewHandler constructs the accounts handler.
func NewHandler(logger *slog.Logger, repo *accounts.Repository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes attaches account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{accountID}", h.get)
}

type accountResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Code                string     `json:"code"`
	Name                string     `json:"name"`
	Type                string     `json:"type"`
	Nature              string     `json:"nature"`
	ParentID            *uuid.UUID `json:"parent_id,omitempty"`
	IsPostable          bool       `json:"is_postable"`
	IsBlockedForPosting bool       `json:"is_blocked_for_posting"`
	IsMultiCurrency     bool       `json:"is_multi_currency"`
	EffectiveFrom       *time.Time `json:"effective_from,omitempty"`
	EffectiveTo         *time.Time `json:"effective_to,omitempty"`
	RequiredDimensions  []string   `json:"required_dimensions,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toAccountResponse(a accounts.Account) accountResponse {
	return accountResponse{
		ID:                  a.ID,
		Code:                a.Code,
		Name:                a.Name,
		Type:                string(a.Type),
		Nature:              string(a.Nature),
		ParentID:            a.ParentID,
		IsPostable:          a.IsPostable,
		IsBlockedForPosting: a.IsBlockedForPosting,
		IsMultiCurrency:     a.IsMultiCurrency,
		EffectiveFrom:       a.EffectiveFrom,
		EffectiveTo:         a.EffectiveTo,
		RequiredDimensions:  a.RequiredDimensions,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	all, err := h.repo.List(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(all))
	for _, a := range all {
		out = append(out, toAccountResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	accountID, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed account id")
		return
	}
	account, err := h.repo.Get(r.Context(), orgID, accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}
