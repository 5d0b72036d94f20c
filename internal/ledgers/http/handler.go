// Package ledgershttp exposes the ledger registry over JSON.
package ledgershttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/ledgers"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves the ledger registry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *ledgers.Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *ledgers.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/default", h.defaultLedger)
	r.Get("/mappings", h.listMappings)
	r.Put("/{ledgerID}", h.update)
	r.Put("/{sourceID}/mappings/{targetID}", h.replaceMappings)
}

type ledgerRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Currency    string `json:"currency" validate:"required,len=3"`
	IsDefault   bool   `json:"is_default"`
	IsActive    bool   `json:"is_active"`
}

type ledgerResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Currency    string    `json:"currency"`
	IsDefault   bool      `json:"is_default"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toLedgerResponse(l ledgers.Ledger) ledgerResponse {
	return ledgerResponse{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		Currency:    l.Currency,
		IsDefault:   l.IsDefault,
		IsActive:    l.IsActive,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req ledgerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ledger, err := h.service.CreateLedger(r.Context(), ledgers.CreateLedgerInput{
		OrgID:       orgID,
		Name:        req.Name,
		Description: req.Description,
		Currency:    req.Currency,
		IsDefault:   req.IsDefault,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLedgerResponse(ledger))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	ledgerID, err := httpx.URLUUID(r, "ledgerID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed ledger id")
		return
	}
	var req ledgerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ledger, err := h.service.UpdateLedger(r.Context(), ledgers.UpdateLedgerInput{
		OrgID:       orgID,
		LedgerID:    ledgerID,
		Name:        req.Name,
		Description: req.Description,
		Currency:    req.Currency,
		IsDefault:   req.IsDefault,
		IsActive:    req.IsActive,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLedgerResponse(ledger))
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
	out := make([]ledgerResponse, 0, len(all))
	for _, l := range all {
		out = append(out, toLedgerResponse(l))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) defaultLedger(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	ledger, err := h.service.Default(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLedgerResponse(ledger))
}

type mappingResponse struct {
	ID              uuid.UUID           `json:"id"`
	SourceLedgerID  uuid.UUID           `json:"source_ledger_id"`
	TargetLedgerID  uuid.UUID           `json:"target_ledger_id"`
	SourceAccountID uuid.UUID           `json:"source_account_id"`
	TargetAccountID uuid.UUID           `json:"target_account_id"`
	Multiplier      decimal.Decimal     `json:"multiplier"`
	Conditions      []conditionResponse `json:"conditions,omitempty"`
}

type conditionResponse struct {
	Dimension string   `json:"dimension"`
	Operator  string   `json:"operator"`
	Values    []string `json:"values"`
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	set, err := h.service.LoadRuleSet(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rules := set.Rules()
	out := make([]mappingResponse, 0, len(rules))
	for _, rule := range rules {
		resp := mappingResponse{
			ID:              rule.ID,
			SourceLedgerID:  rule.SourceLedgerID,
			TargetLedgerID:  rule.TargetLedgerID,
			SourceAccountID: rule.SourceAccountID,
			TargetAccountID: rule.TargetAccountID,
			Multiplier:      rule.Multiplier,
		}
		for _, c := range rule.Conditions {
			resp.Conditions = append(resp.Conditions, conditionResponse{
				Dimension: c.DimensionName,
				Operator:  string(c.Operator),
				Values:    c.Values,
			})
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, out)
}

type mappingRequest struct {
	SourceAccountID uuid.UUID          `json:"source_account_id" validate:"required"`
	TargetAccountID uuid.UUID          `json:"target_account_id" validate:"required"`
	Multiplier      decimal.Decimal    `json:"multiplier" validate:"required"`
	Conditions      []conditionRequest `json:"conditions" validate:"dive"`
}

type conditionRequest struct {
	Dimension string   `json:"dimension" validate:"required"`
	Operator  string   `json:"operator" validate:"required,oneof=EQUALS NOT_EQUALS IN"`
	Values    []string `json:"values" validate:"required,min=1"`
}

type replaceMappingsRequest struct {
	Mappings []mappingRequest `json:"mappings" validate:"dive"`
}

func (h *Handler) replaceMappings(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	sourceID, err := httpx.URLUUID(r, "sourceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed source ledger id")
		return
	}
	targetID, err := httpx.URLUUID(r, "targetID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed target ledger id")
		return
	}
	var req replaceMappingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := ledgers.ReplaceMappingsInput{
		OrgID:          orgID,
		SourceLedgerID: sourceID,
		TargetLedgerID: targetID,
	}
	for _, m := range req.Mappings {
		mapping := ledgers.MappingInput{
			SourceAccountID: m.SourceAccountID,
			TargetAccountID: m.TargetAccountID,
			Multiplier:      m.Multiplier,
		}
		for _, c := range m.Conditions {
			mapping.Conditions = append(mapping.Conditions, ledgers.RuleCondition{
				DimensionName: c.Dimension,
				Operator:      ledgers.ConditionOperator(c.Operator),
				Values:        c.Values,
			})
		}
		in.Mappings = append(in.Mappings, mapping)
	}
	count, err := h.service.ReplaceMappings(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"rules": count})
}
