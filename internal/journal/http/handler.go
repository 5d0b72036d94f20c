// Package journalhttp exposes the posting engine over JSON.
package journalhttp

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/journal"
	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Handler serves the journal endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *journal.Service
	balances *balances.Accumulator
	idem     *shared.IdempotencyStore
	validate *validator.Validate
}

// NewHandler constructs the journal handler. idem may be nil, in which case
// approval events rely on the engine's own status check alone.
func NewHandler(logger *slog.Logger, service *journal.Service, acc *balances.Accumulator, idem *shared.IdempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		balances: acc,
		idem:     idem,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/entries", h.create)
	r.Get("/entries/{entryID}", h.get)
	r.Post("/entries/{entryID}/reverse", h.reverse)
	r.Post("/entries/{entryID}/modify", h.modify)
	r.Post("/entries/{entryID}/approval", h.approval)
	r.Get("/balances/{ledgerID}/{accountID}", h.balance)
}

type valuationRequest struct {
	LedgerID  uuid.UUID       `json:"ledger_id" validate:"required"`
	AccountID uuid.UUID       `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

type lineRequest struct {
	AccountID   uuid.UUID          `json:"account_id" validate:"required"`
	Debit       decimal.Decimal    `json:"debit"`
	Credit      decimal.Decimal    `json:"credit"`
	Description string             `json:"description"`
	Dimensions  map[string]string  `json:"dimensions"`
	Valuations  []valuationRequest `json:"valuations" validate:"dive"`
}

type entryRequest struct {
	JournalID          *uuid.UUID      `json:"journal_id"`
	Type               string          `json:"type"`
	Date               string          `json:"date" validate:"required"`
	Description        string          `json:"description" validate:"required"`
	Reference          string          `json:"reference"`
	CurrencyCode       string          `json:"currency_code"`
	ExchangeRate       decimal.Decimal `json:"exchange_rate"`
	ReversesNextPeriod bool            `json:"reverses_next_period"`
	Lines              []lineRequest   `json:"lines" validate:"required,min=2,dive"`
}

func (req entryRequest) toInput(orgID, actorID uuid.UUID) (journal.PostingInput, error) {
	date, err := httpx.ParseDate(req.Date)
	if err != nil {
		return journal.PostingInput{}, err
	}
	in := journal.PostingInput{
		OrgID:              orgID,
		ActorID:            actorID,
		JournalID:          req.JournalID,
		Type:               journal.EntryType(req.Type),
		Date:               date,
		Description:        req.Description,
		Reference:          req.Reference,
		CurrencyCode:       req.CurrencyCode,
		ExchangeRate:       req.ExchangeRate,
		ReversesNextPeriod: req.ReversesNextPeriod,
	}
	for _, l := range req.Lines {
		line := journal.LineInput{
			AccountID:   l.AccountID,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
			Dimensions:  l.Dimensions,
		}
		for _, v := range l.Valuations {
			line.Valuations = append(line.Valuations, journal.ValuationInput{
				LedgerID:  v.LedgerID,
				AccountID: v.AccountID,
				Debit:     v.Debit,
				Credit:    v.Credit,
			})
		}
		in.Lines = append(in.Lines, line)
	}
	return in, nil
}

type entryResponse struct {
	ID                 uuid.UUID           `json:"id"`
	JournalID          *uuid.UUID          `json:"journal_id,omitempty"`
	Type               journal.EntryType   `json:"type"`
	Status             journal.EntryStatus `json:"status"`
	Date               string              `json:"date"`
	Description        string              `json:"description"`
	Reference          string              `json:"reference,omitempty"`
	CurrencyCode       string              `json:"currency_code"`
	ExchangeRate       decimal.Decimal     `json:"exchange_rate"`
	IsReversed         bool                `json:"is_reversed"`
	ReversesEntryID    *uuid.UUID          `json:"reverses_entry_id,omitempty"`
	ModifiedToEntryID  *uuid.UUID          `json:"modified_to_entry_id,omitempty"`
	ReversesNextPeriod bool                `json:"reverses_next_period"`
	Lines              []lineResponse      `json:"lines"`
	CreatedAt          time.Time           `json:"created_at"`
}

type lineResponse struct {
	ID            uuid.UUID           `json:"id"`
	AccountID     uuid.UUID           `json:"account_id"`
	Debit         decimal.Decimal     `json:"debit"`
	Credit        decimal.Decimal     `json:"credit"`
	ForeignDebit  decimal.Decimal     `json:"foreign_debit"`
	ForeignCredit decimal.Decimal     `json:"foreign_credit"`
	Description   string              `json:"description,omitempty"`
	Dimensions    map[string]string   `json:"dimensions,omitempty"`
	IsReconciled  bool                `json:"is_reconciled"`
	Valuations    []valuationResponse `json:"valuations"`
}

type valuationResponse struct {
	LedgerID  uuid.UUID       `json:"ledger_id"`
	AccountID uuid.UUID       `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

func toEntryResponse(e journal.JournalEntry) entryResponse {
	out := entryResponse{
		ID:                 e.ID,
		JournalID:          e.JournalID,
		Type:               e.Type,
		Status:             e.Status,
		Date:               e.Date.Format("2006-01-02"),
		Description:        e.Description,
		Reference:          e.Reference,
		CurrencyCode:       e.CurrencyCode,
		ExchangeRate:       e.ExchangeRate,
		IsReversed:         e.IsReversed,
		ReversesEntryID:    e.ReversesEntryID,
		ModifiedToEntryID:  e.ModifiedToEntryID,
		ReversesNextPeriod: e.ReversesNextPeriod,
		CreatedAt:          e.CreatedAt,
	}
	for _, l := range e.Lines {
		line := lineResponse{
			ID:            l.ID,
			AccountID:     l.AccountID,
			Debit:         l.Debit,
			Credit:        l.Credit,
			ForeignDebit:  l.ForeignDebit,
			ForeignCredit: l.ForeignCredit,
			Description:   l.Description,
			Dimensions:    l.Dimensions,
			IsReconciled:  l.IsReconciled,
		}
		for _, v := range l.Valuations {
			line.Valuations = append(line.Valuations, valuationResponse{
				LedgerID:  v.LedgerID,
				AccountID: v.AccountID,
				Debit:     v.Debit,
				Credit:    v.Credit,
			})
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID, actorID, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in, err := req.toInput(orgID, actorID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	entry, pending, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if pending {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, toEntryResponse(entry))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entryID, err := httpx.URLUUID(r, "entryID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), orgID, entryID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

type reverseRequest struct {
	Date      string     `json:"date" validate:"required"`
	Reason    string     `json:"reason"`
	JournalID *uuid.UUID `json:"journal_id"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	orgID, actorID, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entryID, err := httpx.URLUUID(r, "entryID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed entry id")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := httpx.ParseDate(req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	reversal, err := h.service.Reverse(r.Context(), journal.ReverseInput{
		OrgID:     orgID,
		EntryID:   entryID,
		ActorID:   actorID,
		Date:      date,
		Reason:    req.Reason,
		JournalID: req.JournalID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(reversal))
}

type modifyRequest struct {
	Reason string       `json:"reason"`
	Entry  entryRequest `json:"entry" validate:"required"`
}

func (h *Handler) modify(w http.ResponseWriter, r *http.Request) {
	orgID, actorID, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entryID, err := httpx.URLUUID(r, "entryID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed entry id")
		return
	}
	var req modifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	content, err := req.Entry.toInput(orgID, actorID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	replacement, err := h.service.Modify(r.Context(), journal.ModifyInput{
		OrgID:      orgID,
		EntryID:    entryID,
		ActorID:    actorID,
		Reason:     req.Reason,
		NewContent: content,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(replacement))
}

type approvalRequest struct {
	Decision string `json:"decision" validate:"required,oneof=granted rejected"`
}

func (h *Handler) approval(w http.ResponseWriter, r *http.Request) {
	orgID, _, err := httpx.Identity(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entryID, err := httpx.URLUUID(r, "entryID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed entry id")
		return
	}
	var req approvalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var processed bool
	// Approval events are delivered at least once; a replayed delivery is
	// acknowledged without reprocessing.
	if h.idem != nil {
		key := "approval:" + entryID.String() + ":" + req.Decision
		switch err := h.idem.CheckAndInsert(r.Context(), key, "journal"); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			w.WriteHeader(http.StatusNoContent)
			return
		case err != nil:
			httpx.RespondError(w, err)
			return
		default:
			defer func() {
				if !processed {
					_ = h.idem.Delete(r.Context(), key)
				}
			}()
		}
	}
	if req.Decision == "rejected" {
		if err := h.service.HandleApprovalRejected(r.Context(), orgID, entryID); err != nil {
			httpx.RespondError(w, err)
			return
		}
		processed = true
		w.WriteHeader(http.StatusNoContent)
		return
	}
	posted, err := h.service.HandleApprovalGranted(r.Context(), orgID, entryID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	processed = true
	if posted.ID == uuid.Nil {
		// Redelivered or stale approval event, nothing posted.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(posted))
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
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
	accountID, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed account id")
		return
	}
	balance, err := h.balances.Balance(r.Context(), orgID, ledgerID, accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"ledger_id":  balance.LedgerID,
		"account_id": balance.AccountID,
		"balance":    balance.Balance,
		"updated_at": balance.UpdatedAt,
	})
}
