package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	accountshttp "github.com/meridian-erp/meridian/internal/accounts/http"
	closinghttp "github.com/meridian-erp/meridian/internal/closing/http"
	journalhttp "github.com/meridian-erp/meridian/internal/journal/http"
	ledgershttp "github.com/meridian-erp/meridian/internal/ledgers/http"
	orgshttp "github.com/meridian-erp/meridian/internal/orgs/http"
	periodshttp "github.com/meridian-erp/meridian/internal/periods/http"
	"github.com/meridian-erp/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	OrgsHandler     *orgshttp.Handler
	AccountsHandler *accountshttp.Handler
	LedgersHandler  *ledgershttp.Handler
	PeriodsHandler  *periodshttp.Handler
	JournalHandler  *journalhttp.Handler
	ClosingHandler  *closinghttp.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.OrgsHandler != nil {
		r.Route("/orgs", params.OrgsHandler.MountRoutes)
	}
	if params.AccountsHandler != nil {
		r.Route("/accounts", params.AccountsHandler.MountRoutes)
	}
	if params.LedgersHandler != nil {
		r.Route("/ledgers", params.LedgersHandler.MountRoutes)
	}
	if params.PeriodsHandler != nil {
		r.Route("/periods", params.PeriodsHandler.MountRoutes)
	}
	if params.JournalHandler != nil {
		r.Route("/journal", params.JournalHandler.MountRoutes)
	}
	if params.ClosingHandler != nil {
		r.Route("/closing", params.ClosingHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
