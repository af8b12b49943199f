package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/config"
	"clinicdesk/m/internal/directory"
	"clinicdesk/m/internal/inventory"
	"clinicdesk/m/internal/metrics"
	"clinicdesk/m/internal/prescription"
)

var (
	clinicalRoles  = []string{domain.RoleAdmin, domain.RoleDoctor, domain.RoleReceptionist}
	stockKeepRoles = []string{domain.RoleAdmin, domain.RoleReceptionist}
)

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db            *sqlx.DB
	secret        string
	timeout       time.Duration
	log           zerolog.Logger
	ledger        *inventory.Ledger
	directory     *directory.Directory
	prescriptions *prescription.Service
}

// New constructs a Handler and the services behind it.
func New(db *sqlx.DB, cfg config.Config, log zerolog.Logger) *Handler {
	ledger := inventory.NewLedger(db, log)
	planner := inventory.NewPlanner(db, ledger, cfg.StockConsistency, log)
	repo := prescription.NewRepository(db, log)

	return &Handler{
		db:            db,
		secret:        cfg.Secret,
		timeout:       cfg.RequestTimeout,
		log:           log,
		ledger:        ledger,
		directory:     directory.New(db),
		prescriptions: prescription.NewService(repo, ledger, planner, log),
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(recoverer(h.log))
	if h.timeout > 0 {
		r.Use(middleware.Timeout(h.timeout))
	}

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.listInventory)
			r.Post("/", h.addInventory)
			r.Patch("/", h.adjustInventory)
			r.Get("/low-stock", h.lowStock)
			r.Get("/{id}", h.getInventory)
			r.Get("/{id}/adjustments", h.listAdjustments)
		})

		pr.Route("/prescriptions", func(r chi.Router) {
			r.Get("/", h.listPrescriptions)
			r.Post("/", h.createPrescription)
			r.Get("/{id}", h.getPrescription)
			r.Delete("/{id}", h.deletePrescription)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
