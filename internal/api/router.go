package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/api/handler"
	"github.com/zentral/zentral/internal/api/middleware"
	"github.com/zentral/zentral/internal/eventbus"
	"github.com/zentral/zentral/internal/ingest"
	"github.com/zentral/zentral/internal/service"
	"github.com/zentral/zentral/internal/storage"
)

// Options holds the dependencies of the HTTP API.
type Options struct {
	Store        storage.Storage
	RuleSets     *service.RuleSetService
	Pipeline     *ingest.Pipeline
	RawEvents    handler.RawPublisher
	SerialCache  handler.SecretInvalidator
	BootstrapKey string
	// Verifier enables OIDC bearer tokens when not nil.
	Verifier     middleware.TokenVerifier
	Logger       zerolog.Logger
	MaxBodyBytes int64
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logging(opts.Logger))
	r.Use(chimw.Recoverer)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
		r.Use(middleware.Auth(opts.Store, opts.BootstrapKey, opts.Verifier))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(opts.Store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Santa
		santaHandler := handler.NewSantaHandler(opts.RuleSets, opts.Pipeline)
		r.Post("/santa/rulesets/update", santaHandler.UpdateRuleSet)
		r.Post("/santa/ingest/fileinfo", santaHandler.IngestFileInfo)

		cfgHandler := handler.NewConfigurationHandler(opts.Store)
		r.Get("/santa/rulesets", cfgHandler.ListRuleSets)
		r.Post("/santa/configurations", cfgHandler.Create)
		r.Get("/santa/configurations", cfgHandler.List)
		r.Route("/santa/configurations/{id}", func(r chi.Router) {
			r.Get("/", cfgHandler.Get)
			r.Get("/rules", cfgHandler.ListRules)
			r.Post("/rules", cfgHandler.CreateRule)
		})

		// Inventory
		inventoryHandler := handler.NewInventoryHandler(opts.Pipeline)
		r.Post("/inventory/machine_snapshots", inventoryHandler.IngestMachineSnapshots)

		// Enrollment sessions
		enrollmentHandler := handler.NewEnrollmentHandler(opts.Store, opts.SerialCache)
		r.Post("/enrollment_sessions", enrollmentHandler.Create)
		r.Delete("/enrollment_sessions/{secret}", enrollmentHandler.Delete)

		// Raw agent logs
		if opts.RawEvents != nil {
			rawHandler := handler.NewRawEventHandler(opts.RawEvents, eventbus.RoutingKeyXnumonLogs)
			r.Post("/xnumon/logs", rawHandler.Post)
		}
	})

	return r
}
