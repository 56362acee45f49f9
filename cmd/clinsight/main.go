package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vitalis-health/clinsight/internal/alert"
	"github.com/vitalis-health/clinsight/internal/analysis"
	"github.com/vitalis-health/clinsight/internal/audit"
	"github.com/vitalis-health/clinsight/internal/consent"
	"github.com/vitalis-health/clinsight/internal/fhir"
	"github.com/vitalis-health/clinsight/internal/knowledge"
	"github.com/vitalis-health/clinsight/internal/model"
	"github.com/vitalis-health/clinsight/internal/shared/auth"
	"github.com/vitalis-health/clinsight/internal/shared/config"
	"github.com/vitalis-health/clinsight/internal/shared/database"
	"github.com/vitalis-health/clinsight/internal/shared/events"
	"github.com/vitalis-health/clinsight/internal/shared/logging"
	"github.com/vitalis-health/clinsight/internal/shared/metrics"
	secmiddleware "github.com/vitalis-health/clinsight/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config   *config.Config
	DB       *database.DB
	Bus      *events.Bus
	Recorder *audit.Recorder
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("clinsight", cfg.Server.Env)
	app := &App{Config: cfg}

	// Database is mandatory: the audit trail lives there and analysis must
	// not run without it.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Event bus is optional; analysis proceeds without event streaming.
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(ctx, cfg.KurrentDB)
		if err != nil {
			log.Warn().Err(err).Msg("event store unavailable, running without event streaming")
		} else {
			app.Bus = bus
			defer bus.Close()
			log.Info().Msg("event bus initialized")
		}
	}

	// Consent registry: some facilities still hold opt-outs in the legacy
	// hospital information system.
	var consentStore consent.Store
	if cfg.LegacyHIS.Enabled {
		legacyStore, err := consent.NewLegacyStore(cfg.LegacyHIS)
		if err != nil {
			log.Fatal().Err(err).Msg("legacy HIS connection failed")
		}
		defer legacyStore.Close()
		consentStore = legacyStore
		log.Info().Str("host", cfg.LegacyHIS.Host).Msg("consent lookups via legacy HIS")
	} else {
		consentStore = consent.NewPGStore(db.Pool)
	}
	gate := consent.NewGate(consentStore, 5*time.Second, log)

	retriever := knowledge.NewRetriever(knowledge.NewHTTPClient(cfg.Knowledge), cfg.Knowledge.TopK, log)

	invoker := model.NewInvoker(model.NewHTTPClient(cfg.Model), cfg.Model.MaxRetries, cfg.Model.Timeout, log)

	auditRepo := audit.NewPGRepository(db.Pool)
	if err := auditRepo.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("audit initialization failed")
	}

	notifier := alert.NewFromConfig(cfg.Alert, log)
	recorder := audit.NewRecorder(auditRepo, audit.NewRegexPolicy(), notifier, cfg.Audit, log)
	recorder.Start()
	app.Recorder = recorder

	prompts := analysis.NewPromptBuilder()
	validator := analysis.NewValidator(prompts, log)

	var publisher analysis.Publisher
	if app.Bus != nil {
		publisher = app.Bus
	}

	orchestrator := analysis.NewOrchestrator(
		gate,
		retriever,
		prompts,
		invoker,
		validator,
		recorder,
		publisher,
		cfg.Model.ModelID,
		log,
	)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RateLimiter(50, 100))
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		analysisHandler := fhir.NewHandler(orchestrator)
		r.Mount("/analysis", analysisHandler.Routes())

		// Audit queries are an administrative surface, always behind auth.
		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(auth.Middleware(cfg.Auth))
				r.Use(auth.RequireRoles(auth.RoleAuditor))
			}
			auditHandler := audit.NewHandler(auditRepo)
			r.Mount("/audit", auditHandler.Routes())
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}

		// Stop the recorder only after in-flight requests have finished so
		// their audit writes can still be queued and drained.
		recorder.Stop()
		close(done)
	}()

	log.Info().Int("port", cfg.Server.Port).Str("env", cfg.Server.Env).Str("model", cfg.Model.ModelID).Msg("clinsight listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-done
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","time":%q}`, time.Now().UTC().Format(time.RFC3339))
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := app.DB.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"degraded","database":%q}`, err.Error())
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ready"}`)
	}
}
