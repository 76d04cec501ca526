package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gridprompt/internal/handlers"
	"gridprompt/internal/metrics"
	"gridprompt/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, gen *handlers.GenerateHandler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(90 * time.Second)) // outer bound; per-attempt timeouts are tighter
	r.Use(middleware.MaxBodySize(2 * 1024 * 1024))

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", gen.Generate)
		r.Get("/ping", gen.Ping)
		r.Get("/diagnostics", gen.Diagnostics)
		r.Post("/diagnostics/reset", gen.DiagnosticsReset)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
