package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
)

// Pinger is implemented by the broker connection manager and the
// idempotency cache; NewRouter uses it to answer GET /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the worker process's admin/health/metrics HTTP surface.
func NewRouter(broker, redis Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Recoverer())
	r.Use(RequestID())
	r.Use(AccessLog())
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{http.MethodGet}}))
	r.Use(httprate.LimitByIP(60, time.Minute))
	r.Use(observability.HTTPMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		checks := map[string]string{}
		ready := true
		if err := broker.Ping(ctx); err != nil {
			checks["broker"] = err.Error()
			ready = false
		} else {
			checks["broker"] = "ok"
		}
		if err := redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(checks)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
