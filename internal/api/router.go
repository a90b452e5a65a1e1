package api

import (
	"net/http"
	"strconv"
	"time"

	"trialsim/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the headless JSON API
func NewRouter(svc *Service, hub *SSEHub, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json", "text/csv"))
	if m != nil {
		r.Use(observe(m))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Response{http.StatusOK, map[string]string{"status": "ok"}})
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/defaults", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Defaults())
		})
		r.Post("/simulations", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Simulate(r.Context(), r.Body))
		})
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Stats(r.Context()))
		})
		r.Post("/batches", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.RunBatch(r.Context(), r.Body))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				writeJSON(w, svc.ListJobs(q.Get("limit"), q.Get("offset")))
			})
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.SubmitJob(r.Body))
			})
			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.GetJob(chi.URLParam(r, "id")))
			})
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.CancelJob(chi.URLParam(r, "id")))
			})
			if hub != nil {
				r.Get("/{id}/events", func(w http.ResponseWriter, r *http.Request) {
					hub.ServeSSE(w, r, chi.URLParam(r, "id"))
				})
			}
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				writeJSON(w, svc.ListRuns(r.Context(), q.Get("limit"), q.Get("offset")))
			})
			r.Get("/last", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.LastResult(r.Context()))
			})
			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.GetRun(r.Context(), chi.URLParam(r, "id")))
			})
			r.Post("/{id}/replay", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, svc.ReplayRun(r.Context(), chi.URLParam(r, "id")))
			})
			r.Get("/{id}/export/{format}", func(w http.ResponseWriter, r *http.Request) {
				svc.Export(r.Context(), w, chi.URLParam(r, "id"), chi.URLParam(r, "format"))
			})
		})
	})

	return r
}

// observe records request latency under the matched route pattern
func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			m.ObserveHTTP(r.Method, path, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}
