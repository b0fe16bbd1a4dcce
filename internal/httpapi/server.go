// Package httpapi provides the leader and unit HTTP APIs (spec.md §4.J)
// as chi routers, grounded on the teacher's api.Server/Handler shape.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/calibration"
	"github.com/pioreactor/pio/internal/calibsession"
	"github.com/pioreactor/pio/internal/jobmanager"
	"github.com/pioreactor/pio/internal/kvstore"
)

// LeaderServer exposes the cluster-wide leader API (experiments, worker
// forwarding, logs, calibration/plugin management).
type LeaderServer struct {
	jm             *jobmanager.Manager
	kv             *kvstore.Store
	cal            *calibration.Store
	sessions       *calibsession.Engine
	bus            *bus.Client
	workers        WorkerDialer
	health         *workerHealth
	httpClient     *http.Client
	metricsEnabled bool
}

// WorkerDialer resolves a unit name to the base URL of its unit_api, so
// the leader can forward jobs/run, jobs/stop, jobs/update calls.
type WorkerDialer func(unit string) (baseURL string, ok bool)

// NewLeaderServer wires a LeaderServer. workers resolves unit -> base URL
// for request forwarding.
func NewLeaderServer(jm *jobmanager.Manager, kv *kvstore.Store, cal *calibration.Store, sessions *calibsession.Engine, busClient *bus.Client, workers WorkerDialer) *LeaderServer {
	return &LeaderServer{jm: jm, kv: kv, cal: cal, sessions: sessions, bus: busClient, workers: workers, health: newWorkerHealth(), httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *LeaderServer) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every leader route mounted.
func (s *LeaderServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/experiments", s.handleListExperiments)
		r.Get("/experiments/active", s.handleActiveExperiment)
		r.Get("/experiments/{experiment}", s.handleGetExperiment)
		r.Put("/experiments/{experiment}/unit_labels", s.handleSetUnitLabel)
		r.Post("/experiments/{experiment}/logs", s.handlePostExperimentLog)
		r.Post("/experiments/{experiment}/logs/{level}", s.handlePostExperimentLogLevel)

		r.Post("/workers/{unit}/jobs/run/job_name/{job}/experiments/{experiment}", s.handleForwardRun)
		r.Post("/workers/{unit}/jobs/stop/job_name/{job}/experiments/{experiment}", s.handleForwardStop)
		r.Patch("/workers/{unit}/jobs/update/job_name/{job}/experiments/{experiment}", s.handleForwardUpdate)

		r.Get("/calibrations/{device}", s.handleListCalibrations)
		r.Get("/calibrations/{device}/{name}", s.handleGetCalibration)
		r.Post("/calibrations/{device}/{name}/active", s.handleSetActiveCalibration)

		r.Get("/plugins", s.handleListPlugins)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
