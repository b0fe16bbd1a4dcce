package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/kvstore"
)

func (s *LeaderServer) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jm.ListJobs(domain.JobFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	seen := map[string]bool{}
	var experiments []string
	for _, j := range jobs {
		if !seen[j.Experiment] {
			seen[j.Experiment] = true
			experiments = append(experiments, j.Experiment)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": experiments})
}

func (s *LeaderServer) handleActiveExperiment(w http.ResponseWriter, r *http.Request) {
	value, ok, err := s.kv.Get("cluster", "latest_experiment")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active experiment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"experiment": string(value)})
}

func (s *LeaderServer) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	experiment := chi.URLParam(r, "experiment")
	jobs, err := s.jm.ListJobs(domain.JobFilter{Experiment: experiment})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiment": experiment, "jobs": jobs})
}

func (s *LeaderServer) handleSetUnitLabel(w http.ResponseWriter, r *http.Request) {
	experiment := chi.URLParam(r, "experiment")
	var body struct {
		Unit  string `json:"unit"`
		Label string `json:"label"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.kv.Put("unit_labels/"+experiment, body.Unit, []byte(body.Label)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *LeaderServer) handlePostExperimentLog(w http.ResponseWriter, r *http.Request) {
	s.handlePostExperimentLogAt(w, r, "info")
}

func (s *LeaderServer) handlePostExperimentLogLevel(w http.ResponseWriter, r *http.Request) {
	s.handlePostExperimentLogAt(w, r, chi.URLParam(r, "level"))
}

func (s *LeaderServer) handlePostExperimentLogAt(w http.ResponseWriter, r *http.Request, level string) {
	experiment := chi.URLParam(r, "experiment")
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	topic := bus.LogsTopic("$leader", experiment, level)
	if err := s.bus.Publish(topic, []byte(body.Message), bus.QoSExactlyOnce, false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "logged"})
}

// forwardToWorker proxies a mutating request to the named unit's unit_api,
// matching spec.md §4.J "forwards to unit".
func (s *LeaderServer) forwardToWorker(w http.ResponseWriter, r *http.Request, unit, method, path string, body any) {
	baseURL, ok := s.workers(unit)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown unit: "+unit)
		return
	}
	if err := s.health.allow(unit); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	api := NewHTTPWorkerClient(baseURL, s.httpClient)
	status, result, err := api.Forward(method, path, body)
	s.health.recordResult(unit, status, err)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, status, result)
}

func (s *LeaderServer) handleForwardRun(w http.ResponseWriter, r *http.Request) {
	unit, job := chi.URLParam(r, "unit"), chi.URLParam(r, "job")
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.forwardToWorker(w, r, unit, http.MethodPost, "/unit_api/jobs/run/job_name/"+job, body)
}

func (s *LeaderServer) handleForwardStop(w http.ResponseWriter, r *http.Request) {
	unit, job, experiment := chi.URLParam(r, "unit"), chi.URLParam(r, "job"), chi.URLParam(r, "experiment")
	s.forwardToWorker(w, r, unit, http.MethodPost, "/unit_api/jobs/stop/job_name/"+job, map[string]any{"experiment": experiment})
}

func (s *LeaderServer) handleForwardUpdate(w http.ResponseWriter, r *http.Request) {
	unit, job, experiment := chi.URLParam(r, "unit"), chi.URLParam(r, "job"), chi.URLParam(r, "experiment")
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body["experiment"] = experiment
	s.forwardToWorker(w, r, unit, http.MethodPatch, "/unit_api/jobs/update/job_name/"+job, body)
}

func (s *LeaderServer) handleListCalibrations(w http.ResponseWriter, r *http.Request) {
	device := domain.Device(chi.URLParam(r, "device"))
	active, err := s.cal.ActiveCalibrations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": device, "active": active[device]})
}

func (s *LeaderServer) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	device := domain.Device(chi.URLParam(r, "device"))
	name := chi.URLParam(r, "name")
	cal, err := s.cal.Load(device, name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (s *LeaderServer) handleSetActiveCalibration(w http.ResponseWriter, r *http.Request) {
	device := domain.Device(chi.URLParam(r, "device"))
	name := chi.URLParam(r, "name")
	if err := s.cal.SetActive(device, name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListPlugins returns the installed-plugin version map consulted by
// profile.Verify's rule 4 (plugin_constraints), backed by kvstore rather
// than a literal translation of the teacher's route-registration decorator
// pattern (original_source/core/pioreactor/web/plugin_registry.py registers
// routes, not plugin versions).
func (s *LeaderServer) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	names, err := s.kv.Keys(kvstore.ScopeInstalledPlugins)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	plugins := make(map[string]string, len(names))
	for _, name := range names {
		version, ok, err := s.kv.Get(kvstore.ScopeInstalledPlugins, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ok {
			plugins[name] = string(version)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": plugins})
}
