package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/calibsession"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/jobmanager"
	"github.com/pioreactor/pio/internal/kvstore"
)

// JobLauncher forks the job subprocess the way the `pio` CLI would
// (spec.md §4.J "forks a subprocess via the CLI"). The production
// implementation shells out to the pio binary; tests inject a stub.
type JobLauncher interface {
	Launch(ctx context.Context, job string, options map[string]any, args []string, env map[string]string, configOverrides map[string]string) error
}

// execLauncher runs `<pioBinary> run <job> --options <json> [args...]` with the given
// environment, grounded on the teacher's os/exec subprocess idiom
// (internal/infra/engine/subprocess.go).
type execLauncher struct {
	pioBinary string
}

// NewExecLauncher returns a JobLauncher that forks pioBinary.
func NewExecLauncher(pioBinary string) JobLauncher { return execLauncher{pioBinary: pioBinary} }

func (l execLauncher) Launch(ctx context.Context, job string, options map[string]any, args []string, env map[string]string, configOverrides map[string]string) error {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return err
	}
	cmdArgs := append([]string{"run", job, "--options", string(optionsJSON)}, args...)
	cmd := exec.CommandContext(ctx, l.pioBinary, cmdArgs...)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd.Run()
}

// UnitServer exposes the per-unit worker API (spec.md §4.J "Unit API").
type UnitServer struct {
	unit           string
	tasks          *TaskRegistry
	launcher       JobLauncher
	sessions       *calibsession.Engine
	kv             *kvstore.Store
	jm             *jobmanager.Manager
	bus            *bus.Client
	appVersion     string
	uiVersion      string
	metricsEnabled bool
}

// NewUnitServer wires a UnitServer for this unit. jm and busClient may be
// nil in tests that don't exercise jobs/stop or jobs/update.
func NewUnitServer(unit string, launcher JobLauncher, sessions *calibsession.Engine, kv *kvstore.Store, jm *jobmanager.Manager, busClient *bus.Client, appVersion, uiVersion string) *UnitServer {
	return &UnitServer{
		unit:       unit,
		tasks:      NewTaskRegistry(),
		launcher:   launcher,
		sessions:   sessions,
		kv:         kv,
		jm:         jm,
		bus:        busClient,
		appVersion: appVersion,
		uiVersion:  uiVersion,
	}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *UnitServer) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every unit_api route mounted.
func (s *UnitServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/unit_api", func(r chi.Router) {
		r.Post("/jobs/run/job_name/{job}", s.handleRunJob)
		r.Post("/jobs/stop/job_name/{job}", s.handleStopJob)
		r.Patch("/jobs/update/job_name/{job}", s.handleUpdateJob)
		r.Get("/task_results/{taskID}", s.handleTaskResult)

		r.Post("/system/update/{component}", s.handleSystemUpdate)
		r.Post("/system/reboot", s.handleSystemReboot)
		r.Post("/system/shutdown", s.handleSystemShutdown)
		r.Get("/system/utc_clock", s.handleGetUTCClock)
		r.Patch("/system/utc_clock", s.handleSyncUTCClock)

		r.Get("/versions/{component}", s.handleVersions)

		r.Post("/calibrations/sessions", s.handleStartSession)
		r.Get("/calibrations/sessions/{id}", s.handleGetSession)
		r.Post("/calibrations/sessions/{id}/abort", s.handleAbortSession)
		r.Post("/calibrations/sessions/{id}/inputs", s.handleSessionInputs)

		r.Get("/estimators/{device}", s.handleListEstimators)
		r.Get("/estimators/{device}/{name}", s.handleGetEstimator)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *UnitServer) handleRunJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	var body struct {
		Options         map[string]any    `json:"options"`
		Args            []string          `json:"args"`
		Env             map[string]string `json:"env"`
		ConfigOverrides map[string]string `json:"config_overrides"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID := s.tasks.Start(func() error {
		return s.launcher.Launch(context.Background(), job, body.Options, body.Args, body.Env, body.ConfigOverrides)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "result_url_path": "/unit_api/task_results/" + taskID})
}

// handleStopJob mirrors `pio kill`'s stop-then-bookkeeping pattern
// (internal/cli/pio/kill.go): signal the matching running job's process
// (or, for domain.LEDIntensityJob, relaunch it with zero intensities
// instead — spec.md §4.C "LED driver requires writing zero intensities,
// not a signal"), then mark it not-running in the Job Manager.
func (s *UnitServer) handleStopJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if s.jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not configured")
		return
	}
	var body struct {
		Experiment string `json:"experiment"`
	}
	decodeJSON(r, &body) // stop has no required fields; tolerate an empty/absent body

	filter := domain.JobFilter{Unit: s.unit, JobName: job, Experiment: body.Experiment, OnlyRunning: true}
	jobs, err := s.jm.ListJobs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == domain.LEDIntensityJob {
		if s.launcher != nil {
			_ = s.launcher.Launch(r.Context(), job, domain.LEDAllOff, nil, nil, nil)
		}
	} else {
		for _, j := range jobs {
			if proc, err := os.FindProcess(j.PID); err == nil {
				_ = proc.Signal(syscall.SIGTERM)
			}
		}
	}
	ids, err := s.jm.KillJobs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": ids})
}

// handleUpdateJob publishes each updated setting onto the control bus at
// the setting-set topic the job's Runtime.SubscribeSettable listens on
// (internal/job/runtime.go), the same path a direct MQTT setting write
// would take.
func (s *UnitServer) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "bus client not configured")
		return
	}
	var body struct {
		Experiment string         `json:"experiment"`
		Options    map[string]any `json:"options"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for name, value := range body.Options {
		encoded, err := json.Marshal(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		topic := bus.SettingSetTopic(s.unit, body.Experiment, job, name)
		if err := s.bus.Publish(topic, encoded, bus.QoSAtLeastOnce, false); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(body.Options)})
}

func (s *UnitServer) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	t, ok := s.tasks.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *UnitServer) handleSystemUpdate(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	taskID := s.tasks.Start(func() error {
		return s.launcher.Launch(context.Background(), "system_update", map[string]any{"component": component}, nil, nil, nil)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *UnitServer) handleSystemReboot(w http.ResponseWriter, r *http.Request) {
	taskID := s.tasks.Start(func() error {
		return s.launcher.Launch(context.Background(), "system_reboot", nil, nil, nil, nil)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *UnitServer) handleSystemShutdown(w http.ResponseWriter, r *http.Request) {
	taskID := s.tasks.Start(func() error {
		return s.launcher.Launch(context.Background(), "system_shutdown", nil, nil, nil, nil)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *UnitServer) handleGetUTCClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"utc_clock": time.Now().UTC().Format(time.RFC3339)})
}

func (s *UnitServer) handleSyncUTCClock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UTCClock string `json:"utc_clock"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *UnitServer) handleVersions(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "component") {
	case "app":
		writeJSON(w, http.StatusOK, map[string]string{"version": s.appVersion})
	case "ui":
		writeJSON(w, http.StatusOK, map[string]string{"version": s.uiVersion})
	default:
		writeError(w, http.StatusNotFound, "unknown component")
	}
}

func (s *UnitServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Protocol string `json:"protocol"`
		Device   string `json:"device"`
		Mode     string `json:"mode"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := domain.ModeUI
	if body.Mode == string(domain.ModeCLI) {
		mode = domain.ModeCLI
	}
	session, err := s.sessions.Start(body.Protocol, domain.Device(body.Device), mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (s *UnitServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *UnitServer) handleAbortSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.sessions.Abort(session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *UnitServer) handleSessionInputs(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	step, err := s.sessions.Advance(session, domain.ModeUI, calibsession.NewInputs(body), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *UnitServer) handleListEstimators(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	keys, err := s.kv.Keys("estimators/" + device)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"estimators": keys})
}

func (s *UnitServer) handleGetEstimator(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	name := chi.URLParam(r, "name")
	value, ok, err := s.kv.Get("estimators/"+device, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown estimator")
		return
	}
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		decoded = string(value)
	}
	writeJSON(w, http.StatusOK, decoded)
}
