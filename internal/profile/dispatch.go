package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/domain"
)

// WorkerAPI is the subset of the leader HTTP surface (spec.md §4.J) a
// dispatched action needs: run/stop/update/log calls that the leader
// forwards to the named unit's unit_api. A *http.Client satisfies the
// round-trip shape via httpWorkerAPI below; tests supply a stub.
type WorkerAPI interface {
	RunJob(unit, job string, options map[string]any, args []string, env map[string]string, configOverrides map[string]string, experiment string) error
	UpdateJob(unit, job, experiment string, settings map[string]any) error
	StopJob(unit, job, experiment string) error
	Log(unit, experiment, level, message string) error
}

// httpWorkerAPI is the production WorkerAPI, grounded on the teacher's
// stdlib net/http usage (internal/api/tutu_api.go never reaches for a
// third-party HTTP client either).
type httpWorkerAPI struct {
	client  *http.Client
	baseURL string
}

// NewHTTPWorkerAPI returns a WorkerAPI that issues requests to the
// leader API at baseURL (e.g. "http://localhost:4343").
func NewHTTPWorkerAPI(baseURL string, client *http.Client) WorkerAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpWorkerAPI{client: client, baseURL: baseURL}
}

func (h *httpWorkerAPI) do(method, path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d", domain.ErrDispatchFailed, method, path, resp.StatusCode)
	}
	return nil
}

func (h *httpWorkerAPI) RunJob(unit, job string, options map[string]any, args []string, env map[string]string, configOverrides map[string]string, experiment string) error {
	path := fmt.Sprintf("/api/workers/%s/jobs/run/job_name/%s/experiments/%s", unit, job, experiment)
	return h.do(http.MethodPost, path, map[string]any{
		"options":          options,
		"args":             args,
		"env":              env,
		"config_overrides": configOverrides,
	})
}

func (h *httpWorkerAPI) UpdateJob(unit, job, experiment string, settings map[string]any) error {
	path := fmt.Sprintf("/api/workers/%s/jobs/update/job_name/%s/experiments/%s", unit, job, experiment)
	return h.do(http.MethodPatch, path, map[string]any{"settings": settings})
}

func (h *httpWorkerAPI) StopJob(unit, job, experiment string) error {
	path := fmt.Sprintf("/api/workers/%s/jobs/stop/job_name/%s/experiments/%s", unit, job, experiment)
	return h.do(http.MethodPost, path, nil)
}

// Log posts to the only log route the leader actually registers
// (server.go: POST /api/experiments/{experiment}/logs/{level}, not
// unit-scoped) — unit is folded into the message text since there is no
// per-unit log-forwarding route to address.
func (h *httpWorkerAPI) Log(unit, experiment, level, message string) error {
	path := fmt.Sprintf("/api/experiments/%s/logs/%s", experiment, level)
	if unit != "" {
		message = fmt.Sprintf("[%s] %s", unit, message)
	}
	return h.do(http.MethodPost, path, map[string]any{"message": message})
}

// dispatcher turns one resolved Action, for one unit, into a WorkerAPI
// or bus call. It never evaluates `if`/`while` itself — the scheduler
// does that before invoking dispatch.
type dispatcher struct {
	api        WorkerAPI
	busClient  *bus.Client
	experiment string
	source     domain.JobSource
}

func (d *dispatcher) dispatch(unit, jobName string, a domain.Action) error {
	if jobName == domain.LEDIntensityJob {
		switch a.Kind {
		case domain.ActionStop, domain.ActionPause:
			return d.api.RunJob(unit, jobName, domain.LEDAllOff, nil, d.envFor(), a.ConfigOverrides, d.experiment)
		case domain.ActionUpdate:
			return d.api.RunJob(unit, jobName, a.Options, a.Args, d.envFor(), a.ConfigOverrides, d.experiment)
		}
	}

	switch a.Kind {
	case domain.ActionStart:
		return d.api.RunJob(unit, jobName, a.Options, a.Args, d.envFor(), a.ConfigOverrides, d.experiment)
	case domain.ActionUpdate:
		return d.api.UpdateJob(unit, jobName, d.experiment, a.Options)
	case domain.ActionStop:
		return d.api.StopJob(unit, jobName, d.experiment)
	case domain.ActionPause:
		return d.setState(unit, jobName, domain.JobSleeping)
	case domain.ActionResume:
		return d.setState(unit, jobName, domain.JobReady)
	case domain.ActionLog:
		level, _ := a.Options["level"].(string)
		if level == "" {
			level = "info"
		}
		message, _ := a.Options["message"].(string)
		return d.api.Log(unit, d.experiment, level, message)
	}
	return fmt.Errorf("%w: unhandled action kind %s", domain.ErrDispatchFailed, a.Kind)
}

func (d *dispatcher) envFor() map[string]string {
	return map[string]string{
		"JOB_SOURCE": string(d.source),
		"EXPERIMENT": d.experiment,
	}
}

func (d *dispatcher) setState(unit, jobName string, to domain.JobState) error {
	topic := bus.SettingSetTopic(unit, d.experiment, jobName, "$state")
	return d.busClient.Publish(topic, []byte(to), bus.QoSExactlyOnce, false)
}
