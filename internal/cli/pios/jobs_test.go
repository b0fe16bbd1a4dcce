package pios

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func withTestLeader(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	leaderAddrFlag = srv.URL
	t.Cleanup(func() { leaderAddrFlag = "" })
}

func TestRunJobRunPostsExpectedPath(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any
	withTestLeader(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "t1"})
	})

	jobExperiment = "exp1"
	jobOptionsRaw = `{"target_duty_cycle":60}`
	defer func() { jobExperiment, jobOptionsRaw = "", "{}" }()

	if err := runJobRun(nil, []string{"unit1", "stirring"}); err != nil {
		t.Fatalf("runJobRun: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("got method %q", gotMethod)
	}
	if gotPath != "/api/workers/unit1/jobs/run/job_name/stirring/experiments/exp1" {
		t.Fatalf("got path %q", gotPath)
	}
	options, ok := gotBody["options"].(map[string]any)
	if !ok || options["target_duty_cycle"].(float64) != 60 {
		t.Fatalf("got body %+v", gotBody)
	}
}

func TestRunJobStopPostsExpectedPath(t *testing.T) {
	var gotPath, gotMethod string
	withTestLeader(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	})

	jobExperiment = "exp1"
	defer func() { jobExperiment = "" }()

	if err := runJobStop(nil, []string{"unit1", "stirring"}); err != nil {
		t.Fatalf("runJobStop: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("got method %q", gotMethod)
	}
	if gotPath != "/api/workers/unit1/jobs/stop/job_name/stirring/experiments/exp1" {
		t.Fatalf("got path %q", gotPath)
	}
}

func TestRunJobUpdatePatchesExpectedPath(t *testing.T) {
	var gotPath, gotMethod string
	withTestLeader(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	})

	jobExperiment = "exp1"
	jobOptionsRaw = `{"target_duty_cycle":40}`
	defer func() { jobExperiment, jobOptionsRaw = "", "{}" }()

	if err := runJobUpdate(nil, []string{"unit1", "stirring"}); err != nil {
		t.Fatalf("runJobUpdate: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("got method %q", gotMethod)
	}
	if gotPath != "/api/workers/unit1/jobs/update/job_name/stirring/experiments/exp1" {
		t.Fatalf("got path %q", gotPath)
	}
}

func TestRunJobRunRequiresExperiment(t *testing.T) {
	jobExperiment = ""
	if err := runJobRun(nil, []string{"unit1", "stirring"}); err == nil {
		t.Fatal("expected error when --experiment is missing")
	}
}
