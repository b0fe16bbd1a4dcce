package pios

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestRunExperimentsDecodesList(t *testing.T) {
	withTestLeader(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/experiments" {
			t.Fatalf("got path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"experiments": []string{"exp1", "exp2"}})
	})

	if err := runExperiments(nil, nil); err != nil {
		t.Fatalf("runExperiments: %v", err)
	}
}

func TestRunLogPostsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	withTestLeader(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	logExperiment = "exp1"
	logLevel = "warning"
	defer func() { logExperiment, logLevel = "", "info" }()

	if err := runLog(nil, []string{"pump", "ran", "dry"}); err != nil {
		t.Fatalf("runLog: %v", err)
	}
	if gotPath != "/api/experiments/exp1/logs/warning" {
		t.Fatalf("got path %q", gotPath)
	}
	if gotBody["message"] != "pump ran dry" {
		t.Fatalf("got message %q", gotBody["message"])
	}
}
