package pios

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pioreactor/pio/internal/config"
)

var leaderAddrFlag string

// leaderBaseURL resolves the leader's HTTP base URL from --leader,
// falling back to the local config's [http] section.
func leaderBaseURL() (string, error) {
	if leaderAddrFlag != "" {
		return leaderAddrFlag, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return fmt.Sprintf("http://%s:%d", cfg.HTTP.LeaderAddress, cfg.HTTP.Port), nil
}

// apiCall issues method to <leaderBaseURL>/api<path>, decoding a JSON
// response body (if any) into out.
func apiCall(method, path string, body any, out any) error {
	base, err := leaderBaseURL()
	if err != nil {
		return err
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, base+"/api"+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request leader: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("leader returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("leader returned status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
