package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// httpWorkerClient forwards one leader-side request to a unit's unit_api,
// matching the teacher's plain net/http usage (no third-party HTTP client).
type httpWorkerClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPWorkerClient returns a client the leader server uses to forward
// requests to a specific unit's unit_api.
func NewHTTPWorkerClient(baseURL string, client *http.Client) *httpWorkerClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpWorkerClient{baseURL: baseURL, client: client}
}

// Forward issues method to baseURL+path with body JSON-encoded (if
// non-nil) and returns the response status and decoded JSON body.
func (c *httpWorkerClient) Forward(method, path string, body any) (int, map[string]any, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("forward %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&result)
	}
	return resp.StatusCode, result, nil
}
