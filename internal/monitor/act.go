package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CheckpointResult is the response from POST /api/v1/checkpoint.
type CheckpointResult struct {
	Tick    uint64 `json:"tick"`
	Message string `json:"message"`
}

// Actor drives the simulation's admin endpoints.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Checkpoint asks the simulation to save its population now.
func (a *Actor) Checkpoint() (*CheckpointResult, error) {
	var result CheckpointResult
	if err := a.post("/api/v1/checkpoint", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetSpeed changes the simulation's pacing multiplier; 0 pauses it.
func (a *Actor) SetSpeed(speed float64) (float64, error) {
	var result struct {
		Speed float64 `json:"speed"`
	}
	if err := a.post("/api/v1/speed", map[string]float64{"speed": speed}, &result); err != nil {
		return 0, err
	}
	return result.Speed, nil
}

func (a *Actor) post(path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
