// Package monitor watches a running simulation through its HTTP API and
// grades the outbreak.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Snapshot holds all data collected during one observation.
type Snapshot struct {
	Status  Status       `json:"status"`
	History []HistoryRow `json:"history"`
}

// Status mirrors GET /api/v1/status.
type Status struct {
	RunID      string         `json:"run_id"`
	Tick       uint64         `json:"tick"`
	SimTime    float64        `json:"sim_time"`
	Speed      float64        `json:"speed"`
	Running    bool           `json:"running"`
	Population int            `json:"population"`
	Counts     map[string]int `json:"counts"`
	Contained  bool           `json:"contained"`
	Stats      struct {
		TotalInfections int    `json:"total_infections"`
		TotalIllnesses  int    `json:"total_illnesses"`
		TotalRecovered  int    `json:"total_recovered"`
		TotalDeaths     int    `json:"total_deaths"`
		PeakIll         int    `json:"peak_ill"`
		PeakIllTick     uint64 `json:"peak_ill_tick"`
	} `json:"stats"`
}

// HistoryRow mirrors items from GET /api/v1/stats/history (newest first).
type HistoryRow struct {
	Tick      uint64  `json:"tick"`
	Time      float64 `json:"time"`
	Healthy   int     `json:"healthy"`
	Infected  int     `json:"infected"`
	Ill       int     `json:"ill"`
	Recovered int     `json:"recovered"`
	Dead      int     `json:"dead"`
}

// Active is the number still carrying the disease.
func (r HistoryRow) Active() int {
	return r.Infected + r.Ill
}

// Live excludes the dead.
func (r HistoryRow) Live() int {
	return r.Healthy + r.Infected + r.Ill + r.Recovered
}

// Client fetches simulation state from the API.
type Client struct {
	BaseURL      string
	HTTPClient   *http.Client
	HistoryLimit int
}

// NewClient creates a Client targeting the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		HistoryLimit: 10,
	}
}

// Observe fetches the status and the recent history. A simulation without a
// database still yields a status; the history is then empty.
func (c *Client) Observe() (*Snapshot, error) {
	snap := &Snapshot{}

	if err := c.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}

	path := fmt.Sprintf("/api/v1/stats/history?limit=%d", c.HistoryLimit)
	if err := c.fetchJSON(path, &snap.History); err != nil {
		var se *statusError
		if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
			return nil, fmt.Errorf("fetch stats history: %w", err)
		}
		snap.History = nil
	}

	return snap, nil
}

// Ready reports whether the status endpoint answers 200.
func (c *Client) Ready() bool {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/v1/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type statusError struct {
	Path string
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s returned %d: %s", e.Path, e.Code, e.Body)
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (c *Client) fetchJSON(path string, target any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &statusError{Path: path, Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
