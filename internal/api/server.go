// Package api serves a running simulation over HTTP.
// GET endpoints are public and read-only.
// POST endpoints require the admin bearer token; the SSE stream requires the
// relay bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/persistence"
)

const (
	maxSSEConns  = 4
	subBuffer    = 8
	maxAgentList = 10000
)

// Server serves the latest recorded frame and controls the engine. It is an
// engine.Observer: every recorded frame replaces the one it serves.
type Server struct {
	Eng      *engine.Engine
	DB       *persistence.DB // nil disables history
	RunID    string
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey string // Bearer token for the SSE stream. Empty = streaming disabled.

	// Checkpoint saves the population now and returns the saved tick.
	// Nil disables POST /api/v1/checkpoint.
	Checkpoint func() (uint64, error)

	mu     sync.RWMutex
	latest *engine.Frame

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan engine.Frame

	sseConns int32
	wsConns  int32
	http     *http.Server
}

// Observe keeps f as the served frame and fans it out to stream subscribers.
// Slow subscribers miss frames rather than stall the engine.
func (s *Server) Observe(f engine.Frame) error {
	s.mu.Lock()
	s.latest = &f
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- f:
		default:
			slog.Debug("SSE subscriber lagging, frame dropped", "sub_id", id, "tick", f.Tick)
		}
	}
	return nil
}

// Latest returns the most recent frame, if any has been observed.
func (s *Server) Latest() (engine.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return engine.Frame{}, false
	}
	return *s.latest, true
}

func (s *Server) subscribe() (int, <-chan engine.Frame) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan engine.Frame)
	}
	s.nextID++
	ch := make(chan engine.Frame, subBuffer)
	s.subs[s.nextID] = ch
	return s.nextID, ch
}

func (s *Server) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	historyLimiter := NewRateLimiter(120, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/counts", s.handleCounts)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/stats/history", RateLimitMiddleware(historyLimiter, s.handleStatsHistory))

	// Streaming endpoints (relay key).
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/ws", s.handleWS)

	// Admin endpoints.
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/checkpoint", s.adminOnly(s.handleCheckpoint))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	s.http = &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS holds a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CONTAGION_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !bearer(r, s.AdminKey) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"run_id":  s.RunID,
		"speed":   s.Eng.Speed(),
		"running": s.Eng.Running(),
	}
	if f, ok := s.Latest(); ok {
		status["tick"] = f.Tick
		status["sim_time"] = f.Time
		status["population"] = len(f.Agents)
		status["counts"] = f.Counts.Map()
		status["contained"] = f.Counts.Active() == 0
		status["stats"] = f.Stats
	}
	writeJSON(w, status)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	f, ok := s.Latest()
	if !ok {
		http.Error(w, "no frame recorded yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"tick":   f.Tick,
		"time":   f.Time,
		"counts": f.Counts.Map(),
	})
}

// handleAgents lists the live population of the latest frame, optionally
// filtered by ?state= and capped by ?limit=.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	f, ok := s.Latest()
	if !ok {
		http.Error(w, "no frame recorded yet", http.StatusServiceUnavailable)
		return
	}

	filter := agents.HealthState(255)
	if st := r.URL.Query().Get("state"); st != "" {
		v, err := agents.ParseHealthState(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = v
	}
	limit := maxAgentList
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v < maxAgentList {
			limit = v
		}
	}

	result := make([]agents.Snapshot, 0, min(len(f.Agents), limit))
	for _, a := range f.Agents {
		if filter.Valid() && a.State != filter {
			continue
		}
		if len(result) >= limit {
			break
		}
		result = append(result, a)
	}
	writeJSON(w, result)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	fromTick := uint64(0)
	toTick := uint64(1<<63 - 1) // Max int64; SQLite integers are signed.
	limit := 30

	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			fromTick = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 64); err == nil && v < toTick {
			toTick = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	rows, err := s.DB.LoadStatsHistory(s.RunID, fromTick, toTick, limit)
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		writeJSON(w, []persistence.StatsRow{})
		return
	}
	if rows == nil {
		rows = []persistence.StatsRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Checkpoint == nil {
		http.Error(w, "checkpoints not available", http.StatusServiceUnavailable)
		return
	}

	tick, err := s.Checkpoint()
	if err != nil {
		slog.Error("checkpoint failed", "error", err)
		http.Error(w, "checkpoint failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    tick,
		"message": "checkpoint saved",
	})
}

// handleStream pushes every recorded frame's tally as a server-sent event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !bearer(r, s.RelayKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := s.subscribe()
	defer s.unsubscribe(subID)

	// Catch-up with the latest frame.
	if f, ok := s.Latest(); ok {
		writeSSEFrame(w, f)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case f := <-ch:
			writeSSEFrame(w, f)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

type streamEvent struct {
	Tick   uint64          `json:"tick"`
	Time   float64         `json:"time"`
	Counts map[string]int  `json:"counts"`
	Stats  engine.SimStats `json:"stats"`
}

// writeSSEFrame writes a frame's tally as a "tick" event. Agent positions
// stay on /api/v1/agents.
func writeSSEFrame(w http.ResponseWriter, f engine.Frame) {
	data, err := json.Marshal(streamEvent{Tick: f.Tick, Time: f.Time, Counts: f.Counts.Map(), Stats: f.Stats})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: tick\ndata: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
