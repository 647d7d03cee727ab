package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
)

// WebSocket viewer protocol. The server pushes a FRAME message per recorded
// tick; the client may send SUBSCRIBE at any time to toggle agent positions.
const (
	msgSubscribe = "SUBSCRIBE"
	msgFrame     = "FRAME"
)

type subscribeMsg struct {
	Type   string `json:"type"`
	Agents bool   `json:"agents"`
}

type frameMsg struct {
	Type string `json:"type"`
	streamEvent
	Agents []agents.Snapshot `json:"agents,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // relay key gates access
}

// handleWS streams frames to a WebSocket viewer. Browsers cannot set
// headers on the upgrade request, so the relay key is also accepted as ?key=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !bearer(r, s.RelayKey) && r.URL.Query().Get("key") != s.RelayKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	current := atomic.AddInt32(&s.wsConns, 1)
	defer atomic.AddInt32(&s.wsConns, -1)
	if current > maxSSEConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.subscribe()
	defer s.unsubscribe(subID)
	slog.Info("WS client connected", "sub_id", subID)

	var withAgents atomic.Bool
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer goroutine.
	writeErr := make(chan error, 1)
	go func() {
		send := func(f engine.Frame) error {
			msg := frameMsg{
				Type:        msgFrame,
				streamEvent: streamEvent{Tick: f.Tick, Time: f.Time, Counts: f.Counts.Map(), Stats: f.Stats},
			}
			if withAgents.Load() {
				msg.Agents = f.Agents
			}
			b, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return conn.WriteMessage(websocket.TextMessage, b)
		}

		if f, ok := s.Latest(); ok {
			if err := send(f); err != nil {
				writeErr <- err
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case f := <-ch:
				if err := send(f); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	// Reader loop: SUBSCRIBE updates; anything else is ignored.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var sub subscribeMsg
		if err := json.Unmarshal(raw, &sub); err != nil || sub.Type != msgSubscribe {
			continue
		}
		withAgents.Store(sub.Agents)
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
	slog.Info("WS client disconnected", "sub_id", subID)
}
