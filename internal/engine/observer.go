package engine

import "github.com/talgya/contagion/internal/agents"

// Frame is everything an observer sees at a recorded tick. Frames are
// copies; observers may keep them.
type Frame struct {
	RunID  string            `json:"run_id,omitempty"`
	Tick   uint64            `json:"tick"`
	Time   float64           `json:"time"`
	Agents []agents.Snapshot `json:"agents"`
	Counts Counts            `json:"counts"`
	Stats  SimStats          `json:"stats"`
}

// Observer consumes frames. Returned errors are logged and otherwise
// ignored; an observer cannot influence the simulation.
type Observer interface {
	Observe(f Frame) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(f Frame) error

// Observe calls fn(f).
func (fn ObserverFunc) Observe(f Frame) error {
	return fn(f)
}
