// Package engine provides the population stepper and the tick loop that
// drives it.
package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward.
type Engine struct {
	Tick     uint64        // Completed ticks (monotonic, never resets)
	MaxTicks uint64        // Stop after this many ticks; 0 = run until Stop
	Interval time.Duration // Base tick interval; 0 = free-running

	RecordEvery     uint64 // Ticks between OnRecord calls; 0 = only first and last
	CheckpointEvery uint64 // Ticks between OnCheckpoint calls; 0 = never

	// Callbacks, populated during setup.
	OnTick       func(tick uint64) // Every tick
	OnRecord     func(tick uint64) // Tick 0, every RecordEvery ticks, and the final tick
	OnCheckpoint func(tick uint64) // Every CheckpointEvery ticks
	Until        func() bool       // Checked after each tick; true ends the run

	mu           sync.Mutex
	speed        float64 // Multiplier: 1.0 = one tick per Interval, 0 = paused
	running      atomic.Bool
	lastRecorded uint64
	recorded     bool
}

// NewEngine creates a free-running engine.
func NewEngine() *Engine {
	return &Engine{speed: 1.0}
}

// Run starts the simulation loop. Blocks until MaxTicks is reached, Until
// reports true, or Stop is called.
func (e *Engine) Run() {
	e.running.Store(true)
	slog.Info("simulation engine started", "tick", e.Tick, "max_ticks", e.MaxTicks, "speed", e.Speed())

	if e.Tick == 0 {
		e.record()
	}

	for e.running.Load() {
		if e.MaxTicks > 0 && e.Tick >= e.MaxTicks {
			break
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused — sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		e.step()

		if e.Until != nil && e.Until() {
			slog.Info("run condition met", "tick", e.Tick)
			break
		}

		if e.Interval > 0 {
			elapsed := time.Since(start)
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed < target {
				time.Sleep(target - elapsed)
			}
		}
	}

	e.running.Store(false)

	// The final state is always observed.
	if !e.recorded || e.lastRecorded != e.Tick {
		e.record()
	}

	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the simulation loop after the current tick.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SetSpeed changes the pacing multiplier; 0 pauses.
func (e *Engine) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	e.mu.Lock()
	e.speed = v
	e.mu.Unlock()
}

// Speed returns the pacing multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// step advances the simulation by one tick.
func (e *Engine) step() {
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick)
	}

	if e.RecordEvery > 0 && e.Tick%e.RecordEvery == 0 {
		e.record()
	}

	if e.CheckpointEvery > 0 && e.Tick%e.CheckpointEvery == 0 && e.OnCheckpoint != nil {
		e.OnCheckpoint(e.Tick)
	}
}

func (e *Engine) record() {
	if e.OnRecord != nil {
		e.OnRecord(e.Tick)
	}
	e.lastRecorded = e.Tick
	e.recorded = true
}
