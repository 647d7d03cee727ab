// Simulation ties agents, the proximity index, and observers together and
// advances the population one tick at a time.
package engine

import (
	"log/slog"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// Simulation owns the live population for the lifetime of a run.
type Simulation struct {
	Config    *config.Config
	RunID     string
	Agents    []*agents.Agent
	Index     world.Index
	Observers []Observer
	LastTick  uint64 // Most recent tick processed

	// Per-state time series, one entry per recorded tick.
	History []TickStats

	// Cumulative totals.
	Stats SimStats

	rng    entropy.Source
	counts Counts // tally from the last step

	// Per-tick scratch, reused between steps.
	points []world.Point
	states []agents.HealthState
	nearby []int
	seen   []agents.Sighting
}

// NewSimulation wraps an existing population. src drives movement and
// mortality draws.
func NewSimulation(cfg *config.Config, pop []*agents.Agent, src entropy.Source) *Simulation {
	s := &Simulation{
		Config: cfg,
		Agents: pop,
		Index:  world.NewIndex(cfg),
		rng:    src,
		counts: countAgents(pop),
	}
	s.Stats.Population = len(pop)
	s.Stats.TotalInfections = s.counts[agents.Infected] + s.counts[agents.Ill]
	s.Stats.TotalIllnesses = s.counts[agents.Ill]
	s.Stats.PeakIll = s.counts[agents.Ill]
	return s
}

// Populate seeds a fresh population from cfg and wraps it in a Simulation.
// Spawning, placement noise, and stepping use separate streams of seed.
func Populate(cfg *config.Config, seed int64) *Simulation {
	var field *world.DensityField
	if cfg.Placement == config.PlacementClustered {
		area := world.Area{Width: cfg.Width, Height: cfg.Height}
		field = world.NewDensityField(area, cfg.ClusterScale, seed+entropy.StreamField)
	}
	spawner := agents.NewSpawner(entropy.Derive(seed, entropy.StreamSpawn))
	pop := spawner.SpawnPopulation(cfg, field)
	return NewSimulation(cfg, pop, entropy.Derive(seed, entropy.StreamStep))
}

// Restore wraps a checkpointed population saved at tick. The step stream is
// re-derived from seed and tick so a resumed run stays reproducible.
func Restore(cfg *config.Config, pop []*agents.Agent, tick uint64, stats SimStats, seed int64) *Simulation {
	s := NewSimulation(cfg, pop, entropy.Derive(seed, entropy.StreamStep+int64(tick)))
	s.LastTick = tick
	s.Stats = stats
	s.Stats.Population = len(pop)
	return s
}

// AddObserver registers o to receive every recorded frame.
func (s *Simulation) AddObserver(o Observer) {
	s.Observers = append(s.Observers, o)
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	return s.LastTick
}

// Counts returns the tally from the most recent step (dead agents of that
// step included).
func (s *Simulation) Counts() Counts {
	return s.counts
}

// Contained reports whether nobody is infected or ill any more.
func (s *Simulation) Contained() bool {
	return s.counts.Active() == 0
}

// Step advances every live agent by one tick.
//
// Movement happens for everyone first. Positions and states are then frozen
// and the proximity index rebuilt, so every agent's contact and state update
// reads the same post-movement snapshot regardless of processing order.
// Agents that die this tick are counted and then dropped.
func (s *Simulation) Step(tick uint64) Counts {
	s.LastTick = tick
	cfg := s.Config

	// Phase 1: movement.
	for _, a := range s.Agents {
		a.Move(s.rng, cfg)
	}

	// Phase 2: freeze the snapshot.
	s.points = s.points[:0]
	s.states = s.states[:0]
	for _, a := range s.Agents {
		s.points = append(s.points, a.Position())
		s.states = append(s.states, a.State)
	}
	s.Index.Rebuild(s.points)

	// Phase 3: contacts and state, per agent.
	var counts Counts
	for i, a := range s.Agents {
		s.nearby = s.Index.Nearby(i, s.nearby[:0])
		s.seen = s.seen[:0]
		for _, j := range s.nearby {
			s.seen = append(s.seen, agents.Sighting{ID: s.Agents[j].ID, State: s.states[j]})
		}
		a.UpdateContacts(s.seen, cfg.TickLength)

		tr := a.UpdateState(s.rng, cfg)
		if tr.Changed() {
			s.recordTransition(tick, a, tr)
		}
		counts.Add(a.State)
	}

	// Phase 4: remove the dead.
	live := s.Agents[:0]
	for _, a := range s.Agents {
		if a.State != agents.Dead {
			live = append(live, a)
		}
	}
	for i := len(live); i < len(s.Agents); i++ {
		s.Agents[i] = nil
	}
	s.Agents = live

	s.counts = counts
	s.Stats.Population = len(s.Agents)
	if counts[agents.Ill] > s.Stats.PeakIll {
		s.Stats.PeakIll = counts[agents.Ill]
		s.Stats.PeakIllTick = tick
	}
	return counts
}

func (s *Simulation) recordTransition(tick uint64, a *agents.Agent, tr agents.Transition) {
	switch tr.To {
	case agents.Infected:
		s.Stats.TotalInfections++
	case agents.Ill:
		s.Stats.TotalIllnesses++
	case agents.Recovered:
		s.Stats.TotalRecovered++
	case agents.Dead:
		s.Stats.TotalDeaths++
	}
	slog.Debug("transition", "tick", tick, "agent", a.ID, "from", tr.From, "to", tr.To)
}

// Frame captures the live population and the latest tally.
func (s *Simulation) Frame(tick uint64) Frame {
	snaps := make([]agents.Snapshot, len(s.Agents))
	for i, a := range s.Agents {
		snaps[i] = a.Snapshot()
	}
	return Frame{
		RunID:  s.RunID,
		Tick:   tick,
		Time:   s.Config.SimTime(tick),
		Agents: snaps,
		Counts: s.counts,
		Stats:  s.Stats,
	}
}

// Record appends the latest tally to History and hands a frame to every
// observer.
func (s *Simulation) Record(tick uint64) {
	f := s.Frame(tick)
	s.History = append(s.History, TickStats{Tick: tick, Time: f.Time, Counts: f.Counts})

	slog.Info("tick report",
		"tick", tick,
		"time", f.Time,
		"healthy", f.Counts[agents.Healthy],
		"infected", f.Counts[agents.Infected],
		"ill", f.Counts[agents.Ill],
		"recovered", f.Counts[agents.Recovered],
		"dead", f.Counts[agents.Dead],
		"alive", len(f.Agents),
	)

	for _, o := range s.Observers {
		if err := o.Observe(f); err != nil {
			slog.Warn("observer failed", "tick", tick, "error", err)
		}
	}
}
