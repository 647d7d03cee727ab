package engine

import "github.com/talgya/contagion/internal/agents"

// Counts is a tally of agents per health state, indexed by agents.HealthState.
type Counts [agents.NumStates]int

// Add tallies one agent in state s.
func (c *Counts) Add(s agents.HealthState) {
	c[s]++
}

// Total is the number of agents tallied.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Live excludes the dead.
func (c Counts) Live() int {
	return c.Total() - c[agents.Dead]
}

// Active is the number of agents still carrying the disease.
func (c Counts) Active() int {
	return c[agents.Infected] + c[agents.Ill]
}

// Map keys the counts by state name.
func (c Counts) Map() map[string]int {
	m := make(map[string]int, agents.NumStates)
	for _, s := range agents.AllStates {
		m[s.String()] = c[s]
	}
	return m
}

// TickStats is one entry of the per-state time series.
type TickStats struct {
	Tick   uint64  `json:"tick"`
	Time   float64 `json:"time"`
	Counts Counts  `json:"counts"`
}

// SimStats tracks cumulative totals across the run.
type SimStats struct {
	Population      int    `json:"population"` // live agents after the last tick
	TotalInfections int    `json:"total_infections"`
	TotalIllnesses  int    `json:"total_illnesses"`
	TotalRecovered  int    `json:"total_recovered"`
	TotalDeaths     int    `json:"total_deaths"`
	PeakIll         int    `json:"peak_ill"`
	PeakIllTick     uint64 `json:"peak_ill_tick"`
}

// countAgents tallies the current states of a population.
func countAgents(pop []*agents.Agent) Counts {
	var c Counts
	for _, a := range pop {
		c.Add(a.State)
	}
	return c
}
