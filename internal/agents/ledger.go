// Contact ledger — per-agent record of who has been continuously close,
// for how long, and in what state they were last seen.
package agents

// Contact is one entry of an agent's ledger.
type Contact struct {
	ID       AgentID     `json:"id"`
	State    HealthState `json:"state"`    // last observed state of the other agent
	Duration float64     `json:"duration"` // continuous unsafe proximity so far
}

// Ledger maps the other agent's ID to its contact record.
type Ledger map[AgentID]Contact

// Sighting is what a proximity query reports about another agent this tick:
// who it is and its state in the tick's frozen snapshot.
type Sighting struct {
	ID    AgentID
	State HealthState
}

// Refresh builds the ledger for this tick from the agents currently
// unsafe-close. Known contacts accumulate dt and take the fresh state; new
// ones start at dt. Anyone not seen this tick is absent from the result,
// so contact time never survives a gap.
func (l Ledger) Refresh(seen []Sighting, dt float64) Ledger {
	next := make(Ledger, len(seen))
	for _, s := range seen {
		c, ok := l[s.ID]
		if ok {
			c.Duration += dt
			c.State = s.State
		} else {
			c = Contact{ID: s.ID, State: s.State, Duration: dt}
		}
		next[s.ID] = c
	}
	return next
}

// Has reports whether id is in the ledger.
func (l Ledger) Has(id AgentID) bool {
	_, ok := l[id]
	return ok
}
