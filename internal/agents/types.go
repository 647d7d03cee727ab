// Package agents provides the agent data model, contact ledger, and the
// per-agent epidemiological state machine.
package agents

import (
	"fmt"

	"github.com/google/uuid"
)

// AgentID is a unique identifier for an agent. Compared by value; never
// used for ordering.
type AgentID = uuid.UUID

// HealthState is an agent's position on the disease path.
// Transitions run strictly forward: healthy → infected → ill → recovered | dead.
type HealthState uint8

const (
	Healthy   HealthState = iota
	Infected                     // Carrying, not yet symptomatic (incubation)
	Ill                          // Symptomatic; confined in place
	Recovered                    // Terminal
	Dead                         // Terminal; removed from the next tick's population
)

// NumStates is the number of defined health states.
const NumStates = 5

var stateNames = [NumStates]string{"healthy", "infected", "ill", "recovered", "dead"}

// AllStates lists every state in path order.
var AllStates = [NumStates]HealthState{Healthy, Infected, Ill, Recovered, Dead}

// String returns the lower-case state name.
func (s HealthState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("HealthState(%d)", uint8(s))
	}
	return stateNames[s]
}

// Valid reports whether s is one of the five defined states.
func (s HealthState) Valid() bool {
	return s < NumStates
}

// Terminal reports whether no further transition can happen.
func (s HealthState) Terminal() bool {
	return s == Recovered || s == Dead
}

// ParseHealthState is the inverse of String.
func ParseHealthState(name string) (HealthState, error) {
	for i, n := range stateNames {
		if n == name {
			return HealthState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown health state %q", name)
}

// MarshalText encodes the state by name.
func (s HealthState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid health state %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *HealthState) UnmarshalText(b []byte) error {
	v, err := ParseHealthState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Agent is one person in the simulation. An agent owns its ledger and never
// holds a reference to another agent; everything it learns about others
// arrives as Sightings from the tick's proximity query.
type Agent struct {
	ID AgentID `json:"id"`

	// Location, always inside the area.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Fixed at creation.
	Mobile bool `json:"mobile"`
	Medic  bool `json:"medic"` // immune to infected (but not ill) contacts

	State HealthState `json:"state"`

	// Phase timers, in simulation time units.
	InfectionTime float64 `json:"infection_time"`
	IllnessTime   float64 `json:"illness_time"`

	Contacts Ledger `json:"contacts"`
}

// New creates an agent at (x, y) in the given state with an empty ledger.
func New(id AgentID, x, y float64, state HealthState) *Agent {
	return &Agent{
		ID:       id,
		X:        x,
		Y:        y,
		State:    state,
		Contacts: Ledger{},
	}
}

// Snapshot is the externally visible part of an agent at one tick.
type Snapshot struct {
	ID     AgentID     `json:"id"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	State  HealthState `json:"state"`
	Mobile bool        `json:"mobile"`
	Medic  bool        `json:"medic"`
}

// Snapshot copies the observable fields.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		ID:     a.ID,
		X:      a.X,
		Y:      a.Y,
		State:  a.State,
		Mobile: a.Mobile,
		Medic:  a.Medic,
	}
}
