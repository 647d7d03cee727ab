// Per-tick agent behavior: movement, ledger refresh, and the health
// state machine.
package agents

import (
	"fmt"

	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// Transition records a state change made by UpdateState. From == To when
// nothing changed.
type Transition struct {
	From HealthState
	To   HealthState
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Position returns the agent's location as a world point.
func (a *Agent) Position() world.Point {
	return world.Point{X: a.X, Y: a.Y}
}

// Move displaces a mobile, non-ill agent by an independent Gaussian step on
// each axis (stddev cfg.MeanSpeed), wrapping at the area edges.
// Immobile and ill agents are left untouched.
func (a *Agent) Move(src entropy.Source, cfg *config.Config) {
	if !a.Mobile || a.State == Ill {
		return
	}
	dx := src.NormFloat64() * cfg.MeanSpeed
	dy := src.NormFloat64() * cfg.MeanSpeed
	area := world.Area{Width: cfg.Width, Height: cfg.Height}
	p := area.Wrap(world.Point{X: a.X + dx, Y: a.Y + dy})
	a.X, a.Y = p.X, p.Y
}

// UpdateContacts replaces the ledger with one built from this tick's
// nearby set.
func (a *Agent) UpdateContacts(seen []Sighting, dt float64) {
	a.Contacts = a.Contacts.Refresh(seen, dt)
}

// UpdateState advances the health state machine by one tick.
// It panics on an undefined state: that is a broken invariant, not an input error.
func (a *Agent) UpdateState(src entropy.Source, cfg *config.Config) Transition {
	from := a.State
	if from.Terminal() {
		return Transition{From: from, To: from}
	}

	switch a.State {
	case Ill:
		if a.IllnessTime >= cfg.RecoveryTime {
			if src.Float64() < cfg.DeathProbability {
				a.State = Dead
			} else {
				a.State = Recovered
			}
		} else {
			a.IllnessTime += cfg.TickLength
		}

	case Infected:
		if a.InfectionTime >= cfg.IncubationTime {
			a.State = Ill
			a.IllnessTime = 0
		} else {
			a.InfectionTime += cfg.TickLength
		}

	case Healthy:
		a.checkExposure(cfg)

	default:
		panic(fmt.Sprintf("agent %s: undefined health state %d", a.ID, uint8(a.State)))
	}

	return Transition{From: from, To: a.State}
}

// checkExposure infects a healthy agent when any contact has lasted at
// least MinContactTime and was ill, or was infected and the agent is not a
// medic. Contacts that reached the threshold are dropped; shorter ones stay
// so they can keep accumulating.
func (a *Agent) checkExposure(cfg *config.Config) {
	for id, c := range a.Contacts {
		if c.Duration < cfg.MinContactTime {
			continue
		}
		if c.State == Ill || (c.State == Infected && !a.Medic) {
			a.State = Infected
			a.InfectionTime = 0
		}
		delete(a.Contacts, id)
	}
}
