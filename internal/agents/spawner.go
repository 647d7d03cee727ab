// Agent spawning — creates the initial population with positions,
// mobility, medic status, and seed infections.
package agents

import (
	"github.com/google/uuid"

	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// Spawner creates agents for the simulation. All draws, including the
// agent identifiers, come from its Source.
type Spawner struct {
	src entropy.Source
}

// NewSpawner creates a spawner drawing from src.
func NewSpawner(src entropy.Source) *Spawner {
	return &Spawner{src: src}
}

// NewID returns a random (version 4) identifier read from the spawner's source.
func (s *Spawner) NewID() AgentID {
	id, err := uuid.NewRandomFromReader(s.src)
	if err != nil {
		// Only possible with a failing custom Source; fall back to the
		// global generator rather than issue a duplicate.
		return uuid.New()
	}
	return id
}

// SpawnPopulation creates cfg.Population agents. Positions are uniform over
// the area unless field is non-nil, in which case they follow its density.
func (s *Spawner) SpawnPopulation(cfg *config.Config, field *world.DensityField) []*Agent {
	area := world.Area{Width: cfg.Width, Height: cfg.Height}
	agents := make([]*Agent, 0, cfg.Population)

	for i := 0; i < cfg.Population; i++ {
		var p world.Point
		if field != nil {
			p = field.Sample(s.src)
		} else {
			p = world.UniformPoint(area, s.src)
		}
		agents = append(agents, s.spawnOne(cfg, p))
	}

	return agents
}

func (s *Spawner) spawnOne(cfg *config.Config, p world.Point) *Agent {
	state := Healthy
	if s.src.Float64() < cfg.InitialInfectedFraction {
		state = Infected
	}

	a := New(s.NewID(), p.X, p.Y, state)
	a.Mobile = s.src.Float64() < cfg.MobileFraction
	a.Medic = s.src.Float64() < cfg.MedicFraction
	return a
}
