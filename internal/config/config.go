// Package config holds the injectable parameters of an epidemic run.
// Every component receives a *Config explicitly; there is no package-level state.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Proximity index kinds.
const (
	IndexNaive = "naive"
	IndexGrid  = "grid"
)

// Initial placement kinds.
const (
	PlacementUniform   = "uniform"
	PlacementClustered = "clustered"
)

// Config holds all simulation parameters. Times are in simulation time units
// (hours by default); distances in area units (km).
type Config struct {
	Population int     `yaml:"population"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`

	MeanSpeed               float64 `yaml:"mean_speed"` // std deviation of per-axis displacement per tick
	MobileFraction          float64 `yaml:"mobile_fraction"`
	MedicFraction           float64 `yaml:"medic_fraction"`
	InitialInfectedFraction float64 `yaml:"initial_infected_fraction"`
	DeathProbability        float64 `yaml:"death_probability"`

	TickLength     float64 `yaml:"tick_length"`
	RunLength      float64 `yaml:"run_length"`
	IncubationTime float64 `yaml:"incubation_time"`
	RecoveryTime   float64 `yaml:"recovery_time"`
	MinContactTime float64 `yaml:"min_contact_time"`
	UnsafeDistance float64 `yaml:"unsafe_distance"`

	Seed              int64   `yaml:"seed"`         // 0 = random
	RecordEvery       uint64  `yaml:"record_every"` // ticks between observer frames
	Index             string  `yaml:"index"`
	Placement         string  `yaml:"placement"`
	ClusterScale      float64 `yaml:"cluster_scale"` // noise feature size for clustered placement
	StopWhenContained bool    `yaml:"stop_when_contained"`
	CheckpointEvery   uint64  `yaml:"checkpoint_every"` // 0 = only on shutdown
}

// Default returns the reference parameter set: ten agents on a 2×2 km square,
// hourly ticks for a little over a year of simulated time.
func Default() Config {
	return Config{
		Population: 10,
		Width:      2,
		Height:     2,

		MeanSpeed:               0.05,
		MobileFraction:          1,
		MedicFraction:           0,
		InitialInfectedFraction: 0.4,
		DeathProbability:        0.03,

		TickLength:     1,
		RunLength:      10000,
		IncubationTime: 120,
		RecoveryTime:   500,
		MinContactTime: 3,
		UnsafeDistance: 0.5,

		RecordEvery:     1000,
		Index:           IndexNaive,
		Placement:       PlacementUniform,
		ClusterScale:    0.5,
		CheckpointEvery: 0,
	}
}

// Load reads a YAML file and overlays it onto Default. Keys absent from the
// file keep their default values. The result is validated.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays YAML onto Default and validates the result.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal renders the config as YAML (stored alongside persisted runs).
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.Population <= 0 {
		errs = append(errs, fmt.Errorf("population: must be positive, got %d", c.Population))
	}

	positive := []struct {
		name string
		v    float64
	}{
		{"width", c.Width},
		{"height", c.Height},
		{"tick_length", c.TickLength},
		{"run_length", c.RunLength},
		{"incubation_time", c.IncubationTime},
		{"recovery_time", c.RecoveryTime},
		{"min_contact_time", c.MinContactTime},
		{"unsafe_distance", c.UnsafeDistance},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			errs = append(errs, fmt.Errorf("%s: must be positive and finite, got %v", p.name, p.v))
		}
	}

	if !(c.MeanSpeed >= 0) || math.IsInf(c.MeanSpeed, 0) {
		errs = append(errs, fmt.Errorf("mean_speed: must be non-negative, got %v", c.MeanSpeed))
	}

	fractions := []struct {
		name string
		v    float64
	}{
		{"mobile_fraction", c.MobileFraction},
		{"medic_fraction", c.MedicFraction},
		{"initial_infected_fraction", c.InitialInfectedFraction},
		{"death_probability", c.DeathProbability},
	}
	for _, f := range fractions {
		if !(f.v >= 0 && f.v <= 1) {
			errs = append(errs, fmt.Errorf("%s: must be within [0, 1], got %v", f.name, f.v))
		}
	}

	switch c.Index {
	case IndexNaive, IndexGrid:
	default:
		errs = append(errs, fmt.Errorf("index: unknown kind %q", c.Index))
	}

	switch c.Placement {
	case PlacementUniform:
	case PlacementClustered:
		if !(c.ClusterScale > 0) {
			errs = append(errs, fmt.Errorf("cluster_scale: must be positive for clustered placement, got %v", c.ClusterScale))
		}
	default:
		errs = append(errs, fmt.Errorf("placement: unknown kind %q", c.Placement))
	}

	return errors.Join(errs...)
}

// TotalTicks is the number of steps in a full run. Time 0 is stepped, and
// stepping continues while the clock has not passed RunLength.
func (c Config) TotalTicks() uint64 {
	return uint64(math.Floor(c.RunLength/c.TickLength+1e-9)) + 1
}

// SimTime converts a tick number into simulation time.
func (c Config) SimTime(tick uint64) float64 {
	return float64(tick) * c.TickLength
}
