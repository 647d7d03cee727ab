package agents

import (
	"testing"

	"github.com/google/uuid"

	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/entropy"
)

// fixedSource returns the same draws forever.
type fixedSource struct {
	uniform float64
	normal  float64
}

func (f fixedSource) Float64() float64     { return f.uniform }
func (f fixedSource) NormFloat64() float64 { return f.normal }
func (f fixedSource) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 7
	}
	return len(p), nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TickLength = 1
	cfg.IncubationTime = 3
	cfg.RecoveryTime = 2
	cfg.MinContactTime = 2
	cfg.UnsafeDistance = 0.5
	return cfg
}

func TestMoveImmobileIsBitIdentical(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0.123456789, 1.987654321, Healthy)
	src := entropy.NewSeeded(1)
	for i := 0; i < 100; i++ {
		a.Move(src, &cfg)
	}
	if a.X != 0.123456789 || a.Y != 1.987654321 {
		t.Fatalf("immobile agent moved to (%v, %v)", a.X, a.Y)
	}
}

func TestMoveIllAgentStaysPut(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 1.1, 0.4, Ill)
	a.Mobile = true
	src := entropy.NewSeeded(2)
	for i := 0; i < 100; i++ {
		a.Move(src, &cfg)
	}
	if a.X != 1.1 || a.Y != 0.4 {
		t.Fatalf("ill agent moved to (%v, %v)", a.X, a.Y)
	}
}

func TestMoveWrapsAtEdges(t *testing.T) {
	cfg := testConfig()
	cfg.MeanSpeed = 1
	a := New(uuid.New(), 1.9, 0.1, Healthy)
	a.Mobile = true

	// One unit of displacement on each axis: 1.9+1 → 0.9, 0.1+1 → 1.1.
	a.Move(fixedSource{normal: 1}, &cfg)
	if d := a.X - 0.9; d > 1e-12 || d < -1e-12 {
		t.Fatalf("x = %v, want 0.9", a.X)
	}
	if d := a.Y - 1.1; d > 1e-12 || d < -1e-12 {
		t.Fatalf("y = %v, want 1.1", a.Y)
	}

	// Negative displacement re-enters from the far edge.
	a.Move(fixedSource{normal: -1}, &cfg)
	if a.X < 0 || a.X >= cfg.Width || a.Y < 0 || a.Y >= cfg.Height {
		t.Fatalf("position (%v, %v) left the area", a.X, a.Y)
	}
}

func TestMoveStaysInsideArea(t *testing.T) {
	cfg := testConfig()
	cfg.MeanSpeed = 3 // larger than the area
	src := entropy.NewSeeded(5)
	a := New(uuid.New(), 1, 1, Healthy)
	a.Mobile = true
	for i := 0; i < 1000; i++ {
		a.Move(src, &cfg)
		if a.X < 0 || a.X >= cfg.Width || a.Y < 0 || a.Y >= cfg.Height {
			t.Fatalf("step %d: (%v, %v) outside area", i, a.X, a.Y)
		}
	}
}

func TestInfectionByIllContact(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, Healthy)
	a.InfectionTime = 9 // must be reset
	other := uuid.New()
	a.Contacts[other] = Contact{ID: other, State: Ill, Duration: cfg.MinContactTime}

	tr := a.UpdateState(fixedSource{}, &cfg)
	if a.State != Infected || !tr.Changed() || tr.From != Healthy || tr.To != Infected {
		t.Fatalf("state %v, transition %+v", a.State, tr)
	}
	if a.InfectionTime != 0 {
		t.Fatalf("infection timer %v, want 0", a.InfectionTime)
	}
}

func TestMedicImmuneToInfectedContact(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, Healthy)
	a.Medic = true
	other := uuid.New()
	a.Contacts[other] = Contact{ID: other, State: Infected, Duration: cfg.MinContactTime + 5}

	a.UpdateState(fixedSource{}, &cfg)
	if a.State != Healthy {
		t.Fatalf("medic became %v from an infected contact", a.State)
	}
}

func TestMedicVulnerableToIllContact(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, Healthy)
	a.Medic = true
	other := uuid.New()
	a.Contacts[other] = Contact{ID: other, State: Ill, Duration: cfg.MinContactTime}

	a.UpdateState(fixedSource{}, &cfg)
	if a.State != Infected {
		t.Fatalf("medic with ill contact is %v, want infected", a.State)
	}
}

func TestNonMedicInfectedByInfectedContact(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, Healthy)
	other := uuid.New()
	a.Contacts[other] = Contact{ID: other, State: Infected, Duration: cfg.MinContactTime}

	a.UpdateState(fixedSource{}, &cfg)
	if a.State != Infected {
		t.Fatalf("state %v, want infected", a.State)
	}
}

func TestHealthyPrunesOnlyThresholdContacts(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, Healthy)
	short, long, sick := uuid.New(), uuid.New(), uuid.New()
	a.Contacts[short] = Contact{ID: short, State: Infected, Duration: cfg.MinContactTime - 1}
	a.Contacts[long] = Contact{ID: long, State: Healthy, Duration: cfg.MinContactTime}
	a.Contacts[sick] = Contact{ID: sick, State: Recovered, Duration: cfg.MinContactTime + 3}

	a.UpdateState(fixedSource{}, &cfg)
	if a.State != Healthy {
		t.Fatalf("state %v, want healthy", a.State)
	}
	if !a.Contacts.Has(short) {
		t.Fatal("sub-threshold contact was pruned")
	}
	if a.Contacts.Has(long) || a.Contacts.Has(sick) {
		t.Fatal("threshold contacts were kept")
	}
}

func TestIncubationEndsInIllness(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, Infected)
	a.IllnessTime = 4

	// Timer advances 0→1→2→3, then the next tick flips to ill.
	for i := 0; i < 3; i++ {
		a.UpdateState(fixedSource{}, &cfg)
		if a.State != Infected {
			t.Fatalf("tick %d: state %v before incubation elapsed", i, a.State)
		}
	}
	if a.InfectionTime != 3 {
		t.Fatalf("infection timer %v, want 3", a.InfectionTime)
	}
	tr := a.UpdateState(fixedSource{}, &cfg)
	if a.State != Ill || tr.To != Ill {
		t.Fatalf("state %v after incubation, want ill", a.State)
	}
	if a.IllnessTime != 0 {
		t.Fatalf("illness timer %v, want 0", a.IllnessTime)
	}
}

func TestIllnessResolvesAtThreshold(t *testing.T) {
	cases := []struct {
		name  string
		death float64
		draw  float64
		want  HealthState
	}{
		{"recovers", 0.03, 0.5, Recovered},
		{"dies", 0.03, 0.01, Dead},
		{"certain death", 1, 0.999, Dead},
		{"no mortality", 0, 0, Recovered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.DeathProbability = tc.death
			a := New(uuid.New(), 0, 0, Ill)
			a.IllnessTime = cfg.RecoveryTime

			a.UpdateState(fixedSource{uniform: tc.draw}, &cfg)
			if a.State != tc.want {
				t.Fatalf("state %v, want %v", a.State, tc.want)
			}
		})
	}
}

func TestIllNeverPastThreshold(t *testing.T) {
	cfg := testConfig()
	src := entropy.NewSeeded(3)
	a := New(uuid.New(), 0, 0, Ill)
	for i := 0; i < 100 && a.State == Ill; i++ {
		if a.IllnessTime > cfg.RecoveryTime {
			t.Fatalf("still ill with timer %v past threshold %v", a.IllnessTime, cfg.RecoveryTime)
		}
		a.UpdateState(src, &cfg)
	}
	if a.State != Recovered && a.State != Dead {
		t.Fatalf("ill agent never resolved: %v", a.State)
	}
}

func TestTerminalStatesStay(t *testing.T) {
	cfg := testConfig()
	for _, s := range []HealthState{Recovered, Dead} {
		a := New(uuid.New(), 0, 0, s)
		other := uuid.New()
		a.Contacts[other] = Contact{ID: other, State: Ill, Duration: 100}
		for i := 0; i < 10; i++ {
			if tr := a.UpdateState(entropy.NewSeeded(int64(i)), &cfg); tr.Changed() {
				t.Fatalf("%v transitioned to %v", s, tr.To)
			}
		}
	}
}

func TestForwardOnlyPath(t *testing.T) {
	cfg := testConfig()
	src := entropy.NewSeeded(99)
	a := New(uuid.New(), 0, 0, Healthy)
	other := uuid.New()

	seen := []HealthState{a.State}
	for i := 0; i < 50; i++ {
		a.UpdateContacts([]Sighting{{ID: other, State: Ill}}, cfg.TickLength)
		a.UpdateState(src, &cfg)
		if a.State != seen[len(seen)-1] {
			seen = append(seen, a.State)
		}
	}
	if len(seen) != 4 {
		t.Fatalf("path %v, want 4 distinct states", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("backward transition in %v", seen)
		}
	}
	if seen[1] != Infected || seen[2] != Ill {
		t.Fatalf("unexpected path %v", seen)
	}
}

func TestUndefinedStatePanics(t *testing.T) {
	cfg := testConfig()
	a := New(uuid.New(), 0, 0, HealthState(17))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on undefined state")
		}
	}()
	a.UpdateState(fixedSource{}, &cfg)
}
