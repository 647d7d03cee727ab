package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/engine"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetRun(t *testing.T) {
	db := openTestDB(t)
	cfg := config.Default()
	cfg.Population = 77

	run, err := db.CreateRun(cfg, 1234)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Seed != 1234 || got.StartedAt != run.StartedAt {
		t.Fatalf("run %+v, want %+v", got, run)
	}
	back, err := got.Config()
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if back.Population != 77 {
		t.Fatalf("config population %d", back.Population)
	}

	latest, err := db.LatestRun()
	if err != nil || latest.ID != run.ID {
		t.Fatalf("latest run %+v, %v", latest, err)
	}
}

func TestMissingRun(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err %v, want ErrNotFound", err)
	}
	if _, err := db.LatestRun(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err %v, want ErrNotFound", err)
	}
	if _, err := db.LoadCheckpoint("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err %v, want ErrNotFound", err)
	}
}

func TestStatsHistory(t *testing.T) {
	db := openTestDB(t)
	rec := &Recorder{DB: db, RunID: "run-a"}

	for tick := uint64(0); tick <= 50; tick += 10 {
		var c engine.Counts
		c[agents.Healthy] = 100 - int(tick)
		c[agents.Infected] = int(tick)
		if err := rec.Observe(engine.Frame{Tick: tick, Time: float64(tick) / 2, Counts: c}); err != nil {
			t.Fatalf("observe %d: %v", tick, err)
		}
	}
	// Another run must not leak in.
	if err := db.SaveStats("run-b", engine.TickStats{Tick: 20}); err != nil {
		t.Fatal(err)
	}

	rows, err := db.LoadStatsHistory("run-a", 10, 40, 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if rows[0].Tick != 40 || rows[3].Tick != 10 {
		t.Fatalf("rows not newest-first: %+v", rows)
	}
	if rows[0].Infected != 40 || rows[0].SimTime != 20 {
		t.Fatalf("row %+v", rows[0])
	}
	if c := rows[0].Counts(); c[agents.Healthy] != 60 || c[agents.Infected] != 40 {
		t.Fatalf("counts %v", c)
	}

	limited, err := db.LoadStatsHistory("run-a", 0, 1<<62, 2)
	if err != nil || len(limited) != 2 || limited[0].Tick != 50 {
		t.Fatalf("limited %+v, %v", limited, err)
	}
}

func TestStatsReRecordReplaces(t *testing.T) {
	db := openTestDB(t)
	var c engine.Counts
	c[agents.Ill] = 1
	if err := db.SaveStats("r", engine.TickStats{Tick: 5, Counts: c}); err != nil {
		t.Fatal(err)
	}
	c[agents.Ill] = 9
	if err := db.SaveStats("r", engine.TickStats{Tick: 5, Counts: c}); err != nil {
		t.Fatal(err)
	}
	rows, err := db.LoadStatsHistory("r", 0, 10, 10)
	if err != nil || len(rows) != 1 || rows[0].Ill != 9 {
		t.Fatalf("rows %+v, %v", rows, err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := openTestDB(t)

	a := agents.New(uuid.New(), 0.25, 1.5, agents.Infected)
	a.Mobile = true
	a.InfectionTime = 12
	b := agents.New(uuid.New(), 1.75, 0.5, agents.Healthy)
	b.Medic = true
	b.Contacts[a.ID] = agents.Contact{ID: a.ID, State: agents.Infected, Duration: 2}
	stats := engine.SimStats{Population: 2, TotalInfections: 3, PeakIll: 1, PeakIllTick: 40}

	if err := db.SaveCheckpoint("run", Checkpoint{Tick: 99, Agents: []*agents.Agent{a, b}, Stats: stats}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A second save fully replaces the first.
	if err := db.SaveCheckpoint("run", Checkpoint{Tick: 100, Agents: []*agents.Agent{a, b}, Stats: stats}); err != nil {
		t.Fatalf("resave: %v", err)
	}

	cp, err := db.LoadCheckpoint("run")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.Tick != 100 || len(cp.Agents) != 2 || cp.Stats != stats {
		t.Fatalf("checkpoint %+v", cp)
	}
	ga, gb := cp.Agents[0], cp.Agents[1]
	if ga.ID != a.ID || ga.X != a.X || ga.State != agents.Infected || !ga.Mobile || ga.InfectionTime != 12 {
		t.Fatalf("agent a %+v", ga)
	}
	if gb.ID != b.ID || !gb.Medic || gb.Contacts[a.ID].Duration != 2 || gb.Contacts[a.ID].State != agents.Infected {
		t.Fatalf("agent b %+v", gb)
	}
	if ga.Contacts == nil {
		t.Fatal("empty ledger decoded as nil")
	}
}

func TestSaveSimulation(t *testing.T) {
	db := openTestDB(t)
	cfg := config.Default()
	sim := engine.Populate(&cfg, 3)
	sim.RunID = "sim-run"
	for k := uint64(1); k <= 5; k++ {
		sim.Step(k)
	}
	if err := db.SaveSimulation(sim); err != nil {
		t.Fatalf("save simulation: %v", err)
	}
	cp, err := db.LoadCheckpoint("sim-run")
	if err != nil {
		t.Fatal(err)
	}
	if cp.Tick != 5 || len(cp.Agents) != len(sim.Agents) {
		t.Fatalf("checkpoint tick %d with %d agents", cp.Tick, len(cp.Agents))
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveMeta("r", "note", "first"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMeta("r", "note", "second"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetMeta("r", "note")
	if err != nil || v != "second" {
		t.Fatalf("meta %q, %v", v, err)
	}
}
