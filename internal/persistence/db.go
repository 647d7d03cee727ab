// Package persistence provides SQLite-based storage for runs: the per-state
// time series, population checkpoints, and run metadata.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/engine"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Run is one simulation run's header row.
type Run struct {
	ID         string `db:"id" json:"id"`
	StartedAt  int64  `db:"started_at" json:"started_at"` // Unix milliseconds
	Seed       int64  `db:"seed" json:"seed"`
	ConfigYAML string `db:"config_yaml" json:"-"`
}

// Started returns StartedAt as a time.
func (r Run) Started() time.Time {
	return time.UnixMilli(r.StartedAt).UTC()
}

// Config decodes the configuration the run was started with.
func (r Run) Config() (config.Config, error) {
	cfg, err := config.Parse([]byte(r.ConfigYAML))
	if err != nil {
		return cfg, fmt.Errorf("run %s config: %w", r.ID, err)
	}
	return cfg, nil
}

// StatsRow is one recorded tick of the per-state time series.
type StatsRow struct {
	Tick      uint64  `db:"tick" json:"tick"`
	SimTime   float64 `db:"sim_time" json:"time"`
	Healthy   int     `db:"healthy" json:"healthy"`
	Infected  int     `db:"infected" json:"infected"`
	Ill       int     `db:"ill" json:"ill"`
	Recovered int     `db:"recovered" json:"recovered"`
	Dead      int     `db:"dead" json:"dead"`
}

// Counts converts the row back into an engine tally.
func (r StatsRow) Counts() engine.Counts {
	var c engine.Counts
	c[agents.Healthy] = r.Healthy
	c[agents.Infected] = r.Infected
	c[agents.Ill] = r.Ill
	c[agents.Recovered] = r.Recovered
	c[agents.Dead] = r.Dead
	return c
}

// Checkpoint is a saved population, enough to resume a run.
type Checkpoint struct {
	Tick   uint64
	Agents []*agents.Agent
	Stats  engine.SimStats
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		config_yaml TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		healthy INTEGER NOT NULL,
		infected INTEGER NOT NULL,
		ill INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		dead INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		state TEXT NOT NULL,
		mobile INTEGER NOT NULL,
		medic INTEGER NOT NULL,
		infection_time REAL NOT NULL,
		illness_time REAL NOT NULL,
		contacts_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun registers a new run and returns its generated ID.
func (db *DB) CreateRun(cfg config.Config, seed int64) (Run, error) {
	raw, err := cfg.Marshal()
	if err != nil {
		return Run{}, fmt.Errorf("marshal config: %w", err)
	}
	run := Run{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UnixMilli(),
		Seed:       seed,
		ConfigYAML: string(raw),
	}
	_, err = db.conn.NamedExec(
		`INSERT INTO runs (id, started_at, seed, config_yaml) VALUES (:id, :started_at, :seed, :config_yaml)`,
		run,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun loads a run header.
func (db *DB) GetRun(id string) (Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT id, started_at, seed, config_yaml FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (db *DB) LatestRun() (Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT id, started_at, seed, config_yaml FROM runs ORDER BY started_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return run, err
}

// SaveStats writes one tick of the time series. Re-recording a tick
// (after a resume) replaces it.
func (db *DB) SaveStats(runID string, ts engine.TickStats) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO stats
		(run_id, tick, sim_time, healthy, infected, ill, recovered, dead)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(ts.Tick), ts.Time,
		ts.Counts[agents.Healthy], ts.Counts[agents.Infected], ts.Counts[agents.Ill],
		ts.Counts[agents.Recovered], ts.Counts[agents.Dead],
	)
	if err != nil {
		return fmt.Errorf("insert stats tick %d: %w", ts.Tick, err)
	}
	return nil
}

// LoadStatsHistory returns up to limit rows with from <= tick <= to,
// newest first.
func (db *DB) LoadStatsHistory(runID string, from, to uint64, limit int) ([]StatsRow, error) {
	var rows []StatsRow
	err := db.conn.Select(&rows,
		`SELECT tick, sim_time, healthy, infected, ill, recovered, dead FROM stats
		WHERE run_id = ? AND tick >= ? AND tick <= ?
		ORDER BY tick DESC LIMIT ?`,
		runID, int64(from), int64(to), limit,
	)
	return rows, err
}

type agentRow struct {
	ID            string  `db:"id"`
	X             float64 `db:"x"`
	Y             float64 `db:"y"`
	State         string  `db:"state"`
	Mobile        bool    `db:"mobile"`
	Medic         bool    `db:"medic"`
	InfectionTime float64 `db:"infection_time"`
	IllnessTime   float64 `db:"illness_time"`
	ContactsJSON  string  `db:"contacts_json"`
}

// SaveCheckpoint replaces the run's saved population.
func (db *DB) SaveCheckpoint(runID string, cp Checkpoint) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(run_id, id, x, y, state, mobile, medic, infection_time, illness_time, contacts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range cp.Agents {
		contactsJSON, err := json.Marshal(a.Contacts)
		if err != nil {
			return fmt.Errorf("marshal contacts of %s: %w", a.ID, err)
		}
		_, err = stmt.Exec(
			runID, a.ID.String(), a.X, a.Y, a.State.String(),
			a.Mobile, a.Medic, a.InfectionTime, a.IllnessTime,
			string(contactsJSON),
		)
		if err != nil {
			return fmt.Errorf("insert agent %s: %w", a.ID, err)
		}
	}

	statsJSON, err := json.Marshal(cp.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	meta := map[string]string{
		"checkpoint_tick": fmt.Sprintf("%d", cp.Tick),
		"stats_json":      string(statsJSON),
	}
	for k, v := range meta {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO run_meta (run_id, key, value) VALUES (?, ?, ?)",
			runID, k, v,
		); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// LoadCheckpoint restores the run's saved population.
func (db *DB) LoadCheckpoint(runID string) (Checkpoint, error) {
	var cp Checkpoint

	tickStr, err := db.GetMeta(runID, "checkpoint_tick")
	if err != nil {
		return cp, err
	}
	if _, err := fmt.Sscanf(tickStr, "%d", &cp.Tick); err != nil {
		return cp, fmt.Errorf("parse checkpoint tick %q: %w", tickStr, err)
	}

	if statsStr, err := db.GetMeta(runID, "stats_json"); err == nil {
		if err := json.Unmarshal([]byte(statsStr), &cp.Stats); err != nil {
			return cp, fmt.Errorf("parse stats: %w", err)
		}
	}

	var rows []agentRow
	if err := db.conn.Select(&rows,
		`SELECT id, x, y, state, mobile, medic, infection_time, illness_time, contacts_json
		FROM agents WHERE run_id = ? ORDER BY rowid`, runID,
	); err != nil {
		return cp, fmt.Errorf("select agents: %w", err)
	}

	cp.Agents = make([]*agents.Agent, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return cp, fmt.Errorf("agent id %q: %w", r.ID, err)
		}
		state, err := agents.ParseHealthState(r.State)
		if err != nil {
			return cp, fmt.Errorf("agent %s: %w", r.ID, err)
		}
		a := agents.New(id, r.X, r.Y, state)
		a.Mobile = r.Mobile
		a.Medic = r.Medic
		a.InfectionTime = r.InfectionTime
		a.IllnessTime = r.IllnessTime
		if err := json.Unmarshal([]byte(r.ContactsJSON), &a.Contacts); err != nil {
			return cp, fmt.Errorf("agent %s contacts: %w", r.ID, err)
		}
		if a.Contacts == nil {
			a.Contacts = agents.Ledger{}
		}
		cp.Agents = append(cp.Agents, a)
	}

	return cp, nil
}

// SaveSimulation checkpoints the simulation's current population.
func (db *DB) SaveSimulation(sim *engine.Simulation) error {
	slog.Info("saving checkpoint", "run", sim.RunID, "tick", sim.CurrentTick(), "agents", len(sim.Agents))

	err := db.SaveCheckpoint(sim.RunID, Checkpoint{
		Tick:   sim.CurrentTick(),
		Agents: sim.Agents,
		Stats:  sim.Stats,
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	slog.Info("checkpoint saved")
	return nil
}

// SaveMeta stores a key-value pair for a run.
func (db *DB) SaveMeta(runID, key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (run_id, key, value) VALUES (?, ?, ?)",
		runID, key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(runID, key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE run_id = ? AND key = ?", runID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %s/%s: %w", runID, key, ErrNotFound)
	}
	return value, err
}

// Recorder is an engine.Observer that appends every frame's tally to the
// run's time series.
type Recorder struct {
	DB    *DB
	RunID string
}

// Observe saves the frame's counts.
func (r *Recorder) Observe(f engine.Frame) error {
	return r.DB.SaveStats(r.RunID, engine.TickStats{Tick: f.Tick, Time: f.Time, Counts: f.Counts})
}
