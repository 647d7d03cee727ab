// Command contagion runs an epidemic simulation: agents wander a bounded
// plane and the disease spreads through sustained close contact.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/api"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/persistence"
	"github.com/talgya/contagion/internal/persistence/framelog"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("CONTAGION_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	dbPath := envOrDefault("CONTAGION_DB", "data/contagion.db")
	apiPort := envIntOrDefault("CONTAGION_API_PORT", 8080)
	interval := time.Duration(envIntOrDefault("CONTAGION_INTERVAL_MS", 0)) * time.Millisecond

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	// ── Load or Start Run ─────────────────────────────────────────────
	var (
		cfg  config.Config
		run  persistence.Run
		sim  *engine.Simulation
		seed int64
	)

	if resumeID := os.Getenv("CONTAGION_RESUME"); resumeID != "" {
		slog.Info("resuming run", "run", resumeID)
		if os.Getenv("CONTAGION_CONFIG") != "" {
			slog.Warn("CONTAGION_CONFIG ignored on resume; using the run's stored config")
		}

		run, err = db.GetRun(resumeID)
		if err != nil {
			slog.Error("failed to load run", "error", err)
			os.Exit(1)
		}
		cfg, err = run.Config()
		if err != nil {
			slog.Error("failed to decode run config", "error", err)
			os.Exit(1)
		}
		cp, err := db.LoadCheckpoint(run.ID)
		if err != nil {
			slog.Error("failed to load checkpoint", "error", err)
			os.Exit(1)
		}
		seed = run.Seed
		sim = engine.Restore(&cfg, cp.Agents, cp.Tick, cp.Stats, seed)

		slog.Info("run restored",
			"agents", len(cp.Agents),
			"tick", cp.Tick,
			"sim_time", cfg.SimTime(cp.Tick),
			"started", humanize.Time(run.Started()),
		)
	} else {
		cfg = config.Default()
		if path := os.Getenv("CONTAGION_CONFIG"); path != "" {
			cfg, err = config.Load(path)
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(1)
			}
			slog.Info("configuration loaded", "path", path)
		}

		seed = cfg.Seed
		if seed == 0 {
			seed = entropy.RandomSeed()
		}

		run, err = db.CreateRun(cfg, seed)
		if err != nil {
			slog.Error("failed to create run", "error", err)
			os.Exit(1)
		}
		sim = engine.Populate(&cfg, seed)

		slog.Info("population spawned",
			"run", run.ID,
			"seed", seed,
			"agents", len(sim.Agents),
			"infected", sim.Counts()[agents.Infected],
			"index", cfg.Index,
			"placement", cfg.Placement,
		)
	}
	sim.RunID = run.ID

	// The engine goroutine steps the population; the API checkpoints it
	// from handler goroutines.
	var simMu sync.Mutex
	checkpoint := func() (uint64, error) {
		simMu.Lock()
		defer simMu.Unlock()
		if err := db.SaveSimulation(sim); err != nil {
			return 0, err
		}
		return sim.CurrentTick(), nil
	}

	// Initial save so a fresh run can always be resumed.
	if sim.CurrentTick() == 0 {
		if _, err := checkpoint(); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	// ── Observers ─────────────────────────────────────────────────────
	sim.AddObserver(&persistence.Recorder{DB: db, RunID: run.ID})

	if dir := os.Getenv("CONTAGION_FRAMES"); dir != "" {
		frames := framelog.NewWriter(dir, run.ID)
		defer frames.Close()
		sim.AddObserver(frames)
		slog.Info("frame log enabled", "path", frames.Path())
	}

	eng := engine.NewEngine()
	eng.Tick = sim.CurrentTick()
	eng.MaxTicks = cfg.TotalTicks()
	eng.Interval = interval
	eng.RecordEvery = cfg.RecordEvery
	eng.CheckpointEvery = cfg.CheckpointEvery

	eng.OnTick = func(tick uint64) {
		simMu.Lock()
		sim.Step(tick)
		simMu.Unlock()
	}
	eng.OnRecord = func(tick uint64) {
		simMu.Lock()
		sim.Record(tick)
		simMu.Unlock()
	}
	eng.OnCheckpoint = func(tick uint64) {
		if _, err := checkpoint(); err != nil {
			slog.Error("periodic checkpoint failed", "tick", tick, "error", err)
		}
	}
	if cfg.StopWhenContained {
		eng.Until = sim.Contained
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if apiPort > 0 {
		adminKey := os.Getenv("CONTAGION_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("CONTAGION_ADMIN_KEY not set — admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Eng:        eng,
			DB:         db,
			RunID:      run.ID,
			Port:       apiPort,
			AdminKey:   adminKey,
			RelayKey:   os.Getenv("CONTAGION_RELAY_KEY"),
			Checkpoint: checkpoint,
		}
		sim.AddObserver(apiServer)
		apiServer.Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("\nRun %s: %s agents on a %g×%g area, %s ticks of %g.\n",
		run.ID, humanize.Comma(int64(len(sim.Agents))), cfg.Width, cfg.Height,
		humanize.Comma(int64(cfg.TotalTicks())), cfg.TickLength)
	if apiServer != nil {
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	}
	if eng.Tick > 0 {
		fmt.Printf("Resuming from tick %s (time %g)\n", humanize.Comma(int64(eng.Tick)), cfg.SimTime(eng.Tick))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	started := time.Now()
	eng.Run()

	// Final save on shutdown.
	slog.Info("final save...")
	if _, err := checkpoint(); err != nil {
		slog.Error("final save failed", "error", err)
	}

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(ctx); err != nil {
			slog.Warn("API shutdown", "error", err)
		}
		cancel()
	}

	printSummary(sim, eng.Tick, time.Since(started))
}

func printSummary(sim *engine.Simulation, tick uint64, elapsed time.Duration) {
	st := sim.Stats
	c := sim.Counts()
	fmt.Printf("\nStopped at tick %s after %s.\n", humanize.Comma(int64(tick)), elapsed.Round(time.Millisecond))
	fmt.Printf("  alive      %s\n", humanize.Comma(int64(st.Population)))
	fmt.Printf("  healthy    %s\n", humanize.Comma(int64(c[agents.Healthy])))
	fmt.Printf("  infected   %s (total %s)\n", humanize.Comma(int64(c[agents.Infected])), humanize.Comma(int64(st.TotalInfections)))
	fmt.Printf("  ill        %s (peak %s at tick %s)\n", humanize.Comma(int64(c[agents.Ill])), humanize.Comma(int64(st.PeakIll)), humanize.Comma(int64(st.PeakIllTick)))
	fmt.Printf("  recovered  %s\n", humanize.Comma(int64(st.TotalRecovered)))
	fmt.Printf("  dead       %s\n", humanize.Comma(int64(st.TotalDeaths)))
	fmt.Printf("Run %s saved. Resume with CONTAGION_RESUME=%s\n", sim.RunID, sim.RunID)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
