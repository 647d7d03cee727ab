// Command monitor polls a running contagion simulation and logs an outbreak
// assessment every cycle, warning when the level escalates.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/contagion/internal/monitor"
)

const defaultIntervalSec = 30

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	apiURL := envOrDefault("CONTAGION_API_URL", "http://localhost:8080")
	intervalSec := envIntOrDefault("MONITOR_INTERVAL", defaultIntervalSec)
	memoryPath := envOrDefault("MONITOR_MEMORY", "monitor_memory.json")
	adminKey := os.Getenv("CONTAGION_ADMIN_KEY")
	pauseOnCritical := os.Getenv("MONITOR_PAUSE_ON_CRITICAL") == "1"

	interval := cycleInterval(intervalSec)

	slog.Info("contagion monitor starting",
		"api_url", apiURL,
		"interval", interval,
	)

	client := monitor.NewClient(apiURL)
	var actor *monitor.Actor
	if adminKey != "" {
		actor = monitor.NewActor(apiURL, adminKey)
	} else {
		slog.Warn("CONTAGION_ADMIN_KEY not set; escalations will not trigger checkpoints")
	}
	mem := monitor.LoadMemory(memoryPath)
	if s := mem.Summary(3); s != "" {
		slog.Info("previous cycles\n" + s)
	}

	// Wait for the simulation API before the first cycle.
	slog.Info("waiting for simulation API...")
	waitForAPI(client)

	runCycle(client, actor, mem, pauseOnCritical)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle(client, actor, mem, pauseOnCritical)
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Monitor stopped.")
			return
		}
	}
}

// runCycle executes one observe → triage → act cycle.
func runCycle(client *monitor.Client, actor *monitor.Actor, mem *monitor.Memory, pauseOnCritical bool) {
	snap, err := client.Observe()
	if err != nil {
		slog.Error("observation failed", "error", err)
		return
	}

	a := monitor.Triage(snap)
	prev := mem.Add(a)
	if err := mem.Save(); err != nil {
		slog.Warn("failed to save monitor memory", "error", err)
	}

	attrs := []any{
		"run", snap.Status.RunID,
		"tick", humanize.Comma(int64(a.Tick)),
		"level", a.Level,
		"live", humanize.Comma(int64(a.Live)),
		"active", humanize.Comma(int64(a.Active)),
		"ill_fraction", fmt.Sprintf("%.3f", a.IllFraction),
		"growth", fmt.Sprintf("%+.2f", a.Growth),
		"dead_fraction", fmt.Sprintf("%.3f", a.DeadFraction),
	}

	switch {
	case prev != "" && monitor.Severity(a.Level) > monitor.Severity(prev):
		slog.Warn("outbreak escalated", append(attrs, "from", prev)...)
	case prev != "" && monitor.Severity(a.Level) < monitor.Severity(prev):
		slog.Info("outbreak eased", append(attrs, "from", prev)...)
	default:
		slog.Info("outbreak assessment", attrs...)
	}

	if actor != nil && a.Level == monitor.LevelCritical && prev != monitor.LevelCritical {
		act(actor, pauseOnCritical)
	}

	if !snap.Status.Running && a.Level == monitor.LevelContained {
		slog.Info("simulation idle and outbreak contained")
	}
}

// act saves the population as the outbreak turns critical, and optionally
// pauses the run for inspection.
func act(actor *monitor.Actor, pause bool) {
	res, err := actor.Checkpoint()
	if err != nil {
		slog.Error("checkpoint request failed", "error", err)
	} else {
		slog.Info("checkpoint taken", "tick", humanize.Comma(int64(res.Tick)))
	}

	if !pause {
		return
	}
	if _, err := actor.SetSpeed(0); err != nil {
		slog.Error("pause request failed", "error", err)
		return
	}
	slog.Warn("simulation paused on critical outbreak; POST /api/v1/speed to resume")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// cycleInterval falls back to the default for non-positive settings.
func cycleInterval(sec int) time.Duration {
	if sec <= 0 {
		slog.Warn("MONITOR_INTERVAL must be positive, using default", "got", sec)
		sec = defaultIntervalSec
	}
	return time.Duration(sec) * time.Second
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Exits after 5 minutes if the API never becomes ready.
func waitForAPI(client *monitor.Client) {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		if client.Ready() {
			slog.Info("simulation API is ready")
			return
		}
		if time.Now().After(deadline) {
			slog.Error("simulation API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("simulation not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
