package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func status(tick uint64, healthy, infected, ill, recovered int) Status {
	return Status{
		Tick:       tick,
		Population: healthy + infected + ill + recovered,
		Counts: map[string]int{
			"healthy": healthy, "infected": infected, "ill": ill, "recovered": recovered, "dead": 0,
		},
	}
}

func row(tick uint64, healthy, infected, ill, recovered int) HistoryRow {
	return HistoryRow{Tick: tick, Healthy: healthy, Infected: infected, Ill: ill, Recovered: recovered}
}

func TestTriageLevels(t *testing.T) {
	cases := []struct {
		name string
		snap Snapshot
		want string
	}{
		{
			name: "contained",
			snap: Snapshot{Status: status(10, 90, 0, 0, 10)},
			want: LevelContained,
		},
		{
			name: "watch with no history",
			snap: Snapshot{Status: status(10, 95, 3, 2, 0)},
			want: LevelWatch,
		},
		{
			name: "warning on ill fraction",
			snap: Snapshot{Status: status(10, 80, 5, 15, 0)},
			want: LevelWarning,
		},
		{
			name: "critical on ill fraction",
			snap: Snapshot{Status: status(10, 60, 10, 30, 0)},
			want: LevelCritical,
		},
		{
			name: "warning on growth",
			snap: Snapshot{
				Status:  status(20, 94, 4, 2, 0),
				History: []HistoryRow{row(20, 94, 4, 2, 0), row(10, 96, 3, 1, 0)},
			},
			want: LevelWarning,
		},
		{
			name: "critical on growth",
			snap: Snapshot{
				Status:  status(20, 90, 8, 2, 0),
				History: []HistoryRow{row(20, 90, 8, 2, 0), row(10, 97, 2, 1, 0)},
			},
			want: LevelCritical,
		},
		{
			name: "shrinking outbreak",
			snap: Snapshot{
				Status:  status(20, 90, 1, 1, 8),
				History: []HistoryRow{row(20, 90, 1, 1, 8), row(10, 90, 4, 2, 4)},
			},
			want: LevelWatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Triage(&tc.snap)
			if a.Level != tc.want {
				t.Fatalf("level %s, want %s (%+v)", a.Level, tc.want, a)
			}
		})
	}
}

func TestTriageSignals(t *testing.T) {
	snap := &Snapshot{
		Status: status(20, 90, 8, 2, 0),
		History: []HistoryRow{
			row(20, 90, 8, 2, 0),
			row(20, 91, 7, 2, 0), // re-recorded tick after a resume
			row(10, 95, 4, 1, 0),
		},
	}
	snap.Status.Population = 100
	snap.Status.Stats.TotalDeaths = 0

	a := Triage(snap)
	if a.Live != 100 || a.Active != 10 {
		t.Fatalf("live %d active %d", a.Live, a.Active)
	}
	if a.IllFraction != 0.02 || a.ActiveFraction != 0.1 {
		t.Fatalf("fractions %v %v", a.IllFraction, a.ActiveFraction)
	}
	// The equal-tick pair is skipped; growth is (9-5)/5.
	if a.Growth != 0.8 {
		t.Fatalf("growth %v, want 0.8", a.Growth)
	}
}

func TestSeverityOrder(t *testing.T) {
	levels := []string{LevelContained, LevelWatch, LevelWarning, LevelCritical}
	for i := 1; i < len(levels); i++ {
		if Severity(levels[i]) <= Severity(levels[i-1]) {
			t.Fatalf("%s not above %s", levels[i], levels[i-1])
		}
	}
	if Severity("BOGUS") >= Severity(LevelContained) {
		t.Fatal("unknown level ranked too high")
	}
}

func TestClientObserve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"run_id": "r1", "tick": 30, "population": 10,
			"counts": map[string]int{"healthy": 7, "infected": 2, "ill": 1},
			"stats":  map[string]any{"total_deaths": 2},
		})
	})
	mux.HandleFunc("/api/v1/stats/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "10" {
			t.Errorf("limit %q", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"tick": 30, "healthy": 7, "infected": 2, "ill": 1},
			{"tick": 20, "healthy": 8, "infected": 2, "ill": 0},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL)
	if !c.Ready() {
		t.Fatal("not ready")
	}
	snap, err := c.Observe()
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if snap.Status.RunID != "r1" || snap.Status.Tick != 30 || snap.Status.Counts["infected"] != 2 || snap.Status.Stats.TotalDeaths != 2 {
		t.Fatalf("status %+v", snap.Status)
	}
	if len(snap.History) != 2 || snap.History[0].Ill != 1 {
		t.Fatalf("history %+v", snap.History)
	}
}

func TestClientWithoutDatabase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tick": 5}`))
	})
	mux.HandleFunc("/api/v1/stats/history", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	snap, err := NewClient(ts.URL).Observe()
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if snap.Status.Tick != 5 || snap.History != nil {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestClientStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	if c.Ready() {
		t.Fatal("ready on 500")
	}
	_, err := c.Observe()
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err %v", err)
	}
}

func TestMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	mem := LoadMemory(path)
	if len(mem.Records) != 0 {
		t.Fatal("fresh memory not empty")
	}

	if prev := mem.Add(&Assessment{Tick: 1, Level: LevelWatch}); prev != "" {
		t.Fatalf("prev %q", prev)
	}
	if prev := mem.Add(&Assessment{Tick: 2, Level: LevelWarning}); prev != LevelWatch {
		t.Fatalf("prev %q", prev)
	}
	for i := 0; i < maxRecords; i++ {
		mem.Add(&Assessment{Tick: uint64(10 + i), Level: LevelCritical})
	}
	if len(mem.Records) != maxRecords || mem.Records[0].Tick != 10 {
		t.Fatalf("ring not trimmed: %d records, first tick %d", len(mem.Records), mem.Records[0].Tick)
	}
	if err := mem.Save(); err != nil {
		t.Fatal(err)
	}

	back := LoadMemory(path)
	if len(back.Records) != maxRecords || back.Records[maxRecords-1].Level != LevelCritical {
		t.Fatalf("reloaded %+v", back.Records)
	}
	if s := back.Summary(2); strings.Count(s, "\n") != 2 || !strings.Contains(s, "CRITICAL") {
		t.Fatalf("summary %q", s)
	}
}

func TestMemoryCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if mem := LoadMemory(path); len(mem.Records) != 0 || mem.Path != path {
		t.Fatalf("corrupt memory %+v", mem)
	}
}
