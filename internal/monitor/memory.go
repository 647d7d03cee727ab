package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const maxRecords = 20

// Record captures one monitor cycle.
type Record struct {
	Tick        uint64  `json:"tick"`
	Level       string  `json:"level"`
	IllFraction float64 `json:"ill_fraction"`
	Growth      float64 `json:"growth"`
	Active      int     `json:"active"`
}

// Memory is a ring of recent cycle records, persisted as JSON so a restarted
// monitor can tell whether the level changed while it was down.
type Memory struct {
	Path    string   `json:"-"`
	Records []Record `json:"records"`
}

// LoadMemory reads the memory file at path. Returns empty memory if the file
// is missing or unreadable.
func LoadMemory(path string) *Memory {
	mem := &Memory{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return mem
	}
	if err := json.Unmarshal(data, mem); err != nil {
		slog.Warn("monitor memory corrupted, starting fresh", "path", path, "error", err)
		return &Memory{Path: path}
	}
	return mem
}

// Save writes the memory to its path. A memory without a path is not saved.
func (m *Memory) Save() error {
	if m.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal monitor memory: %w", err)
	}
	if err := os.WriteFile(m.Path, data, 0o644); err != nil {
		return fmt.Errorf("write monitor memory: %w", err)
	}
	return nil
}

// Add appends an assessment, trimming to the newest maxRecords, and returns
// the level of the previous record ("" if none).
func (m *Memory) Add(a *Assessment) string {
	prev := ""
	if n := len(m.Records); n > 0 {
		prev = m.Records[n-1].Level
	}
	m.Records = append(m.Records, Record{
		Tick:        a.Tick,
		Level:       a.Level,
		IllFraction: a.IllFraction,
		Growth:      a.Growth,
		Active:      a.Active,
	})
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
	return prev
}

// Summary renders the last n records, oldest first.
func (m *Memory) Summary(n int) string {
	if len(m.Records) == 0 {
		return ""
	}
	start := 0
	if len(m.Records) > n {
		start = len(m.Records) - n
	}

	var b strings.Builder
	for _, r := range m.Records[start:] {
		fmt.Fprintf(&b, "tick %d: %s ill=%.3f growth=%+.2f active=%d\n",
			r.Tick, r.Level, r.IllFraction, r.Growth, r.Active)
	}
	return b.String()
}
