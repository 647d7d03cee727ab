package monitor

// Outbreak levels, least to most severe.
const (
	LevelContained = "CONTAINED"
	LevelWatch     = "WATCH"
	LevelWarning   = "WARNING"
	LevelCritical  = "CRITICAL"
)

// Level thresholds. IllFraction is ill agents over the live population;
// Growth is the relative change in active cases between the two newest
// history rows.
const (
	criticalIll    = 0.25
	warningIll     = 0.10
	criticalGrowth = 1.0
	warningGrowth  = 0.25
)

// Assessment holds the signals derived from a Snapshot.
type Assessment struct {
	Tick           uint64  `json:"tick"`
	Live           int     `json:"live"`
	Active         int     `json:"active"`
	IllFraction    float64 `json:"ill_fraction"`
	ActiveFraction float64 `json:"active_fraction"`
	DeadFraction   float64 `json:"dead_fraction"` // deaths over everyone ever spawned
	Growth         float64 `json:"growth"`
	Level          string  `json:"level"`
}

// Triage grades the snapshot. History rows are newest first; without
// history the status counts are used and growth is zero.
func Triage(snap *Snapshot) *Assessment {
	cur := HistoryRow{
		Tick:      snap.Status.Tick,
		Healthy:   snap.Status.Counts["healthy"],
		Infected:  snap.Status.Counts["infected"],
		Ill:       snap.Status.Counts["ill"],
		Recovered: snap.Status.Counts["recovered"],
		Dead:      snap.Status.Counts["dead"],
	}
	if len(snap.History) > 0 && snap.History[0].Tick >= cur.Tick {
		cur = snap.History[0]
	}

	a := &Assessment{
		Tick:   cur.Tick,
		Live:   cur.Live(),
		Active: cur.Active(),
	}
	if a.Live > 0 {
		a.IllFraction = float64(cur.Ill) / float64(a.Live)
		a.ActiveFraction = float64(a.Active) / float64(a.Live)
	}
	spawned := snap.Status.Population + snap.Status.Stats.TotalDeaths
	if spawned > 0 {
		a.DeadFraction = float64(snap.Status.Stats.TotalDeaths) / float64(spawned)
	}

	a.Growth = growth(snap.History)

	switch {
	case a.Active == 0:
		a.Level = LevelContained
	case a.IllFraction > criticalIll, a.Growth > criticalGrowth:
		a.Level = LevelCritical
	case a.IllFraction > warningIll, a.Growth > warningGrowth:
		a.Level = LevelWarning
	default:
		a.Level = LevelWatch
	}

	return a
}

// growth compares active cases across the newest pair of rows with
// increasing ticks. A resumed run may re-record ticks, so pairs that go
// backwards are skipped.
func growth(history []HistoryRow) float64 {
	for i := 0; i+1 < len(history); i++ {
		newer, older := history[i], history[i+1]
		if newer.Tick <= older.Tick {
			continue
		}
		if older.Active() > 0 {
			return float64(newer.Active()-older.Active()) / float64(older.Active())
		}
		return float64(newer.Active())
	}
	return 0
}

// Severity orders levels; unknown levels rank below CONTAINED.
func Severity(level string) int {
	switch level {
	case LevelContained:
		return 0
	case LevelWatch:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	}
	return -1
}
