package ask

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/starford/raido/internal/search"
)

// Temporal modes. The recent/month/year modes enforce hard windows; all and
// hybrid apply no window (all additionally disables the note-type weight).
const (
	ModeRecent = "recent"
	ModeMonth  = "month"
	ModeYear   = "year"
	ModeAll    = "all"
	ModeHybrid = "hybrid"
)

var dateFileRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

// TemporalConfig controls the temporal re-scoring layer.
type TemporalConfig struct {
	DefaultMode       string
	WindowRecentDays  int
	WindowMonthDays   int
	WindowYearDays    int
	DecayHalfLifeDays float64
	WeightJournal     float64
	WeightEvergreen   float64
}

// TemporalFeature explains one hit's temporal score for the trace.
type TemporalFeature struct {
	Mode          string  `json:"mode"`
	NoteType      string  `json:"note_type"`
	ReferenceDate string  `json:"reference_date"`
	EffectiveDate string  `json:"effective_date"`
	AgeDays       int     `json:"age_days"`
	WindowDays    *int    `json:"window_days"`
	WithinWindow  bool    `json:"within_window"`
	HalfLifeDays  float64 `json:"half_life_days"`
	Weight        float64 `json:"weight"`
	Decay         float64 `json:"decay"`
	Boost         float64 `json:"boost"`
	BaseScore     float64 `json:"base_score"`
	TemporalScore float64 `json:"temporal_score"`
}

// TemporalResult is the re-scored, re-ordered hit set.
type TemporalResult struct {
	Hits          []search.Hit
	Features      []TemporalFeature
	Mode          string
	ReferenceDate string
	WindowDays    *int
}

// noteType classifies a path as journal or evergreen. Journal notes live
// under journal-style directories or carry a YYYY-MM-DD.md filename.
func noteType(relPath string) string {
	p := strings.ToLower(strings.ReplaceAll(relPath, "\\", "/"))
	filename := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		filename = p[i+1:]
	}
	if strings.Contains(p, "/20_memory/daily/") ||
		strings.Contains(p, "/journal/") ||
		strings.Contains(p, "/journals/") ||
		dateFileRe.MatchString(filename) {
		return "journal"
	}
	return "evergreen"
}

func hitDate(h search.Hit) time.Time {
	if d, err := time.Parse("2006-01-02", h.EffectiveDate); err == nil {
		return d
	}
	return time.Unix(0, h.MtimeNs).UTC().Truncate(24 * time.Hour)
}

func normalizeMode(mode, defaultMode string) string {
	m := strings.ToLower(strings.TrimSpace(mode))
	if m == "" {
		m = defaultMode
	}
	switch m {
	case ModeRecent, ModeMonth, ModeYear, ModeAll, ModeHybrid:
		return m
	}
	return defaultMode
}

// ApplyTemporal re-scores hits with window-filtered, note-type-weighted
// exponential decay relative to the newest hit's effective date. When the
// active window empties the whole set, the unfiltered set is used instead of
// returning nothing. Expanded-context hits always sort after primary hits.
func ApplyTemporal(hits []search.Hit, mode string, cfg TemporalConfig) TemporalResult {
	selected := normalizeMode(mode, cfg.DefaultMode)
	if len(hits) == 0 {
		return TemporalResult{Mode: selected}
	}

	reference := hitDate(hits[0])
	for _, h := range hits[1:] {
		if d := hitDate(h); d.After(reference) {
			reference = d
		}
	}

	var windowDays *int
	switch selected {
	case ModeRecent:
		w := maxInt(0, cfg.WindowRecentDays)
		windowDays = &w
	case ModeMonth:
		w := maxInt(0, cfg.WindowMonthDays)
		windowDays = &w
	case ModeYear:
		w := maxInt(0, cfg.WindowYearDays)
		windowDays = &w
	}
	halfLife := math.Max(0, cfg.DecayHalfLifeDays)

	type row struct {
		score float64
		hit   search.Hit
		feat  TemporalFeature
	}
	scored := make([]row, 0, len(hits))
	for _, h := range hits {
		eff := hitDate(h)
		ageDays := int(reference.Sub(eff).Hours() / 24)
		if ageDays < 0 {
			ageDays = 0
		}
		nt := noteType(h.Path)
		weight := 0.0
		if selected != ModeAll {
			if nt == "journal" {
				weight = cfg.WeightJournal
			} else {
				weight = cfg.WeightEvergreen
			}
		}
		decay := 0.0
		if halfLife > 0 {
			decay = math.Exp(-math.Ln2 * (float64(ageDays) / halfLife))
		}
		boost := weight * decay
		temporalScore := h.Score + boost
		within := windowDays == nil || ageDays <= *windowDays
		scored = append(scored, row{
			score: temporalScore,
			hit:   h,
			feat: TemporalFeature{
				Mode:          selected,
				NoteType:      nt,
				ReferenceDate: reference.Format("2006-01-02"),
				EffectiveDate: eff.Format("2006-01-02"),
				AgeDays:       ageDays,
				WindowDays:    windowDays,
				WithinWindow:  within,
				HalfLifeDays:  halfLife,
				Weight:        weight,
				Decay:         decay,
				Boost:         boost,
				BaseScore:     h.Score,
				TemporalScore: temporalScore,
			},
		})
	}

	var filtered []row
	for _, r := range scored {
		if r.feat.WithinWindow {
			filtered = append(filtered, r)
		}
	}
	active := filtered
	if len(active) == 0 {
		active = scored
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.hit.ExpandedContext != b.hit.ExpandedContext {
			return !a.hit.ExpandedContext
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.hit.MtimeNs != b.hit.MtimeNs {
			return a.hit.MtimeNs > b.hit.MtimeNs
		}
		if a.hit.Path != b.hit.Path {
			return a.hit.Path < b.hit.Path
		}
		if a.hit.StartByte != b.hit.StartByte {
			return a.hit.StartByte < b.hit.StartByte
		}
		return a.hit.EndByte < b.hit.EndByte
	})

	out := TemporalResult{
		Mode:          selected,
		ReferenceDate: reference.Format("2006-01-02"),
		WindowDays:    windowDays,
	}
	for _, r := range active {
		out.Hits = append(out.Hits, r.hit)
		out.Features = append(out.Features, r.feat)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
