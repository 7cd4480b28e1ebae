package ask

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/session"
)

// CandidateRow is one reranked candidate recorded in the trace.
type CandidateRow struct {
	Rank            int     `json:"rank"`
	Score           float64 `json:"score"`
	Path            string  `json:"rel_path"`
	StartByte       int     `json:"start_byte"`
	EndByte         int     `json:"end_byte"`
	EffectiveDate   string  `json:"effective_date"`
	ExpandedContext bool    `json:"expanded_context"`
}

// TracePayload is the structured record written per ask invocation.
type TracePayload struct {
	PipelineVersion string               `json:"pipeline_version"`
	TsUTC           string               `json:"ts_utc"`
	Query           string               `json:"query"`
	AskConfig       any                  `json:"ask_config"`
	AskConfigEff    any                  `json:"ask_config_effective"`
	SearchConfig    any                  `json:"search_config"`
	GraphEnabled    bool                 `json:"graph_enabled"`
	Temporal        TraceTemporal        `json:"temporal"`
	SessionBefore   *session.Session     `json:"session_before"`
	SessionAfter    *session.Session     `json:"session_after"`
	SessionRWLog    []session.RWLogEntry `json:"session_rw_log"`
	Candidates      []CandidateRow       `json:"candidates"`
	Packed          []PackedExcerpt      `json:"packed"`
	Answer          string               `json:"answer"`
	Citations       []Citation           `json:"citations"`
	WhyTheseSources []string             `json:"why_these_sources"`
}

// TraceTemporal summarizes the temporal layer's decisions.
type TraceTemporal struct {
	Mode          string `json:"mode"`
	ReferenceDate string `json:"reference_date,omitempty"`
	WindowDays    *int   `json:"window_days"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// WriteTrace writes the payload as an indented JSON file named
// <prefix>_<compact-timestamp>_<12-hex dedupe hash>.json and returns its
// path.
func WriteTrace(tracesDir string, payload TracePayload, prefix, dedupeKey string) (string, error) {
	if err := os.MkdirAll(tracesDir, 0o755); err != nil {
		return "", fmt.Errorf("ask: create traces dir: %w", err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	compact := strings.NewReplacer(":", "", "-", "").Replace(ts)
	name := fmt.Sprintf("%s_%s_%s.json", prefix, compact, checksum.Short(dedupeKey))
	path := filepath.Join(tracesDir, name)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ask: encode trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("ask: write trace: %w", err)
	}
	return path, nil
}
