package ask

import (
	"fmt"

	"github.com/starford/raido/internal/search"
)

// Citation points at an exact byte span of a vault file.
type Citation struct {
	Path      string `json:"rel_path"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
}

// Compact renders the citation as "path:start-end".
func (c Citation) Compact() string {
	return fmt.Sprintf("%s:%d-%d", c.Path, c.StartByte, c.EndByte)
}

// PackedExcerpt is one excerpt selected into the answer context.
type PackedExcerpt struct {
	Citation        Citation `json:"citation"`
	Title           string   `json:"title"`
	HeadingPath     string   `json:"heading_path"`
	EffectiveDate   string   `json:"effective_date"`
	Excerpt         string   `json:"excerpt"`
	Score           float64  `json:"score"`
	ExpandedContext bool     `json:"expanded_context"`
}

// PackConfig bounds the packed context size in characters.
type PackConfig struct {
	PackedMaxChars int
}

// Pack greedily includes hits in order until the running character cost
// (excerpt + title + heading path lengths plus fixed overhead) would exceed
// the budget, then stops. The result is always a strict prefix of the input
// and never exceeds the budget. A non-positive budget packs everything.
func Pack(hits []search.Hit, cfg PackConfig) []PackedExcerpt {
	unlimited := cfg.PackedMaxChars <= 0
	remaining := cfg.PackedMaxChars

	var packed []PackedExcerpt
	for _, h := range hits {
		pe := PackedExcerpt{
			Citation:        Citation{Path: h.Path, StartByte: h.StartByte, EndByte: h.EndByte},
			Title:           h.Title,
			HeadingPath:     h.HeadingPath,
			EffectiveDate:   h.EffectiveDate,
			Excerpt:         h.Excerpt,
			Score:           h.Score,
			ExpandedContext: h.ExpandedContext,
		}
		cost := len(pe.Excerpt) + len(pe.Title) + len(pe.HeadingPath) + 64
		if !unlimited {
			if cost > remaining {
				break
			}
			remaining -= cost
		}
		packed = append(packed, pe)
	}
	return packed
}
