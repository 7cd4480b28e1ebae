// Package ask composes the retrieval pipeline behind evidence-grounded
// answers: search, link-graph expansion, session pins, reranking, packed
// excerpts, extractive answer formatting, temporal re-scoring, and traces.
package ask

import "github.com/starford/raido/internal/search"

// RerankConfig bounds the deterministic rerank/filter step.
type RerankConfig struct {
	PerFileCap   int
	KeepExpanded bool
}

// Rerank filters hits without reordering them: duplicates by (path, span)
// are dropped, expanded-context hits are optionally removed, and each file
// contributes at most PerFileCap hits.
func Rerank(hits []search.Hit, cfg RerankConfig) []search.Hit {
	type key struct {
		path       string
		start, end int
	}
	seen := map[key]struct{}{}
	perFile := map[string]int{}
	kept := make([]search.Hit, 0, len(hits))

	for _, h := range hits {
		if h.ExpandedContext && !cfg.KeepExpanded {
			continue
		}
		k := key{h.Path, h.StartByte, h.EndByte}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if cfg.PerFileCap > 0 && perFile[h.Path] >= cfg.PerFileCap {
			continue
		}
		perFile[h.Path]++
		kept = append(kept, h)
	}
	return kept
}
