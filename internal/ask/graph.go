package ask

import (
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/vault"
)

// GraphExpandConfig bounds the 1-hop link-graph expansion.
type GraphExpandConfig struct {
	ExpandCap   int
	RepChunkOrd int
	Excerpt     search.ExcerptConfig
}

// GraphExpand returns bounded 1-hop link-graph neighbors of the primary
// hits, each represented by a deterministic representative chunk. Results
// are meant to be appended after the primary hits without reordering them;
// neighbors lacking any chunk are skipped.
func GraphExpand(db *index.DB, fs *vault.FS, query string, primary []search.Hit, cfg GraphExpandConfig) ([]search.Hit, error) {
	if cfg.ExpandCap <= 0 || len(primary) == 0 {
		return nil, nil
	}

	var fileIDs []int64
	for _, h := range primary {
		id := h.FileID
		if id == 0 {
			var err error
			id, err = db.FileIDByPath(h.Path)
			if err != nil {
				return nil, err
			}
			if id == 0 {
				continue
			}
		}
		fileIDs = append(fileIDs, id)
	}
	if len(fileIDs) == 0 {
		return nil, nil
	}

	neighbors, err := db.ExpansionNeighbors(fileIDs, cfg.ExpandCap)
	if err != nil {
		return nil, err
	}

	var out []search.Hit
	for _, n := range neighbors {
		rep, err := db.RepresentativeChunk(n.FileID, cfg.RepChunkOrd)
		if err != nil {
			return nil, err
		}
		if rep == nil {
			continue
		}
		data, err := fs.Read(n.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, search.Hit{
			Score:           0,
			Path:            n.Path,
			Title:           n.Title,
			HeadingPath:     rep.HeadingPath,
			StartByte:       rep.StartByte,
			EndByte:         rep.EndByte,
			EffectiveDate:   n.EffectiveDate,
			MtimeNs:         n.MtimeNs,
			Excerpt:         search.MakeExcerpt(data, rep.StartByte, rep.EndByte, query, cfg.Excerpt),
			ExpandedContext: true,
			FileID:          n.FileID,
		})
	}
	return out, nil
}
