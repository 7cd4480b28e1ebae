// Package search implements hybrid lexical+vector retrieval over the index:
// candidate fusion, recency boosting, excerpting, and link-graph expansion.
package search

import (
	"math"
	"time"
)

// MinMaxNormalize rescales values to [0, 1] within the candidate set. When
// all values are equal every key maps to 1.0.
func MinMaxNormalize(values map[string]float64) map[string]float64 {
	if len(values) == 0 {
		return map[string]float64{}
	}
	first := true
	var vmin, vmax float64
	for _, v := range values {
		if first {
			vmin, vmax = v, v
			first = false
			continue
		}
		if v < vmin {
			vmin = v
		}
		if v > vmax {
			vmax = v
		}
	}
	out := make(map[string]float64, len(values))
	if vmax == vmin {
		for k := range values {
			out[k] = 1.0
		}
		return out
	}
	for k, v := range values {
		out[k] = (v - vmin) / (vmax - vmin)
	}
	return out
}

// RecencyBoost returns weight * exp(-ln2 * age/halfLife) for the note's
// effective date, and 0 for unparseable dates or non-positive parameters.
func RecencyBoost(effectiveDate string, now time.Time, halfLifeDays, weight float64) float64 {
	if weight <= 0 || halfLifeDays <= 0 {
		return 0
	}
	d, err := time.Parse("2006-01-02", effectiveDate)
	if err != nil {
		return 0
	}
	ageDays := now.UTC().Truncate(24*time.Hour).Sub(d).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	decay := math.Exp(-math.Ln2 * (ageDays / halfLifeDays))
	return weight * decay
}
