package ask

import (
	"fmt"
	"strings"
)

// BuildAnswer renders the deterministic extractive answer: the query echo,
// numbered evidence excerpts with compact citations, the citation list, and
// optional "why these sources" bullets (at most four). There is no
// generative step.
func BuildAnswer(query string, packed []PackedExcerpt, includeWhy bool, why []string) (string, []Citation, []string) {
	var lines []string
	lines = append(lines, "Q: "+strings.TrimSpace(query), "")

	if len(packed) == 0 {
		lines = append(lines, "No matches found in the vault index for this query.")
		whyOut := []string{}
		if includeWhy {
			whyOut = why
		}
		return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n", nil, whyOut
	}

	citations := make([]Citation, len(packed))
	lines = append(lines, "Evidence (excerpts):")
	for i, p := range packed {
		citations[i] = p.Citation
		var meta []string
		if p.EffectiveDate != "" {
			meta = append(meta, p.EffectiveDate)
		}
		if p.Title != "" {
			meta = append(meta, p.Title)
		}
		if p.HeadingPath != "" {
			meta = append(meta, p.HeadingPath)
		}
		lines = append(lines,
			strings.TrimRight(fmt.Sprintf("%d. %s", i+1, strings.Join(meta, " · ")), " "),
			strings.TrimRight("   "+p.Excerpt, " "),
			fmt.Sprintf("   [%s]", p.Citation.Compact()))
	}

	lines = append(lines, "", "Citations:")
	for _, c := range citations {
		lines = append(lines, "- "+c.Compact())
	}

	whyOut := []string{}
	if includeWhy {
		whyOut = why
	}
	if includeWhy && len(why) > 0 {
		lines = append(lines, "", "Why these sources:")
		for i, b := range why {
			if i >= 4 {
				break
			}
			lines = append(lines, "- "+b)
		}
	}

	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n", citations, whyOut
}
